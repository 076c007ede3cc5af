package minerkey

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// keystoreFile is the on-disk JSON format for an encrypted miner keystore.
type keystoreFile struct {
	Version       int       `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	EncryptedSeed []byte    `json:"encrypted_seed"`
	Account       uint32    `json:"account"`
	Index         uint32    `json:"index"`
	BTCAddress    string    `json:"btc_address"`
	PublicKeyHex  string    `json:"public_key_hex"`
}

// Keystore manages encrypted miner key storage on disk. Each named entry
// holds exactly one BIP-39 seed and the single BIP-86 taproot key derived
// from it, since a miner registers one BTC address with the engine.
type Keystore struct {
	path string
}

// NewKeystore creates a keystore that reads/writes to the given directory.
// The directory is created if it doesn't exist.
func NewKeystore(path string) (*Keystore, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, fmt.Errorf("create keystore dir: %w", err)
	}
	return &Keystore{path: path}, nil
}

func (ks *Keystore) entryPath(name string) string {
	return filepath.Join(ks.path, name+".minerkey")
}

// Create encrypts seed under password and records the taproot address and
// public key derived from it at (account, index).
func (ks *Keystore) Create(name string, seed, password []byte, account, index uint32, btcAddress, publicKeyHex string, params EncryptionParams) error {
	path := ks.entryPath(name)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("miner key %q already exists", name)
	}

	encrypted, err := Encrypt(seed, password, params)
	if err != nil {
		return fmt.Errorf("encrypt seed: %w", err)
	}

	kf := keystoreFile{
		Version:       1,
		CreatedAt:     time.Now().UTC(),
		EncryptedSeed: encrypted,
		Account:       account,
		Index:         index,
		BTCAddress:    btcAddress,
		PublicKeyHex:  publicKeyHex,
	}
	return ks.writeFile(path, &kf)
}

// Load decrypts a miner keystore and returns the seed bytes.
func (ks *Keystore) Load(name string, password []byte) ([]byte, error) {
	kf, err := ks.readFile(ks.entryPath(name))
	if err != nil {
		return nil, err
	}
	seed, err := Decrypt(kf.EncryptedSeed, password)
	if err != nil {
		return nil, fmt.Errorf("decrypt miner key: %w", err)
	}
	return seed, nil
}

// Describe returns the recorded derivation path, BTC address, and public
// key for a miner keystore without decrypting the seed.
func (ks *Keystore) Describe(name string) (account, index uint32, btcAddress, publicKeyHex string, err error) {
	kf, err := ks.readFile(ks.entryPath(name))
	if err != nil {
		return 0, 0, "", "", err
	}
	return kf.Account, kf.Index, kf.BTCAddress, kf.PublicKeyHex, nil
}

// List returns the names of all miner keystores.
func (ks *Keystore) List() ([]string, error) {
	entries, err := os.ReadDir(ks.path)
	if err != nil {
		return nil, fmt.Errorf("read keystore dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if ext := filepath.Ext(name); ext == ".minerkey" {
			names = append(names, name[:len(name)-len(ext)])
		}
	}
	return names, nil
}

// Delete removes a miner keystore.
func (ks *Keystore) Delete(name string) error {
	path := ks.entryPath(name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("miner key %q not found", name)
	}
	return os.Remove(path)
}

func (ks *Keystore) writeFile(path string, kf *keystoreFile) error {
	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal miner key: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write miner key: %w", err)
	}
	return nil
}

func (ks *Keystore) readFile(path string) (*keystoreFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read miner key: %w", err)
	}
	var kf keystoreFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("parse miner key: %w", err)
	}
	if kf.Version != 1 {
		return nil, fmt.Errorf("unsupported miner key version: %d", kf.Version)
	}
	return &kf, nil
}
