package minerkey

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func testKeystore(t *testing.T) *Keystore {
	t.Helper()
	dir := t.TempDir()
	ks, err := NewKeystore(dir)
	if err != nil {
		t.Fatalf("NewKeystore() error: %v", err)
	}
	return ks
}

func testSeedBytes(t *testing.T) []byte {
	t.Helper()
	mnemonic := "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	seed, err := SeedFromMnemonic(mnemonic, "")
	if err != nil {
		t.Fatalf("SeedFromMnemonic() error: %v", err)
	}
	return seed
}

func TestKeystore_CreateAndLoad(t *testing.T) {
	ks := testKeystore(t)
	seed := testSeedBytes(t)
	password := []byte("test-password")

	err := ks.Create("miner1", seed, password, 0, 0, "bc1p...", "02abc", fastParams())
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	loaded, err := ks.Load("miner1", password)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !bytes.Equal(loaded, seed) {
		t.Error("loaded seed does not match original")
	}
}

func TestKeystore_CreateDuplicate(t *testing.T) {
	ks := testKeystore(t)
	seed := testSeedBytes(t)

	if err := ks.Create("dup", seed, []byte("pass"), 0, 0, "bc1p...", "02abc", fastParams()); err != nil {
		t.Fatalf("first Create() error: %v", err)
	}
	if err := ks.Create("dup", seed, []byte("pass"), 0, 0, "bc1p...", "02abc", fastParams()); err == nil {
		t.Error("second Create() should fail for duplicate name")
	}
}

func TestKeystore_LoadWrongPassword(t *testing.T) {
	ks := testKeystore(t)
	seed := testSeedBytes(t)

	ks.Create("miner1", seed, []byte("correct"), 0, 0, "bc1p...", "02abc", fastParams())

	if _, err := ks.Load("miner1", []byte("wrong")); err == nil {
		t.Error("Load() with wrong password should fail")
	}
}

func TestKeystore_LoadNonexistent(t *testing.T) {
	ks := testKeystore(t)
	if _, err := ks.Load("doesnotexist", []byte("pass")); err == nil {
		t.Error("Load() for nonexistent key should fail")
	}
}

func TestKeystore_List(t *testing.T) {
	ks := testKeystore(t)
	seed := testSeedBytes(t)

	names, err := ks.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("expected 0 keys, got %d", len(names))
	}

	ks.Create("alpha", seed, []byte("p"), 0, 0, "bc1p...", "02abc", fastParams())
	ks.Create("beta", seed, []byte("p"), 0, 0, "bc1p...", "02abc", fastParams())

	names, err = ks.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(names) != 2 {
		t.Errorf("expected 2 keys, got %d", len(names))
	}
}

func TestKeystore_Delete(t *testing.T) {
	ks := testKeystore(t)
	seed := testSeedBytes(t)

	ks.Create("todelete", seed, []byte("p"), 0, 0, "bc1p...", "02abc", fastParams())

	if err := ks.Delete("todelete"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := ks.Load("todelete", []byte("p")); err == nil {
		t.Error("miner key should be deleted")
	}
}

func TestKeystore_DeleteNonexistent(t *testing.T) {
	ks := testKeystore(t)
	if err := ks.Delete("ghost"); err == nil {
		t.Error("Delete() for nonexistent key should fail")
	}
}

func TestKeystore_Describe(t *testing.T) {
	ks := testKeystore(t)
	seed := testSeedBytes(t)

	ks.Create("miner1", seed, []byte("p"), 2, 1, "bc1pexample", "02abc", fastParams())

	account, index, addr, pub, err := ks.Describe("miner1")
	if err != nil {
		t.Fatalf("Describe() error: %v", err)
	}
	if account != 2 || index != 1 {
		t.Errorf("account/index = %d/%d, want 2/1", account, index)
	}
	if addr != "bc1pexample" || pub != "02abc" {
		t.Errorf("unexpected address/pubkey: %q %q", addr, pub)
	}
}

func TestKeystore_FilePermissions(t *testing.T) {
	ks := testKeystore(t)
	seed := testSeedBytes(t)

	ks.Create("secure", seed, []byte("p"), 0, 0, "bc1p...", "02abc", fastParams())

	path := filepath.Join(ks.path, "secure.minerkey")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error: %v", err)
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		t.Errorf("miner key file should be 0600, got %o", perm)
	}
}

func TestKeystore_FullFlow(t *testing.T) {
	ks := testKeystore(t)
	password := []byte("strong-password")

	mnemonic, _ := GenerateMnemonic()
	seed, _ := SeedFromMnemonic(mnemonic, "")

	master, _ := NewMasterKey(seed)
	key, _ := master.DeriveMiningKey(0, 0)
	pubHex := hexEncode(key.PublicKeyBytes())

	if err := ks.Create("main", seed, password, 0, 0, "bc1pderived", pubHex, fastParams()); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	loaded, err := ks.Load("main", password)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !bytes.Equal(loaded, seed) {
		t.Error("loaded seed mismatch")
	}

	_, _, addr, pub, err := ks.Describe("main")
	if err != nil || addr != "bc1pderived" || pub != pubHex {
		t.Errorf("descriptor not persisted correctly: addr=%q pub=%q err=%v", addr, pub, err)
	}
}

func hexEncode(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = digits[v>>4]
		out[i*2+1] = digits[v&0xf]
	}
	return string(out)
}
