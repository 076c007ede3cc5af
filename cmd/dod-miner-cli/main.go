// dod-miner-cli manages the local keystore a miner uses to sign the
// commit/reveal PSBTs it submits to a dodengined node: generating or
// importing a BIP-39 mnemonic, deriving the BIP-86 taproot mining key,
// and inspecting or deleting saved keys. Building and broadcasting the
// PSBTs themselves is left to the miner's own Bitcoin wallet; this tool
// only owns the signing key and the address it derives.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/btcsuite/btcd/chaincfg"
	"golang.org/x/term"

	"github.com/DOD-Blockchain/dod/config"
	"github.com/DOD-Blockchain/dod/internal/minerkey"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	dataDir := config.DefaultDataDir()
	network := "mainnet"

	args := os.Args[1:]
	for len(args) > 0 {
		switch {
		case args[0] == "--datadir" && len(args) > 1:
			dataDir = args[1]
			args = args[2:]
		case args[0] == "--network" && len(args) > 1:
			network = args[1]
			args = args[2:]
		default:
			goto dispatch
		}
	}

dispatch:
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	ksDir := keystoreDir(dataDir, network)
	params := netParams(network)

	cmd := args[0]
	cmdArgs := args[1:]

	switch cmd {
	case "generate":
		cmdGenerate(cmdArgs, ksDir, params)
	case "import":
		cmdImport(cmdArgs, ksDir, params)
	case "list":
		cmdList(ksDir)
	case "describe":
		cmdDescribe(cmdArgs, ksDir)
	case "address":
		cmdAddress(cmdArgs, ksDir, params)
	case "sign":
		cmdSign(cmdArgs, ksDir)
	case "delete":
		cmdDelete(cmdArgs, ksDir)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `Usage: dod-miner-cli [global flags] <command> [flags]

Global flags:
  --datadir <path>    Data directory (default: ~/.dodengine)
  --network <net>     mainnet (default) or testnet

Commands:
  generate --name <n> [--account <a>] [--index <i>]
                                  Generate a new mnemonic and derive a taproot mining key
  import --name <n> --mnemonic "..." [--account <a>] [--index <i>]
                                  Import a mining key from an existing mnemonic
  list                            List saved miner keys
  describe --name <n>             Show the derivation path and address for a key
  address --name <n>              Print the taproot address for a key
  sign --name <n> --hash <hex>    Sign a 32-byte hex digest with a saved key
  delete --name <n>               Delete a saved miner key
`)
}

func keystoreDir(dataDir, network string) string {
	return filepath.Join(dataDir, network, "keystore")
}

func netParams(network string) *chaincfg.Params {
	if network == "testnet" {
		return &chaincfg.TestNet3Params
	}
	return &chaincfg.MainNetParams
}

func cmdGenerate(args []string, ksDir string, params *chaincfg.Params) {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	name := fs.String("name", "", "Key name")
	account := fs.Uint("account", 0, "BIP-86 account index")
	index := fs.Uint("index", 0, "BIP-86 address index")
	fs.Parse(args)

	if *name == "" {
		fatal("Usage: dod-miner-cli generate --name <name> [--account <a>] [--index <i>]")
	}

	mnemonic, err := minerkey.GenerateMnemonic()
	if err != nil {
		fatal("generate mnemonic: %v", err)
	}

	fmt.Println("Mnemonic (write this down, it is the only backup of this key):")
	fmt.Printf("  %s\n\n", mnemonic)

	createKey(*name, mnemonic, ksDir, params, uint32(*account), uint32(*index))
}

func cmdImport(args []string, ksDir string, params *chaincfg.Params) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	name := fs.String("name", "", "Key name")
	mnemonic := fs.String("mnemonic", "", "BIP-39 mnemonic")
	account := fs.Uint("account", 0, "BIP-86 account index")
	index := fs.Uint("index", 0, "BIP-86 address index")
	fs.Parse(args)

	if *name == "" || *mnemonic == "" {
		fatal(`Usage: dod-miner-cli import --name <name> --mnemonic "word1 word2 ..."`)
	}
	if !minerkey.ValidateMnemonic(*mnemonic) {
		fatal("invalid mnemonic")
	}

	createKey(*name, *mnemonic, ksDir, params, uint32(*account), uint32(*index))
}

func createKey(name, mnemonic, ksDir string, params *chaincfg.Params, account, index uint32) {
	password, err := readPassword("Enter password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	if string(password) != string(confirm) {
		fatal("passwords do not match")
	}

	seed, err := minerkey.SeedFromMnemonic(mnemonic, "")
	if err != nil {
		fatal("derive seed: %v", err)
	}

	master, err := minerkey.NewMasterKey(seed)
	if err != nil {
		fatal("derive master key: %v", err)
	}
	key, err := master.DeriveMiningKey(account, index)
	if err != nil {
		fatal("derive mining key: %v", err)
	}
	addr, err := key.TaprootAddress(params)
	if err != nil {
		fatal("derive taproot address: %v", err)
	}
	pubHex := hex.EncodeToString(key.PublicKeyBytes())

	ks, err := minerkey.NewKeystore(ksDir)
	if err != nil {
		fatal("open keystore: %v", err)
	}
	if err := ks.Create(name, seed, password, account, index, addr.String(), pubHex, minerkey.DefaultParams()); err != nil {
		fatal("create miner key: %v", err)
	}
	for i := range seed {
		seed[i] = 0
	}

	fmt.Printf("Miner key created: %s\n", name)
	fmt.Printf("  Path:    m/86'/0'/%d'/0/%d\n", account, index)
	fmt.Printf("  Address: %s\n", addr.String())
	fmt.Printf("  PubKey:  %s\n", pubHex)
}

func cmdList(ksDir string) {
	ks, err := minerkey.NewKeystore(ksDir)
	if err != nil {
		fatal("open keystore: %v", err)
	}
	names, err := ks.List()
	if err != nil {
		fatal("list miner keys: %v", err)
	}
	if len(names) == 0 {
		fmt.Println("No miner keys found.")
		return
	}
	for _, name := range names {
		fmt.Println(name)
	}
}

func cmdDescribe(args []string, ksDir string) {
	fs := flag.NewFlagSet("describe", flag.ExitOnError)
	name := fs.String("name", "", "Key name")
	fs.Parse(args)
	if *name == "" {
		fatal("Usage: dod-miner-cli describe --name <name>")
	}

	ks, err := minerkey.NewKeystore(ksDir)
	if err != nil {
		fatal("open keystore: %v", err)
	}
	account, index, addr, pub, err := ks.Describe(*name)
	if err != nil {
		fatal("describe %q: %v", *name, err)
	}
	fmt.Printf("Name:    %s\n", *name)
	fmt.Printf("Path:    m/86'/0'/%d'/0/%d\n", account, index)
	fmt.Printf("Address: %s\n", addr)
	fmt.Printf("PubKey:  %s\n", pub)
}

func cmdAddress(args []string, ksDir string, params *chaincfg.Params) {
	fs := flag.NewFlagSet("address", flag.ExitOnError)
	name := fs.String("name", "", "Key name")
	fs.Parse(args)
	if *name == "" {
		fatal("Usage: dod-miner-cli address --name <name>")
	}

	ks, err := minerkey.NewKeystore(ksDir)
	if err != nil {
		fatal("open keystore: %v", err)
	}
	_, _, addr, _, err := ks.Describe(*name)
	if err != nil {
		fatal("describe %q: %v", *name, err)
	}
	fmt.Println(addr)
}

func cmdSign(args []string, ksDir string) {
	fs := flag.NewFlagSet("sign", flag.ExitOnError)
	name := fs.String("name", "", "Key name")
	hashHex := fs.String("hash", "", "32-byte hex digest to sign")
	fs.Parse(args)
	if *name == "" || *hashHex == "" {
		fatal("Usage: dod-miner-cli sign --name <name> --hash <hex>")
	}

	digest, err := hex.DecodeString(*hashHex)
	if err != nil || len(digest) != 32 {
		fatal("--hash must be a 32-byte hex digest")
	}

	password, err := readPassword("Enter password: ")
	if err != nil {
		fatal("read password: %v", err)
	}

	ks, err := minerkey.NewKeystore(ksDir)
	if err != nil {
		fatal("open keystore: %v", err)
	}
	account, index, _, _, err := ks.Describe(*name)
	if err != nil {
		fatal("describe %q: %v", *name, err)
	}
	seed, err := ks.Load(*name, password)
	if err != nil {
		fatal("load %q: %v", *name, err)
	}
	defer func() {
		for i := range seed {
			seed[i] = 0
		}
	}()

	master, err := minerkey.NewMasterKey(seed)
	if err != nil {
		fatal("derive master key: %v", err)
	}
	key, err := master.DeriveMiningKey(account, index)
	if err != nil {
		fatal("derive mining key: %v", err)
	}
	signer, err := key.Signer()
	if err != nil {
		fatal("signer: %v", err)
	}
	sig, err := signer.Sign(digest)
	if err != nil {
		fatal("sign: %v", err)
	}
	fmt.Println(hex.EncodeToString(sig))
}

func cmdDelete(args []string, ksDir string) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	name := fs.String("name", "", "Key name")
	fs.Parse(args)
	if *name == "" {
		fatal("Usage: dod-miner-cli delete --name <name>")
	}

	ks, err := minerkey.NewKeystore(ksDir)
	if err != nil {
		fatal("open keystore: %v", err)
	}
	if err := ks.Delete(*name); err != nil {
		fatal("delete %q: %v", *name, err)
	}
	fmt.Printf("Deleted: %s\n", *name)
}

func readPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, err
	}
	return password, nil
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
