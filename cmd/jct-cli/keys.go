package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"strings"

	"jctledger/cmd/internal/passphrase"
	"jctledger/crypto"
)

var (
	keyPassphrase = func() (string, error) {
		return passphrase.NewSource(keyPassEnv).Get()
	}
	newKeyPassphrase = func() (string, error) {
		return passphrase.NewSource(keyPassEnv, passphrase.WithConfirmation()).Get()
	}
)

func runKeygenCommand(args []string) int {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("keystore", "", "path of the keystore file to create")
	light := fs.Bool("light", false, "use light scrypt parameters (testing only)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*path) == "" {
		fmt.Fprintln(stderr, "--keystore is required")
		return 1
	}
	pass, err := newKeyPassphrase()
	if err != nil {
		fmt.Fprintf(stderr, "passphrase: %v\n", err)
		return 1
	}
	params := crypto.StandardKeystore
	if *light {
		params = crypto.LightKeystore
	}
	addr, err := crypto.CreatePartyKey(strings.TrimSpace(*path), pass, params)
	if err != nil {
		fmt.Fprintf(stderr, "create party key: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, addr.String())
	return 0
}

func loadKey(path string) (*crypto.PartyKey, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("--keystore is required")
	}
	pass, err := keyPassphrase()
	if err != nil {
		return nil, fmt.Errorf("passphrase: %w", err)
	}
	return crypto.LoadPartyKey(strings.TrimSpace(path), pass)
}

func runAddressCommand(args []string) int {
	fs := flag.NewFlagSet("address", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("keystore", "", "keystore file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*path) == "" {
		fmt.Fprintln(stderr, "--keystore is required")
		return 1
	}
	addr, err := crypto.KeystoreAddress(strings.TrimSpace(*path))
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintln(stdout, addr.String())
	return 0
}

func runSignCommand(args []string) int {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("keystore", "", "keystore file")
	digestHex := fs.String("digest", "", "0x-prefixed 32-byte digest")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	digest, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(*digestHex), "0x"))
	if err != nil || len(digest) != crypto.DigestLength {
		fmt.Fprintln(stderr, "--digest must be a 0x-prefixed 32-byte hex string")
		return 1
	}
	key, err := loadKey(*path)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	sig, err := key.Sign(digest)
	if err != nil {
		fmt.Fprintf(stderr, "sign: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, "0x"+hex.EncodeToString(sig))
	return 0
}
