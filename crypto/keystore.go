package crypto

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// KeystoreParams are the scrypt cost parameters used when encrypting keys.
type KeystoreParams struct {
	N int
	P int
}

var (
	StandardKeystore = KeystoreParams{N: keystore.StandardScryptN, P: keystore.StandardScryptP}
	// LightKeystore trades strength for speed and suits tests and throwaway
	// keys.
	LightKeystore = KeystoreParams{N: keystore.LightScryptN, P: keystore.LightScryptP}
)

var (
	// ErrKeystoreExists is returned when creating a party key over an existing
	// file.
	ErrKeystoreExists = errors.New("crypto: keystore file already exists")
	// ErrKeystoreAddress is returned when a keystore decrypts to a key whose
	// address differs from the one recorded in the file.
	ErrKeystoreAddress = errors.New("crypto: keystore address mismatch")
)

// PartyKey is a decrypted schedule party key with its jct address.
type PartyKey struct {
	Key     *PrivateKey
	Address Address
}

// Sign signs a schedule signing digest with the party key.
func (p *PartyKey) Sign(digest []byte) ([]byte, error) {
	return p.Key.Sign(digest)
}

// CreatePartyKey generates a new party key, stores it encrypted at path and
// returns the party's address. An existing file is never overwritten.
func CreatePartyKey(path, passphrase string, params KeystoreParams) (Address, error) {
	key, err := GeneratePrivateKey()
	if err != nil {
		return Address{}, err
	}
	if err := writePartyKey(path, key, passphrase, params, false); err != nil {
		return Address{}, err
	}
	return key.PubKey().Address(), nil
}

// SavePartyKey writes key to an Ethereum v3 keystore file at path, replacing
// any existing file atomically. The parent directory is created with 0700
// permissions.
func SavePartyKey(path string, key *PrivateKey, passphrase string, params KeystoreParams) error {
	return writePartyKey(path, key, passphrase, params, true)
}

func writePartyKey(path string, key *PrivateKey, passphrase string, params KeystoreParams, replace bool) error {
	if key == nil {
		return errors.New("crypto: nil private key")
	}
	if path == "" {
		return errors.New("crypto: empty keystore path")
	}
	if !replace {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrKeystoreExists, path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return err
	}
	encrypted, err := keystore.EncryptKey(&keystore.Key{
		Id:         id,
		Address:    common.BytesToAddress(key.PubKey().Address().Bytes()),
		PrivateKey: key.PrivateKey,
	}, passphrase, params.N, params.P)
	if err != nil {
		return fmt.Errorf("crypto: encrypt party key: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".keystore-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(encrypted); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// KeystoreAddress returns the party address recorded in the keystore file at
// path without decrypting it.
func KeystoreAddress(path string) (Address, error) {
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return Address{}, err
	}
	return recordedAddress(keyJSON)
}

func recordedAddress(keyJSON []byte) (Address, error) {
	var header struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(keyJSON, &header); err != nil {
		return Address{}, fmt.Errorf("crypto: decode keystore: %w", err)
	}
	raw, err := hex.DecodeString(header.Address)
	if err != nil {
		return Address{}, fmt.Errorf("crypto: keystore address: %w", err)
	}
	return NewAddress(JCTPrefix, raw)
}

// LoadPartyKey decrypts the keystore at path and checks that the key matches
// the address recorded alongside it.
func LoadPartyKey(path, passphrase string) (*PartyKey, error) {
	if path == "" {
		return nil, errors.New("crypto: empty keystore path")
	}
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	recorded, err := recordedAddress(keyJSON)
	if err != nil {
		return nil, err
	}
	decrypted, err := keystore.DecryptKey(keyJSON, passphrase)
	if err != nil {
		return nil, err
	}
	key := &PrivateKey{PrivateKey: decrypted.PrivateKey}
	addr := key.PubKey().Address()
	if addr.String() != recorded.String() {
		return nil, fmt.Errorf("%w: file records %s, key is %s", ErrKeystoreAddress, recorded, addr)
	}
	return &PartyKey{Key: key, Address: addr}, nil
}
