package wallet

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base32"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// ErrInvalidKey is returned for secret keys that are not a 64 byte ed25519 keypair.
var ErrInvalidKey = errors.New("invalid secret key")

const crockfordAlphabet = "0123456789abcdefghjkmnpqrstvwxyz"

var crockford = base32.NewEncoding(crockfordAlphabet).WithPadding(base32.NoPadding)

var crockfordAliases = strings.NewReplacer("-", "", "o", "0", "i", "1", "l", "1")

// ExportSecretKey encodes the 64 byte secret key as lower case Crockford base32.
func ExportSecretKey(key solana.PrivateKey) string {
	return crockford.EncodeToString(key)
}

// ImportSecretKey decodes a Crockford base32 secret key. Case, hyphens and the
// o/i/l aliases are accepted.
func ImportSecretKey(s string) (solana.PrivateKey, error) {
	normalized := crockfordAliases.Replace(strings.ToLower(strings.TrimSpace(s)))
	raw, err := crockford.DecodeString(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	key := solana.PrivateKey(raw)
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

// ValidateKey checks that key is a seed followed by its own public key.
func ValidateKey(key solana.PrivateKey) error {
	if len(key) != ed25519.PrivateKeySize {
		return fmt.Errorf("%w: %d bytes", ErrInvalidKey, len(key))
	}
	derived := ed25519.NewKeyFromSeed(key[:ed25519.SeedSize])
	if !bytes.Equal(derived[ed25519.SeedSize:], key[ed25519.SeedSize:]) {
		return fmt.Errorf("%w: public key does not match seed", ErrInvalidKey)
	}
	return nil
}

// GenerateKeypair returns a fresh random key.
func GenerateKeypair() (solana.PrivateKey, error) {
	return solana.NewRandomPrivateKey()
}

// WriteKeygenFile stores key in the solana-keygen JSON format.
func WriteKeygenFile(path string, key solana.PrivateKey) error {
	ints := make([]int, len(key))
	for i, b := range key {
		ints[i] = int(b)
	}
	data, err := json.Marshal(ints)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
