// Package vault encrypts OAuth credentials before they are stored.
//
// Ciphertexts are self-describing: hex encoded salt, IV, GCM tag and
// encrypted payload joined by colons. Each call uses a fresh salt and IV and
// derives the AES-256 key from the configured secret with PBKDF2.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 16
	ivSize     = 12
	tagSize    = 16
	keySize    = 32
	iterations = 100_000

	// MinSecretLength is the shortest secret New accepts.
	MinSecretLength = 32
)

// ErrMalformed is returned when a ciphertext cannot be parsed.
var ErrMalformed = errors.New("malformed ciphertext")

// Vault encrypts and decrypts strings with a key derived from a secret.
type Vault struct {
	secret []byte
}

// New returns a Vault using secret as the key derivation input.
func New(secret string) (*Vault, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("encryption secret must be at least %d characters", MinSecretLength)
	}
	return &Vault{secret: []byte(secret)}, nil
}

// Encrypt seals plaintext and returns the encoded ciphertext.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generating iv: %w", err)
	}

	gcm, err := v.gcm(salt)
	if err != nil {
		return "", err
	}

	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return strings.Join([]string{
		hex.EncodeToString(salt),
		hex.EncodeToString(iv),
		hex.EncodeToString(tag),
		hex.EncodeToString(ct),
	}, ":"), nil
}

// Decrypt opens a ciphertext produced by Encrypt.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	parts := strings.Split(ciphertext, ":")
	if len(parts) != 4 {
		return "", ErrMalformed
	}

	decoded := make([][]byte, len(parts))
	for i, p := range parts {
		b, err := hex.DecodeString(p)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		decoded[i] = b
	}
	salt, iv, tag, ct := decoded[0], decoded[1], decoded[2], decoded[3]
	if len(salt) != saltSize || len(iv) != ivSize || len(tag) != tagSize {
		return "", ErrMalformed
	}

	gcm, err := v.gcm(salt)
	if err != nil {
		return "", err
	}

	plaintext, err := gcm.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("decrypting: %w", err)
	}
	return string(plaintext), nil
}

func (v *Vault) gcm(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(v.secret, salt, iterations, keySize, sha512.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}
