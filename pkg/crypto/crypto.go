// Package crypto provides operator PIN hashing.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

var ErrEmptyPIN = errors.New("crypto: empty pin")

const saltSize = 16

// PINHash is an Argon2id digest of a PIN together with its salt. The zero
// value matches nothing.
type PINHash struct {
	salt []byte
	sum  []byte
}

// GenerateSalt returns a random salt for HashPassword.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("crypto: generate salt: %w", err)
	}
	return salt, nil
}

// HashPassword hashes a password using Argon2id.
func HashPassword(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, 32)
}

// HashPIN hashes pin under a fresh salt.
func HashPIN(pin string) (PINHash, error) {
	if pin == "" {
		return PINHash{}, ErrEmptyPIN
	}
	salt, err := GenerateSalt()
	if err != nil {
		return PINHash{}, err
	}
	return PINHash{salt: salt, sum: HashPassword(pin, salt)}, nil
}

// Set reports whether h holds a digest.
func (h PINHash) Set() bool { return len(h.sum) > 0 }

// Verify reports whether pin hashes to h. The digest comparison runs in
// constant time.
func (h PINHash) Verify(pin string) bool {
	if !h.Set() {
		return false
	}
	return subtle.ConstantTimeCompare(HashPassword(pin, h.salt), h.sum) == 1
}
