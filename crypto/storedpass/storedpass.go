// Package storedpass implements the salted password hashes kept in account
// records. One hash mode is defined: PBKDF2-HMAC-SHA256 with 10k iterations.
package storedpass

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// ModePBKDF2SHA256 is the only supported hash mode tag.
const ModePBKDF2SHA256 = "pbkdf2-hmac-sha256-10k"

const (
	iterations = 10000
	hashLen    = 32
)

// Stored is a salted password hash. Equality is defined over the full
// {mode, hash, salt} triple.
type Stored struct {
	Mode string
	Hash []byte
	Salt []byte
}

// Generate hashes password with a fresh random salt.
func Generate(password string) (Stored, error) {
	salt := make([]byte, hashLen)
	if _, err := rand.Read(salt); err != nil {
		return Stored{}, fmt.Errorf("generate salt: %w", err)
	}
	return GenerateWithSalt(password, salt), nil
}

// GenerateWithSalt hashes password deterministically with the given salt.
func GenerateWithSalt(password string, salt []byte) Stored {
	return Stored{
		Mode: ModePBKDF2SHA256,
		Hash: derive(password, salt),
		Salt: salt,
	}
}

// Check reports whether candidate reproduces the stored hash. The comparison
// is constant time over the full hash length.
func (s Stored) Check(candidate string) bool {
	if s.Mode != ModePBKDF2SHA256 {
		return false
	}
	return subtle.ConstantTimeCompare(s.Hash, derive(candidate, s.Salt)) == 1
}

// Equal reports whether two stored passwords have identical mode, hash and
// salt.
func (s Stored) Equal(other Stored) bool {
	return s.Mode == other.Mode &&
		subtle.ConstantTimeCompare(s.Hash, other.Hash) == 1 &&
		subtle.ConstantTimeCompare(s.Salt, other.Salt) == 1
}

func derive(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, hashLen, sha256.New)
}
