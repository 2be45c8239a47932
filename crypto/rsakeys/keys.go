// Package rsakeys implements the asymmetric identity keys used by servers
// and user accounts: RSA with OAEP encryption and PKCS#1 v1.5 signatures.
//
// The algorithm parameters travel as an explicit Suite value rather than
// package globals, so tests can substitute smaller keys.
package rsakeys

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"
)

// ErrKeyFormat reports a public key whose declared format tag does not match
// the locally supported algorithm suite. It is a credential error, not a
// protocol failure.
var ErrKeyFormat = errors.New("unsupported key format")

// ErrNoPrivateKey reports a private-key operation attempted on a key pair
// constructed from a public key only.
var ErrNoPrivateKey = errors.New("no private key available")

// Suite fixes the algorithm parameters for a key pair. Communicating parties
// must agree on the format tag before any cryptographic result is trusted.
type Suite struct {
	Bits int         // modulus size for generated keys
	Hash crypto.Hash // hash for both OAEP and signatures
}

// DefaultSuite is the production parameter set.
var DefaultSuite = Suite{Bits: 2048, Hash: crypto.SHA256}

// FormatName is the wire identifier for keys of this suite, naming the hash,
// encryption padding and signature padding in use.
func (s Suite) FormatName() string {
	h := strings.ReplaceAll(strings.ToLower(s.Hash.String()), "-", "")
	return fmt.Sprintf("rsa-%s-oaep%s-pkcs1", h, h)
}

// Keys is an RSA key pair. A Keys constructed from a received public key has
// no private half; Sign and Decrypt report ErrNoPrivateKey on it.
type Keys struct {
	suite Suite
	pub   *rsa.PublicKey
	priv  *rsa.PrivateKey
}

// Generate creates a fresh key pair with the given suite's parameters.
func Generate(s Suite) (*Keys, error) {
	priv, err := rsa.GenerateKey(rand.Reader, s.Bits)
	if err != nil {
		return nil, fmt.Errorf("generate key pair: %w", err)
	}
	return &Keys{suite: s, pub: &priv.PublicKey, priv: priv}, nil
}

// FromPublicKey constructs a verify/encrypt-only key pair from an exported
// public key and its declared format tag.
func FromPublicKey(der []byte, format string, s Suite) (*Keys, error) {
	if format != s.FormatName() {
		return nil, fmt.Errorf("%w %q, want %q", ErrKeyFormat, format, s.FormatName())
	}
	pub, err := x509.ParsePKCS1PublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyFormat, err)
	}
	return &Keys{suite: s, pub: pub}, nil
}

// PublicKeyDER exports the public key in PKCS#1 DER form.
func (k *Keys) PublicKeyDER() []byte { return x509.MarshalPKCS1PublicKey(k.pub) }

// FormatName returns the wire identifier for this key's suite.
func (k *Keys) FormatName() string { return k.suite.FormatName() }

// HasPrivate reports whether the private half is present.
func (k *Keys) HasPrivate() bool { return k.priv != nil }

// Sign signs data with the private key.
func (k *Keys) Sign(data []byte) ([]byte, error) {
	if k.priv == nil {
		return nil, ErrNoPrivateKey
	}
	digest := k.digest(data)
	sig, err := rsa.SignPKCS1v15(rand.Reader, k.priv, k.suite.Hash, digest)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return sig, nil
}

// Verify reports whether signature is a valid signature over original.
func (k *Keys) Verify(original, signature []byte) bool {
	digest := k.digest(original)
	return rsa.VerifyPKCS1v15(k.pub, k.suite.Hash, digest, signature) == nil
}

// Encrypt encrypts data under the public key with OAEP.
func (k *Keys) Encrypt(data []byte) ([]byte, error) {
	out, err := rsa.EncryptOAEP(k.suite.Hash.New(), rand.Reader, k.pub, data, nil)
	if err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}
	return out, nil
}

// Decrypt decrypts an OAEP ciphertext with the private key.
func (k *Keys) Decrypt(data []byte) ([]byte, error) {
	if k.priv == nil {
		return nil, ErrNoPrivateKey
	}
	out, err := rsa.DecryptOAEP(k.suite.Hash.New(), rand.Reader, k.priv, data, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return out, nil
}

// PrivateKeyDER exports the private key in PKCS#1 DER form, for persistence
// backends. Callers own keeping the result secret.
func (k *Keys) PrivateKeyDER() ([]byte, error) {
	if k.priv == nil {
		return nil, ErrNoPrivateKey
	}
	return x509.MarshalPKCS1PrivateKey(k.priv), nil
}

// FromPrivateKey reconstructs a full key pair from PKCS#1 DER.
func FromPrivateKey(der []byte, s Suite) (*Keys, error) {
	priv, err := x509.ParsePKCS1PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &Keys{suite: s, pub: &priv.PublicKey, priv: priv}, nil
}

func (k *Keys) digest(data []byte) []byte {
	h := k.suite.Hash.New()
	h.Write(data)
	return h.Sum(nil)
}
