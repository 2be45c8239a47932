package messages

import (
	"encoding/base64"
	"errors"
	"fmt"

	"ric/crypto/rsakeys"
)

// Password transport formats. The plaintext form exists for local testing
// only; the rsa-base64 form encrypts the password under the recipient's
// current public key, so a captured credential is only decryptable by the
// one server whose key was used to encrypt it.
const (
	PasswordPlaintext = "plaintext"
	PasswordRSABase64 = "rsa-base64"
)

// ErrPasswordFormat reports an unrecognized password transport format tag.
var ErrPasswordFormat = errors.New("invalid password format")

// Password is a password in transport encoding, tagged with its format.
type Password struct {
	Data   string `json:"data"`
	Format string `json:"format"`
}

// GeneratePassword encodes a password for transport in the given format.
// The keys argument is the recipient's public key; it is unused for the
// plaintext format.
func GeneratePassword(password, format string, keys *rsakeys.Keys) (Password, error) {
	switch format {
	case PasswordPlaintext:
		return Password{Data: password, Format: format}, nil
	case PasswordRSABase64:
		enc, err := keys.Encrypt([]byte(password))
		if err != nil {
			return Password{}, fmt.Errorf("encode password: %w", err)
		}
		return Password{Data: base64.StdEncoding.EncodeToString(enc), Format: format}, nil
	default:
		return Password{}, fmt.Errorf("%w %q provided to generate", ErrPasswordFormat, format)
	}
}

// DecodePassword recovers the plaintext password from its transport
// encoding, using the recipient's own private key where required.
func DecodePassword(msg Password, keys *rsakeys.Keys) (string, error) {
	switch msg.Format {
	case PasswordPlaintext:
		return msg.Data, nil
	case PasswordRSABase64:
		raw, err := base64.StdEncoding.DecodeString(msg.Data)
		if err != nil {
			return "", fmt.Errorf("decode password: %w", err)
		}
		plain, err := keys.Decrypt(raw)
		if err != nil {
			return "", fmt.Errorf("decode password: %w", err)
		}
		return string(plain), nil
	default:
		return "", fmt.Errorf("%w %q provided to decode", ErrPasswordFormat, msg.Format)
	}
}
