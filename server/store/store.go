// Package store persists the user accounts held by a home server.
package store

import (
	"context"
	"errors"

	"ric/crypto/rsakeys"
	"ric/crypto/storedpass"
)

var (
	// ErrExists reports a create for a username that already has an account.
	ErrExists = errors.New("account already exists")
	// ErrNotFound reports a lookup of a username with no account.
	ErrNotFound = errors.New("account not found")
)

// Account is one user account: credentials plus the identity key pair the
// home server operates on the user's behalf.
type Account struct {
	Username string
	Password storedpass.Stored
	Keys     *rsakeys.Keys
}

// An AccountStore holds accounts keyed by username. Create is atomic: of two
// concurrent creates for the same username exactly one succeeds and the
// other reports ErrExists.
type AccountStore interface {
	Get(ctx context.Context, username string) (*Account, error)
	Create(ctx context.Context, a *Account) error
}
