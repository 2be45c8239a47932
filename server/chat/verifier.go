package chat

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"ric/client"
	"ric/crypto/rsakeys"
	"ric/messages"
)

// A Verifier confirms that the home server reachable at url holds key.
type Verifier interface {
	Verify(ctx context.Context, url string, key *rsakeys.Keys) error
}

// DialBackVerifier verifies home server claims by opening a fresh connection
// to the named server and running the standard identity challenge against
// it.
type DialBackVerifier struct {
	App   messages.AppInfo
	Suite rsakeys.Suite
	Log   logrus.FieldLogger
}

func (v *DialBackVerifier) Verify(ctx context.Context, url string, key *rsakeys.Keys) error {
	b, err := client.Dial(ctx, client.JoinURL(url, client.HomePath), v.App, v.Suite, v.Log)
	if err != nil {
		return fmt.Errorf("dial back %s: %w", url, err)
	}
	defer b.Close(ctx, "verification complete")

	if err := b.VerifyServerIdentity(ctx); err != nil {
		return fmt.Errorf("dial back %s: %w", url, err)
	}
	if !bytes.Equal(b.ServerKeys().PublicKeyDER(), key.PublicKeyDER()) {
		return errors.New("home server key does not match the claimed key")
	}
	return nil
}
