// Package client implements the client side of the protocol: the shared
// connection base plus the home and chat roles.
package client

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"ric/comm"
	"ric/crypto/rsakeys"
	"ric/messages"
	"ric/ws"
)

// WebSocket paths the server roles are reachable at, relative to a server's
// base URL.
const (
	HomePath = "/ric0_home"
	ChatPath = "/ric0_chat"
)

// ErrNotVerified reports an operation requiring the server identity before
// VerifyServerIdentity has pinned it.
var ErrNotVerified = errors.New("server identity not verified")

// ErrNotLoggedIn reports an operation requiring a logged-in user.
var ErrNotLoggedIn = errors.New("not logged in")

// StatusError reports a request the server answered with a non-success
// status.
type StatusError struct {
	Op     string
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Op, e.Status)
}

// BatchError reports a sign or decrypt batch the server refused, naming the
// items it could not process. No partial results exist.
type BatchError struct {
	Op      string
	Invalid []string
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%s failed for %d of the submitted messages", e.Op, len(e.Invalid))
}

// JoinURL joins a server base URL with a role path.
func JoinURL(base, path string) string {
	return strings.TrimSuffix(base, "/") + path
}

// Base is one client connection to a server: the communicator plus the
// pinned server key, once verified.
type Base struct {
	app   messages.AppInfo
	suite rsakeys.Suite
	conn  *ws.Conn
	comm  *comm.Communicator
	log   logrus.FieldLogger

	mu         sync.Mutex
	serverKeys *rsakeys.Keys
}

// Dial connects to a server role at its full WebSocket URL and starts the
// connection's receive loop.
func Dial(ctx context.Context, url string, app messages.AppInfo, suite rsakeys.Suite, log logrus.FieldLogger) (*Base, error) {
	conn, err := ws.Dial(ctx, url, log)
	if err != nil {
		return nil, err
	}
	b := &Base{
		app:   app,
		suite: suite,
		conn:  conn,
		comm:  comm.New(conn, comm.RoleInitiator, log),
		log:   log,
	}
	go func() {
		conn.ReadWhileOpen()
		// Remote closed or the connection failed; fail pending waits.
		b.comm.Dispose()
	}()
	return b, nil
}

// IsConnected reports whether the connection is still open.
func (b *Base) IsConnected() bool { return b.conn.IsOpen() }

// App returns the application description sent with requests that carry one.
func (b *Base) App() messages.AppInfo { return b.app }

// Close performs the close handshake and releases the connection.
func (b *Base) Close(ctx context.Context, reason string) error {
	err := b.comm.Close(ctx, reason)
	b.comm.Dispose()
	return err
}

// VerifyServerIdentity challenges the server to prove possession of its
// identity key and pins the key on success. Verifying an already verified
// connection is a no-op; the pinned key never changes.
func (b *Base) VerifyServerIdentity(ctx context.Context) error {
	b.mu.Lock()
	verified := b.serverKeys != nil
	b.mu.Unlock()
	if verified {
		return nil
	}

	challenge := make([]byte, 64)
	if _, err := rand.Read(challenge); err != nil {
		return fmt.Errorf("challenge bytes: %w", err)
	}
	var resp messages.ChallengeSuccessResponse
	err := b.call(ctx, messages.OpChallenge, messages.ChallengeRequest{
		Challenge: base64.StdEncoding.EncodeToString(challenge),
	}, &resp)
	if err != nil {
		return err
	}
	keys, err := resp.PublicKey.Keys(b.suite)
	if err != nil {
		return fmt.Errorf("server public key: %w", err)
	}
	sig, err := base64.StdEncoding.DecodeString(resp.Response)
	if err != nil || !keys.Verify(challenge, sig) {
		return errors.New("server identity signature does not verify")
	}

	b.mu.Lock()
	if b.serverKeys == nil {
		b.serverKeys = keys
	}
	b.mu.Unlock()
	b.log.Debugf("server identity verified for %s", b.conn.RemoteAddress())
	return nil
}

// ServerKeys returns the pinned server key, or nil before verification.
func (b *Base) ServerKeys() *rsakeys.Keys {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.serverKeys
}

// requireVerified returns the pinned server key or fails fast.
func (b *Base) requireVerified() (*rsakeys.Keys, error) {
	if keys := b.ServerKeys(); keys != nil {
		return keys, nil
	}
	return nil, ErrNotVerified
}

// call issues one request and decodes its success payload into resp, which
// may be nil. Non-success statuses surface as *StatusError.
func (b *Base) call(ctx context.Context, op string, req, resp any) error {
	data, err := messages.Pack(req)
	if err != nil {
		return err
	}
	r, err := b.comm.Call(ctx, op, data)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if r.Status != messages.StatusSuccess {
		return &StatusError{Op: op, Status: r.Status}
	}
	if resp == nil {
		return nil
	}
	return messages.Unpack(r.Data, resp)
}

// callBatch is call for the sign/decrypt operations, turning the
// invalid_messages status into a *BatchError naming the refused items.
func (b *Base) callBatch(ctx context.Context, op string, req, resp any) error {
	data, err := messages.Pack(req)
	if err != nil {
		return err
	}
	r, err := b.comm.Call(ctx, op, data)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	switch r.Status {
	case messages.StatusSuccess:
		return messages.Unpack(r.Data, resp)
	case messages.StatusInvalidMessages:
		var fail messages.BatchFailureResponse
		if err := messages.Unpack(r.Data, &fail); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return &BatchError{Op: op, Invalid: fail.InvalidMessages}
	default:
		return &StatusError{Op: op, Status: r.Status}
	}
}

func encodeBatch(items [][]byte) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = base64.StdEncoding.EncodeToString(item)
	}
	return out
}

func decodeBatch(op string, items []string) ([][]byte, error) {
	out := make([][]byte, len(items))
	for i, item := range items {
		raw, err := base64.StdEncoding.DecodeString(item)
		if err != nil {
			return nil, fmt.Errorf("%s result %d: %w", op, i, err)
		}
		out[i] = raw
	}
	return out, nil
}
