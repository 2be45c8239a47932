package client

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"ric/crypto/rsakeys"
	"ric/messages"
)

// Home is a client connection to a home server.
type Home struct {
	*Base

	mu             sync.Mutex
	user           *messages.UserIdentity
	serverApp      messages.AppInfo
	serverIdentity messages.ServerIdentity
	clientToken    string
}

// DialHome connects to the home server role of the server at base URL.
func DialHome(ctx context.Context, baseURL string, app messages.AppInfo, suite rsakeys.Suite, log logrus.FieldLogger) (*Home, error) {
	b, err := Dial(ctx, JoinURL(baseURL, HomePath), app, suite, log)
	if err != nil {
		return nil, err
	}
	return &Home{Base: b}, nil
}

// Register creates an account. The password travels encrypted under the
// pinned server key, so the identity must be verified first.
func (h *Home) Register(ctx context.Context, username, password string) error {
	return h.register(ctx, username, password, "")
}

// RegisterWithToken is Register presenting a join token.
func (h *Home) RegisterWithToken(ctx context.Context, username, password, joinToken string) error {
	return h.register(ctx, username, password, joinToken)
}

func (h *Home) register(ctx context.Context, username, password, joinToken string) error {
	keys, err := h.requireVerified()
	if err != nil {
		return err
	}
	pw, err := messages.GeneratePassword(password, messages.PasswordRSABase64, keys)
	if err != nil {
		return err
	}
	return h.call(ctx, messages.OpRegister, messages.RegisterRequest{
		Username:  username,
		Password:  pw,
		JoinToken: joinToken,
	}, nil)
}

// Login authenticates and captures the identity the server vouches for.
func (h *Home) Login(ctx context.Context, username, password string) error {
	return h.login(ctx, username, password, "")
}

// LoginWithToken is Login presenting a join token.
func (h *Home) LoginWithToken(ctx context.Context, username, password, joinToken string) error {
	return h.login(ctx, username, password, joinToken)
}

func (h *Home) login(ctx context.Context, username, password, joinToken string) error {
	keys, err := h.requireVerified()
	if err != nil {
		return err
	}
	pw, err := messages.GeneratePassword(password, messages.PasswordRSABase64, keys)
	if err != nil {
		return err
	}
	var resp messages.LoginSuccessResponse
	err = h.call(ctx, messages.OpLogin, messages.LoginRequest{
		ClientApp: h.app,
		Username:  username,
		Password:  pw,
		JoinToken: joinToken,
	}, &resp)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.user = &resp.UserIdentity
	h.serverApp = resp.ServerApp
	h.serverIdentity = resp.ServerIdentity
	h.clientToken = resp.ClientToken
	h.mu.Unlock()
	return nil
}

// Logout ends the login on this connection.
func (h *Home) Logout(ctx context.Context) error {
	if err := h.call(ctx, messages.OpLogout, struct{}{}, nil); err != nil {
		return err
	}
	h.mu.Lock()
	h.user = nil
	h.mu.Unlock()
	return nil
}

// User returns the identity captured at login.
func (h *Home) User() (messages.UserIdentity, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.user == nil {
		return messages.UserIdentity{}, false
	}
	return *h.user, true
}

// ServerIdentity returns the identity reported by the server at login.
func (h *Home) ServerIdentity() messages.ServerIdentity {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.serverIdentity
}

// Sign asks the server to sign each item with the logged-in user's key.
// Refused batches surface as *BatchError with no partial results.
func (h *Home) Sign(ctx context.Context, items [][]byte) ([][]byte, error) {
	if _, ok := h.User(); !ok {
		return nil, ErrNotLoggedIn
	}
	var resp messages.SignSuccessResponse
	err := h.callBatch(ctx, messages.OpSign, messages.SignRequest{
		Messages: encodeBatch(items),
	}, &resp)
	if err != nil {
		return nil, err
	}
	return decodeBatch(messages.OpSign, resp.SignedHashes)
}

// Decrypt asks the server to decrypt each item with the logged-in user's
// key. Refused batches surface as *BatchError with no partial results.
func (h *Home) Decrypt(ctx context.Context, items [][]byte) ([][]byte, error) {
	if _, ok := h.User(); !ok {
		return nil, ErrNotLoggedIn
	}
	var resp messages.DecryptSuccessResponse
	err := h.callBatch(ctx, messages.OpDecrypt, messages.DecryptRequest{
		EncryptedMessages: encodeBatch(items),
	}, &resp)
	if err != nil {
		return nil, err
	}
	return decodeBatch(messages.OpDecrypt, resp.DecryptedMessages)
}
