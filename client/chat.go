package client

import (
	"context"
	"encoding/base64"
	"sync"

	"github.com/sirupsen/logrus"

	"ric/crypto/rsakeys"
	"ric/messages"
)

// Chat is a client connection to a chat server.
type Chat struct {
	*Base

	mu             sync.Mutex
	user           *messages.UserIdentity
	serverApp      messages.AppInfo
	serverIdentity messages.ServerIdentity
}

// DialChat connects to the chat server role of the server at base URL.
func DialChat(ctx context.Context, baseURL string, app messages.AppInfo, suite rsakeys.Suite, log logrus.FieldLogger) (*Chat, error) {
	b, err := Dial(ctx, JoinURL(baseURL, ChatPath), app, suite, log)
	if err != nil {
		return nil, err
	}
	return &Chat{Base: b}, nil
}

// Connect presents the identity logged in on home to this chat server. The
// connect challenge is the user's signature over the chat server's public
// key, produced by the home server, so both the chat server identity and the
// home login must be verified first.
func (c *Chat) Connect(ctx context.Context, home *Home) error {
	return c.connect(ctx, home, "")
}

// ConnectWithToken is Connect presenting a join token.
func (c *Chat) ConnectWithToken(ctx context.Context, home *Home, joinToken string) error {
	return c.connect(ctx, home, joinToken)
}

func (c *Chat) connect(ctx context.Context, home *Home, joinToken string) error {
	serverKeys, err := c.requireVerified()
	if err != nil {
		return err
	}
	user, ok := home.User()
	if !ok {
		return ErrNotLoggedIn
	}
	sigs, err := home.Sign(ctx, [][]byte{serverKeys.PublicKeyDER()})
	if err != nil {
		return err
	}

	var resp messages.ConnectSuccessResponse
	err = c.call(ctx, messages.OpConnect, messages.ConnectRequest{
		ClientApp: c.app,
		User:      user,
		Challenge: base64.StdEncoding.EncodeToString(sigs[0]),
		JoinToken: joinToken,
	}, &resp)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.user = &user
	c.serverApp = resp.ServerApp
	c.serverIdentity = resp.ServerIdentity
	c.mu.Unlock()
	return nil
}

// Disconnect ends the chat connection's user binding.
func (c *Chat) Disconnect(ctx context.Context, reason string) error {
	err := c.call(ctx, messages.OpDisconnect, messages.DisconnectRequest{Reason: reason}, nil)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.user = nil
	c.mu.Unlock()
	return nil
}

// User returns the identity bound by Connect.
func (c *Chat) User() (messages.UserIdentity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil {
		return messages.UserIdentity{}, false
	}
	return *c.user, true
}

// ServerIdentity returns the identity reported by the server at connect.
func (c *Chat) ServerIdentity() messages.ServerIdentity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverIdentity
}
