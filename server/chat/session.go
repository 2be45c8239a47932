package chat

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"ric/comm"
	"ric/messages"
	"ric/server"
)

// session is the per-connection state of the chat server: the request
// handlers plus the identity bound by connect, if any.
type session struct {
	server *Server
	comm   *comm.Communicator
	log    logrus.FieldLogger

	mu   sync.Mutex
	user *messages.UserIdentity
}

func newSession(s *Server, c *comm.Communicator) *session {
	sess := &session{
		server: s,
		comm:   c,
		log:    s.log.WithField("remote", c.Conn().RemoteAddress()),
	}
	c.SetRequestHandler(messages.OpChallenge, server.ChallengeHandler(s.keys, sess.log))
	c.SetRequestHandler(messages.OpConnect, sess.handleConnect)
	c.SetRequestHandler(messages.OpDisconnect, sess.handleDisconnect)
	return sess
}

// detached runs after the connection's receive loop ends.
func (sess *session) detached() {
	sess.mu.Lock()
	user := sess.user
	sess.user = nil
	sess.mu.Unlock()
	if user != nil {
		sess.log.Infof("user %q disconnected without a disconnect request", user.Name)
	}
}

func (sess *session) connected() *messages.UserIdentity {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.user
}

func (sess *session) handleConnect(ctx context.Context, name string, data json.RawMessage) comm.Response {
	if sess.connected() != nil {
		return server.Failure(messages.StatusAlreadyConnected)
	}
	var req messages.ConnectRequest
	if err := messages.Unpack(data, &req); err != nil {
		sess.log.Warnf("malformed connect request: %v", err)
		return server.Failure(messages.StatusUnknownError)
	}
	if sess.server.connectPolicy == server.PolicyDisabled {
		return server.Failure(messages.StatusConnectDisabled)
	}
	if status := sess.verifyUser(ctx, &req); status != "" {
		return server.Failure(status)
	}
	if err := sess.server.admit(req.JoinToken); err != nil {
		sess.log.Infof("connect for %q refused: %v", req.User.Name, err)
		return server.Failure(admitStatus(err))
	}

	sess.mu.Lock()
	if sess.user != nil {
		sess.mu.Unlock()
		return server.Failure(messages.StatusAlreadyConnected)
	}
	user := req.User
	sess.user = &user
	sess.mu.Unlock()

	sess.log.Infof("user %q connected", req.User.Name)
	return server.Success(messages.ConnectSuccessResponse{
		ServerApp:      sess.server.core.App,
		ServerIdentity: sess.server.identity,
	})
}

// verifyUser walks the federation chain of a connect request, returning the
// refusal status or "" when the identity holds up.
func (sess *session) verifyUser(ctx context.Context, req *messages.ConnectRequest) string {
	userKeys, err := req.User.PublicKey.Keys(sess.server.suite)
	if err != nil {
		sess.log.Infof("connect for %q: bad user key: %v", req.User.Name, err)
		return messages.StatusInvalidPubkey
	}

	// The challenge is the user's signature over this server's public key,
	// proving the holder of the declared key meant to connect here.
	challenge, err := base64.StdEncoding.DecodeString(req.Challenge)
	if err != nil || !userKeys.Verify(sess.server.keys.PublicKeyDER(), challenge) {
		sess.log.Infof("connect for %q: challenge does not verify", req.User.Name)
		return messages.StatusInvalidChallenge
	}

	homeKeys, err := req.User.HomeServerPublicKey.Keys(sess.server.suite)
	if err != nil {
		sess.log.Infof("connect for %q: bad home server key: %v", req.User.Name, err)
		return messages.StatusInvalidPubkey
	}

	// When the identity names a reachable home server, dial back on an
	// independent connection and insist its verified key matches the claim.
	if req.User.HomeServerURL != "" && sess.server.verifier != nil {
		if err := sess.server.verifier.Verify(ctx, req.User.HomeServerURL, homeKeys); err != nil {
			sess.log.Infof("connect for %q: home server %s rejected: %v", req.User.Name, req.User.HomeServerURL, err)
			return messages.StatusInvalidHomeServer
		}
	}

	sig, err := base64.StdEncoding.DecodeString(req.User.HomeServerUserSig)
	if err != nil || req.User.HomeServerUser != req.User.Name ||
		!homeKeys.Verify([]byte(req.User.HomeServerUser), sig) {
		sess.log.Infof("connect for %q: home server signature does not verify", req.User.Name)
		return messages.StatusUnrecognisedUser
	}
	return ""
}

func (sess *session) handleDisconnect(ctx context.Context, name string, data json.RawMessage) comm.Response {
	var req messages.DisconnectRequest
	if err := messages.Unpack(data, &req); err != nil {
		sess.log.Warnf("malformed disconnect request: %v", err)
		return server.Failure(messages.StatusUnknownError)
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.user == nil {
		return server.Failure(messages.StatusNotConnected)
	}
	if req.Reason != "" {
		sess.log.Infof("user %q disconnected: %s", sess.user.Name, req.Reason)
	} else {
		sess.log.Infof("user %q disconnected", sess.user.Name)
	}
	sess.user = nil
	return server.Success(struct{}{})
}

func admitStatus(err error) string {
	switch {
	case errors.Is(err, server.ErrPolicyDisabled):
		return messages.StatusConnectDisabled
	case errors.Is(err, server.ErrTokenRequired):
		return messages.StatusJoinTokenRequired
	case errors.Is(err, server.ErrInvalidToken):
		return messages.StatusInvalidJoinToken
	}
	return messages.StatusUnknownError
}
