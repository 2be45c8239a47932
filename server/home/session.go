package home

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
	"ric/server/store"
)

// session is the per-connection state of the home server: the request
// handlers plus the account bound by login, if any.
type session struct {
	server *Server
	comm   *comm.Communicator
	log    logrus.FieldLogger

	mu      sync.Mutex
	account *store.Account
}

func newSession(s *Server, c *comm.Communicator) *session {
	sess := &session{
		server: s,
		comm:   c,
		log:    s.log.WithField("remote", c.Conn().RemoteAddress()),
	}
	c.SetRequestHandler(messages.OpChallenge, server.ChallengeHandler(s.keys, sess.log))
	c.SetRequestHandler(messages.OpRegister, sess.handleRegister)
	c.SetRequestHandler(messages.OpLogin, sess.handleLogin)
	c.SetRequestHandler(messages.OpLogout, sess.handleLogout)
	c.SetRequestHandler(messages.OpSign, sess.handleSign)
	c.SetRequestHandler(messages.OpDecrypt, sess.handleDecrypt)
	return sess
}

// detached runs after the connection's receive loop ends.
func (sess *session) detached() {
	sess.mu.Lock()
	acct := sess.account
	sess.account = nil
	sess.mu.Unlock()
	if acct != nil {
		sess.log.Infof("user %q disconnected while logged in", acct.Username)
	}
}

func (sess *session) loggedIn() *store.Account {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.account
}

func (sess *session) handleRegister(ctx context.Context, name string, data json.RawMessage) comm.Response {
	var req messages.RegisterRequest
	if err := messages.Unpack(data, &req); err != nil {
		sess.log.Warnf("malformed register request: %v", err)
		return server.Failure(messages.StatusUnknownError)
	}
	if _, err := sess.server.RegisterUser(ctx, req.Username, req.Password, req.JoinToken); err != nil {
		sess.log.Infof("register %q refused: %v", req.Username, err)
		return server.Failure(registerStatus(err))
	}
	return server.Success(struct{}{})
}

func (sess *session) handleLogin(ctx context.Context, name string, data json.RawMessage) comm.Response {
	if sess.loggedIn() != nil {
		return server.Failure(messages.StatusAlreadyLoggedIn)
	}
	var req messages.LoginRequest
	if err := messages.Unpack(data, &req); err != nil {
		sess.log.Warnf("malformed login request: %v", err)
		return server.Failure(messages.StatusUnknownError)
	}
	acct, err := sess.server.LoginUser(ctx, req.Username, req.Password, req.MFAToken, req.JoinToken)
	if err != nil {
		sess.log.Infof("login %q refused: %v", req.Username, err)
		return server.Failure(loginStatus(err))
	}
	user, err := sess.server.UserIdentityFor(acct)
	if err != nil {
		sess.log.Errorf("building identity for %q: %v", acct.Username, err)
		return server.Failure(messages.StatusUnknownError)
	}

	sess.mu.Lock()
	if sess.account != nil {
		sess.mu.Unlock()
		return server.Failure(messages.StatusAlreadyLoggedIn)
	}
	sess.account = acct
	sess.mu.Unlock()

	return server.Success(messages.LoginSuccessResponse{
		ServerApp:      sess.server.core.App,
		ServerIdentity: sess.server.identity,
		UserIdentity:   user,
	})
}

func (sess *session) handleLogout(ctx context.Context, name string, data json.RawMessage) comm.Response {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.account == nil {
		return server.Failure(messages.StatusNotLoggedIn)
	}
	sess.log.Infof("user %q logged out", sess.account.Username)
	sess.account = nil
	return server.Success(struct{}{})
}

func (sess *session) handleSign(ctx context.Context, name string, data json.RawMessage) comm.Response {
	acct := sess.loggedIn()
	if acct == nil {
		return server.Failure(messages.StatusNotLoggedIn)
	}
	var req messages.SignRequest
	if err := messages.Unpack(data, &req); err != nil {
		sess.log.Warnf("malformed sign request: %v", err)
		return server.Failure(messages.StatusUnknownError)
	}
	signed, invalid := mapBatch(req.Messages, acct.Keys.Sign)
	if len(invalid) > 0 {
		return server.FailureWith(messages.StatusInvalidMessages,
			messages.BatchFailureResponse{InvalidMessages: invalid})
	}
	return server.Success(messages.SignSuccessResponse{SignedHashes: signed})
}

func (sess *session) handleDecrypt(ctx context.Context, name string, data json.RawMessage) comm.Response {
	acct := sess.loggedIn()
	if acct == nil {
		return server.Failure(messages.StatusNotLoggedIn)
	}
	var req messages.DecryptRequest
	if err := messages.Unpack(data, &req); err != nil {
		sess.log.Warnf("malformed decrypt request: %v", err)
		return server.Failure(messages.StatusUnknownError)
	}
	decrypted, invalid := mapBatch(req.EncryptedMessages, acct.Keys.Decrypt)
	if len(invalid) > 0 {
		return server.FailureWith(messages.StatusInvalidMessages,
			messages.BatchFailureResponse{InvalidMessages: invalid})
	}
	return server.Success(messages.DecryptSuccessResponse{DecryptedMessages: decrypted})
}

// mapBatch applies op to every base64 item, returning the base64 results and
// the items that failed decoding or op. Results are only meaningful when no
// item failed; the caller reports failures without partial results.
func mapBatch(items []string, op func([]byte) ([]byte, error)) (results, invalid []string) {
	results = make([]string, 0, len(items))
	for _, item := range items {
		raw, err := base64.StdEncoding.DecodeString(item)
		if err != nil {
			invalid = append(invalid, item)
			continue
		}
		out, err := op(raw)
		if err != nil {
			invalid = append(invalid, item)
			continue
		}
		results = append(results, base64.StdEncoding.EncodeToString(out))
	}
	return results, invalid
}

func registerStatus(err error) string {
	var ce *server.CredentialError
	switch {
	case errors.Is(err, server.ErrPolicyDisabled):
		return messages.StatusRegistrationDisabled
	case errors.Is(err, server.ErrTokenRequired):
		return messages.StatusJoinTokenRequired
	case errors.Is(err, server.ErrInvalidToken):
		return messages.StatusInvalidJoinToken
	case errors.As(err, &ce):
		switch ce.Credential {
		case server.CredentialUsername:
			return messages.StatusInvalidUsername
		case server.CredentialPassword:
			return messages.StatusInvalidPassword
		}
	}
	return messages.StatusUnknownError
}

func loginStatus(err error) string {
	var ce *server.CredentialError
	switch {
	case errors.Is(err, server.ErrPolicyDisabled):
		return messages.StatusLoginDisabled
	case errors.Is(err, server.ErrTokenRequired):
		return messages.StatusJoinTokenRequired
	case errors.Is(err, server.ErrInvalidToken):
		return messages.StatusInvalidJoinToken
	case errors.As(err, &ce):
		switch ce.Credential {
		case server.CredentialUsername:
			return messages.StatusUnrecognisedUser
		case server.CredentialPassword:
			return messages.StatusInvalidPassword
		case server.CredentialMFAToken:
			if ce.Reason == "missing" {
				return messages.StatusMFATokenRequired
			}
			return messages.StatusInvalidMFAToken
		}
	}
	return messages.StatusUnknownError
}
