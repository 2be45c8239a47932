// Package home implements the home server role: the authority for user
// accounts. It registers and authenticates users, holds their identity keys,
// and performs signing and decryption on their behalf so private keys never
// leave the server.
package home

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"ric/comm"
	"ric/crypto/rsakeys"
	"ric/crypto/storedpass"
	"ric/messages"
	"ric/server"
	"ric/server/store"
)

// Options configures a home server.
type Options struct {
	Name         string
	Description  string
	CanonicalURL string
	// URLIsPublic controls whether the canonical URL is published in user
	// identities, allowing chat servers to dial back for verification.
	URLIsPublic bool

	Suite rsakeys.Suite
	// Keys is the server's long-term identity key pair. Generated fresh when
	// nil.
	Keys     *rsakeys.Keys
	Accounts store.AccountStore

	RegistrationPolicy server.JoinPolicy
	LoginPolicy        server.JoinPolicy
	RegisterTokens     *server.TokenList
	LoginTokens        *server.TokenList
}

// Server is a home server. One Server serves many concurrent sessions.
type Server struct {
	core     server.CoreServices
	log      logrus.FieldLogger
	suite    rsakeys.Suite
	keys     *rsakeys.Keys
	identity messages.ServerIdentity
	// publishedURL is empty when the server is not publicly reachable.
	publishedURL string
	accounts     store.AccountStore

	registrationPolicy server.JoinPolicy
	loginPolicy        server.JoinPolicy
	registerTokens     *server.TokenList
	loginTokens        *server.TokenList

	// registerMu serializes token admission with account creation;
	// loginMu does the same for login admission.
	registerMu sync.Mutex
	loginMu    sync.Mutex
}

// New builds a home server from opts.
func New(core server.CoreServices, opts Options) (*Server, error) {
	keys := opts.Keys
	if keys == nil {
		var err error
		keys, err = rsakeys.Generate(opts.Suite)
		if err != nil {
			return nil, fmt.Errorf("home server keys: %w", err)
		}
	}
	s := &Server{
		core:  core,
		log:   core.Log.WithField("role", "home"),
		suite: opts.Suite,
		keys:  keys,
		identity: messages.ServerIdentity{
			PublicKey:   messages.PublicKeyFrom(keys),
			Name:        opts.Name,
			Description: opts.Description,
			URL:         opts.CanonicalURL,
		},
		accounts:           opts.Accounts,
		registrationPolicy: opts.RegistrationPolicy,
		loginPolicy:        opts.LoginPolicy,
		registerTokens:     opts.RegisterTokens,
		loginTokens:        opts.LoginTokens,
	}
	if opts.URLIsPublic {
		s.publishedURL = opts.CanonicalURL
	}
	if s.registerTokens == nil {
		s.registerTokens = server.NewTokenList()
	}
	if s.loginTokens == nil {
		s.loginTokens = server.NewTokenList()
	}
	return s, nil
}

// Keys returns the server's identity key pair.
func (s *Server) Keys() *rsakeys.Keys { return s.keys }

// Identity returns the server's public identity.
func (s *Server) Identity() messages.ServerIdentity { return s.identity }

// WSPath returns the WebSocket path this role is served at.
func (s *Server) WSPath() string { return "/ric0_home" }

// Connected attaches a new session to an accepted connection.
func (s *Server) Connected(c *comm.Communicator) func() {
	sess := newSession(s, c)
	return sess.detached
}

// RegisterUser creates an account for username, subject to the registration
// policy. The password arrives in transport encoding under this server's
// key. A fresh identity key pair is generated for the account.
func (s *Server) RegisterUser(ctx context.Context, username string, password messages.Password, joinToken string) (*store.Account, error) {
	if s.registrationPolicy == server.PolicyDisabled {
		return nil, server.ErrPolicyDisabled
	}

	s.registerMu.Lock()
	defer s.registerMu.Unlock()

	// The token is validated up front but only spent once the account exists,
	// so a refused registration never burns it.
	if err := s.registrationPolicy.Validate(s.registerTokens, joinToken); err != nil {
		return nil, err
	}
	plain, err := messages.DecodePassword(password, s.keys)
	if err != nil {
		return nil, &server.CredentialError{Credential: server.CredentialPassword, Reason: "undecodable"}
	}
	keys, err := rsakeys.Generate(s.suite)
	if err != nil {
		return nil, fmt.Errorf("account keys for %q: %w", username, err)
	}
	stored, err := storedpass.Generate(plain)
	if err != nil {
		return nil, fmt.Errorf("account password for %q: %w", username, err)
	}
	acct := &store.Account{Username: username, Password: stored, Keys: keys}
	if err := s.accounts.Create(ctx, acct); err != nil {
		if err == store.ErrExists {
			return nil, &server.CredentialError{Credential: server.CredentialUsername, Reason: "in use"}
		}
		return nil, fmt.Errorf("create account %q: %w", username, err)
	}
	s.registrationPolicy.Consume(s.registerTokens, joinToken)
	s.log.Infof("registered user %q", username)
	return acct, nil
}

// LoginUser authenticates username against its stored credentials, subject
// to the login policy.
func (s *Server) LoginUser(ctx context.Context, username string, password messages.Password, mfaToken, joinToken string) (*store.Account, error) {
	if s.loginPolicy == server.PolicyDisabled {
		return nil, server.ErrPolicyDisabled
	}
	plain, err := messages.DecodePassword(password, s.keys)
	if err != nil {
		return nil, &server.CredentialError{Credential: server.CredentialPassword, Reason: "undecodable"}
	}

	acct, err := s.accounts.Get(ctx, username)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, &server.CredentialError{Credential: server.CredentialUsername, Reason: "unknown"}
		}
		return nil, fmt.Errorf("look up account %q: %w", username, err)
	}
	if !acct.Password.Check(plain) {
		return nil, &server.CredentialError{Credential: server.CredentialPassword, Reason: "mismatch"}
	}

	// TODO: MFA enforcement; mfaToken is carried but not yet checked.

	s.loginMu.Lock()
	defer s.loginMu.Unlock()
	if err := s.loginPolicy.Admit(s.loginTokens, joinToken); err != nil {
		return nil, err
	}
	s.log.Infof("user %q logged in", username)
	return acct, nil
}

// UserIdentityFor builds the vouched identity handed to a logged-in user:
// the account's public key plus this server's signature over the username,
// which chat servers verify during federation.
func (s *Server) UserIdentityFor(acct *store.Account) (messages.UserIdentity, error) {
	sig, err := s.keys.Sign([]byte(acct.Username))
	if err != nil {
		return messages.UserIdentity{}, fmt.Errorf("sign username: %w", err)
	}
	return messages.UserIdentity{
		Name:                acct.Username,
		Type:                "user",
		PublicKey:           messages.PublicKeyFrom(acct.Keys),
		HomeServerPublicKey: messages.PublicKeyFrom(s.keys),
		HomeServerUser:      acct.Username,
		HomeServerUserSig:   base64.StdEncoding.EncodeToString(sig),
		HomeServerURL:       s.publishedURL,
	}, nil
}
