// Package chat implements the chat server role: it admits users vouched for
// by their home servers, verifying the federation signature chain without
// ever holding user credentials itself.
package chat

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"ric/comm"
	"ric/crypto/rsakeys"
	"ric/messages"
	"ric/server"
)

// Options configures a chat server.
type Options struct {
	Name         string
	Description  string
	CanonicalURL string

	Suite rsakeys.Suite
	// Keys is the server's long-term identity key pair. Generated fresh when
	// nil.
	Keys *rsakeys.Keys

	ConnectPolicy server.JoinPolicy
	ConnectTokens *server.TokenList

	// Verifier performs the home server dial-back during connect. When nil,
	// identities naming a home server URL are accepted on their signature
	// chain alone.
	Verifier Verifier
}

// Server is a chat server. One Server serves many concurrent sessions.
type Server struct {
	core     server.CoreServices
	log      logrus.FieldLogger
	suite    rsakeys.Suite
	keys     *rsakeys.Keys
	identity messages.ServerIdentity

	connectPolicy server.JoinPolicy
	connectTokens *server.TokenList
	verifier      Verifier

	// connectMu serializes token admission.
	connectMu sync.Mutex
}

// New builds a chat server from opts.
func New(core server.CoreServices, opts Options) (*Server, error) {
	keys := opts.Keys
	if keys == nil {
		var err error
		keys, err = rsakeys.Generate(opts.Suite)
		if err != nil {
			return nil, fmt.Errorf("chat server keys: %w", err)
		}
	}
	s := &Server{
		core:  core,
		log:   core.Log.WithField("role", "chat"),
		suite: opts.Suite,
		keys:  keys,
		identity: messages.ServerIdentity{
			PublicKey:   messages.PublicKeyFrom(keys),
			Name:        opts.Name,
			Description: opts.Description,
			URL:         opts.CanonicalURL,
		},
		connectPolicy: opts.ConnectPolicy,
		connectTokens: opts.ConnectTokens,
		verifier:      opts.Verifier,
	}
	if s.connectTokens == nil {
		s.connectTokens = server.NewTokenList()
	}
	return s, nil
}

// Keys returns the server's identity key pair.
func (s *Server) Keys() *rsakeys.Keys { return s.keys }

// Identity returns the server's public identity.
func (s *Server) Identity() messages.ServerIdentity { return s.identity }

// WSPath returns the WebSocket path this role is served at.
func (s *Server) WSPath() string { return "/ric0_chat" }

// Connected attaches a new session to an accepted connection.
func (s *Server) Connected(c *comm.Communicator) func() {
	sess := newSession(s, c)
	return sess.detached
}

func (s *Server) admit(token string) error {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()
	return s.connectPolicy.Admit(s.connectTokens, token)
}
