package server

import (
	"errors"
	"sync"
)

// JoinPolicy controls admission to a gated operation: account registration,
// login, or chat connection.
type JoinPolicy int

const (
	// PolicyDisabled refuses the operation outright.
	PolicyDisabled JoinPolicy = iota
	// PolicyJoinTokenOnly admits callers presenting a valid single-use token.
	PolicyJoinTokenOnly
	// PolicyEnabled admits everyone.
	PolicyEnabled
)

var (
	// ErrPolicyDisabled reports an operation refused by a disabled policy.
	// It is reported before any token is inspected.
	ErrPolicyDisabled = errors.New("disabled by policy")
	// ErrTokenRequired reports a missing join token under a token-only policy.
	ErrTokenRequired = errors.New("join token required")
	// ErrInvalidToken reports a join token that is unknown or already spent.
	ErrInvalidToken = errors.New("invalid join token")
)

// Admit decides whether a caller presenting token passes this policy,
// consuming the token from tokens on success. Callers serialize Admit with
// the operation it gates so a token admits at most one caller.
func (p JoinPolicy) Admit(tokens *TokenList, token string) error {
	switch p {
	case PolicyEnabled:
		return nil
	case PolicyJoinTokenOnly:
		if token == "" {
			return ErrTokenRequired
		}
		if !tokens.Take(token) {
			return ErrInvalidToken
		}
		return nil
	default:
		return ErrPolicyDisabled
	}
}

// Validate is Admit without consuming the token. Operations that can still
// fail after admission validate first and Consume only once they succeed, so
// a failed attempt leaves the token usable.
func (p JoinPolicy) Validate(tokens *TokenList, token string) error {
	switch p {
	case PolicyEnabled:
		return nil
	case PolicyJoinTokenOnly:
		if token == "" {
			return ErrTokenRequired
		}
		if !tokens.Has(token) {
			return ErrInvalidToken
		}
		return nil
	default:
		return ErrPolicyDisabled
	}
}

// Consume spends a token previously accepted by Validate. Callers hold the
// same lock across Validate and Consume.
func (p JoinPolicy) Consume(tokens *TokenList, token string) {
	if p == PolicyJoinTokenOnly {
		tokens.Take(token)
	}
}

// TokenList is a set of single-use join tokens.
type TokenList struct {
	mu     sync.Mutex
	tokens map[string]struct{}
}

// NewTokenList builds a token list holding the given tokens.
func NewTokenList(tokens ...string) *TokenList {
	l := &TokenList{tokens: make(map[string]struct{}, len(tokens))}
	for _, t := range tokens {
		l.tokens[t] = struct{}{}
	}
	return l
}

// Add inserts a token.
func (l *TokenList) Add(token string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens[token] = struct{}{}
}

// Has reports whether token is present and unspent.
func (l *TokenList) Has(token string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.tokens[token]
	return ok
}

// Take removes token from the list, reporting whether it was present. A
// token is spent by the first successful Take.
func (l *TokenList) Take(token string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.tokens[token]; !ok {
		return false
	}
	delete(l.tokens, token)
	return true
}

// Len returns the number of unspent tokens.
func (l *TokenList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tokens)
}
