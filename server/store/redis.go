package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"ric/crypto/rsakeys"
	"ric/crypto/storedpass"
)

// Redis is an account store backed by a Redis instance. Records are stored
// as JSON with the user key pair in PKCS#1 DER form; create-if-absent is
// enforced with SETNX so duplicate registrations lose cleanly across
// processes.
type Redis struct {
	rdb   *redis.Client
	suite rsakeys.Suite
}

// NewRedis builds a store over an existing client. The suite must match the
// one the stored key pairs were generated with.
func NewRedis(rdb *redis.Client, suite rsakeys.Suite) *Redis {
	return &Redis{rdb: rdb, suite: suite}
}

type redisRecord struct {
	PasswordMode string `json:"password_mode"`
	PasswordHash []byte `json:"password_hash"`
	PasswordSalt []byte `json:"password_salt"`
	PrivateKey   []byte `json:"private_key"`
}

func accountKey(username string) string { return "account:" + username }

func (s *Redis) Get(ctx context.Context, username string) (*Account, error) {
	raw, err := s.rdb.Get(ctx, accountKey(username)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account %q: %w", username, err)
	}
	var rec redisRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode account %q: %w", username, err)
	}
	keys, err := rsakeys.FromPrivateKey(rec.PrivateKey, s.suite)
	if err != nil {
		return nil, fmt.Errorf("decode account %q: %w", username, err)
	}
	return &Account{
		Username: username,
		Password: storedpass.Stored{Mode: rec.PasswordMode, Hash: rec.PasswordHash, Salt: rec.PasswordSalt},
		Keys:     keys,
	}, nil
}

func (s *Redis) Create(ctx context.Context, a *Account) error {
	priv, err := a.Keys.PrivateKeyDER()
	if err != nil {
		return fmt.Errorf("encode account %q: %w", a.Username, err)
	}
	raw, err := json.Marshal(redisRecord{
		PasswordMode: a.Password.Mode,
		PasswordHash: a.Password.Hash,
		PasswordSalt: a.Password.Salt,
		PrivateKey:   priv,
	})
	if err != nil {
		return fmt.Errorf("encode account %q: %w", a.Username, err)
	}
	ok, err := s.rdb.SetNX(ctx, accountKey(a.Username), raw, 0).Result()
	if err != nil {
		return fmt.Errorf("create account %q: %w", a.Username, err)
	}
	if !ok {
		return ErrExists
	}
	return nil
}
