// Package redisstore persists sessions in Redis as JSON values with a TTL.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/jrsteele09/go-oidc-testapp/internal/errors"
	"github.com/jrsteele09/go-oidc-testapp/sessions"
	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces session keys.
const DefaultPrefix = "oidc:session:"

var _ sessions.Repo = (*Store)(nil)

type Store struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// New wraps an existing client. A zero ttl stores sessions without expiry.
func New(rdb redis.UniversalClient, prefix string, ttl time.Duration) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{rdb: rdb, prefix: prefix, ttl: ttl}
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr string, ttl time.Duration) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("[redisstore Dial] ping %s: %w", addr, err)
	}
	return New(rdb, DefaultPrefix, ttl), nil
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) Upsert(ctx context.Context, session *sessions.Session) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("[redisstore Upsert] session with ID is required")
	}

	session.UpdatedAt = time.Now()
	data, err := sessions.Marshal(session)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.key(session.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("[redisstore Upsert] %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, sessionID string) (*sessions.Session, error) {
	data, err := s.rdb.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperrors.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("[redisstore Get] %w", err)
	}
	return sessions.Unmarshal(data)
}

func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := s.rdb.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("[redisstore Delete] %w", err)
	}
	return nil
}

func (s *Store) key(sessionID string) string {
	return s.prefix + sessionID
}
