// Package redis implements the session store on Redis. Sessions are stored as
// JSON records keyed by id, with token lookups going through hashed secondary
// index keys and a per-user id set.
package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"authgrid.org/internal/session"
)

const keyPrefix = "ag:sess"

// SessionStore persists issued token pairs in Redis.
type SessionStore struct {
	client    *redis.Client
	retention time.Duration
}

var _ session.Store = (*SessionStore)(nil)

// NewSessionStore wraps a Redis client. Records expire after retention, which
// should be at least the refresh token lifetime.
func NewSessionStore(client *redis.Client, retention time.Duration) *SessionStore {
	if retention <= 0 {
		retention = 14 * 24 * time.Hour
	}
	return &SessionStore{client: client, retention: retention}
}

func idKey(id string) string       { return keyPrefix + ":id:" + id }
func userKey(userID string) string { return keyPrefix + ":user:" + userID }

// tokenKey indexes by token digest; raw JWTs are too long for comfortable keys.
func tokenKey(kind, token string) string {
	sum := sha256.Sum256([]byte(token))
	return keyPrefix + ":" + kind + ":" + hex.EncodeToString(sum[:])
}

func (s *SessionStore) Create(ctx context.Context, sess *session.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, idKey(sess.ID), data, s.retention)
		pipe.Set(ctx, tokenKey("at", sess.AccessToken), sess.ID, s.retention)
		pipe.Set(ctx, tokenKey("rt", sess.RefreshToken), sess.ID, s.retention)
		pipe.SAdd(ctx, userKey(sess.UserID), sess.ID)
		pipe.Expire(ctx, userKey(sess.UserID), s.retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: create session: %w", err)
	}
	return nil
}

func (s *SessionStore) GetByAccessToken(ctx context.Context, token string) (*session.Session, error) {
	return s.getByToken(ctx, "at", token)
}

func (s *SessionStore) GetByRefreshToken(ctx context.Context, token string) (*session.Session, error) {
	return s.getByToken(ctx, "rt", token)
}

func (s *SessionStore) getByToken(ctx context.Context, kind, token string) (*session.Session, error) {
	id, err := s.client.Get(ctx, tokenKey(kind, token)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.getByID(ctx, id)
}

func (s *SessionStore) getByID(ctx context.Context, id string) (*session.Session, error) {
	data, err := s.client.Get(ctx, idKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var sess session.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *SessionStore) ListByUser(ctx context.Context, userID string) ([]session.Session, error) {
	ids, err := s.client.SMembers(ctx, userKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	var out []session.Session
	for _, id := range ids {
		sess, err := s.getByID(ctx, id)
		if errors.Is(err, session.ErrNotFound) {
			// Record expired but its id lingers in the user set.
			s.client.SRem(ctx, userKey(userID), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	session.SortByCreation(out)
	return out, nil
}

func (s *SessionStore) UpdateAccessToken(ctx context.Context, id, accessToken string, expiresAt int64) error {
	sess, err := s.getByID(ctx, id)
	if err != nil {
		return err
	}
	oldAccess := sess.AccessToken
	sess.AccessToken = accessToken
	sess.ExpiresAt = expiresAt

	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, idKey(sess.ID), data, s.retention)
		pipe.Del(ctx, tokenKey("at", oldAccess))
		pipe.Set(ctx, tokenKey("at", accessToken), sess.ID, s.retention)
		return nil
	})
	return err
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	sess, err := s.getByID(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, idKey(id))
		pipe.Del(ctx, tokenKey("at", sess.AccessToken))
		pipe.Del(ctx, tokenKey("rt", sess.RefreshToken))
		pipe.SRem(ctx, userKey(sess.UserID), id)
		return nil
	})
	return err
}
