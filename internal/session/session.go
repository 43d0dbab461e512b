// Package session holds the persistent record of issued token pairs and the
// login-time eviction policy: per-device dedup by cookie, then a hard cap per
// user with oldest-first eviction.
package session

import (
	"context"
	"errors"
	"sort"
	"time"

	"authgrid.org/internal/ids"
)

// ErrNotFound indicates no session matches the lookup.
var ErrNotFound = errors.New("session: not found")

// Session is one issued access/refresh token pair, correlated to a browser
// instance via an opaque cookie value.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	Cookie       string    `json:"cookie"`
	ExpiresAt    int64     `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store describes the persistence operations required for sessions.
type Store interface {
	Create(ctx context.Context, s *Session) error
	GetByAccessToken(ctx context.Context, token string) (*Session, error)
	GetByRefreshToken(ctx context.Context, token string) (*Session, error)
	ListByUser(ctx context.Context, userID string) ([]Session, error)
	UpdateAccessToken(ctx context.Context, id, accessToken string, expiresAt int64) error
	Delete(ctx context.Context, id string) error
}

// Manager applies the session lifecycle policy on top of a Store.
type Manager struct {
	store Store
	cap   int
	now   func() time.Time
}

// Option configures Manager behavior.
type Option func(*Manager)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewManager constructs a Manager enforcing the given per-user session cap.
func NewManager(store Store, cap int, opts ...Option) *Manager {
	m := &Manager{store: store, cap: cap, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateWithEviction persists a new session after applying the login-time
// policy: any session sharing the incoming cookie is removed first, then if
// the user is still at or above the cap the single oldest session (by
// creation time, ties broken by id) is evicted.
func (m *Manager) CreateWithEviction(ctx context.Context, s *Session) error {
	if s.ID == "" {
		s.ID = ids.NewUUID()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = m.now().UTC()
	}

	existing, err := m.store.ListByUser(ctx, s.UserID)
	if err != nil {
		return err
	}

	remaining := existing[:0]
	for _, old := range existing {
		if s.Cookie != "" && old.Cookie == s.Cookie {
			if err := m.store.Delete(ctx, old.ID); err != nil {
				return err
			}
			continue
		}
		remaining = append(remaining, old)
	}

	if len(remaining) >= m.cap {
		oldest := remaining[0]
		for _, old := range remaining[1:] {
			if old.CreatedAt.Before(oldest.CreatedAt) ||
				(old.CreatedAt.Equal(oldest.CreatedAt) && old.ID < oldest.ID) {
				oldest = old
			}
		}
		if err := m.store.Delete(ctx, oldest.ID); err != nil {
			return err
		}
	}

	return m.store.Create(ctx, s)
}

// Logout removes every session of the user matching either the request
// cookie or the bearer access token. Returns the number removed.
func (m *Manager) Logout(ctx context.Context, userID, cookie, accessToken string) (int, error) {
	sessions, err := m.store.ListByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, s := range sessions {
		if (cookie != "" && s.Cookie == cookie) || (accessToken != "" && s.AccessToken == accessToken) {
			if err := m.store.Delete(ctx, s.ID); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

// RefreshAccess finds the session holding the refresh token and swaps in a
// newly issued access token with its expiry. Returns the updated session.
func (m *Manager) RefreshAccess(ctx context.Context, refreshToken, accessToken string, expiresAt int64) (*Session, error) {
	s, err := m.store.GetByRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if err := m.store.UpdateAccessToken(ctx, s.ID, accessToken, expiresAt); err != nil {
		return nil, err
	}
	s.AccessToken = accessToken
	s.ExpiresAt = expiresAt
	return s, nil
}

// HasSessions reports whether the user currently holds any session.
func (m *Manager) HasSessions(ctx context.Context, userID string) (bool, error) {
	sessions, err := m.store.ListByUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return len(sessions) > 0, nil
}

// AccessTokenExists implements the codec's revocation lookup.
func (m *Manager) AccessTokenExists(ctx context.Context, token string) (bool, error) {
	_, err := m.store.GetByAccessToken(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RefreshTokenExists implements the codec's revocation lookup.
func (m *Manager) RefreshTokenExists(ctx context.Context, token string) (bool, error) {
	_, err := m.store.GetByRefreshToken(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SortByCreation orders sessions oldest first with id tie-break, the same
// ordering eviction uses. Exposed for stores that keep unordered backends.
func SortByCreation(sessions []Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
}
