package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// memStore is an in-memory Store for exercising the manager policy.
type memStore struct {
	sessions map[string]Session
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]Session)}
}

func (m *memStore) Create(ctx context.Context, s *Session) error {
	m.sessions[s.ID] = *s
	return nil
}

func (m *memStore) GetByAccessToken(ctx context.Context, token string) (*Session, error) {
	for _, s := range m.sessions {
		if s.AccessToken == token {
			out := s
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) GetByRefreshToken(ctx context.Context, token string) (*Session, error) {
	for _, s := range m.sessions {
		if s.RefreshToken == token {
			out := s
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) ListByUser(ctx context.Context, userID string) ([]Session, error) {
	var out []Session
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	SortByCreation(out)
	return out, nil
}

func (m *memStore) UpdateAccessToken(ctx context.Context, id, accessToken string, expiresAt int64) error {
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.AccessToken = accessToken
	s.ExpiresAt = expiresAt
	m.sessions[id] = s
	return nil
}

func (m *memStore) Delete(ctx context.Context, id string) error {
	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

func seedSessions(t *testing.T, store *memStore, n int, base time.Time) []Session {
	t.Helper()
	var out []Session
	for i := 0; i < n; i++ {
		s := Session{
			ID:           fmt.Sprintf("sess-%02d", i),
			UserID:       "user-1",
			AccessToken:  fmt.Sprintf("at-%02d", i),
			RefreshToken: fmt.Sprintf("rt-%02d", i),
			Cookie:       fmt.Sprintf("cookie-%02d", i),
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.Create(context.Background(), &s); err != nil {
			t.Fatalf("seed: %v", err)
		}
		out = append(out, s)
	}
	return out
}

func TestCreateEvictsSameCookie(t *testing.T) {
	store := newMemStore()
	mgr := NewManager(store, 5)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seedSessions(t, store, 2, base)

	err := mgr.CreateWithEviction(context.Background(), &Session{
		UserID:      "user-1",
		AccessToken: "at-new",
		Cookie:      "cookie-00",
	})
	if err != nil {
		t.Fatalf("CreateWithEviction: %v", err)
	}

	if _, ok := store.sessions["sess-00"]; ok {
		t.Fatal("session sharing the cookie should have been removed")
	}
	if _, ok := store.sessions["sess-01"]; !ok {
		t.Fatal("unrelated session should survive")
	}
	if len(store.sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(store.sessions))
	}
}

func TestCreateEvictsOldestAtCap(t *testing.T) {
	store := newMemStore()
	mgr := NewManager(store, 3)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seedSessions(t, store, 3, base)

	err := mgr.CreateWithEviction(context.Background(), &Session{
		UserID:      "user-1",
		AccessToken: "at-new",
		Cookie:      "cookie-new",
	})
	if err != nil {
		t.Fatalf("CreateWithEviction: %v", err)
	}

	if _, ok := store.sessions["sess-00"]; ok {
		t.Fatal("oldest session should have been evicted")
	}
	if len(store.sessions) != 3 {
		t.Fatalf("expected cap to hold at 3, got %d", len(store.sessions))
	}
}

func TestCreateEvictionTieBreaksOnID(t *testing.T) {
	store := newMemStore()
	mgr := NewManager(store, 2)
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, id := range []string{"sess-b", "sess-a"} {
		_ = store.Create(context.Background(), &Session{
			ID: id, UserID: "user-1", CreatedAt: ts, Cookie: "c-" + id,
		})
	}

	err := mgr.CreateWithEviction(context.Background(), &Session{
		UserID: "user-1",
		Cookie: "cookie-new",
	})
	if err != nil {
		t.Fatalf("CreateWithEviction: %v", err)
	}
	if _, ok := store.sessions["sess-a"]; ok {
		t.Fatal("lexically smaller id should lose the tie-break")
	}
	if _, ok := store.sessions["sess-b"]; !ok {
		t.Fatal("tie-break removed the wrong session")
	}
}

func TestCreateAssignsIDAndTimestamp(t *testing.T) {
	store := newMemStore()
	now := time.Date(2026, 2, 2, 12, 0, 0, 0, time.UTC)
	mgr := NewManager(store, 5, WithClock(func() time.Time { return now }))

	s := Session{UserID: "user-1", Cookie: "c"}
	if err := mgr.CreateWithEviction(context.Background(), &s); err != nil {
		t.Fatalf("CreateWithEviction: %v", err)
	}
	if s.ID == "" {
		t.Fatal("expected generated id")
	}
	if !s.CreatedAt.Equal(now) {
		t.Fatalf("expected clock timestamp, got %v", s.CreatedAt)
	}
}

func TestLogoutMatchesCookieOrToken(t *testing.T) {
	store := newMemStore()
	mgr := NewManager(store, 5)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seedSessions(t, store, 3, base)

	removed, err := mgr.Logout(context.Background(), "user-1", "cookie-00", "at-01")
	if err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	if _, ok := store.sessions["sess-02"]; !ok {
		t.Fatal("unmatched session should survive logout")
	}
}

func TestLogoutNoMatch(t *testing.T) {
	store := newMemStore()
	mgr := NewManager(store, 5)
	seedSessions(t, store, 1, time.Now().UTC())

	removed, err := mgr.Logout(context.Background(), "user-1", "other-cookie", "other-token")
	if err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if removed != 0 {
		t.Fatalf("expected 0 removed, got %d", removed)
	}
}

func TestRefreshAccessUpdatesMatchedSession(t *testing.T) {
	store := newMemStore()
	mgr := NewManager(store, 5)
	seedSessions(t, store, 2, time.Now().UTC())

	sess, err := mgr.RefreshAccess(context.Background(), "rt-01", "at-fresh", 4242)
	if err != nil {
		t.Fatalf("RefreshAccess: %v", err)
	}
	if sess.ID != "sess-01" {
		t.Fatalf("matched wrong session: %s", sess.ID)
	}
	if sess.AccessToken != "at-fresh" || sess.ExpiresAt != 4242 {
		t.Fatalf("session not updated: %+v", sess)
	}
	stored := store.sessions["sess-01"]
	if stored.AccessToken != "at-fresh" {
		t.Fatal("store not updated")
	}
}

func TestRefreshAccessUnknownToken(t *testing.T) {
	store := newMemStore()
	mgr := NewManager(store, 5)
	_, err := mgr.RefreshAccess(context.Background(), "rt-missing", "at", 1)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTokenExistenceLookups(t *testing.T) {
	store := newMemStore()
	mgr := NewManager(store, 5)
	seedSessions(t, store, 1, time.Now().UTC())

	ok, err := mgr.AccessTokenExists(context.Background(), "at-00")
	if err != nil || !ok {
		t.Fatalf("expected live access token, got ok=%v err=%v", ok, err)
	}
	ok, err = mgr.RefreshTokenExists(context.Background(), "rt-gone")
	if err != nil || ok {
		t.Fatalf("expected missing refresh token, got ok=%v err=%v", ok, err)
	}
}
