package pg

import (
	"context"
	"database/sql"
	"errors"

	"authgrid.org/internal/session"
)

// SessionStore persists issued token pairs in PostgreSQL.
type SessionStore struct {
	db *sql.DB
}

var _ session.Store = (*SessionStore)(nil)

// NewSessionStore wraps a pool for session persistence.
func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

// Sessions returns a session store sharing this store's pool.
func (s *Store) Sessions() *SessionStore {
	return &SessionStore{db: s.db}
}

const sessionColumns = `id, user_id, access_token, refresh_token, token_type, cookie, expires_at, created_at`

func (s *SessionStore) Create(ctx context.Context, sess *session.Session) error {
	_, err := s.db.ExecContext(ctx, `
		insert into sessions(id, user_id, access_token, refresh_token, token_type, cookie, expires_at, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, sess.ID, sess.UserID, sess.AccessToken, sess.RefreshToken, sess.TokenType,
		sess.Cookie, sess.ExpiresAt, sess.CreatedAt)
	return err
}

func (s *SessionStore) GetByAccessToken(ctx context.Context, token string) (*session.Session, error) {
	return s.findOne(ctx, `where access_token=$1`, token)
}

func (s *SessionStore) GetByRefreshToken(ctx context.Context, token string) (*session.Session, error) {
	return s.findOne(ctx, `where refresh_token=$1`, token)
}

func (s *SessionStore) findOne(ctx context.Context, where string, arg any) (*session.Session, error) {
	var sess session.Session
	err := s.db.QueryRowContext(ctx,
		`select `+sessionColumns+` from sessions `+where, arg,
	).Scan(&sess.ID, &sess.UserID, &sess.AccessToken, &sess.RefreshToken, &sess.TokenType,
		&sess.Cookie, &sess.ExpiresAt, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *SessionStore) ListByUser(ctx context.Context, userID string) ([]session.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+sessionColumns+` from sessions where user_id=$1 order by created_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []session.Session
	for rows.Next() {
		var sess session.Session
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.AccessToken, &sess.RefreshToken,
			&sess.TokenType, &sess.Cookie, &sess.ExpiresAt, &sess.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *SessionStore) UpdateAccessToken(ctx context.Context, id, accessToken string, expiresAt int64) error {
	res, err := s.db.ExecContext(ctx,
		`update sessions set access_token=$2, expires_at=$3 where id=$1`, id, accessToken, expiresAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return session.ErrNotFound
	}
	return nil
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from sessions where id=$1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return session.ErrNotFound
	}
	return nil
}
