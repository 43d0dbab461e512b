package pg

import (
	"context"
	"database/sql"
	"errors"

	"authgrid.org/internal/auth"
	"authgrid.org/internal/ids"
)

type roleStore struct {
	db *sql.DB
}

func (s *roleStore) Create(ctx context.Context, role *auth.Role) error {
	if role.ID == "" {
		role.ID = ids.NewUUID()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into roles(id, title, is_default, created_at, updated_at)
		values ($1,$2,$3,now(),now())
	`, role.ID, role.Title, role.IsDefault)
	return err
}

func (s *roleStore) Find(ctx context.Context, id string) (*auth.Role, error) {
	return s.findOne(ctx, `where id=$1`, id)
}

func (s *roleStore) FindByTitle(ctx context.Context, title string) (*auth.Role, error) {
	return s.findOne(ctx, `where title=$1`, title)
}

func (s *roleStore) findOne(ctx context.Context, where string, arg any) (*auth.Role, error) {
	var r auth.Role
	err := s.db.QueryRowContext(ctx,
		`select id, title, is_default, created_at, updated_at from roles `+where, arg,
	).Scan(&r.ID, &r.Title, &r.IsDefault, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *roleStore) List(ctx context.Context) ([]*auth.Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, title, is_default, created_at, updated_at from roles order by title`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*auth.Role
	for rows.Next() {
		var r auth.Role
		if err := rows.Scan(&r.ID, &r.Title, &r.IsDefault, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *roleStore) Update(ctx context.Context, role *auth.Role) error {
	res, err := s.db.ExecContext(ctx, `
		update roles set title=$2, is_default=$3, updated_at=now() where id=$1
	`, role.ID, role.Title, role.IsDefault)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *roleStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from roles where id=$1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *roleStore) Assign(ctx context.Context, userID, roleID string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_roles(user_id, role_id) values ($1,$2)
		on conflict do nothing
	`, userID, roleID)
	return err
}

func (s *roleStore) Unassign(ctx context.Context, userID, roleID string) error {
	res, err := s.db.ExecContext(ctx,
		`delete from user_roles where user_id=$1 and role_id=$2`, userID, roleID)
	if err != nil {
		return err
	}
	return requireRow(res)
}
