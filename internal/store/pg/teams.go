package pg

import (
	"context"
	"database/sql"
	"errors"

	"authgrid.org/internal/auth"
	"authgrid.org/internal/ids"
)

type teamStore struct {
	db *sql.DB
}

func (s *teamStore) Create(ctx context.Context, team *auth.Team) error {
	if team.ID == "" {
		team.ID = ids.NewUUID()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into teams(id, name, created_at, updated_at) values ($1,$2,now(),now())
	`, team.ID, team.Name)
	return err
}

func (s *teamStore) Find(ctx context.Context, id string) (*auth.Team, error) {
	var t auth.Team
	err := s.db.QueryRowContext(ctx,
		`select id, name, created_at, updated_at from teams where id=$1`, id,
	).Scan(&t.ID, &t.Name, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *teamStore) List(ctx context.Context) ([]*auth.Team, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, name, created_at, updated_at from teams order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*auth.Team
	for rows.Next() {
		var t auth.Team
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *teamStore) Update(ctx context.Context, team *auth.Team) error {
	res, err := s.db.ExecContext(ctx,
		`update teams set name=$2, updated_at=now() where id=$1`, team.ID, team.Name)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *teamStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from teams where id=$1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *teamStore) AddMember(ctx context.Context, teamID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into team_members(team_id, user_id) values ($1,$2)
		on conflict do nothing
	`, teamID, userID)
	return err
}

func (s *teamStore) RemoveMember(ctx context.Context, teamID, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`delete from team_members where team_id=$1 and user_id=$2`, teamID, userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}
