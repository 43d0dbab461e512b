package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"authgrid.org/internal/auth"
	"authgrid.org/internal/ids"
	"authgrid.org/internal/visibility"
)

var _ visibility.Source = (*Store)(nil)

// ListGroups loads all visibility groups with membership resolved, the input
// for the resolver snapshot. Membership is the users.visibility_group_id
// column; a user belongs to at most one group.
func (s *Store) ListGroups(ctx context.Context) ([]visibility.Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, prefix, coalesce(admin_id,''), entities from visibility_groups order by prefix
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []visibility.Group
	index := map[string]int{}
	for rows.Next() {
		var g visibility.Group
		var entities []byte
		if err := rows.Scan(&g.ID, &g.Prefix, &g.AdminID, &entities); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(entities, &g.Entities); err != nil {
			return nil, err
		}
		index[g.ID] = len(groups)
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	memberRows, err := s.db.QueryContext(ctx, `
		select visibility_group_id, id, email from users
		where visibility_group_id is not null
		order by created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer memberRows.Close()
	for memberRows.Next() {
		var groupID string
		var m visibility.Member
		if err := memberRows.Scan(&groupID, &m.ID, &m.Email); err != nil {
			return nil, err
		}
		if i, ok := index[groupID]; ok {
			groups[i].Members = append(groups[i].Members, m)
		}
	}
	return groups, memberRows.Err()
}

type visibilityGroupStore struct {
	db *sql.DB
}

func (s *visibilityGroupStore) Create(ctx context.Context, group *auth.VisibilityGroup) error {
	if group.ID == "" {
		group.ID = ids.NewUUID()
	}
	entities, err := json.Marshal(group.Entities)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into visibility_groups(id, prefix, admin_id, entities, created_at, updated_at)
		values ($1,$2,nullif($3,''),$4,now(),now())
	`, group.ID, group.Prefix, group.AdminID, entities)
	return err
}

func (s *visibilityGroupStore) Find(ctx context.Context, id string) (*auth.VisibilityGroup, error) {
	return s.findOne(ctx, `where id=$1`, id)
}

func (s *visibilityGroupStore) FindByPrefix(ctx context.Context, prefix string) (*auth.VisibilityGroup, error) {
	return s.findOne(ctx, `where prefix=$1`, prefix)
}

func (s *visibilityGroupStore) findOne(ctx context.Context, where string, arg any) (*auth.VisibilityGroup, error) {
	var g auth.VisibilityGroup
	var entities []byte
	err := s.db.QueryRowContext(ctx, `
		select id, prefix, coalesce(admin_id,''), entities, created_at, updated_at
		from visibility_groups `+where, arg,
	).Scan(&g.ID, &g.Prefix, &g.AdminID, &entities, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(entities, &g.Entities); err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *visibilityGroupStore) List(ctx context.Context) ([]*auth.VisibilityGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, prefix, coalesce(admin_id,''), entities, created_at, updated_at
		from visibility_groups order by prefix
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*auth.VisibilityGroup
	for rows.Next() {
		var g auth.VisibilityGroup
		var entities []byte
		if err := rows.Scan(&g.ID, &g.Prefix, &g.AdminID, &entities, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(entities, &g.Entities); err != nil {
			return nil, err
		}
		out = append(out, &g)
	}
	return out, rows.Err()
}

func (s *visibilityGroupStore) Update(ctx context.Context, group *auth.VisibilityGroup) error {
	entities, err := json.Marshal(group.Entities)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		update visibility_groups set prefix=$2, admin_id=nullif($3,''), entities=$4, updated_at=now()
		where id=$1
	`, group.ID, group.Prefix, group.AdminID, entities)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *visibilityGroupStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from visibility_groups where id=$1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *visibilityGroupStore) AddMember(ctx context.Context, groupID, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set visibility_group_id=$1, updated_at=now() where id=$2`, groupID, userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *visibilityGroupStore) RemoveMember(ctx context.Context, groupID, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		update users set visibility_group_id=null, updated_at=now()
		where id=$2 and visibility_group_id=$1
	`, groupID, userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}
