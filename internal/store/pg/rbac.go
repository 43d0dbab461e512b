package pg

import (
	"context"
	"database/sql"
	"errors"

	"authgrid.org/internal/auth"
	"authgrid.org/internal/ids"
	"authgrid.org/internal/rbac"
)

var _ rbac.Source = (*Store)(nil)

// ListRoleTitles loads the role id to title map for the decision snapshot.
func (s *Store) ListRoleTitles(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `select id, title from roles`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var id, title string
		if err := rows.Scan(&id, &title); err != nil {
			return nil, err
		}
		out[id] = title
	}
	return out, rows.Err()
}

// ListRules loads protected resources ordered by creation, oldest first, so
// pattern matching resolves duplicates deterministically.
func (s *Store) ListRules(ctx context.Context) ([]rbac.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, endpoint, method, rbac_enable, visibility_group_enable
		from resources order by created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rbac.Rule
	for rows.Next() {
		var r rbac.Rule
		if err := rows.Scan(&r.ID, &r.Endpoint, &r.Method, &r.RBACEnabled, &r.VisibilityEnabled); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListGrants loads all role-to-resource permissions.
func (s *Store) ListGrants(ctx context.Context) ([]rbac.Grant, error) {
	rows, err := s.db.QueryContext(ctx, `select id, role_id, resource_id from permissions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rbac.Grant
	for rows.Next() {
		var g rbac.Grant
		if err := rows.Scan(&g.ID, &g.RoleID, &g.ResourceID); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

type resourceStore struct {
	db *sql.DB
}

const resourceColumns = `id, endpoint, method, rbac_enable, visibility_group_enable,
	coalesce(visibility_group_entity,''), created_at, updated_at`

func (s *resourceStore) Create(ctx context.Context, res *auth.Resource) error {
	if res.ID == "" {
		res.ID = ids.NewUUID()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into resources(id, endpoint, method, rbac_enable, visibility_group_enable,
			visibility_group_entity, created_at, updated_at)
		values ($1,$2,$3,$4,$5,nullif($6,''),now(),now())
	`, res.ID, res.Endpoint, res.Method, res.RBACEnabled, res.VisibilityEnabled, res.VisibilityEntity)
	return err
}

func (s *resourceStore) Find(ctx context.Context, id string) (*auth.Resource, error) {
	return s.findOne(ctx, `where id=$1`, id)
}

func (s *resourceStore) FindByEndpointMethod(ctx context.Context, endpoint, method string) (*auth.Resource, error) {
	var r auth.Resource
	err := s.db.QueryRowContext(ctx,
		`select `+resourceColumns+` from resources where endpoint=$1 and method=$2`,
		endpoint, method,
	).Scan(&r.ID, &r.Endpoint, &r.Method, &r.RBACEnabled, &r.VisibilityEnabled,
		&r.VisibilityEntity, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *resourceStore) findOne(ctx context.Context, where string, arg any) (*auth.Resource, error) {
	var r auth.Resource
	err := s.db.QueryRowContext(ctx,
		`select `+resourceColumns+` from resources `+where, arg,
	).Scan(&r.ID, &r.Endpoint, &r.Method, &r.RBACEnabled, &r.VisibilityEnabled,
		&r.VisibilityEntity, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *resourceStore) List(ctx context.Context) ([]*auth.Resource, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+resourceColumns+` from resources order by created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*auth.Resource
	for rows.Next() {
		var r auth.Resource
		if err := rows.Scan(&r.ID, &r.Endpoint, &r.Method, &r.RBACEnabled, &r.VisibilityEnabled,
			&r.VisibilityEntity, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *resourceStore) Update(ctx context.Context, res *auth.Resource) error {
	result, err := s.db.ExecContext(ctx, `
		update resources set endpoint=$2, method=$3, rbac_enable=$4, visibility_group_enable=$5,
			visibility_group_entity=nullif($6,''), updated_at=now()
		where id=$1
	`, res.ID, res.Endpoint, res.Method, res.RBACEnabled, res.VisibilityEnabled, res.VisibilityEntity)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (s *resourceStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from resources where id=$1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

type permissionStore struct {
	db *sql.DB
}

func (s *permissionStore) Create(ctx context.Context, perm *auth.Permission) error {
	if perm.ID == "" {
		perm.ID = ids.NewUUID()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into permissions(id, role_id, resource_id, title, description, created_at, updated_at)
		values ($1,$2,$3,nullif($4,''),nullif($5,''),now(),now())
	`, perm.ID, perm.RoleID, perm.ResourceID, perm.Title, perm.Description)
	return err
}

func (s *permissionStore) Find(ctx context.Context, id string) (*auth.Permission, error) {
	var p auth.Permission
	err := s.db.QueryRowContext(ctx, `
		select id, role_id, resource_id, coalesce(title,''), coalesce(description,''), created_at, updated_at
		from permissions where id=$1
	`, id).Scan(&p.ID, &p.RoleID, &p.ResourceID, &p.Title, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *permissionStore) List(ctx context.Context) ([]*auth.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, role_id, resource_id, coalesce(title,''), coalesce(description,''), created_at, updated_at
		from permissions order by created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*auth.Permission
	for rows.Next() {
		var p auth.Permission
		if err := rows.Scan(&p.ID, &p.RoleID, &p.ResourceID, &p.Title, &p.Description,
			&p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *permissionStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from permissions where id=$1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}
