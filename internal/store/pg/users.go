package pg

import (
	"context"
	"database/sql"
	"errors"

	"authgrid.org/internal/auth"
	"authgrid.org/internal/ids"
)

type userStore struct {
	db *sql.DB
}

const userColumns = `id, email, coalesce(first_name,''), coalesce(last_name,''), coalesce(full_name,''),
	coalesce(picture,''), hashed_password, is_active, is_staff, is_superuser, allow_basic_login,
	coalesce(visibility_group_id,''), created_at, updated_at`

func (s *userStore) Create(ctx context.Context, u *auth.User) error {
	if u.ID == "" {
		u.ID = ids.NewUUID()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into users(id, email, first_name, last_name, full_name, picture, hashed_password,
			is_active, is_staff, is_superuser, allow_basic_login, visibility_group_id, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,nullif($12,''),now(),now())
	`, u.ID, u.Email, u.FirstName, u.LastName, u.FullName, u.Picture, u.HashedPassword,
		u.IsActive, u.IsStaff, u.IsSuperuser, u.AllowBasicLogin, u.VisibilityGroupID)
	return err
}

func (s *userStore) Find(ctx context.Context, id string) (*auth.UserDetail, error) {
	return s.findDetail(ctx, `where u.id=$1`, id)
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*auth.UserDetail, error) {
	return s.findDetail(ctx, `where lower(u.email)=lower($1)`, email)
}

func (s *userStore) findDetail(ctx context.Context, where string, arg any) (*auth.UserDetail, error) {
	var d auth.UserDetail
	err := s.db.QueryRowContext(ctx, `
		select u.id, u.email, coalesce(u.first_name,''), coalesce(u.last_name,''), coalesce(u.full_name,''),
			coalesce(u.picture,''), u.hashed_password, u.is_active, u.is_staff, u.is_superuser,
			u.allow_basic_login, coalesce(u.visibility_group_id,''), coalesce(vg.prefix,''),
			u.created_at, u.updated_at
		from users u
		left join visibility_groups vg on vg.id = u.visibility_group_id
		`+where,
		arg,
	).Scan(&d.ID, &d.Email, &d.FirstName, &d.LastName, &d.FullName, &d.Picture, &d.HashedPassword,
		&d.IsActive, &d.IsStaff, &d.IsSuperuser, &d.AllowBasicLogin, &d.VisibilityGroupID,
		&d.VisibilityPrefix, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		select r.id, r.title, r.is_default, r.created_at, r.updated_at
		from roles r
		join user_roles ur on ur.role_id = r.id
		where ur.user_id = $1
		order by r.title
	`, d.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var r auth.Role
		if err := rows.Scan(&r.ID, &r.Title, &r.IsDefault, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		d.Roles = append(d.Roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	teamRows, err := s.db.QueryContext(ctx, `
		select team_id from team_members where user_id = $1 order by team_id
	`, d.ID)
	if err != nil {
		return nil, err
	}
	defer teamRows.Close()
	for teamRows.Next() {
		var teamID string
		if err := teamRows.Scan(&teamID); err != nil {
			return nil, err
		}
		d.TeamIDs = append(d.TeamIDs, teamID)
	}
	if err := teamRows.Err(); err != nil {
		return nil, err
	}

	return &d, nil
}

func (s *userStore) List(ctx context.Context) ([]*auth.User, error) {
	rows, err := s.db.QueryContext(ctx, `select `+userColumns+` from users order by created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*auth.User
	for rows.Next() {
		var u auth.User
		if err := rows.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.FullName, &u.Picture,
			&u.HashedPassword, &u.IsActive, &u.IsStaff, &u.IsSuperuser, &u.AllowBasicLogin,
			&u.VisibilityGroupID, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}

func (s *userStore) Update(ctx context.Context, u *auth.User) error {
	res, err := s.db.ExecContext(ctx, `
		update users set email=$2, first_name=$3, last_name=$4, full_name=$5, picture=$6,
			hashed_password=$7, is_active=$8, is_staff=$9, is_superuser=$10, allow_basic_login=$11,
			visibility_group_id=nullif($12,''), updated_at=now()
		where id=$1
	`, u.ID, u.Email, u.FirstName, u.LastName, u.FullName, u.Picture, u.HashedPassword,
		u.IsActive, u.IsStaff, u.IsSuperuser, u.AllowBasicLogin, u.VisibilityGroupID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *userStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from users where id=$1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// requireRow maps a zero-row mutation onto ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}
