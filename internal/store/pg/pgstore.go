// Package pg implements the durable stores on PostgreSQL through
// database/sql with the pgx driver.
package pg

import (
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"authgrid.org/internal/auth"
)

// Store bundles all PostgreSQL-backed repositories over one pool.
type Store struct {
	db *sql.DB

	users       *userStore
	roles       *roleStore
	teams       *teamStore
	resources   *resourceStore
	permissions *permissionStore
	groups      *visibilityGroupStore
}

var _ auth.Store = (*Store)(nil)

// Open connects to PostgreSQL and prepares the repositories.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return NewStore(db), nil
}

// NewStore wraps an existing pool; used by tests with sqlmock.
func NewStore(db *sql.DB) *Store {
	s := &Store{db: db}
	s.users = &userStore{db: db}
	s.roles = &roleStore{db: db}
	s.teams = &teamStore{db: db}
	s.resources = &resourceStore{db: db}
	s.permissions = &permissionStore{db: db}
	s.groups = &visibilityGroupStore{db: db}
	return s
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Users() auth.UserStore                       { return s.users }
func (s *Store) Roles() auth.RoleStore                       { return s.roles }
func (s *Store) Teams() auth.TeamStore                       { return s.teams }
func (s *Store) Resources() auth.ResourceStore               { return s.resources }
func (s *Store) Permissions() auth.PermissionStore           { return s.permissions }
func (s *Store) VisibilityGroups() auth.VisibilityGroupStore { return s.groups }
