package auth

import (
	"context"
	"errors"
)

// ErrNotFound is returned by stores when no row matches.
var ErrNotFound = errors.New("auth: not found")

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Users() UserStore
	Roles() RoleStore
	Teams() TeamStore
	Resources() ResourceStore
	Permissions() PermissionStore
	VisibilityGroups() VisibilityGroupStore
}

// UserStore manages user accounts.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*UserDetail, error)
	FindByEmail(ctx context.Context, email string) (*UserDetail, error)
	List(ctx context.Context) ([]*User, error)
	Update(ctx context.Context, u *User) error
	Delete(ctx context.Context, id string) error
}

// RoleStore manages roles and their user assignments.
type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	Find(ctx context.Context, id string) (*Role, error)
	FindByTitle(ctx context.Context, title string) (*Role, error)
	List(ctx context.Context) ([]*Role, error)
	Update(ctx context.Context, role *Role) error
	Delete(ctx context.Context, id string) error
	Assign(ctx context.Context, userID, roleID string) error
	Unassign(ctx context.Context, userID, roleID string) error
}

// TeamStore manages team membership groupings.
type TeamStore interface {
	Create(ctx context.Context, team *Team) error
	Find(ctx context.Context, id string) (*Team, error)
	List(ctx context.Context) ([]*Team, error)
	Update(ctx context.Context, team *Team) error
	Delete(ctx context.Context, id string) error
	AddMember(ctx context.Context, teamID, userID string) error
	RemoveMember(ctx context.Context, teamID, userID string) error
}

// ResourceStore manages the catalog of protected endpoint patterns.
type ResourceStore interface {
	Create(ctx context.Context, res *Resource) error
	Find(ctx context.Context, id string) (*Resource, error)
	FindByEndpointMethod(ctx context.Context, endpoint, method string) (*Resource, error)
	List(ctx context.Context) ([]*Resource, error)
	Update(ctx context.Context, res *Resource) error
	Delete(ctx context.Context, id string) error
}

// PermissionStore manages role-to-resource grants.
type PermissionStore interface {
	Create(ctx context.Context, perm *Permission) error
	Find(ctx context.Context, id string) (*Permission, error)
	List(ctx context.Context) ([]*Permission, error)
	Delete(ctx context.Context, id string) error
}

// VisibilityGroupStore manages visibility groups and their membership.
type VisibilityGroupStore interface {
	Create(ctx context.Context, group *VisibilityGroup) error
	Find(ctx context.Context, id string) (*VisibilityGroup, error)
	FindByPrefix(ctx context.Context, prefix string) (*VisibilityGroup, error)
	List(ctx context.Context) ([]*VisibilityGroup, error)
	Update(ctx context.Context, group *VisibilityGroup) error
	Delete(ctx context.Context, id string) error
	AddMember(ctx context.Context, groupID, userID string) error
	RemoveMember(ctx context.Context, groupID, userID string) error
}
