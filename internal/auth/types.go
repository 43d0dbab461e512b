package auth

import "time"

// User is a human account. The password hash is absent for accounts
// provisioned through an external identity provider; such accounts still get
// a random unusable hash so the column is never null.
type User struct {
	ID                string    `json:"id"`
	Email             string    `json:"email"`
	FirstName         string    `json:"first_name,omitempty"`
	LastName          string    `json:"last_name,omitempty"`
	FullName          string    `json:"full_name,omitempty"`
	Picture           string    `json:"picture,omitempty"`
	HashedPassword    string    `json:"-"`
	IsActive          bool      `json:"is_active"`
	IsStaff           bool      `json:"is_staff"`
	IsSuperuser       bool      `json:"is_superuser"`
	AllowBasicLogin   bool      `json:"allow_basic_login"`
	VisibilityGroupID string    `json:"visibility_group_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// UserDetail is a user with relationships resolved up front. Repositories
// return it fully populated; nothing downstream triggers extra store round
// trips mid-computation.
type UserDetail struct {
	User
	Roles            []Role   `json:"roles"`
	TeamIDs          []string `json:"team_ids"`
	VisibilityPrefix string   `json:"visibility_group,omitempty"`
}

// RoleTitles returns the role titles for user-facing metadata.
func (u *UserDetail) RoleTitles() []string {
	titles := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		titles = append(titles, r.Title)
	}
	return titles
}

// RoleMap returns roles keyed by id, the shape embedded into access tokens.
func (u *UserDetail) RoleMap() map[string]string {
	m := make(map[string]string, len(u.Roles))
	for _, r := range u.Roles {
		m[r.ID] = r.Title
	}
	return m
}

// Role groups permissions under a unique title.
type Role struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	IsDefault bool      `json:"is_default"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Team is a plain membership grouping carried inside token claims.
type Team struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Resource is a registered (endpoint pattern, HTTP method) pair subject to
// RBAC and visibility rules. Endpoint patterns may contain the placeholder
// tokens $str$ and $uuid$.
type Resource struct {
	ID                string    `json:"id"`
	Endpoint          string    `json:"endpoint"`
	Method            string    `json:"method"`
	RBACEnabled       bool      `json:"rbac_enable"`
	VisibilityEnabled bool      `json:"visibility_group_enable"`
	VisibilityEntity  string    `json:"visibility_group_entity,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Permission binds one role to one resource. Its existence is the grant;
// there is no separate allow/deny flag.
type Permission struct {
	ID          string    `json:"id"`
	RoleID      string    `json:"role_id"`
	ResourceID  string    `json:"resource_id"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// VisibilityGroup is a hierarchical, prefix-named scoping unit. Entities maps
// an entity name (opportunity, seller, activity, property) to its scope
// keyword list drawn from {user, owner, parent, child}.
type VisibilityGroup struct {
	ID        string              `json:"id"`
	Prefix    string              `json:"prefix"`
	AdminID   string              `json:"admin,omitempty"`
	Entities  map[string][]string `json:"entities"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// UserMeta is the redacted user payload returned alongside issued tokens.
type UserMeta struct {
	ID        string   `json:"id"`
	FullName  string   `json:"full_name,omitempty"`
	FirstName string   `json:"first_name,omitempty"`
	LastName  string   `json:"last_name,omitempty"`
	Email     string   `json:"email"`
	Roles     []string `json:"roles"`
	Picture   string   `json:"picture,omitempty"`
}

// Token is the login/refresh response payload.
type Token struct {
	AccessToken         string `json:"access_token"`
	TokenType           string `json:"token_type"`
	RefreshToken        string `json:"refresh_token"`
	RefreshTokenTimeout int64  `json:"refresh_token_timeout"`
	ExpiresAt           int64  `json:"expires_at"`
	Cookie              string `json:"cookie,omitempty"`
}
