package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"authgrid.org/internal/audit"
	"authgrid.org/internal/auth"
	"authgrid.org/internal/rbac"
	"authgrid.org/internal/visibility"
)

// adminRoutes registers the management CRUD surface. Authorization for these
// routes is enforced at the gateway through the rbac/validate contract; here
// they only require a verified bearer token.
func (a *API) adminRoutes(r *mux.Router) {
	r.HandleFunc("/user", a.createUser).Methods(http.MethodPost)
	r.HandleFunc("/user/list", a.listUsers).Methods(http.MethodGet)
	r.HandleFunc("/user/{id}", a.getUser).Methods(http.MethodGet)
	r.HandleFunc("/user/{id}", a.updateUser).Methods(http.MethodPut)
	r.HandleFunc("/user/{id}", a.deleteUser).Methods(http.MethodDelete)
	r.HandleFunc("/user/{id}/role/{roleID}", a.assignRole).Methods(http.MethodPost)
	r.HandleFunc("/user/{id}/role/{roleID}", a.unassignRole).Methods(http.MethodDelete)

	r.HandleFunc("/role", a.createRole).Methods(http.MethodPost)
	r.HandleFunc("/role/list", a.listRoles).Methods(http.MethodGet)
	r.HandleFunc("/role/{id}", a.updateRole).Methods(http.MethodPut)
	r.HandleFunc("/role/{id}", a.deleteRole).Methods(http.MethodDelete)

	r.HandleFunc("/team", a.createTeam).Methods(http.MethodPost)
	r.HandleFunc("/team/list", a.listTeams).Methods(http.MethodGet)
	r.HandleFunc("/team/{id}", a.updateTeam).Methods(http.MethodPut)
	r.HandleFunc("/team/{id}", a.deleteTeam).Methods(http.MethodDelete)
	r.HandleFunc("/team/{id}/member/{userID}", a.addTeamMember).Methods(http.MethodPost)
	r.HandleFunc("/team/{id}/member/{userID}", a.removeTeamMember).Methods(http.MethodDelete)

	r.HandleFunc("/resource", a.createResource).Methods(http.MethodPost)
	r.HandleFunc("/resource/list", a.listResources).Methods(http.MethodGet)
	r.HandleFunc("/resource/{id}", a.updateResource).Methods(http.MethodPut)
	r.HandleFunc("/resource/{id}", a.deleteResource).Methods(http.MethodDelete)

	r.HandleFunc("/permission", a.createPermission).Methods(http.MethodPost)
	r.HandleFunc("/permission/list", a.listPermissions).Methods(http.MethodGet)
	r.HandleFunc("/permission/{id}", a.deletePermission).Methods(http.MethodDelete)

	r.HandleFunc("/visibility_group", a.createVisibilityGroup).Methods(http.MethodPost)
	r.HandleFunc("/visibility_group/list", a.listVisibilityGroups).Methods(http.MethodGet)
	r.HandleFunc("/visibility_group/{id}", a.updateVisibilityGroup).Methods(http.MethodPut)
	r.HandleFunc("/visibility_group/{id}", a.deleteVisibilityGroup).Methods(http.MethodDelete)
	r.HandleFunc("/visibility_group/{id}/member/{userID}", a.addGroupMember).Methods(http.MethodPost)
	r.HandleFunc("/visibility_group/{id}/member/{userID}", a.removeGroupMember).Methods(http.MethodDelete)
}

// --- users ---

type createUserRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	FullName        string `json:"full_name"`
	IsActive        bool   `json:"is_active"`
	IsStaff         bool   `json:"is_staff"`
	IsSuperuser     bool   `json:"is_superuser"`
	AllowBasicLogin bool   `json:"allow_basic_login"`
}

func (a *API) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	if req.Password == "" {
		// Account starts external-only until a password is set.
		random, err := auth.RandomPassword()
		if err != nil {
			writeDomainError(w, err)
			return
		}
		req.Password = random
		req.AllowBasicLogin = false
	}
	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if _, err := a.store.Users().FindByEmail(r.Context(), req.Email); err == nil {
		writeError(w, http.StatusConflict, "user with this email already exists")
		return
	} else if !errors.Is(err, auth.ErrNotFound) {
		writeDomainError(w, err)
		return
	}

	u := &auth.User{
		Email:           req.Email,
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		FullName:        req.FullName,
		HashedPassword:  hashed,
		IsActive:        req.IsActive,
		IsStaff:         req.IsStaff,
		IsSuperuser:     req.IsSuperuser,
		AllowBasicLogin: req.AllowBasicLogin,
	}
	if err := a.store.Users().Create(r.Context(), u); err != nil {
		writeDomainError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "admin.user.create", map[string]any{"target": u.ID})
	writeJSON(w, http.StatusCreated, envelope{Data: u, Message: "user created"})
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.store.Users().List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: users})
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request) {
	u, err := a.store.Users().Find(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: u})
}

type updateUserRequest struct {
	FirstName       *string `json:"first_name"`
	LastName        *string `json:"last_name"`
	FullName        *string `json:"full_name"`
	Picture         *string `json:"picture"`
	Password        *string `json:"password"`
	IsActive        *bool   `json:"is_active"`
	IsStaff         *bool   `json:"is_staff"`
	IsSuperuser     *bool   `json:"is_superuser"`
	AllowBasicLogin *bool   `json:"allow_basic_login"`
}

func (a *API) updateUser(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	detail, err := a.store.Users().Find(r.Context(), id)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeDomainError(w, err)
		return
	}

	var req updateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	u := detail.User
	if req.FirstName != nil {
		u.FirstName = *req.FirstName
	}
	if req.LastName != nil {
		u.LastName = *req.LastName
	}
	if req.FullName != nil {
		u.FullName = *req.FullName
	}
	if req.Picture != nil {
		u.Picture = *req.Picture
	}
	if req.IsActive != nil {
		u.IsActive = *req.IsActive
	}
	if req.IsStaff != nil {
		u.IsStaff = *req.IsStaff
	}
	if req.IsSuperuser != nil {
		u.IsSuperuser = *req.IsSuperuser
	}
	if req.AllowBasicLogin != nil {
		u.AllowBasicLogin = *req.AllowBasicLogin
	}
	if req.Password != nil && *req.Password != "" {
		hashed, err := auth.HashPassword(*req.Password)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		u.HashedPassword = hashed
	}

	if err := a.store.Users().Update(r.Context(), &u); err != nil {
		writeDomainError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "admin.user.update", map[string]any{"target": u.ID})
	writeJSON(w, http.StatusOK, envelope{Data: u, Message: "user updated"})
}

func (a *API) deleteUser(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := a.store.Users().Delete(r.Context(), id); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeDomainError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "admin.user.delete", map[string]any{"target": id})
	writeJSON(w, http.StatusOK, envelope{Message: "user deleted"})
}

func (a *API) assignRole(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := a.store.Roles().Assign(r.Context(), vars["id"], vars["roleID"]); err != nil {
		writeDomainError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "admin.user.assign_role", map[string]any{
		"target": vars["id"], "role_id": vars["roleID"],
	})
	writeJSON(w, http.StatusOK, envelope{Message: "role assigned"})
}

func (a *API) unassignRole(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := a.store.Roles().Unassign(r.Context(), vars["id"], vars["roleID"]); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, http.StatusNotFound, "assignment not found")
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Message: "role unassigned"})
}

// --- roles ---

type roleRequest struct {
	Title     string `json:"title"`
	IsDefault bool   `json:"is_default"`
}

func (a *API) createRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if _, err := a.store.Roles().FindByTitle(r.Context(), req.Title); err == nil {
		writeError(w, http.StatusConflict, "role with this title already exists")
		return
	} else if !errors.Is(err, auth.ErrNotFound) {
		writeDomainError(w, err)
		return
	}

	role := &auth.Role{Title: req.Title, IsDefault: req.IsDefault}
	if err := a.store.Roles().Create(r.Context(), role); err != nil {
		writeDomainError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "admin.role.create", map[string]any{"target": role.ID})
	writeJSON(w, http.StatusCreated, envelope{Data: role, Message: "role created"})
}

func (a *API) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.store.Roles().List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: roles})
}

func (a *API) updateRole(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	role, err := a.store.Roles().Find(r.Context(), id)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, http.StatusNotFound, "role not found")
			return
		}
		writeDomainError(w, err)
		return
	}

	var req roleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if title := strings.TrimSpace(req.Title); title != "" {
		role.Title = title
	}
	role.IsDefault = req.IsDefault

	if err := a.store.Roles().Update(r.Context(), role); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: role, Message: "role updated"})
}

func (a *API) deleteRole(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := a.store.Roles().Delete(r.Context(), id); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, http.StatusNotFound, "role not found")
			return
		}
		writeDomainError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "admin.role.delete", map[string]any{"target": id})
	writeJSON(w, http.StatusOK, envelope{Message: "role deleted"})
}

// --- teams ---

type teamRequest struct {
	Name string `json:"name"`
}

func (a *API) createTeam(w http.ResponseWriter, r *http.Request) {
	var req teamRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	team := &auth.Team{Name: req.Name}
	if err := a.store.Teams().Create(r.Context(), team); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope{Data: team, Message: "team created"})
}

func (a *API) listTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := a.store.Teams().List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: teams})
}

func (a *API) updateTeam(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	team, err := a.store.Teams().Find(r.Context(), id)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, http.StatusNotFound, "team not found")
			return
		}
		writeDomainError(w, err)
		return
	}
	var req teamRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if name := strings.TrimSpace(req.Name); name != "" {
		team.Name = name
	}
	if err := a.store.Teams().Update(r.Context(), team); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: team, Message: "team updated"})
}

func (a *API) deleteTeam(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := a.store.Teams().Delete(r.Context(), id); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, http.StatusNotFound, "team not found")
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Message: "team deleted"})
}

func (a *API) addTeamMember(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := a.store.Teams().AddMember(r.Context(), vars["id"], vars["userID"]); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Message: "member added"})
}

func (a *API) removeTeamMember(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := a.store.Teams().RemoveMember(r.Context(), vars["id"], vars["userID"]); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, http.StatusNotFound, "membership not found")
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Message: "member removed"})
}

// --- resources ---

type resourceRequest struct {
	Endpoint          string `json:"endpoint"`
	Method            string `json:"method"`
	RBACEnabled       bool   `json:"rbac_enable"`
	VisibilityEnabled bool   `json:"visibility_group_enable"`
	VisibilityEntity  string `json:"visibility_group_entity"`
}

func (a *API) createResource(w http.ResponseWriter, r *http.Request) {
	var req resourceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	method, err := rbac.NormalizeMethod(req.Method)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	endpoint, err := rbac.NormalizeEndpoint(req.Endpoint)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if req.VisibilityEnabled && !visibility.ValidEntity(req.VisibilityEntity) {
		writeError(w, http.StatusBadRequest, "unknown visibility entity")
		return
	}

	if _, err := a.store.Resources().FindByEndpointMethod(r.Context(), endpoint, method); err == nil {
		writeError(w, http.StatusConflict, "resource with this endpoint and method already exists")
		return
	} else if !errors.Is(err, auth.ErrNotFound) {
		writeDomainError(w, err)
		return
	}

	res := &auth.Resource{
		Endpoint:          endpoint,
		Method:            method,
		RBACEnabled:       req.RBACEnabled,
		VisibilityEnabled: req.VisibilityEnabled,
		VisibilityEntity:  req.VisibilityEntity,
	}
	if err := a.store.Resources().Create(r.Context(), res); err != nil {
		writeDomainError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "admin.resource.create", map[string]any{"target": res.ID})
	writeJSON(w, http.StatusCreated, envelope{Data: res, Message: "resource created"})
}

func (a *API) listResources(w http.ResponseWriter, r *http.Request) {
	resources, err := a.store.Resources().List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: resources})
}

func (a *API) updateResource(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	res, err := a.store.Resources().Find(r.Context(), id)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, http.StatusNotFound, "resource not found")
			return
		}
		writeDomainError(w, err)
		return
	}

	var req resourceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Method != "" {
		method, err := rbac.NormalizeMethod(req.Method)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		res.Method = method
	}
	if req.Endpoint != "" {
		endpoint, err := rbac.NormalizeEndpoint(req.Endpoint)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		res.Endpoint = endpoint
	}
	res.RBACEnabled = req.RBACEnabled
	res.VisibilityEnabled = req.VisibilityEnabled
	if req.VisibilityEnabled {
		if !visibility.ValidEntity(req.VisibilityEntity) {
			writeError(w, http.StatusBadRequest, "unknown visibility entity")
			return
		}
		res.VisibilityEntity = req.VisibilityEntity
	} else {
		res.VisibilityEntity = ""
	}

	if err := a.store.Resources().Update(r.Context(), res); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: res, Message: "resource updated"})
}

func (a *API) deleteResource(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := a.store.Resources().Delete(r.Context(), id); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, http.StatusNotFound, "resource not found")
			return
		}
		writeDomainError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "admin.resource.delete", map[string]any{"target": id})
	writeJSON(w, http.StatusOK, envelope{Message: "resource deleted"})
}

// --- permissions ---

type permissionRequest struct {
	RoleID      string `json:"role_id"`
	ResourceID  string `json:"resource_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (a *API) createPermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.RoleID == "" || req.ResourceID == "" {
		writeError(w, http.StatusBadRequest, "role_id and resource_id are required")
		return
	}
	if _, err := a.store.Roles().Find(r.Context(), req.RoleID); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, http.StatusNotFound, "role not found")
			return
		}
		writeDomainError(w, err)
		return
	}
	if _, err := a.store.Resources().Find(r.Context(), req.ResourceID); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, http.StatusNotFound, "resource not found")
			return
		}
		writeDomainError(w, err)
		return
	}

	perm := &auth.Permission{
		RoleID:      req.RoleID,
		ResourceID:  req.ResourceID,
		Title:       req.Title,
		Description: req.Description,
	}
	if err := a.store.Permissions().Create(r.Context(), perm); err != nil {
		writeDomainError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "admin.permission.create", map[string]any{"target": perm.ID})
	writeJSON(w, http.StatusCreated, envelope{Data: perm, Message: "permission created"})
}

func (a *API) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := a.store.Permissions().List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: perms})
}

func (a *API) deletePermission(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := a.store.Permissions().Delete(r.Context(), id); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, http.StatusNotFound, "permission not found")
			return
		}
		writeDomainError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "admin.permission.delete", map[string]any{"target": id})
	writeJSON(w, http.StatusOK, envelope{Message: "permission deleted"})
}

// --- visibility groups ---

type visibilityGroupRequest struct {
	Prefix   string              `json:"prefix"`
	AdminID  string              `json:"admin"`
	Entities map[string][]string `json:"entities"`
}

// normalizePrefix lowercases and strips whitespace and surrounding slashes so
// hierarchy walks compare consistent path segments.
func normalizePrefix(prefix string) string {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	return strings.Trim(prefix, "/")
}

func validateEntities(entities map[string][]string) error {
	for entity, scopes := range entities {
		if !visibility.ValidEntity(entity) {
			return auth.BadRequest("unknown visibility entity: " + entity)
		}
		for _, scope := range scopes {
			if !visibility.ValidScope(scope) {
				return auth.BadRequest("unknown visibility scope: " + scope)
			}
		}
	}
	return nil
}

func (a *API) createVisibilityGroup(w http.ResponseWriter, r *http.Request) {
	var req visibilityGroupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	prefix := normalizePrefix(req.Prefix)
	if prefix == "" {
		writeError(w, http.StatusBadRequest, "prefix is required")
		return
	}
	if err := validateEntities(req.Entities); err != nil {
		writeDomainError(w, err)
		return
	}

	if _, err := a.store.VisibilityGroups().FindByPrefix(r.Context(), prefix); err == nil {
		writeError(w, http.StatusConflict, "visibility group with this prefix already exists")
		return
	} else if !errors.Is(err, auth.ErrNotFound) {
		writeDomainError(w, err)
		return
	}

	if req.Entities == nil {
		req.Entities = map[string][]string{}
	}
	group := &auth.VisibilityGroup{Prefix: prefix, AdminID: req.AdminID, Entities: req.Entities}
	if err := a.store.VisibilityGroups().Create(r.Context(), group); err != nil {
		writeDomainError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "admin.visibility_group.create", map[string]any{"target": group.ID})
	writeJSON(w, http.StatusCreated, envelope{Data: group, Message: "visibility group created"})
}

func (a *API) listVisibilityGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := a.store.VisibilityGroups().List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: groups})
}

func (a *API) updateVisibilityGroup(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	group, err := a.store.VisibilityGroups().Find(r.Context(), id)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, http.StatusNotFound, "visibility group not found")
			return
		}
		writeDomainError(w, err)
		return
	}

	var req visibilityGroupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if prefix := normalizePrefix(req.Prefix); prefix != "" {
		group.Prefix = prefix
	}
	group.AdminID = req.AdminID
	if req.Entities != nil {
		if err := validateEntities(req.Entities); err != nil {
			writeDomainError(w, err)
			return
		}
		group.Entities = req.Entities
	}

	if err := a.store.VisibilityGroups().Update(r.Context(), group); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: group, Message: "visibility group updated"})
}

func (a *API) deleteVisibilityGroup(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := a.store.VisibilityGroups().Delete(r.Context(), id); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, http.StatusNotFound, "visibility group not found")
			return
		}
		writeDomainError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "admin.visibility_group.delete", map[string]any{"target": id})
	writeJSON(w, http.StatusOK, envelope{Message: "visibility group deleted"})
}

func (a *API) addGroupMember(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := a.store.VisibilityGroups().AddMember(r.Context(), vars["id"], vars["userID"]); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Message: "member added"})
}

func (a *API) removeGroupMember(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := a.store.VisibilityGroups().RemoveMember(r.Context(), vars["id"], vars["userID"]); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, http.StatusNotFound, "membership not found")
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Message: "member removed"})
}
