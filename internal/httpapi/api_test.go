package httpapi

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"authgrid.org/internal/auth"
	"authgrid.org/internal/obs"
	"authgrid.org/internal/rbac"
	"authgrid.org/internal/session"
	"authgrid.org/internal/token"
	"authgrid.org/internal/visibility"
)

func TestMain(m *testing.M) {
	obs.InitLogger("error", "text")
	os.Exit(m.Run())
}

// --- in-memory auth.Store ---

type memUsers struct {
	byID    map[string]*auth.UserDetail
	byEmail map[string]*auth.UserDetail
	nextID  int
}

func (s *memUsers) add(u *auth.UserDetail) {
	s.byID[u.ID] = u
	s.byEmail[u.Email] = u
}

func (s *memUsers) Create(ctx context.Context, u *auth.User) error {
	s.nextID++
	u.ID = fmt.Sprintf("user-%02d", s.nextID)
	s.add(&auth.UserDetail{User: *u})
	return nil
}

func (s *memUsers) Find(ctx context.Context, id string) (*auth.UserDetail, error) {
	u, ok := s.byID[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return u, nil
}

func (s *memUsers) FindByEmail(ctx context.Context, email string) (*auth.UserDetail, error) {
	u, ok := s.byEmail[email]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return u, nil
}

func (s *memUsers) List(ctx context.Context) ([]*auth.User, error) {
	var out []*auth.User
	for _, u := range s.byID {
		cp := u.User
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memUsers) Update(ctx context.Context, u *auth.User) error {
	existing, ok := s.byID[u.ID]
	if !ok {
		return auth.ErrNotFound
	}
	existing.User = *u
	return nil
}

func (s *memUsers) Delete(ctx context.Context, id string) error {
	u, ok := s.byID[id]
	if !ok {
		return auth.ErrNotFound
	}
	delete(s.byEmail, u.Email)
	delete(s.byID, id)
	return nil
}

type memRoles struct {
	roles  map[string]*auth.Role
	nextID int
}

func (s *memRoles) Create(ctx context.Context, role *auth.Role) error {
	s.nextID++
	role.ID = fmt.Sprintf("role-%02d", s.nextID)
	s.roles[role.ID] = role
	return nil
}

func (s *memRoles) Find(ctx context.Context, id string) (*auth.Role, error) {
	r, ok := s.roles[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return r, nil
}

func (s *memRoles) FindByTitle(ctx context.Context, title string) (*auth.Role, error) {
	for _, r := range s.roles {
		if r.Title == title {
			return r, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *memRoles) List(ctx context.Context) ([]*auth.Role, error) {
	var out []*auth.Role
	for _, r := range s.roles {
		out = append(out, r)
	}
	return out, nil
}

func (s *memRoles) Update(ctx context.Context, role *auth.Role) error {
	if _, ok := s.roles[role.ID]; !ok {
		return auth.ErrNotFound
	}
	s.roles[role.ID] = role
	return nil
}

func (s *memRoles) Delete(ctx context.Context, id string) error {
	if _, ok := s.roles[id]; !ok {
		return auth.ErrNotFound
	}
	delete(s.roles, id)
	return nil
}

func (s *memRoles) Assign(ctx context.Context, userID, roleID string) error   { return nil }
func (s *memRoles) Unassign(ctx context.Context, userID, roleID string) error { return nil }

type memResources struct {
	resources map[string]*auth.Resource
	nextID    int
}

func (s *memResources) Create(ctx context.Context, res *auth.Resource) error {
	s.nextID++
	res.ID = fmt.Sprintf("res-%02d", s.nextID)
	s.resources[res.ID] = res
	return nil
}

func (s *memResources) Find(ctx context.Context, id string) (*auth.Resource, error) {
	r, ok := s.resources[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return r, nil
}

func (s *memResources) FindByEndpointMethod(ctx context.Context, endpoint, method string) (*auth.Resource, error) {
	for _, r := range s.resources {
		if r.Endpoint == endpoint && r.Method == method {
			return r, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *memResources) List(ctx context.Context) ([]*auth.Resource, error) {
	var out []*auth.Resource
	for _, r := range s.resources {
		out = append(out, r)
	}
	return out, nil
}

func (s *memResources) Update(ctx context.Context, res *auth.Resource) error {
	if _, ok := s.resources[res.ID]; !ok {
		return auth.ErrNotFound
	}
	s.resources[res.ID] = res
	return nil
}

func (s *memResources) Delete(ctx context.Context, id string) error {
	if _, ok := s.resources[id]; !ok {
		return auth.ErrNotFound
	}
	delete(s.resources, id)
	return nil
}

type memStore struct {
	users     *memUsers
	roles     *memRoles
	resources *memResources
}

func newMemStore() *memStore {
	return &memStore{
		users:     &memUsers{byID: map[string]*auth.UserDetail{}, byEmail: map[string]*auth.UserDetail{}},
		roles:     &memRoles{roles: map[string]*auth.Role{}},
		resources: &memResources{resources: map[string]*auth.Resource{}},
	}
}

func (s *memStore) Users() auth.UserStore                       { return s.users }
func (s *memStore) Roles() auth.RoleStore                       { return s.roles }
func (s *memStore) Teams() auth.TeamStore                       { return nil }
func (s *memStore) Resources() auth.ResourceStore               { return s.resources }
func (s *memStore) Permissions() auth.PermissionStore           { return nil }
func (s *memStore) VisibilityGroups() auth.VisibilityGroupStore { return nil }

// --- in-memory session.Store ---

type memSessions struct {
	sessions map[string]*session.Session
}

func (m *memSessions) Create(ctx context.Context, s *session.Session) error {
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *memSessions) GetByAccessToken(ctx context.Context, tok string) (*session.Session, error) {
	for _, s := range m.sessions {
		if s.AccessToken == tok {
			cp := *s
			return &cp, nil
		}
	}
	return nil, session.ErrNotFound
}

func (m *memSessions) GetByRefreshToken(ctx context.Context, tok string) (*session.Session, error) {
	for _, s := range m.sessions {
		if s.RefreshToken == tok {
			cp := *s
			return &cp, nil
		}
	}
	return nil, session.ErrNotFound
}

func (m *memSessions) ListByUser(ctx context.Context, userID string) ([]session.Session, error) {
	var out []session.Session
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	session.SortByCreation(out)
	return out, nil
}

func (m *memSessions) UpdateAccessToken(ctx context.Context, id, accessToken string, expiresAt int64) error {
	s, ok := m.sessions[id]
	if !ok {
		return session.ErrNotFound
	}
	s.AccessToken = accessToken
	s.ExpiresAt = expiresAt
	return nil
}

func (m *memSessions) Delete(ctx context.Context, id string) error {
	if _, ok := m.sessions[id]; !ok {
		return session.ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

// --- rule sources ---

type ruleSource struct {
	rules  []rbac.Rule
	grants []rbac.Grant
	roles  map[string]string
}

func (s *ruleSource) ListRoleTitles(ctx context.Context) (map[string]string, error) {
	return s.roles, nil
}
func (s *ruleSource) ListRules(ctx context.Context) ([]rbac.Rule, error)   { return s.rules, nil }
func (s *ruleSource) ListGrants(ctx context.Context) ([]rbac.Grant, error) { return s.grants, nil }

type groupSource struct {
	groups []visibility.Group
}

func (s *groupSource) ListGroups(ctx context.Context) ([]visibility.Group, error) {
	return s.groups, nil
}

// --- fixture ---

type apiFixture struct {
	handler http.Handler
	store   *memStore
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	codec, err := token.NewCodec(string(privPEM), string(pubPEM))
	require.NoError(t, err)

	store := newMemStore()
	hashed, err := auth.HashPassword("s3cret")
	require.NoError(t, err)
	store.users.add(&auth.UserDetail{
		User: auth.User{
			ID:              "user-1",
			Email:           "jane@corp.test",
			FullName:        "Jane Doe",
			HashedPassword:  hashed,
			IsActive:        true,
			AllowBasicLogin: true,
		},
		Roles:            []auth.Role{{ID: "role-admin", Title: "admin"}},
		VisibilityPrefix: "sales/emea",
	})

	sessions := session.NewManager(&memSessions{sessions: map[string]*session.Session{}}, 5)
	svc := auth.NewService(store, codec, sessions)

	engine := rbac.NewEngine(&ruleSource{
		roles: map[string]string{"role-admin": "admin"},
		rules: []rbac.Rule{
			{ID: "res-1", Endpoint: "/api/core/v1/opportunity/list", Method: "get", RBACEnabled: true, VisibilityEnabled: true},
		},
		grants: []rbac.Grant{{ID: "perm-1", RoleID: "role-admin", ResourceID: "res-1"}},
	})

	resolver := visibility.NewResolver(&groupSource{groups: []visibility.Group{
		{
			ID:      "g-emea",
			Prefix:  "sales/emea",
			Members: []visibility.Member{{ID: "user-1", Email: "jane@corp.test"}, {ID: "user-2", Email: "rep@corp.test"}},
			Entities: map[string][]string{
				"opportunity": {"user"},
			},
		},
	}})

	api := New(svc, engine, resolver, nil, store, ReadyProbe{}, "test")
	t.Cleanup(api.Close)
	return &apiFixture{handler: api.Handler(), store: store}
}

func (fx *apiFixture) do(t *testing.T, method, path, bearerToken string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)
	return rec
}

type tokenEnvelope struct {
	Data    auth.Token    `json:"data"`
	Meta    auth.UserMeta `json:"meta"`
	Message string        `json:"message"`
}

func (fx *apiFixture) login(t *testing.T) auth.Token {
	t.Helper()
	rec := fx.do(t, http.MethodPost, "/api/auth/v1/auth/basic", "",
		map[string]string{"email": "jane@corp.test", "password": "s3cret"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp tokenEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Data.AccessToken)
	return resp.Data
}

func TestHealthz(t *testing.T) {
	fx := newAPIFixture(t)
	rec := fx.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "test", body["version"])
	require.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestLoginBasic(t *testing.T) {
	fx := newAPIFixture(t)
	rec := fx.do(t, http.MethodPost, "/api/auth/v1/auth/basic", "",
		map[string]string{"email": "jane@corp.test", "password": "s3cret"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp tokenEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "bearer", resp.Data.TokenType)
	require.NotEmpty(t, resp.Data.RefreshToken)
	require.Equal(t, "user-1", resp.Meta.ID)
	require.Equal(t, []string{"admin"}, resp.Meta.Roles)

	var deviceCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "authgrid_device" {
			deviceCookie = c
		}
	}
	require.NotNil(t, deviceCookie, "device cookie must be set on login")
	require.True(t, deviceCookie.HttpOnly)
}

func TestLoginBasicRejectsBadPassword(t *testing.T) {
	fx := newAPIFixture(t)
	rec := fx.do(t, http.MethodPost, "/api/auth/v1/auth/basic", "",
		map[string]string{"email": "jane@corp.test", "password": "nope"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "Incorrect email or password", body["detail"])
}

func TestProtectedRouteRequiresBearer(t *testing.T) {
	fx := newAPIFixture(t)

	rec := fx.do(t, http.MethodGet, "/api/auth/v1/rbac", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = fx.do(t, http.MethodGet, "/api/auth/v1/rbac", "garbage-token", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRBACValidateDecision(t *testing.T) {
	fx := newAPIFixture(t)
	tok := fx.login(t)

	rec := fx.do(t, http.MethodPost, "/api/auth/v1/rbac/validate", tok.AccessToken,
		map[string]string{"method": "GET", "endpoint": "/staging/api/core/v1/opportunity/list"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var dec rbac.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dec))
	require.True(t, dec.Access)
	require.True(t, dec.VisibilityEnabled)
	require.Equal(t, "rbac is enabled, permissions found", dec.Detail)
	require.Equal(t, "res-1", dec.ResourceID)

	// Unregistered endpoints pass by default.
	rec = fx.do(t, http.MethodPost, "/api/auth/v1/rbac/validate", tok.AccessToken,
		map[string]string{"method": "GET", "endpoint": "/api/core/v1/unknown"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dec))
	require.True(t, dec.Access)
	require.Equal(t, "resource not found", dec.Detail)
}

func TestVisibilityValidate(t *testing.T) {
	fx := newAPIFixture(t)
	tok := fx.login(t)

	rec := fx.do(t, http.MethodPost, "/api/auth/v1/visibility_group/validate", tok.AccessToken,
		map[string]string{"entity_name": "opportunity"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp visibilityValidateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Users, 2)
	require.Equal(t, "user-1", resp.Users[0].ID)
	require.Equal(t, "user-2", resp.Users[1].ID)

	// Unknown entity type reports a conflict.
	rec = fx.do(t, http.MethodPost, "/api/auth/v1/visibility_group/validate", tok.AccessToken,
		map[string]string{"entity_name": "seller"})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestRefreshToken(t *testing.T) {
	fx := newAPIFixture(t)
	tok := fx.login(t)

	rec := fx.do(t, http.MethodPost, "/api/auth/v1/auth/refresh-token", "",
		map[string]string{"refresh_token": tok.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp tokenEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, tok.RefreshToken, resp.Data.RefreshToken)
	require.NotEmpty(t, resp.Data.AccessToken)

	rec = fx.do(t, http.MethodPost, "/api/auth/v1/auth/refresh-token", "",
		map[string]string{"refresh_token": "bogus"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogout(t *testing.T) {
	fx := newAPIFixture(t)
	tok := fx.login(t)

	rec := fx.do(t, http.MethodGet, "/api/auth/v1/auth/logout", tok.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Data map[string]int `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Data["sessions_removed"])

	// The revoked access token no longer authenticates.
	rec = fx.do(t, http.MethodGet, "/api/auth/v1/rbac", tok.AccessToken, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestExternalLoginUnconfigured(t *testing.T) {
	fx := newAPIFixture(t)
	rec := fx.do(t, http.MethodGet, "/api/auth/v1/auth/external/login", "", nil)
	require.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestCreateResourceAdmin(t *testing.T) {
	fx := newAPIFixture(t)
	tok := fx.login(t)

	body := map[string]any{
		"endpoint":                "/API/Core/V1/Seller/$uuid$",
		"method":                  "GET",
		"rbac_enable":             true,
		"visibility_group_enable": true,
		"visibility_group_entity": "seller",
	}
	rec := fx.do(t, http.MethodPost, "/api/auth/v1/resource", tok.AccessToken, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Data auth.Resource `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "/api/core/v1/seller/$uuid$", resp.Data.Endpoint)
	require.Equal(t, "get", resp.Data.Method)

	// Same endpoint and method again is a conflict.
	rec = fx.do(t, http.MethodPost, "/api/auth/v1/resource", tok.AccessToken, body)
	require.Equal(t, http.StatusConflict, rec.Code)

	// Visibility without a known entity type is rejected.
	bad := map[string]any{
		"endpoint":                "/api/core/v1/invoice/list",
		"method":                  "GET",
		"visibility_group_enable": true,
		"visibility_group_entity": "invoice",
	}
	rec = fx.do(t, http.MethodPost, "/api/auth/v1/resource", tok.AccessToken, bad)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRejectsUnknownJSONFields(t *testing.T) {
	fx := newAPIFixture(t)
	rec := fx.do(t, http.MethodPost, "/api/auth/v1/auth/basic", "",
		map[string]string{"email": "jane@corp.test", "password": "s3cret", "surprise": "x"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
