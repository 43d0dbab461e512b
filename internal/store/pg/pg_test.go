package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"authgrid.org/internal/auth"
	"authgrid.org/internal/session"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return NewStore(db), mock
}

func TestSessionStoreRoundTrip(t *testing.T) {
	store, mock := newMock(t)
	sessions := store.Sessions()
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`insert into sessions`).
		WithArgs("sess-1", "user-1", "at-1", "rt-1", "bearer", "cookie-1", int64(1700000000), created).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := sessions.Create(context.Background(), &session.Session{
		ID: "sess-1", UserID: "user-1", AccessToken: "at-1", RefreshToken: "rt-1",
		TokenType: "bearer", Cookie: "cookie-1", ExpiresAt: 1700000000, CreatedAt: created,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	cols := []string{"id", "user_id", "access_token", "refresh_token", "token_type", "cookie", "expires_at", "created_at"}
	mock.ExpectQuery(`select .+ from sessions where access_token=\$1`).
		WithArgs("at-1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("sess-1", "user-1", "at-1", "rt-1", "bearer", "cookie-1", int64(1700000000), created))

	got, err := sessions.GetByAccessToken(context.Background(), "at-1")
	if err != nil {
		t.Fatalf("GetByAccessToken: %v", err)
	}
	if got.ID != "sess-1" || got.RefreshToken != "rt-1" {
		t.Fatalf("session = %+v", got)
	}
}

func TestSessionStoreNotFound(t *testing.T) {
	store, mock := newMock(t)
	sessions := store.Sessions()

	mock.ExpectQuery(`select .+ from sessions where refresh_token=\$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := sessions.GetByRefreshToken(context.Background(), "missing"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("err = %v, want session.ErrNotFound", err)
	}

	mock.ExpectExec(`delete from sessions where id=\$1`).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := sessions.Delete(context.Background(), "missing"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("Delete err = %v, want session.ErrNotFound", err)
	}
}

func TestSessionStoreUpdateAccessToken(t *testing.T) {
	store, mock := newMock(t)
	sessions := store.Sessions()

	mock.ExpectExec(`update sessions set access_token=\$2, expires_at=\$3 where id=\$1`).
		WithArgs("sess-1", "at-2", int64(1700000900)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := sessions.UpdateAccessToken(context.Background(), "sess-1", "at-2", 1700000900); err != nil {
		t.Fatalf("UpdateAccessToken: %v", err)
	}

	mock.ExpectExec(`update sessions set access_token=\$2, expires_at=\$3 where id=\$1`).
		WithArgs("gone", "at-3", int64(1700000900)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := sessions.UpdateAccessToken(context.Background(), "gone", "at-3", 1700000900); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("err = %v, want session.ErrNotFound", err)
	}
}

func TestSessionStoreListByUserOrdered(t *testing.T) {
	store, mock := newMock(t)
	sessions := store.Sessions()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	cols := []string{"id", "user_id", "access_token", "refresh_token", "token_type", "cookie", "expires_at", "created_at"}
	mock.ExpectQuery(`select .+ from sessions where user_id=\$1 order by created_at, id`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("sess-1", "user-1", "at-1", "rt-1", "bearer", "c-1", int64(1), base).
			AddRow("sess-2", "user-1", "at-2", "rt-2", "bearer", "c-2", int64(2), base.Add(time.Minute)))

	got, err := sessions.ListByUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(got) != 2 || got[0].ID != "sess-1" || got[1].ID != "sess-2" {
		t.Fatalf("sessions = %+v", got)
	}
}

func TestRBACSourceQueries(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectQuery(`select id, title from roles`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title"}).
			AddRow("role-1", "admin").
			AddRow("role-2", "member"))

	roles, err := store.ListRoleTitles(context.Background())
	if err != nil {
		t.Fatalf("ListRoleTitles: %v", err)
	}
	if roles["role-1"] != "admin" || roles["role-2"] != "member" {
		t.Fatalf("roles = %v", roles)
	}

	mock.ExpectQuery(`select id, endpoint, method, rbac_enable, visibility_group_enable\s+from resources order by created_at, id`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "endpoint", "method", "rbac_enable", "visibility_group_enable"}).
			AddRow("res-1", "/api/auth/v1/role/list", "get", true, false))

	rules, err := store.ListRules(context.Background())
	if err != nil {
		t.Fatalf("ListRules: %v", err)
	}
	if len(rules) != 1 || rules[0].Endpoint != "/api/auth/v1/role/list" || !rules[0].RBACEnabled {
		t.Fatalf("rules = %+v", rules)
	}

	mock.ExpectQuery(`select id, role_id, resource_id from permissions`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "role_id", "resource_id"}).
			AddRow("perm-1", "role-1", "res-1"))

	grants, err := store.ListGrants(context.Background())
	if err != nil {
		t.Fatalf("ListGrants: %v", err)
	}
	if len(grants) != 1 || grants[0].RoleID != "role-1" {
		t.Fatalf("grants = %+v", grants)
	}
}

func TestResourceFindByEndpointMethod(t *testing.T) {
	store, mock := newMock(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`from resources where endpoint=\$1 and method=\$2`).
		WithArgs("/api/auth/v1/user/$uuid$", "get").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "endpoint", "method", "rbac_enable", "visibility_group_enable",
			"coalesce", "created_at", "updated_at",
		}).AddRow("res-1", "/api/auth/v1/user/$uuid$", "get", true, true, "opportunity", now, now))

	res, err := store.Resources().FindByEndpointMethod(context.Background(), "/api/auth/v1/user/$uuid$", "get")
	if err != nil {
		t.Fatalf("FindByEndpointMethod: %v", err)
	}
	if res.ID != "res-1" || res.VisibilityEntity != "opportunity" {
		t.Fatalf("resource = %+v", res)
	}

	mock.ExpectQuery(`from resources where endpoint=\$1 and method=\$2`).
		WithArgs("/nope", "get").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := store.Resources().FindByEndpointMethod(context.Background(), "/nope", "get"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("err = %v, want auth.ErrNotFound", err)
	}
}

func TestPermissionDeleteRequiresRow(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectExec(`delete from permissions where id=\$1`).
		WithArgs("perm-meta").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.Permissions().Delete(context.Background(), "perm-meta"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("err = %v, want auth.ErrNotFound", err)
	}
}
