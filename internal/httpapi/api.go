// Package httpapi is the HTTP transport: routing, middleware, and the JSON
// wire contracts for the auth, RBAC and visibility surfaces.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"authgrid.org/internal/auth"
	"authgrid.org/internal/identity"
	"authgrid.org/internal/obs"
	"authgrid.org/internal/rbac"
	"authgrid.org/internal/visibility"
)

const basePath = "/api/auth/v1"

// ReadyProbe reports whether downstream dependencies are reachable.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	router     *mux.Router
	svc        *auth.Service
	engine     *rbac.Engine
	resolver   *visibility.Resolver
	provider   identity.Provider
	store      auth.Store
	readyProbe ReadyProbe
	limiter    *RateLimiter
	version    string
}

// New wires all routes. provider may be nil when no external IdP is
// configured; the external login routes then answer 501.
func New(svc *auth.Service, engine *rbac.Engine, resolver *visibility.Resolver,
	provider identity.Provider, store auth.Store, rp ReadyProbe, version string) *API {

	a := &API{
		router:     mux.NewRouter(),
		svc:        svc,
		engine:     engine,
		resolver:   resolver,
		provider:   provider,
		store:      store,
		readyProbe: rp,
		limiter:    NewRateLimiter(50, 25),
		version:    version,
	}

	a.router.HandleFunc("/healthz", a.healthz).Methods(http.MethodGet)
	a.router.HandleFunc("/readyz", a.ready).Methods(http.MethodGet)
	a.router.Handle("/metrics", obs.Handler()).Methods(http.MethodGet)

	v1 := a.router.PathPrefix(basePath).Subrouter()

	v1.HandleFunc("/auth/basic", a.loginBasic).Methods(http.MethodPost)
	v1.HandleFunc("/auth/external/login", a.externalLogin).Methods(http.MethodGet)
	v1.HandleFunc("/auth/external/callback", a.externalCallback).Methods(http.MethodGet)
	v1.HandleFunc("/auth/refresh-token", a.refreshToken).Methods(http.MethodPost)
	v1.HandleFunc("/auth/logout", a.logout).Methods(http.MethodGet)

	v1.HandleFunc("/rbac/validate", a.rbacValidate).Methods(http.MethodPost)
	v1.HandleFunc("/rbac", a.rbacSnapshot).Methods(http.MethodGet)

	v1.HandleFunc("/visibility_group/validate", a.visibilityValidate).Methods(http.MethodPost)

	a.adminRoutes(v1)

	return a
}

// Handler assembles the middleware chain around the router.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = a.limiter.Middleware(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// Close stops background work owned by the API, currently the rate-limiter
// bucket sweeper.
func (a *API) Close() {
	a.limiter.Stop()
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "authgrid",
		"version": a.version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
