// Package rbac maintains the in-memory authorization rule cache and decides
// whether a caller's roles grant access to an (endpoint, method) pair.
//
// The rule snapshot is immutable once built and swapped atomically, so
// readers never observe a half-populated map. Whichever request first
// observes staleness rebuilds it; concurrent rebuilds converge on equivalent
// snapshots and only cost redundant reads.
package rbac

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"authgrid.org/internal/auth"
	"authgrid.org/internal/obs"
)

const defaultRefreshDelay = time.Second

// patternFragments maps the closed set of endpoint placeholder tokens to
// their regular-expression fragments.
var patternFragments = map[string]string{
	"$str$":  `[\w.-]+`,
	"$uuid$": `[\w.-]+`,
}

// stagePrefixes are environment path prefixes stripped before matching.
// Ordered longest-first so "/development" is not mangled by "/dev".
var stagePrefixes = []string{"/development", "/production", "/staging", "/local", "/dev"}

var allowedMethods = map[string]struct{}{
	"get": {}, "post": {}, "put": {}, "patch": {}, "delete": {},
}

// Rule is one registered resource in the snapshot.
type Rule struct {
	ID                string `json:"id"`
	Endpoint          string `json:"endpoint"`
	Method            string `json:"method"`
	RBACEnabled       bool   `json:"rbac_enable"`
	VisibilityEnabled bool   `json:"visibility_group_enable"`
}

// Grant binds a role id to a resource id; its existence is the permission.
type Grant struct {
	ID         string `json:"id"`
	RoleID     string `json:"role_id"`
	ResourceID string `json:"resource_id"`
}

// Source supplies the durable rule data the snapshot is rebuilt from.
type Source interface {
	ListRoleTitles(ctx context.Context) (map[string]string, error)
	ListRules(ctx context.Context) ([]Rule, error)
	ListGrants(ctx context.Context) ([]Grant, error)
}

// Decision is the outcome of one authorization check.
type Decision struct {
	Access            bool   `json:"access"`
	RBACEnabled       bool   `json:"rbac_enable"`
	VisibilityEnabled bool   `json:"visibility_group_enable"`
	ResourceID        string `json:"resource_id,omitempty"`
	Detail            string `json:"detail"`
}

// View is a read-only dump of the current snapshot.
type View struct {
	Roles       map[string]string `json:"roles"`
	Resources   []Rule            `json:"resources"`
	Permissions []Grant           `json:"permissions"`
	RefreshedAt time.Time         `json:"refreshed_at"`
}

type compiledRule struct {
	Rule
	pattern *regexp.Regexp
}

type snapshot struct {
	roles       map[string]string
	rules       []compiledRule
	grants      []Grant
	refreshedAt time.Time
}

// Engine owns the snapshot and answers Validate calls.
type Engine struct {
	src   Source
	delay time.Duration
	now   func() time.Time

	refreshMu sync.Mutex
	snap      atomic.Pointer[snapshot]
	patterns  *lru.Cache[string, *regexp.Regexp]
}

// Option configures Engine behavior.
type Option func(*Engine)

// WithRefreshDelay sets the snapshot freshness window.
func WithRefreshDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.delay = d
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(e *Engine) {
		if fn != nil {
			e.now = fn
		}
	}
}

// NewEngine constructs an Engine reading rules from src.
func NewEngine(src Source, opts ...Option) *Engine {
	cache, _ := lru.New[string, *regexp.Regexp](256)
	e := &Engine{
		src:      src,
		delay:    defaultRefreshDelay,
		now:      time.Now,
		patterns: cache,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NormalizeMethod lower-cases the method and rejects anything outside the
// supported verb set.
func NormalizeMethod(method string) (string, error) {
	m := strings.ToLower(strings.TrimSpace(method))
	if _, ok := allowedMethods[m]; !ok {
		return "", auth.BadRequest(fmt.Sprintf("invalid permission method [%s]", method))
	}
	return m, nil
}

// NormalizeEndpoint extracts the path, lower-cases it, strips one
// environment-stage prefix and requires a leading slash.
func NormalizeEndpoint(raw string) (string, error) {
	if u, err := url.Parse(strings.TrimSpace(raw)); err == nil && u.Path != "" {
		raw = u.Path
	}
	v := strings.ToLower(strings.TrimSpace(raw))
	for _, prefix := range stagePrefixes {
		// The prefix must be a whole path segment, so /development is a
		// stage but /devices is not.
		if v == prefix || strings.HasPrefix(v, prefix+"/") {
			v = strings.TrimPrefix(v, prefix)
			break
		}
	}
	if !strings.HasPrefix(v, "/") {
		return "", auth.BadRequest(fmt.Sprintf("invalid permission path [%s]", v))
	}
	return v, nil
}

// Validate decides whether the given roles may call method on endpoint.
// Unregistered endpoints are allowed by default; callers wanting default-deny
// must register every protected resource.
func (e *Engine) Validate(ctx context.Context, roles map[string]string, method, endpoint string) (Decision, error) {
	m, err := NormalizeMethod(method)
	if err != nil {
		return Decision{}, err
	}
	ep, err := NormalizeEndpoint(endpoint)
	if err != nil {
		return Decision{}, err
	}

	snap, err := e.current(ctx)
	if err != nil {
		return Decision{}, err
	}

	var matched *compiledRule
	for i := range snap.rules {
		rule := &snap.rules[i]
		if rule.Method != m {
			continue
		}
		if rule.pattern.MatchString(ep) {
			matched = rule
			break
		}
	}

	if matched == nil {
		obs.ObserveRBACDecision("no_resource")
		return Decision{Access: true, Detail: "resource not found"}, nil
	}

	dec := Decision{
		Access:            true,
		RBACEnabled:       matched.RBACEnabled,
		VisibilityEnabled: matched.VisibilityEnabled,
		ResourceID:        matched.ID,
	}
	if !matched.RBACEnabled {
		dec.Detail = "rbac is disabled"
		obs.ObserveRBACDecision("rbac_disabled")
		return dec, nil
	}

	for _, grant := range snap.grants {
		if grant.ResourceID != matched.ID {
			continue
		}
		if _, ok := roles[grant.RoleID]; ok {
			dec.Detail = "rbac is enabled, permissions found"
			obs.ObserveRBACDecision("allowed")
			return dec, nil
		}
	}

	dec.Access = false
	dec.Detail = "no permissions found"
	obs.ObserveRBACDecision("denied")
	return dec, nil
}

// Snapshot returns a copy of the current rule set, refreshing it if stale.
func (e *Engine) Snapshot(ctx context.Context) (View, error) {
	snap, err := e.current(ctx)
	if err != nil {
		return View{}, err
	}
	view := View{
		Roles:       snap.roles,
		Resources:   make([]Rule, 0, len(snap.rules)),
		Permissions: snap.grants,
		RefreshedAt: snap.refreshedAt,
	}
	for _, r := range snap.rules {
		view.Resources = append(view.Resources, r.Rule)
	}
	return view, nil
}

// current returns a fresh-enough snapshot, rebuilding when stale. A rebuild
// failure keeps serving the previous snapshot; only the very first load is
// fatal for the request.
func (e *Engine) current(ctx context.Context) (*snapshot, error) {
	snap := e.snap.Load()
	if snap != nil && e.now().Sub(snap.refreshedAt) <= e.delay {
		return snap, nil
	}

	e.refreshMu.Lock()
	defer e.refreshMu.Unlock()

	// Re-check: another request may have refreshed while we waited.
	snap = e.snap.Load()
	if snap != nil && e.now().Sub(snap.refreshedAt) <= e.delay {
		return snap, nil
	}

	fresh, err := e.rebuild(ctx)
	if err != nil {
		obs.ObserveSnapshotRefresh("rbac", "error")
		if snap != nil {
			obs.L().WithError(err).Warn("rbac snapshot refresh failed, serving stale rules")
			return snap, nil
		}
		return nil, fmt.Errorf("rbac: initial snapshot load: %w", err)
	}
	obs.ObserveSnapshotRefresh("rbac", "ok")
	e.snap.Store(fresh)
	return fresh, nil
}

func (e *Engine) rebuild(ctx context.Context) (*snapshot, error) {
	roles, err := e.src.ListRoleTitles(ctx)
	if err != nil {
		return nil, err
	}
	rules, err := e.src.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	grants, err := e.src.ListGrants(ctx)
	if err != nil {
		return nil, err
	}

	compiled := make([]compiledRule, 0, len(rules))
	for _, rule := range rules {
		re, err := e.compile(rule.Endpoint)
		if err != nil {
			obs.L().WithError(err).WithField("endpoint", rule.Endpoint).
				Warn("skipping resource with invalid endpoint pattern")
			continue
		}
		compiled = append(compiled, compiledRule{Rule: rule, pattern: re})
	}

	return &snapshot{
		roles:       roles,
		rules:       compiled,
		grants:      grants,
		refreshedAt: e.now(),
	}, nil
}

// compile substitutes placeholder tokens and anchors the pattern. Compiled
// expressions are cached across rebuilds; resources rarely change between
// refreshes so the cache stays hot.
func (e *Engine) compile(endpoint string) (*regexp.Regexp, error) {
	expr := endpoint
	for token, fragment := range patternFragments {
		expr = strings.ReplaceAll(expr, token, fragment)
	}
	expr = `\A(?:` + expr + `)\z`
	if re, ok := e.patterns.Get(expr); ok {
		return re, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	e.patterns.Add(expr, re)
	return re, nil
}
