// Package visibility resolves which users' data a caller may see. Groups are
// addressed by slash-delimited prefixes; the hierarchy is implied by the
// prefixes themselves rather than parent pointers, and each group tags every
// entity type with scope keywords controlling how visibility flows up and
// down the tree.
package visibility

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"authgrid.org/internal/auth"
	"authgrid.org/internal/obs"
)

const defaultRefreshDelay = time.Second

// EntityNames is the closed set of entity types a group can scope.
var EntityNames = []string{"opportunity", "seller", "activity", "property"}

// ScopeKeywords is the fixed vocabulary of scope tags:
//
//	user   — members of this exact group see all users in it
//	owner  — a member sees only themself
//	parent — this group's parent may see this group's members
//	child  — this group's children may see this group's members
var ScopeKeywords = []string{"user", "owner", "parent", "child"}

// ValidEntity reports whether name is a recognized entity type.
func ValidEntity(name string) bool {
	for _, e := range EntityNames {
		if e == name {
			return true
		}
	}
	return false
}

// ValidScope reports whether keyword is in the scope vocabulary.
func ValidScope(keyword string) bool {
	for _, s := range ScopeKeywords {
		if s == keyword {
			return true
		}
	}
	return false
}

// Member identifies one user whose data is visible.
type Member struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Group is one visibility group with members resolved.
type Group struct {
	ID       string              `json:"id"`
	Prefix   string              `json:"prefix"`
	AdminID  string              `json:"admin,omitempty"`
	Members  []Member            `json:"user"`
	Entities map[string][]string `json:"entities"`
}

// Source supplies all groups with their members from the durable store.
type Source interface {
	ListGroups(ctx context.Context) ([]Group, error)
}

type snapshot struct {
	byPrefix    map[string]Group
	prefixes    []string // sorted, for deterministic walks
	refreshedAt time.Time
}

// Resolver owns the group snapshot and answers Validate calls.
type Resolver struct {
	src   Source
	delay time.Duration
	now   func() time.Time

	refreshMu sync.Mutex
	snap      atomic.Pointer[snapshot]
}

// Option configures Resolver behavior.
type Option func(*Resolver)

// WithRefreshDelay sets the snapshot freshness window.
func WithRefreshDelay(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.delay = d
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(r *Resolver) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewResolver constructs a Resolver reading groups from src.
func NewResolver(src Source, opts ...Option) *Resolver {
	r := &Resolver{src: src, delay: defaultRefreshDelay, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Validate returns the users whose data the caller may access for the given
// entity type. The accumulated list is intentionally not deduplicated.
func (r *Resolver) Validate(ctx context.Context, userID, email, groupPrefix, entity string) ([]Member, error) {
	if groupPrefix == "" {
		return nil, auth.Conflict("User has no visibility_group")
	}

	snap, err := r.current(ctx)
	if err != nil {
		return nil, err
	}

	group, ok := snap.byPrefix[groupPrefix]
	if !ok {
		return nil, auth.Conflict("Visibility group user belongs to does not exist")
	}
	scopes, ok := group.Entities[entity]
	if !ok {
		return nil, auth.Conflict("Visibility group entity does not exist")
	}

	users := []Member{}

	// Whole-group access for the group admin or the "user" scope; otherwise
	// "owner" narrows the result to the caller alone.
	isAdmin := group.AdminID != "" && group.AdminID == userID
	switch {
	case isAdmin || hasScope(scopes, "user"):
		users = append(users, group.Members...)
	case hasScope(scopes, "owner"):
		users = append(users, Member{ID: userID, Email: email})
	}

	// Descendants tagged "parent" expose their members upward to us.
	childPrefix := group.Prefix + "/"
	for _, prefix := range snap.prefixes {
		if !strings.HasPrefix(prefix, childPrefix) {
			continue
		}
		descendant := snap.byPrefix[prefix]
		if hasScope(descendant.Entities[entity], "parent") {
			users = append(users, descendant.Members...)
		}
	}

	// Ancestors tagged "child" expose their members downward to us.
	for _, prefix := range ancestorPrefixes(group.Prefix) {
		ancestor, ok := snap.byPrefix[prefix]
		if !ok {
			continue
		}
		if hasScope(ancestor.Entities[entity], "child") {
			users = append(users, ancestor.Members...)
		}
	}

	return users, nil
}

// ancestorPrefixes lists every proper prefix of p from shortest to longest,
// excluding p itself: "a/b/c" yields ["a", "a/b"].
func ancestorPrefixes(p string) []string {
	parts := strings.Split(p, "/")
	if len(parts) < 2 {
		return nil
	}
	prefixes := make([]string, 0, len(parts)-1)
	for i, part := range parts[:len(parts)-1] {
		if i == 0 {
			prefixes = append(prefixes, part)
			continue
		}
		prefixes = append(prefixes, prefixes[i-1]+"/"+part)
	}
	return prefixes
}

func hasScope(scopes []string, keyword string) bool {
	for _, s := range scopes {
		if s == keyword {
			return true
		}
	}
	return false
}

// current returns a fresh-enough snapshot, rebuilding when stale. Rebuild
// failures keep serving the previous snapshot.
func (r *Resolver) current(ctx context.Context) (*snapshot, error) {
	snap := r.snap.Load()
	if snap != nil && r.now().Sub(snap.refreshedAt) <= r.delay {
		return snap, nil
	}

	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	snap = r.snap.Load()
	if snap != nil && r.now().Sub(snap.refreshedAt) <= r.delay {
		return snap, nil
	}

	groups, err := r.src.ListGroups(ctx)
	if err != nil {
		obs.ObserveSnapshotRefresh("visibility", "error")
		if snap != nil {
			obs.L().WithError(err).Warn("visibility snapshot refresh failed, serving stale groups")
			return snap, nil
		}
		return nil, fmt.Errorf("visibility: initial snapshot load: %w", err)
	}

	fresh := &snapshot{
		byPrefix:    make(map[string]Group, len(groups)),
		prefixes:    make([]string, 0, len(groups)),
		refreshedAt: r.now(),
	}
	for _, g := range groups {
		fresh.byPrefix[g.Prefix] = g
		fresh.prefixes = append(fresh.prefixes, g.Prefix)
	}
	sort.Strings(fresh.prefixes)

	obs.ObserveSnapshotRefresh("visibility", "ok")
	r.snap.Store(fresh)
	return fresh, nil
}
