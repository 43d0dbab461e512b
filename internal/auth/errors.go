package auth

import "errors"

// Kind classifies an error for transport mapping. The categories mirror what
// callers are allowed to learn about a failure; anything outside the
// enumeration is treated as an infrastructure fault.
type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
	KindUnauthorized
	KindForbidden
	KindConflict
	KindNotFound
)

// Error is a caller-facing failure carrying a taxonomy kind and a
// human-readable detail. No stack traces or internal identifiers leak through
// Detail.
type Error struct {
	Kind   Kind
	Detail string
}

func (e *Error) Error() string { return e.Detail }

// E builds a classified error.
func E(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// BadRequest reports malformed input or bad credentials.
func BadRequest(detail string) *Error { return E(KindBadRequest, detail) }

// Unauthorized reports a missing, invalid, expired or revoked token.
func Unauthorized(detail string) *Error { return E(KindUnauthorized, detail) }

// Forbidden reports an RBAC denial.
func Forbidden(detail string) *Error { return E(KindForbidden, detail) }

// Conflict reports a disabled account, duplicate unique key or missing
// visibility group/entity.
func Conflict(detail string) *Error { return E(KindConflict, detail) }

// NotFound reports an absent entity.
func NotFound(detail string) *Error { return E(KindNotFound, detail) }

// KindOf extracts the taxonomy kind, defaulting to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
