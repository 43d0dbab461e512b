package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"authgrid.org/internal/identity"
	"authgrid.org/internal/obs"
	"authgrid.org/internal/session"
	"authgrid.org/internal/token"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 24 * time.Hour * 14
)

// Service orchestrates login flows, token issuance and session lifecycle.
type Service struct {
	store    Store
	codec    *token.Codec
	sessions *session.Manager

	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.accessTTL = ttl
		}
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the auth service.
func NewService(store Store, codec *token.Codec, sessions *session.Manager, opts ...ServiceOption) *Service {
	s := &Service{
		store:      store,
		codec:      codec,
		sessions:   sessions,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store exposes the underlying persistence layer for admin operations.
func (s *Service) Store() Store { return s.store }

// LoginBasic authenticates email/password credentials and issues a token
// pair. An empty cookie means a new browser; a fresh one is generated so the
// session can be correlated on later logins from the same device.
func (s *Service) LoginBasic(ctx context.Context, email, password, cookie string) (*Token, *UserMeta, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		obs.ObserveLogin("basic", "rejected")
		return nil, nil, BadRequest("email and password are required")
	}

	user, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		obs.ObserveLogin("basic", "rejected")
		if errors.Is(err, ErrNotFound) {
			return nil, nil, BadRequest("Incorrect email or password")
		}
		return nil, nil, err
	}
	if !user.AllowBasicLogin {
		obs.ObserveLogin("basic", "rejected")
		return nil, nil, Conflict("Basic authentication is not allowed for this user")
	}
	if !user.IsActive {
		obs.ObserveLogin("basic", "rejected")
		return nil, nil, Conflict("Inactive user")
	}
	if err := VerifyPassword(user.HashedPassword, password); err != nil {
		obs.ObserveLogin("basic", "rejected")
		return nil, nil, BadRequest("Incorrect email or password")
	}

	tok, meta, err := s.establishSession(ctx, user, cookie)
	if err != nil {
		obs.ObserveLogin("basic", "error")
		return nil, nil, err
	}
	obs.ObserveLogin("basic", "ok")
	return tok, meta, nil
}

// LoginExternal completes an external-provider login for a verified identity.
// Unknown users are provisioned on first login with an unusable random
// password and the default roles.
func (s *Service) LoginExternal(ctx context.Context, ident *identity.Identity, cookie string) (*Token, *UserMeta, error) {
	email := strings.TrimSpace(strings.ToLower(ident.Email))
	if email == "" {
		obs.ObserveLogin("external", "rejected")
		return nil, nil, Unauthorized("identity provider did not assert an email")
	}

	user, err := s.store.Users().FindByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrNotFound):
		user, err = s.provisionExternal(ctx, email, ident)
		if err != nil {
			obs.ObserveLogin("external", "error")
			return nil, nil, err
		}
	case err != nil:
		obs.ObserveLogin("external", "error")
		return nil, nil, err
	}

	if !user.IsActive {
		obs.ObserveLogin("external", "rejected")
		return nil, nil, Conflict("Inactive user")
	}

	tok, meta, err := s.establishSession(ctx, user, cookie)
	if err != nil {
		obs.ObserveLogin("external", "error")
		return nil, nil, err
	}
	obs.ObserveLogin("external", "ok")
	return tok, meta, nil
}

// provisionExternal creates a first-login account from the provider profile.
// The password hash is random so basic login stays impossible until an admin
// enables it and sets a real password.
func (s *Service) provisionExternal(ctx context.Context, email string, ident *identity.Identity) (*UserDetail, error) {
	random, err := RandomPassword()
	if err != nil {
		return nil, err
	}
	hashed, err := HashPassword(random)
	if err != nil {
		return nil, err
	}
	u := &User{
		Email:           email,
		FirstName:       ident.FirstName,
		LastName:        ident.LastName,
		FullName:        ident.DisplayName,
		Picture:         ident.Picture,
		HashedPassword:  hashed,
		IsActive:        true,
		AllowBasicLogin: false,
	}
	if err := s.store.Users().Create(ctx, u); err != nil {
		return nil, err
	}

	roles, err := s.store.Roles().List(ctx)
	if err != nil {
		return nil, err
	}
	for _, role := range roles {
		if !role.IsDefault {
			continue
		}
		if err := s.store.Roles().Assign(ctx, u.ID, role.ID); err != nil {
			return nil, err
		}
	}

	return s.store.Users().Find(ctx, u.ID)
}

// establishSession mints the token pair and records the session, applying the
// cookie-dedup and per-user cap policy.
func (s *Service) establishSession(ctx context.Context, user *UserDetail, cookie string) (*Token, *UserMeta, error) {
	claims := token.Claims{
		UserID:          user.ID,
		Email:           user.Email,
		Roles:           user.RoleMap(),
		Teams:           user.TeamIDs,
		VisibilityGroup: user.VisibilityPrefix,
	}

	access, accessExp, err := s.codec.Issue(claims, s.accessTTL, token.KindAccess)
	if err != nil {
		return nil, nil, err
	}
	refresh, refreshExp, err := s.codec.Issue(claims, s.refreshTTL, token.KindRefresh)
	if err != nil {
		return nil, nil, err
	}

	if cookie == "" {
		cookie, err = NewDeviceCookie()
		if err != nil {
			return nil, nil, err
		}
	}

	sess := &session.Session{
		UserID:       user.ID,
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		Cookie:       cookie,
		ExpiresAt:    accessExp,
	}
	if err := s.sessions.CreateWithEviction(ctx, sess); err != nil {
		return nil, nil, err
	}

	tok := &Token{
		AccessToken:         access,
		TokenType:           "bearer",
		RefreshToken:        refresh,
		RefreshTokenTimeout: refreshExp,
		ExpiresAt:           accessExp,
		Cookie:              cookie,
	}
	meta := &UserMeta{
		ID:        user.ID,
		FullName:  user.FullName,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Email:     user.Email,
		Roles:     user.RoleTitles(),
		Picture:   user.Picture,
	}
	return tok, meta, nil
}

// Refresh validates a refresh token and issues a new access token against the
// same session. The refresh token itself is reused, not rotated.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	claims, err := s.codec.Verify(ctx, refreshToken, token.KindRefresh, s.sessions)
	if err != nil {
		return nil, verifyError(err)
	}

	user, err := s.store.Users().Find(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, Unauthorized("user no longer exists")
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, Conflict("Inactive user")
	}

	full := token.Claims{
		UserID:          user.ID,
		Email:           user.Email,
		Roles:           user.RoleMap(),
		Teams:           user.TeamIDs,
		VisibilityGroup: user.VisibilityPrefix,
	}
	access, accessExp, err := s.codec.Issue(full, s.accessTTL, token.KindAccess)
	if err != nil {
		return nil, err
	}

	sess, err := s.sessions.RefreshAccess(ctx, refreshToken, access, accessExp)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, Unauthorized("session no longer exists")
		}
		return nil, err
	}

	return &Token{
		AccessToken:         access,
		TokenType:           "bearer",
		RefreshToken:        refreshToken,
		RefreshTokenTimeout: claims.ExpiresAt,
		ExpiresAt:           accessExp,
		Cookie:              sess.Cookie,
	}, nil
}

// Logout removes the caller's sessions matching either the device cookie or
// the presented access token, and reports how many were removed.
func (s *Service) Logout(ctx context.Context, userID, cookie, accessToken string) (int, error) {
	return s.sessions.Logout(ctx, userID, cookie, accessToken)
}

// Authenticate verifies a bearer access token, including its live-session
// status, and returns the embedded claims.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (token.Claims, error) {
	claims, err := s.codec.Verify(ctx, accessToken, token.KindAccess, s.sessions)
	if err != nil {
		obs.ObserveTokenVerification("access", "rejected")
		return token.Claims{}, verifyError(err)
	}
	obs.ObserveTokenVerification("access", "ok")
	return claims, nil
}

// verifyError maps codec sentinels onto the transport error taxonomy.
func verifyError(err error) error {
	switch {
	case errors.Is(err, token.ErrExpired):
		return Unauthorized("Token expired")
	case errors.Is(err, token.ErrInvalidType):
		return Unauthorized("Invalid token type")
	case errors.Is(err, token.ErrRevoked):
		return Unauthorized("Token is no longer active")
	case errors.Is(err, token.ErrMalformed):
		return Unauthorized("Could not validate credentials")
	default:
		return Unauthorized("Could not validate credentials")
	}
}
