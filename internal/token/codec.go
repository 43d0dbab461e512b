// Package token encodes and decodes the signed session tokens issued by the
// service. Tokens are RS256 JWTs whose subject is a JSON-serialized claims
// blob, with the expiry and the access/refresh discriminator at the top
// level. Verification also consults the session store so that logout and
// rotation take effect immediately, before the signature naturally expires.
package token

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Kind discriminates the two token families.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

var (
	// ErrExpired indicates the token is past its exp claim.
	ErrExpired = errors.New("token expired")
	// ErrInvalidType indicates the type discriminator does not match the
	// kind the caller expects.
	ErrInvalidType = errors.New("invalid token type")
	// ErrMalformed indicates a token that cannot be parsed or whose payload
	// is missing required claim keys.
	ErrMalformed = errors.New("invalid token payload")
	// ErrRevoked indicates the session store has no record of the token.
	ErrRevoked = errors.New("token not found in session store")
)

// Claims is the decoded payload of a verified token. Refresh tokens carry
// only the user id. ExpiresAt is the token's own exp claim, filled in by
// Verify.
type Claims struct {
	UserID          string
	Email           string
	Roles           map[string]string
	Teams           []string
	VisibilityGroup string
	ExpiresAt       int64
}

// SessionLookup answers whether a token string is still backed by a live
// session row. Implemented by the session manager.
type SessionLookup interface {
	AccessTokenExists(ctx context.Context, token string) (bool, error)
	RefreshTokenExists(ctx context.Context, token string) (bool, error)
}

// Codec signs and verifies tokens with an RSA key pair.
type Codec struct {
	private *rsa.PrivateKey
	public  *rsa.PublicKey
	now     func() time.Time
}

// Option configures Codec behavior.
type Option func(*Codec)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(c *Codec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewCodec parses the PEM key pair and constructs a codec.
func NewCodec(privatePEM, publicPEM string, opts ...Option) (*Codec, error) {
	priv, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(privatePEM))
	if err != nil {
		return nil, fmt.Errorf("token: parse private key: %w", err)
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(publicPEM))
	if err != nil {
		return nil, fmt.Errorf("token: parse public key: %w", err)
	}
	c := &Codec{private: priv, public: pub, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// subject is the wire shape of the claims blob. Required keys always
// serialize, including a null visibility_group.
type subject struct {
	UserID          string            `json:"user_id"`
	Email           string            `json:"email,omitempty"`
	Roles           map[string]string `json:"roles"`
	Teams           []string          `json:"teams"`
	VisibilityGroup *string           `json:"visibility_group"`
}

// Issue signs a token of the given kind and returns it with its unix expiry.
func (c *Codec) Issue(claims Claims, ttl time.Duration, kind Kind) (string, int64, error) {
	if claims.UserID == "" {
		return "", 0, errors.New("token: user id is required")
	}

	var sub []byte
	var err error
	switch kind {
	case KindAccess:
		payload := subject{
			UserID: claims.UserID,
			Email:  claims.Email,
			Roles:  claims.Roles,
			Teams:  claims.Teams,
		}
		if payload.Roles == nil {
			payload.Roles = map[string]string{}
		}
		if payload.Teams == nil {
			payload.Teams = []string{}
		}
		if claims.VisibilityGroup != "" {
			vg := claims.VisibilityGroup
			payload.VisibilityGroup = &vg
		}
		sub, err = json.Marshal(payload)
	case KindRefresh:
		sub, err = json.Marshal(map[string]string{"user_id": claims.UserID})
	default:
		return "", 0, fmt.Errorf("token: unknown kind %q", kind)
	}
	if err != nil {
		return "", 0, fmt.Errorf("token: marshal subject: %w", err)
	}

	exp := c.now().Add(ttl).Unix()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"exp":  exp,
		"sub":  string(sub),
		"type": string(kind),
	})
	signed, err := tok.SignedString(c.private)
	if err != nil {
		return "", 0, fmt.Errorf("token: sign: %w", err)
	}
	return signed, exp, nil
}

// Verify checks signature, expiry, type, payload shape and the session-store
// revocation status of the token, in that order.
func (c *Codec) Verify(ctx context.Context, tokenString string, kind Kind, sessions SessionLookup) (Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	parsed, err := parser.Parse(tokenString, func(*jwt.Token) (any, error) {
		return c.public, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpired
		}
		return Claims{}, ErrMalformed
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, ErrMalformed
	}
	typ, _ := mapClaims["type"].(string)
	if typ != string(KindAccess) && typ != string(KindRefresh) {
		return Claims{}, ErrInvalidType
	}
	if typ != string(kind) {
		return Claims{}, ErrInvalidType
	}
	rawSub, _ := mapClaims["sub"].(string)
	if rawSub == "" {
		return Claims{}, ErrMalformed
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal([]byte(rawSub), &payload); err != nil {
		return Claims{}, ErrMalformed
	}

	claims, err := decodeSubject(payload, kind)
	if err != nil {
		return Claims{}, err
	}
	if exp, err := mapClaims.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Unix()
	}

	if sessions != nil {
		var live bool
		switch kind {
		case KindAccess:
			live, err = sessions.AccessTokenExists(ctx, tokenString)
		case KindRefresh:
			live, err = sessions.RefreshTokenExists(ctx, tokenString)
		}
		if err != nil {
			return Claims{}, fmt.Errorf("token: session lookup: %w", err)
		}
		if !live {
			return Claims{}, ErrRevoked
		}
	}
	return claims, nil
}

func decodeSubject(payload map[string]json.RawMessage, kind Kind) (Claims, error) {
	rawUser, ok := payload["user_id"]
	if !ok {
		return Claims{}, ErrMalformed
	}
	var claims Claims
	if err := json.Unmarshal(rawUser, &claims.UserID); err != nil || claims.UserID == "" {
		return Claims{}, ErrMalformed
	}
	if kind == KindRefresh {
		return claims, nil
	}

	// Access tokens additionally require roles (a map), teams and
	// visibility_group.
	rawRoles, ok := payload["roles"]
	if !ok {
		return Claims{}, ErrMalformed
	}
	if err := json.Unmarshal(rawRoles, &claims.Roles); err != nil || claims.Roles == nil {
		return Claims{}, ErrMalformed
	}
	rawTeams, ok := payload["teams"]
	if !ok {
		return Claims{}, ErrMalformed
	}
	if err := json.Unmarshal(rawTeams, &claims.Teams); err != nil {
		return Claims{}, ErrMalformed
	}
	rawVG, ok := payload["visibility_group"]
	if !ok {
		return Claims{}, ErrMalformed
	}
	var vg *string
	if err := json.Unmarshal(rawVG, &vg); err != nil {
		return Claims{}, ErrMalformed
	}
	if vg != nil {
		claims.VisibilityGroup = *vg
	}
	if raw, ok := payload["email"]; ok {
		_ = json.Unmarshal(raw, &claims.Email)
	}
	return claims, nil
}
