// Package identity integrates external identity providers for the
// browser-redirect login flow.
package identity

import "context"

// Identity is the verified profile an external provider asserts about a user.
type Identity struct {
	Email       string `json:"email"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Picture     string `json:"picture,omitempty"`
	Provider    string `json:"provider"`
}

// Provider drives the authorization-code flow against one external IdP.
type Provider interface {
	// Name identifies the provider in audit records and user metadata.
	Name() string
	// AuthCodeURL builds the authorization endpoint redirect for state.
	AuthCodeURL(state string) string
	// Exchange swaps an authorization code for a verified identity.
	Exchange(ctx context.Context, code string) (*Identity, error)
}
