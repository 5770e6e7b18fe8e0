// Package authtest provides authentication doubles for tests and
// development environments where no identity provider is available.
package authtest

import (
	"context"

	"github.com/tiangong-lca/mcp-server-go/auth"
)

// Static always authenticates as the configured principal.
type Static struct {
	UserID string
	Email  string
}

// NewStatic creates a Static authenticator. If userID is empty it
// defaults to "test-user".
func NewStatic(userID string) *Static {
	if userID == "" {
		userID = "test-user"
	}
	return &Static{UserID: userID}
}

// Authenticate always succeeds with the configured principal.
func (s *Static) Authenticate(ctx context.Context, bearer string) (*auth.Result, error) {
	return &auth.Result{
		Authenticated: true,
		Response:      s.UserID,
		UserID:        s.UserID,
		Email:         s.Email,
		Session:       &auth.Session{AccessToken: bearer},
	}, nil
}

// Deny always fails with the configured response string.
type Deny struct {
	ResponseText string
}

// Authenticate always fails.
func (d *Deny) Authenticate(ctx context.Context, bearer string) (*auth.Result, error) {
	resp := d.ResponseText
	if resp == "" {
		resp = auth.ResponseUnauthorized
	}
	return &auth.Result{Response: resp}, nil
}

var (
	_ auth.Authenticator = (*Static)(nil)
	_ auth.Authenticator = (*Deny)(nil)
)
