package auth

import (
	"context"
	"errors"
)

// Failure responses surfaced to clients. These are part of the public
// contract: middleware maps them onto HTTP 401/403 bodies verbatim.
const (
	ResponseUnauthorized      = "Unauthorized"
	ResponseNotAuthenticated  = "You are not an authenticated user."
	ResponseInvalidAPIKey     = "Invalid API key"
	ResponseUserNotFound      = "User Not Found"
	ResponseForbidden         = "Forbidden"
	ResponseMissingUserID     = "Invalid token: missing user ID"
	ResponseUnsupportedIssuer = "Unsupported token issuer"
)

// responseVerifyFallback is used when a verifier error carries no message.
const responseVerifyFallback = "Token verification failed"

// ErrInvalidCredentials indicates the identity backend rejected the
// presented credentials (bad password, revoked grant). Adapters convert
// it into a structured failure rather than propagating it.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// ErrUserNotFound indicates the identity backend does not recognize the
// principal behind the presented token.
var ErrUserNotFound = errors.New("auth: user not found")

// RoleAuthenticated is the identity backend role required for access.
const RoleAuthenticated = "authenticated"

// Result is the outcome of an authentication attempt. Response is always
// populated: on success it equals UserID, on failure it carries one of
// the Response* strings or a verifier error message.
type Result struct {
	Authenticated bool     `json:"isAuthenticated"`
	Response      string   `json:"response"`
	UserID        string   `json:"userId,omitempty"`
	Email         string   `json:"email,omitempty"`
	Session       *Session `json:"session,omitempty"`
}

// Authenticator validates a bearer credential and reports the outcome.
// Implementations return a non-nil Result for both success and provider
// rejection; a non-nil error is reserved for infrastructure failures.
type Authenticator interface {
	Authenticate(ctx context.Context, bearer string) (*Result, error)
}

// Claims is a verified JWT claim set.
type Claims map[string]any

// String returns the claim named by key if it is a non-empty string.
func (c Claims) String(key string) string {
	s, _ := c[key].(string)
	return s
}

// ExpiresAt returns the exp claim as unix seconds, or 0 when absent.
func (c Claims) ExpiresAt() int64 {
	switch v := c["exp"].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	}
	return 0
}

// TokenVerifier checks a JWT's signature and registered claims against a
// fixed issuer, client id, and token-use constraint. It either returns
// the verified claim set or an error describing the rejection.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (Claims, error)
}

// Identity is a principal as reported by the identity backend.
type Identity struct {
	ID    string
	Email string
	Role  string
}

// Grant is the outcome of a successful password sign-in: the resolved
// principal plus the issued token pair. ExpiresAt is unix seconds, zero
// when the backend did not declare a lifetime.
type Grant struct {
	User         Identity
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64
}

// IdentityClient is the identity backend consumed by the Supabase-backed
// authentication paths. Implementations return ErrInvalidCredentials or
// ErrUserNotFound (possibly wrapped) for provider rejections and plain
// errors for transport failures.
type IdentityClient interface {
	SignInWithPassword(ctx context.Context, email, password string) (*Grant, error)
	GetUser(ctx context.Context, accessToken string) (*Identity, error)
}
