package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tiangong-lca/mcp-server-go/sessioncache"
)

// apiKeyCachePrefix namespaces cached API-key sessions by principal email.
const apiKeyCachePrefix = "lca_"

// cacheEntry is the current cache value shape. Older deployments stored
// a bare user-id string; those entries are readable but never reusable,
// so they are re-authenticated and rewritten in this shape.
type cacheEntry struct {
	UserID  string   `json:"userId"`
	Session *Session `json:"session,omitempty"`
}

// APIKeyAuthenticator exchanges a reversible API key for an identity
// backend session, caching the issued session under the principal's
// email to short-circuit subsequent sign-ins.
type APIKeyAuthenticator struct {
	identity IdentityClient
	cache    sessioncache.Cache
	log      *slog.Logger
	now      func() time.Time
}

// APIKeyOption configures an APIKeyAuthenticator.
type APIKeyOption func(*APIKeyAuthenticator)

// WithAPIKeyLogger sets the logger used for non-fatal cache failures.
func WithAPIKeyLogger(log *slog.Logger) APIKeyOption {
	return func(a *APIKeyAuthenticator) { a.log = log }
}

// WithAPIKeyClock overrides the time source. Intended for tests.
func WithAPIKeyClock(now func() time.Time) APIKeyOption {
	return func(a *APIKeyAuthenticator) { a.now = now }
}

// NewAPIKey builds the API-key provider adapter.
func NewAPIKey(identity IdentityClient, cache sessioncache.Cache, opts ...APIKeyOption) *APIKeyAuthenticator {
	a := &APIKeyAuthenticator{
		identity: identity,
		cache:    cache,
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authenticate implements Authenticator for the API-key path.
func (a *APIKeyAuthenticator) Authenticate(ctx context.Context, bearer string) (*Result, error) {
	email, password, ok := DecodeAPIKey(bearer)
	if !ok {
		return &Result{Response: ResponseInvalidAPIKey}, nil
	}

	key := apiKeyCachePrefix + email
	cached, found, err := a.cache.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("session cache get: %w", err)
	}
	if found {
		if res := a.resultFromCache(ctx, key, cached, email); res != nil {
			return res, nil
		}
	}

	grant, err := a.identity.SignInWithPassword(ctx, email, password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrUserNotFound) {
			return &Result{Response: ResponseUnauthorized}, nil
		}
		return nil, fmt.Errorf("password sign-in: %w", err)
	}
	if grant == nil || grant.User.ID == "" {
		return &Result{Response: ResponseUnauthorized}, nil
	}
	if grant.User.Role != RoleAuthenticated {
		return &Result{Response: ResponseNotAuthenticated}, nil
	}

	sess := sessionFromGrant(grant)
	a.writeCache(ctx, key, grant.User.ID, sess)

	resolvedEmail := grant.User.Email
	if resolvedEmail == "" {
		resolvedEmail = email
	}
	return &Result{
		Authenticated: true,
		Response:      grant.User.ID,
		UserID:        grant.User.ID,
		Email:         resolvedEmail,
		Session:       sess,
	}, nil
}

// resultFromCache returns a success result when the cached entry holds a
// reusable session, refreshing its TTL best-effort. Legacy bare user-id
// values and stale or unparseable sessions yield nil and force a fresh
// sign-in.
func (a *APIKeyAuthenticator) resultFromCache(ctx context.Context, key, cached, email string) *Result {
	if !strings.HasPrefix(strings.TrimSpace(cached), "{") {
		// Legacy bare user-id entry: no session to reuse.
		return nil
	}
	var entry cacheEntry
	if err := json.Unmarshal([]byte(cached), &entry); err != nil || entry.UserID == "" {
		return nil
	}
	sess := NormalizeSession(entry.Session)
	now := a.now()
	if !sess.Reusable(now) {
		return nil
	}
	if ttl, ok := sess.CacheTTL(now); ok {
		if err := a.cache.Expire(ctx, key, ttl); err != nil {
			a.log.WarnContext(ctx, "session cache ttl refresh failed", "key", key, "err", err)
		}
	}
	return &Result{
		Authenticated: true,
		Response:      entry.UserID,
		UserID:        entry.UserID,
		Email:         email,
		Session:       sess,
	}
}

// writeCache records the authenticated principal and session. A write
// failure is logged and ignored: the worst case is a redundant sign-in
// on the next request.
func (a *APIKeyAuthenticator) writeCache(ctx context.Context, key, userID string, sess *Session) {
	raw, err := json.Marshal(cacheEntry{UserID: userID, Session: sess})
	if err != nil {
		a.log.WarnContext(ctx, "session cache encode failed", "key", key, "err", err)
		return
	}
	ttl := DefaultCacheTTL
	if derived, ok := sess.CacheTTL(a.now()); ok {
		ttl = derived
	}
	if err := a.cache.SetEx(ctx, key, string(raw), ttl); err != nil {
		a.log.WarnContext(ctx, "session cache write failed", "key", key, "err", err)
	}
}

func sessionFromGrant(grant *Grant) *Session {
	if grant.AccessToken == "" {
		return nil
	}
	sess := &Session{AccessToken: grant.AccessToken}
	if grant.RefreshToken != "" {
		sess.RefreshToken = Some(grant.RefreshToken)
	}
	if grant.ExpiresAt > 0 {
		sess.ExpiresAt = Some(grant.ExpiresAt)
	}
	return sess
}

// SupabaseAuthenticator introspects an opaque bearer token against the
// identity backend. There is no caching on this path: the token itself
// is the session.
type SupabaseAuthenticator struct {
	identity IdentityClient
}

// NewSupabase builds the opaque-token provider adapter.
func NewSupabase(identity IdentityClient) *SupabaseAuthenticator {
	return &SupabaseAuthenticator{identity: identity}
}

// Authenticate implements Authenticator for the opaque-token path.
func (s *SupabaseAuthenticator) Authenticate(ctx context.Context, bearer string) (*Result, error) {
	user, err := s.identity.GetUser(ctx, bearer)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrInvalidCredentials) {
			return &Result{Response: ResponseUserNotFound}, nil
		}
		return nil, fmt.Errorf("token introspection: %w", err)
	}
	if user == nil || user.ID == "" {
		return &Result{Response: ResponseUserNotFound}, nil
	}
	if user.Role != RoleAuthenticated {
		return &Result{Response: ResponseForbidden}, nil
	}
	// No refresh token or expiry is obtainable from introspection
	// alone, so the session is the original bearer and nothing more.
	return &Result{
		Authenticated: true,
		Response:      user.ID,
		UserID:        user.ID,
		Email:         user.Email,
		Session:       &Session{AccessToken: bearer},
	}, nil
}

var (
	_ Authenticator = (*APIKeyAuthenticator)(nil)
	_ Authenticator = (*SupabaseAuthenticator)(nil)
)
