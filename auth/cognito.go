package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/tiangong-lca/mcp-server-go/sessioncache"
)

// cognitoCachePrefix namespaces cached claim sets. Entries are keyed by
// a digest of the full token so only a byte-identical token can hit:
// tokens from the same pool share long common prefixes, and a cache hit
// skips signature verification entirely.
const cognitoCachePrefix = "cognito_"

// cognitoClaimsTTL bounds how long verified claims may be served from
// cache.
const cognitoClaimsTTL = time.Hour

// cachedClaims is the cache value shape for the Cognito path. Exp is
// the verified token's own expiry; a cache hit past it is discarded and
// the token re-verified.
type cachedClaims struct {
	UserID string `json:"userId"`
	Email  string `json:"email,omitempty"`
	Exp    int64  `json:"exp,omitempty"`
}

// CognitoAuthenticator verifies Cognito-issued JWT access tokens through
// a TokenVerifier and optionally caches the verified claims.
type CognitoAuthenticator struct {
	verifier TokenVerifier
	cache    sessioncache.Cache
	strict   bool
	log      *slog.Logger
	now      func() time.Time
}

// CognitoOption configures a CognitoAuthenticator.
type CognitoOption func(*CognitoAuthenticator)

// WithClaimsCache enables the verified-claims cache. This is an
// optimization only; correctness never depends on it.
func WithClaimsCache(cache sessioncache.Cache) CognitoOption {
	return func(a *CognitoAuthenticator) { a.cache = cache }
}

// WithStrictIssuer makes the adapter reject bearers that are not even
// JWT-shaped with ResponseUnsupportedIssuer. Used by Cognito-only
// server variants where no fallback path exists.
func WithStrictIssuer() CognitoOption {
	return func(a *CognitoAuthenticator) { a.strict = true }
}

// WithCognitoLogger sets the logger used for non-fatal cache failures.
func WithCognitoLogger(log *slog.Logger) CognitoOption {
	return func(a *CognitoAuthenticator) { a.log = log }
}

// WithCognitoClock overrides the time source. Intended for tests.
func WithCognitoClock(now func() time.Time) CognitoOption {
	return func(a *CognitoAuthenticator) { a.now = now }
}

// NewCognito builds the Cognito JWT provider adapter.
func NewCognito(verifier TokenVerifier, opts ...CognitoOption) *CognitoAuthenticator {
	a := &CognitoAuthenticator{
		verifier: verifier,
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authenticate implements Authenticator for the Cognito path. Verifier
// rejections become structured failures carrying the verifier's error
// message; they are never propagated as errors.
func (a *CognitoAuthenticator) Authenticate(ctx context.Context, bearer string) (*Result, error) {
	if a.strict && !jwtShaped(bearer) {
		return &Result{Response: ResponseUnsupportedIssuer}, nil
	}

	if res := a.resultFromCache(ctx, bearer); res != nil {
		return res, nil
	}

	claims, err := a.verifier.Verify(ctx, bearer)
	if err != nil {
		msg := err.Error()
		if msg == "" {
			msg = responseVerifyFallback
		}
		return &Result{Response: msg}, nil
	}

	userID := claims.String("sub")
	if userID == "" {
		userID = claims.String("cognito:username")
	}
	if userID == "" {
		return &Result{Response: ResponseMissingUserID}, nil
	}
	email := claims.String("email")
	if email == "" {
		email = claims.String("cognito:email")
	}

	a.writeCache(ctx, bearer, userID, email, claims.ExpiresAt())
	return &Result{
		Authenticated: true,
		Response:      userID,
		UserID:        userID,
		Email:         email,
	}, nil
}

func cognitoCacheKey(bearer string) string {
	sum := sha256.Sum256([]byte(bearer))
	return cognitoCachePrefix + hex.EncodeToString(sum[:])
}

func (a *CognitoAuthenticator) resultFromCache(ctx context.Context, bearer string) *Result {
	if a.cache == nil {
		return nil
	}
	val, found, err := a.cache.Get(ctx, cognitoCacheKey(bearer))
	if err != nil {
		a.log.DebugContext(ctx, "claims cache read failed", "err", err)
		return nil
	}
	if !found {
		return nil
	}
	var cc cachedClaims
	if err := json.Unmarshal([]byte(val), &cc); err != nil || cc.UserID == "" {
		return nil
	}
	// The cache TTL may outlive the token. Trust the entry only while
	// the token's own exp holds.
	if cc.Exp == 0 || a.now().Unix() >= cc.Exp {
		return nil
	}
	return &Result{
		Authenticated: true,
		Response:      cc.UserID,
		UserID:        cc.UserID,
		Email:         cc.Email,
	}
}

func (a *CognitoAuthenticator) writeCache(ctx context.Context, bearer, userID, email string, exp int64) {
	if a.cache == nil {
		return
	}
	raw, err := json.Marshal(cachedClaims{UserID: userID, Email: email, Exp: exp})
	if err != nil {
		return
	}
	if err := a.cache.SetEx(ctx, cognitoCacheKey(bearer), string(raw), cognitoClaimsTTL); err != nil {
		a.log.DebugContext(ctx, "claims cache write failed", "err", err)
	}
}

var _ Authenticator = (*CognitoAuthenticator)(nil)
