package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/tiangong-lca/mcp-server-go/sessioncache"
)

// Hybrid routes a bearer credential to the matching provider adapter.
// Classification happens exactly once per request and is terminal for
// routing. There is no cross-request deduplication: two concurrent
// requests for the same credential may both reach the identity
// provider.
type Hybrid struct {
	apiKey   Authenticator
	cognito  Authenticator
	supabase Authenticator
}

// HybridOption configures the resolver's adapters.
type HybridOption func(*hybridConfig)

type hybridConfig struct {
	log         *slog.Logger
	now         func() time.Time
	claimsCache bool
}

// WithLogger sets the logger shared by the provider adapters.
func WithLogger(log *slog.Logger) HybridOption {
	return func(c *hybridConfig) { c.log = log }
}

// WithClock overrides the time source shared by the provider adapters.
// Intended for tests.
func WithClock(now func() time.Time) HybridOption {
	return func(c *hybridConfig) { c.now = now }
}

// WithoutCognitoClaimsCache disables the verified-claims cache on the
// Cognito path.
func WithoutCognitoClaimsCache() HybridOption {
	return func(c *hybridConfig) { c.claimsCache = false }
}

// NewHybrid wires the three provider adapters behind one resolver.
// Clients are injected: construct them once at process start and share
// them across requests.
func NewHybrid(verifier TokenVerifier, identity IdentityClient, cache sessioncache.Cache, opts ...HybridOption) *Hybrid {
	cfg := hybridConfig{
		log:         slog.Default(),
		now:         time.Now,
		claimsCache: true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	cognitoOpts := []CognitoOption{WithCognitoLogger(cfg.log), WithCognitoClock(cfg.now)}
	if cfg.claimsCache && cache != nil {
		cognitoOpts = append(cognitoOpts, WithClaimsCache(cache))
	}

	return &Hybrid{
		apiKey:   NewAPIKey(identity, cache, WithAPIKeyLogger(cfg.log), WithAPIKeyClock(cfg.now)),
		cognito:  NewCognito(verifier, cognitoOpts...),
		supabase: NewSupabase(identity),
	}
}

// Authenticate implements Authenticator by classifying the bearer and
// delegating to the matching adapter. Adapter failures are returned
// verbatim; nothing is written to the cache on failure.
func (h *Hybrid) Authenticate(ctx context.Context, bearer string) (*Result, error) {
	switch Classify(bearer) {
	case KindCognito:
		return h.cognito.Authenticate(ctx, bearer)
	case KindAPIKey:
		return h.apiKey.Authenticate(ctx, bearer)
	default:
		return h.supabase.Authenticate(ctx, bearer)
	}
}

var _ Authenticator = (*Hybrid)(nil)
