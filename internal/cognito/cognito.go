// Package cognito verifies access tokens issued by an AWS Cognito user
// pool. Discovery and key management follow the pool's published OIDC
// metadata; keys are fetched from jwks_uri and auto-refreshed.
package cognito

import (
	"context"
	"errors"
	"fmt"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"

	"github.com/tiangong-lca/mcp-server-go/auth"
)

// Issuer returns the canonical issuer URL of a Cognito user pool.
func Issuer(region, userPoolID string) string {
	return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", region, userPoolID)
}

// Config controls token validation policy.
type Config struct {
	// Issuer is the user pool's issuer URL. Required.
	Issuer string
	// ClientID is the app client the token must have been issued to.
	// Required.
	ClientID string
	// AllowedAlgs defaults to RS256, the only algorithm Cognito signs
	// access tokens with.
	AllowedAlgs []string
	// Leeway absorbs clock skew between this host and the pool.
	Leeway time.Duration
}

// DefaultConfig returns a Config with safe algorithm and leeway
// defaults. Issuer and ClientID must still be set.
func DefaultConfig() *Config {
	return &Config{
		AllowedAlgs: []string{"RS256"},
		Leeway:      60 * time.Second,
	}
}

// Verifier validates Cognito access tokens against a fixed pool and app
// client. It implements auth.TokenVerifier.
type Verifier struct {
	cfg     *Config
	keyfunc jwt.Keyfunc
}

// NewFromDiscovery resolves the pool's OIDC metadata to locate its JWKS
// endpoint and constructs a Verifier. The context governs both the
// discovery request and the lifetime of the background key refresher.
func NewFromDiscovery(ctx context.Context, cfg *Config) (*Verifier, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("client id is required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery failed: %w", err)
	}
	var meta struct {
		JwksURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("invalid discovery metadata: %w", err)
	}
	if meta.JwksURI == "" {
		return nil, errors.New("discovery incomplete: missing jwks_uri")
	}

	// Auto-refreshing JWKS
	kf, err := keyfunc.NewDefaultCtx(ctx, []string{meta.JwksURI})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}

	return &Verifier{
		cfg: cfg,
		keyfunc: func(t *jwt.Token) (any, error) {
			alg := t.Method.Alg()
			allowed := false
			for _, a := range cfg.AllowedAlgs {
				if alg == a {
					allowed = true
					break
				}
			}
			if !allowed {
				return nil, fmt.Errorf("disallowed alg: %s", alg)
			}
			return kf.Keyfunc(t)
		},
	}, nil
}

// Verify checks the token's signature and registered claims and returns
// the verified claim set. Error messages are surfaced to clients, so
// they name the failed check and nothing else.
func (v *Verifier) Verify(ctx context.Context, token string) (auth.Claims, error) {
	if token == "" {
		return nil, errors.New("empty token")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(v.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(v.cfg.Issuer),
		jwt.WithLeeway(v.cfg.Leeway),
	)
	parsed, err := parser.Parse(token, v.keyfunc)
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %v", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}

	// Cognito access tokens carry token_use and client_id; id tokens do
	// not pass here. Pool metadata cannot express these checks, so they
	// happen after signature verification.
	if use, _ := claims["token_use"].(string); use != "access" {
		return nil, errors.New("token is not an access token")
	}
	if cid, _ := claims["client_id"].(string); cid != v.cfg.ClientID {
		return nil, errors.New("token was issued to a different client")
	}

	return auth.Claims(claims), nil
}

var _ auth.TokenVerifier = (*Verifier)(nil)
