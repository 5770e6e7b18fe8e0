package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/tiangong-lca/mcp-server-go/sessioncache/memory"
)

func TestHybridDispatch(t *testing.T) {
	t.Parallel()
	ctx := t.Context()

	now := time.Unix(1_700_000_000, 0)
	exp := now.Unix() + 3600

	verifier := &fakeVerifier{claims: Claims{"sub": "cog-user", "exp": float64(exp)}}
	identity := &fakeIdentity{
		grant: &Grant{
			User:        Identity{ID: "key-user", Email: "k@b.com", Role: RoleAuthenticated},
			AccessToken: "granted-tok",
			ExpiresAt:   exp,
		},
		user: &Identity{ID: "sb-user", Email: "s@b.com", Role: RoleAuthenticated},
	}
	cache := memory.New()

	h := NewHybrid(verifier, identity, cache, WithClock(fixedClock(now)))

	t.Run("cognito jwt routes to verifier", func(t *testing.T) {
		res, err := h.Authenticate(ctx, jwtWithPayload(`{"iss":"https://cognito-idp.us-east-1.amazonaws.com/pool"}`))
		if err != nil {
			t.Fatalf("Authenticate: %v", err)
		}
		if !res.Authenticated || res.UserID != "cog-user" {
			t.Fatalf("unexpected result: %+v", res)
		}
		if verifier.calls == 0 {
			t.Fatal("verifier never called")
		}
	})

	t.Run("api key routes to password sign-in", func(t *testing.T) {
		res, err := h.Authenticate(ctx, EncodeAPIKey("k@b.com", "pw"))
		if err != nil {
			t.Fatalf("Authenticate: %v", err)
		}
		if !res.Authenticated || res.UserID != "key-user" {
			t.Fatalf("unexpected result: %+v", res)
		}
		if identity.signInCalls == 0 {
			t.Fatal("sign-in never called")
		}
	})

	t.Run("opaque token routes to introspection", func(t *testing.T) {
		res, err := h.Authenticate(ctx, "sb-opaque-token")
		if err != nil {
			t.Fatalf("Authenticate: %v", err)
		}
		if !res.Authenticated || res.UserID != "sb-user" {
			t.Fatalf("unexpected result: %+v", res)
		}
		if identity.getUserCalls == 0 {
			t.Fatal("introspection never called")
		}
	})
}

func TestHybridFailureWritesNothing(t *testing.T) {
	t.Parallel()
	ctx := t.Context()

	verifier := &fakeVerifier{err: errors.New("signature verification failed")}
	identity := &fakeIdentity{
		signInErr:  ErrInvalidCredentials,
		getUserErr: ErrUserNotFound,
	}
	cache := memory.New()
	h := NewHybrid(verifier, identity, cache)

	bearers := []string{
		jwtWithPayload(`{"iss":"cognito-idp"}`),
		EncodeAPIKey("x@y.com", "bad"),
		"opaque-garbage",
	}
	for _, bearer := range bearers {
		res, err := h.Authenticate(ctx, bearer)
		if err != nil {
			t.Fatalf("Authenticate(%q): %v", bearer, err)
		}
		if res.Authenticated {
			t.Fatalf("Authenticate(%q) unexpectedly succeeded", bearer)
		}
	}

	for _, key := range []string{
		"lca_x@y.com",
		cognitoCacheKey(bearers[0]),
	} {
		if _, ok, _ := cache.Get(ctx, key); ok {
			t.Fatalf("cache key %q written on failed authentication", key)
		}
	}
}
