package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/tiangong-lca/mcp-server-go/sessioncache/memory"
)

type fakeIdentity struct {
	signInCalls  int
	getUserCalls int

	grant      *Grant
	signInErr  error
	user       *Identity
	getUserErr error
}

func (f *fakeIdentity) SignInWithPassword(ctx context.Context, email, password string) (*Grant, error) {
	f.signInCalls++
	if f.signInErr != nil {
		return nil, f.signInErr
	}
	return f.grant, nil
}

func (f *fakeIdentity) GetUser(ctx context.Context, accessToken string) (*Identity, error) {
	f.getUserCalls++
	if f.getUserErr != nil {
		return nil, f.getUserErr
	}
	return f.user, nil
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestAPIKeyCacheHitShortCircuit(t *testing.T) {
	t.Parallel()
	ctx := t.Context()

	now := time.Unix(1_700_000_000, 0)
	cache := memory.New()
	entry := cacheEntry{
		UserID:  "u-42",
		Session: &Session{AccessToken: "cached-tok", ExpiresAt: Some(now.Unix() + 600)},
	}
	raw, _ := json.Marshal(entry)
	if err := cache.SetEx(ctx, "lca_a@b.com", string(raw), time.Minute); err != nil {
		t.Fatal(err)
	}

	identity := &fakeIdentity{}
	a := NewAPIKey(identity, cache, WithAPIKeyClock(fixedClock(now)))

	res, err := a.Authenticate(ctx, EncodeAPIKey("a@b.com", "whatever"))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !res.Authenticated || res.UserID != "u-42" || res.Response != "u-42" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Email != "a@b.com" {
		t.Errorf("email = %q", res.Email)
	}
	if res.Session == nil || res.Session.AccessToken != "cached-tok" {
		t.Errorf("session = %+v", res.Session)
	}
	if identity.signInCalls != 0 {
		t.Fatalf("sign-in called %d times on reusable cache hit", identity.signInCalls)
	}

	// The hit refreshes the entry's TTL from the session expiry.
	ttl, ok := cache.TTL("lca_a@b.com")
	if !ok || ttl <= time.Minute {
		t.Errorf("ttl after refresh = %v, %v; want > 1m", ttl, ok)
	}
}

func TestAPIKeyStaleCacheFallsThrough(t *testing.T) {
	t.Parallel()
	ctx := t.Context()

	now := time.Unix(1_700_000_000, 0)
	cache := memory.New()
	// Expires in 10s: inside the 30s reuse buffer, so not reusable.
	entry := cacheEntry{
		UserID:  "u-42",
		Session: &Session{AccessToken: "cached-tok", ExpiresAt: Some(now.Unix() + 10)},
	}
	raw, _ := json.Marshal(entry)
	_ = cache.SetEx(ctx, "lca_a@b.com", string(raw), time.Minute)

	identity := &fakeIdentity{grant: &Grant{
		User:        Identity{ID: "u-42", Email: "a@b.com", Role: RoleAuthenticated},
		AccessToken: "fresh-tok",
		ExpiresAt:   now.Unix() + 3600,
	}}
	a := NewAPIKey(identity, cache, WithAPIKeyClock(fixedClock(now)))

	res, err := a.Authenticate(ctx, EncodeAPIKey("a@b.com", "pw"))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !res.Authenticated || res.Session == nil || res.Session.AccessToken != "fresh-tok" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if identity.signInCalls != 1 {
		t.Fatalf("sign-in calls = %d, want 1", identity.signInCalls)
	}
}

func TestAPIKeyLegacyCacheEntryForcesReauth(t *testing.T) {
	t.Parallel()
	ctx := t.Context()

	now := time.Unix(1_700_000_000, 0)
	cache := memory.New()
	// Legacy shape: bare user-id string, no session to reuse.
	_ = cache.SetEx(ctx, "lca_a@b.com", "u-legacy", time.Minute)

	identity := &fakeIdentity{grant: &Grant{
		User:        Identity{ID: "u-42", Role: RoleAuthenticated},
		AccessToken: "fresh-tok",
	}}
	a := NewAPIKey(identity, cache, WithAPIKeyClock(fixedClock(now)))

	res, err := a.Authenticate(ctx, EncodeAPIKey("a@b.com", "pw"))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !res.Authenticated || res.UserID != "u-42" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if identity.signInCalls != 1 {
		t.Fatalf("sign-in calls = %d, want 1", identity.signInCalls)
	}

	// The legacy entry is rewritten in the current shape.
	val, ok, _ := cache.Get(ctx, "lca_a@b.com")
	if !ok {
		t.Fatal("cache entry missing after sign-in")
	}
	var rewritten cacheEntry
	if err := json.Unmarshal([]byte(val), &rewritten); err != nil || rewritten.UserID != "u-42" {
		t.Fatalf("cache entry not rewritten: %q", val)
	}
}

func TestAPIKeyBadPassword(t *testing.T) {
	t.Parallel()
	ctx := t.Context()

	cache := memory.New()
	identity := &fakeIdentity{signInErr: fmt.Errorf("%w: invalid grant", ErrInvalidCredentials)}
	a := NewAPIKey(identity, cache)

	res, err := a.Authenticate(ctx, EncodeAPIKey("x@y.com", "bad"))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if res.Authenticated || res.Response != ResponseUnauthorized {
		t.Fatalf("unexpected result: %+v", res)
	}
	// No cache write occurs on failure.
	if _, ok, _ := cache.Get(ctx, "lca_x@y.com"); ok {
		t.Fatal("cache written on failed sign-in")
	}
}

func TestAPIKeyRoleEnforcement(t *testing.T) {
	t.Parallel()
	ctx := t.Context()

	identity := &fakeIdentity{grant: &Grant{
		User:        Identity{ID: "u-1", Role: "service_role"},
		AccessToken: "tok",
	}}
	a := NewAPIKey(identity, memory.New())

	res, err := a.Authenticate(ctx, EncodeAPIKey("a@b.com", "pw"))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if res.Authenticated || res.Response != ResponseNotAuthenticated {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestAPIKeyUndecodableBearer(t *testing.T) {
	t.Parallel()

	a := NewAPIKey(&fakeIdentity{}, memory.New())
	res, err := a.Authenticate(t.Context(), "!!definitely-not-a-key!!")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if res.Authenticated || res.Response != ResponseInvalidAPIKey {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestAPIKeyInfrastructureErrorPropagates(t *testing.T) {
	t.Parallel()

	identity := &fakeIdentity{signInErr: errors.New("dial tcp: connection refused")}
	a := NewAPIKey(identity, memory.New())

	res, err := a.Authenticate(t.Context(), EncodeAPIKey("a@b.com", "pw"))
	if err == nil {
		t.Fatalf("expected error, got result %+v", res)
	}
}

func TestSupabaseIntrospection(t *testing.T) {
	t.Parallel()
	ctx := t.Context()

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		s := NewSupabase(&fakeIdentity{user: &Identity{ID: "u-7", Email: "s@b.com", Role: RoleAuthenticated}})
		res, err := s.Authenticate(ctx, "opaque-token")
		if err != nil {
			t.Fatalf("Authenticate: %v", err)
		}
		if !res.Authenticated || res.UserID != "u-7" || res.Response != "u-7" {
			t.Fatalf("unexpected result: %+v", res)
		}
		if res.Session == nil || res.Session.AccessToken != "opaque-token" {
			t.Fatalf("session must echo the original bearer: %+v", res.Session)
		}
		if res.Session.RefreshToken.Present || res.Session.ExpiresAt.Present {
			t.Fatalf("introspection cannot yield refresh token or expiry: %+v", res.Session)
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		t.Parallel()
		s := NewSupabase(&fakeIdentity{getUserErr: fmt.Errorf("%w: 401", ErrUserNotFound)})
		res, err := s.Authenticate(ctx, "bad-token")
		if err != nil {
			t.Fatalf("Authenticate: %v", err)
		}
		if res.Authenticated || res.Response != ResponseUserNotFound {
			t.Fatalf("unexpected result: %+v", res)
		}
	})

	t.Run("wrong role", func(t *testing.T) {
		t.Parallel()
		s := NewSupabase(&fakeIdentity{user: &Identity{ID: "u-7", Role: "anon"}})
		res, err := s.Authenticate(ctx, "tok")
		if err != nil {
			t.Fatalf("Authenticate: %v", err)
		}
		if res.Authenticated || res.Response != ResponseForbidden {
			t.Fatalf("unexpected result: %+v", res)
		}
	})

	t.Run("transport error propagates", func(t *testing.T) {
		t.Parallel()
		s := NewSupabase(&fakeIdentity{getUserErr: errors.New("dial tcp: timeout")})
		if _, err := s.Authenticate(ctx, "tok"); err == nil {
			t.Fatal("expected error")
		}
	})
}
