package memory

import (
	"testing"
	"time"
)

func TestCacheLifecycle(t *testing.T) {
	t.Parallel()
	ctx := t.Context()

	now := time.Unix(1_700_000_000, 0)
	c := New()
	c.SetClock(func() time.Time { return now })

	if _, ok, err := c.Get(ctx, "missing"); ok || err != nil {
		t.Fatalf("Get(missing) = %v, %v", ok, err)
	}

	if err := c.SetEx(ctx, "k", "v", time.Minute); err != nil {
		t.Fatal(err)
	}
	val, ok, err := c.Get(ctx, "k")
	if err != nil || !ok || val != "v" {
		t.Fatalf("Get(k) = %q, %v, %v", val, ok, err)
	}

	// Lazy expiry on read.
	now = now.Add(2 * time.Minute)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("entry survived its TTL")
	}
}

func TestCacheExpire(t *testing.T) {
	t.Parallel()
	ctx := t.Context()

	now := time.Unix(1_700_000_000, 0)
	c := New()
	c.SetClock(func() time.Time { return now })

	_ = c.SetEx(ctx, "k", "v", time.Minute)
	if err := c.Expire(ctx, "k", time.Hour); err != nil {
		t.Fatal(err)
	}
	ttl, ok := c.TTL("k")
	if !ok || ttl != time.Hour {
		t.Fatalf("TTL(k) = %v, %v; want 1h", ttl, ok)
	}

	// Expire on an absent key must not create one.
	if err := c.Expire(ctx, "absent", time.Hour); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Get(ctx, "absent"); ok {
		t.Fatal("Expire created a key")
	}
}

func TestCacheClose(t *testing.T) {
	t.Parallel()
	ctx := t.Context()

	c := New()
	_ = c.SetEx(ctx, "k", "v", time.Minute)
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("entry survived Close")
	}
}
