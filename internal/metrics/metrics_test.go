package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tiangong-lca/mcp-server-go/sessioncache/memory"
)

func TestCollectorRecords(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAuthAttempt("cognito", "success")
	c.RecordAuthAttempt("api_key", "rejected")
	c.RecordCacheLookup("hit")
	c.RecordToolCall("Search_flows_Tool", "success", 120*time.Millisecond)

	srv := httptest.NewServer(Handler(reg))
	t.Cleanup(srv.Close)

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, 1<<16)
	n, _ := resp.Body.Read(buf)
	body := string(buf[:n])

	for _, want := range []string{
		`lcamcp_auth_attempts_total{kind="cognito",outcome="success"} 1`,
		`lcamcp_auth_attempts_total{kind="api_key",outcome="rejected"} 1`,
		`lcamcp_session_cache_lookups_total{result="hit"} 1`,
		`lcamcp_tool_calls_total{outcome="success",tool="Search_flows_Tool"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape output missing %q", want)
		}
	}
}

func TestInstrumentCacheCountsReads(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	cache := InstrumentCache(memory.New(), c)
	t.Cleanup(func() { cache.Close() })

	ctx := t.Context()
	if _, ok, err := cache.Get(ctx, "absent"); ok || err != nil {
		t.Fatalf("Get(absent) = %v, %v", ok, err)
	}
	if err := cache.SetEx(ctx, "k", "v", time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := cache.Get(ctx, "k"); !ok || err != nil {
		t.Fatalf("Get(k) = %v, %v", ok, err)
	}

	hits := testutil.ToFloat64(c.cacheLookups.WithLabelValues("hit"))
	misses := testutil.ToFloat64(c.cacheLookups.WithLabelValues("miss"))
	if hits != 1 || misses != 1 {
		t.Fatalf("hits = %v, misses = %v, want 1 each", hits, misses)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	t.Parallel()

	var c *Collector
	c.RecordAuthAttempt("cognito", "success")
	c.RecordCacheLookup("miss")
	c.RecordToolCall("x", "error", time.Second)
}
