package tools

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tiangong-lca/mcp-server-go/auth"
	"github.com/tiangong-lca/mcp-server-go/internal/olca"
	"github.com/tiangong-lca/mcp-server-go/internal/supabase"
)

func contentText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	tc, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content[0] is %T, want *mcp.TextContent", res.Content[0])
	}
	return tc.Text
}

func TestSearchFlows(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/functions/v1/flow_hybrid_search" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sess-tok" {
			t.Errorf("authorization = %q", got)
		}
		if got := r.Header.Get("x-region"); got != "us-east-1" {
			t.Errorf("x-region = %q", got)
		}
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if payload["query"] != "steel" {
			t.Errorf("payload = %v", payload)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []string{"flow-1"}})
	}))
	t.Cleanup(srv.Close)

	deps := &Deps{
		Supabase: supabase.New(srv.URL, "anon"),
		XRegion:  "us-east-1",
	}
	ctx := auth.WithResult(t.Context(), &auth.Result{
		Authenticated: true,
		Session:       &auth.Session{AccessToken: "sess-tok"},
	})

	res, _, err := deps.searchFlows(ctx, nil, SearchInput{Query: "steel"})
	if err != nil {
		t.Fatalf("searchFlows: %v", err)
	}
	text := contentText(t, res)
	if !strings.Contains(text, "flow-1") {
		t.Fatalf("result = %q", text)
	}
}

func TestSearchFlowsRequiresQuery(t *testing.T) {
	t.Parallel()

	deps := &Deps{Supabase: supabase.New("http://unused", "anon")}
	if _, _, err := deps.searchFlows(t.Context(), nil, SearchInput{}); err == nil {
		t.Fatal("expected error for empty query")
	}
}

func TestSearchESGDefaults(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/esg_search" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if payload["topK"] != float64(5) {
			t.Errorf("topK = %v, want default 5", payload["topK"])
		}
		if _, present := payload["metaContains"]; present {
			t.Error("metaContains must be omitted when unset")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"chunks": []string{}})
	}))
	t.Cleanup(srv.Close)

	deps := &Deps{ESGBaseURL: srv.URL}
	if _, _, err := deps.searchESG(t.Context(), nil, ESGSearchInput{Query: "emissions"}); err != nil {
		t.Fatalf("searchESG: %v", err)
	}
}

func TestDatabaseCRUDRequiresSession(t *testing.T) {
	t.Parallel()

	deps := &Deps{Supabase: supabase.New("http://unused", "anon"), CRUDTable: "contacts"}
	if _, _, err := deps.databaseCRUD(t.Context(), nil, CRUDInput{Action: "select"}); err == nil {
		t.Fatal("expected error without a session")
	}
}

func TestDatabaseCRUDSelect(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/contacts" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("limit"); got != "3" {
			t.Errorf("limit = %q", got)
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{{"id": float64(1)}})
	}))
	t.Cleanup(srv.Close)

	deps := &Deps{Supabase: supabase.New(srv.URL, "anon"), CRUDTable: "contacts"}
	ctx := auth.WithResult(t.Context(), &auth.Result{
		Authenticated: true,
		Session:       &auth.Session{AccessToken: "sess-tok"},
	})

	res, _, err := deps.databaseCRUD(ctx, nil, CRUDInput{Action: "select", Limit: 3})
	if err != nil {
		t.Fatalf("databaseCRUD: %v", err)
	}
	if text := contentText(t, res); !strings.Contains(text, `"id":1`) {
		t.Fatalf("result = %q", text)
	}
}

func TestImpactAssessment(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
			ID     int64           `json:"id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		var result any
		switch req.Method {
		case "data/get":
			result = map[string]any{"@id": "found"}
		case "result/calculate":
			result = olca.ResultState{ID: "res-9"}
		case "result/state":
			result = olca.ResultState{ID: "res-9", IsReady: true}
		case "result/total-impacts":
			result = []olca.ImpactValue{{
				ImpactCategory: olca.Ref{Name: "Climate change", RefUnit: "kg CO2 eq"},
				Amount:         12.5,
			}}
		case "result/dispose":
			result = map[string]any{}
		default:
			t.Errorf("unexpected method %q", req.Method)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}))
	t.Cleanup(srv.Close)

	deps := &Deps{OLCA: olca.New(srv.URL)}
	res, _, err := deps.impactAssessment(t.Context(), nil, ImpactInput{
		ProductSystem: "ps-1",
		ImpactMethod:  "m-1",
	})
	if err != nil {
		t.Fatalf("impactAssessment: %v", err)
	}
	text := contentText(t, res)
	if !strings.Contains(text, "Climate change") || !strings.Contains(text, "12.5") {
		t.Fatalf("result = %q", text)
	}
}

func TestImpactAssessmentValidation(t *testing.T) {
	t.Parallel()

	deps := &Deps{OLCA: olca.New("http://unused")}
	if _, _, err := deps.impactAssessment(t.Context(), nil, ImpactInput{ImpactMethod: "m"}); err == nil {
		t.Fatal("expected error without product system")
	}
	if _, _, err := deps.impactAssessment(t.Context(), nil, ImpactInput{ProductSystem: "ps"}); err == nil {
		t.Fatal("expected error without impact method")
	}
}

func TestBOMCalculation(t *testing.T) {
	t.Parallel()

	res, _, err := bomCalculation(t.Context(), nil, BOMInput{A: 2, B: 3.5})
	if err != nil {
		t.Fatalf("bomCalculation: %v", err)
	}
	if text := contentText(t, res); text != "5.5" {
		t.Fatalf("result = %q", text)
	}
}

func TestCalculationGuidanceNamesTools(t *testing.T) {
	t.Parallel()

	res, _, err := calculationGuidance(t.Context(), nil, ListInput{})
	if err != nil {
		t.Fatalf("calculationGuidance: %v", err)
	}
	text := contentText(t, res)
	for _, name := range []string{
		"OpenLCA_List_LCIA_Methods_Tool",
		"OpenLCA_List_System_Processes_Tool",
		"OpenLCA_Impact_Assessment_Tool",
	} {
		if !strings.Contains(text, name) {
			t.Errorf("guidance missing %q", name)
		}
	}
}
