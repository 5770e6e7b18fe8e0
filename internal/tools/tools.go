// Package tools registers the MCP tool surface: hybrid search over the
// LCA data service, database access, and openLCA impact assessment.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tiangong-lca/mcp-server-go/auth"
	"github.com/tiangong-lca/mcp-server-go/internal/logctx"
	"github.com/tiangong-lca/mcp-server-go/internal/metrics"
	"github.com/tiangong-lca/mcp-server-go/internal/olca"
	"github.com/tiangong-lca/mcp-server-go/internal/supabase"
)

// Deps carries the shared clients and settings the tool handlers need.
type Deps struct {
	Log      *slog.Logger
	Supabase *supabase.Client
	OLCA     *olca.Client
	Metrics  *metrics.Collector
	HTTP     *http.Client

	XAPIKey    string
	XRegion    string
	CRUDTable  string
	ESGBaseURL string
}

func (d *Deps) log() *slog.Logger {
	if d.Log != nil {
		return d.Log
	}
	return slog.Default()
}

func (d *Deps) httpClient() *http.Client {
	if d.HTTP != nil {
		return d.HTTP
	}
	return http.DefaultClient
}

// Register adds every tool to the server. Tools that need a backend
// their Deps entry does not provide are skipped, so a Cognito-only
// deployment without Supabase still serves the openLCA tools.
func Register(server *mcp.Server, deps *Deps) {
	if deps.Supabase != nil {
		mcp.AddTool(server, &mcp.Tool{
			Name:        "Search_flows_Tool",
			Description: "Search LCA flows data.",
		}, instrument(deps, "Search_flows_Tool", deps.searchFlows))
		mcp.AddTool(server, &mcp.Tool{
			Name:        "Search_processes_Tool",
			Description: "Search LCA processes data.",
		}, instrument(deps, "Search_processes_Tool", deps.searchProcesses))
		mcp.AddTool(server, &mcp.Tool{
			Name:        "Search_life_cycle_models_Tool",
			Description: "Search LCA life cycle models data.",
		}, instrument(deps, "Search_life_cycle_models_Tool", deps.searchLifeCycleModels))
		mcp.AddTool(server, &mcp.Tool{
			Name:        "Database_CRUD_Tool",
			Description: "Perform CRUD operations.",
		}, instrument(deps, "Database_CRUD_Tool", deps.databaseCRUD))
	}
	if deps.ESGBaseURL != "" {
		mcp.AddTool(server, &mcp.Tool{
			Name:        "Search_ESG_Tool",
			Description: "Search ESG report chunks.",
		}, instrument(deps, "Search_ESG_Tool", deps.searchESG))
	}
	if deps.OLCA != nil {
		mcp.AddTool(server, &mcp.Tool{
			Name:        "OpenLCA_Impact_Assessment_Tool",
			Description: "Calculate life cycle impact assessment using OpenLCA.",
		}, instrument(deps, "OpenLCA_Impact_Assessment_Tool", deps.impactAssessment))
		mcp.AddTool(server, &mcp.Tool{
			Name:        "OpenLCA_List_LCIA_Methods_Tool",
			Description: "List all LCIA methods using OpenLCA.",
		}, instrument(deps, "OpenLCA_List_LCIA_Methods_Tool", deps.listLCIAMethods))
		mcp.AddTool(server, &mcp.Tool{
			Name:        "OpenLCA_List_System_Processes_Tool",
			Description: "List all system processes using OpenLCA.",
		}, instrument(deps, "OpenLCA_List_System_Processes_Tool", deps.listSystemProcesses))
	}
	mcp.AddTool(server, &mcp.Tool{
		Name:        "BOM_Calculation",
		Description: "Calculate sum of two numbers.",
	}, instrument(deps, "BOM_Calculation", bomCalculation))
	mcp.AddTool(server, &mcp.Tool{
		Name:        "LCA_Calculation_Guidance_Tool",
		Description: "Get the workflow, which should be followed for Life Cycle Assessment (LCA) Calculations to Obtain Life Cycle Impact Assessment (LCIA) Results",
	}, instrument(deps, "LCA_Calculation_Guidance_Tool", calculationGuidance))
}

// instrument wraps a handler with logging and metrics.
func instrument[In, Out any](deps *Deps, name string, h mcp.ToolHandlerFor[In, Out]) mcp.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, req *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: name})
		start := time.Now()
		res, out, err := h(ctx, req, in)
		outcome := "success"
		if err != nil {
			outcome = "error"
			deps.log().ErrorContext(ctx, "tool call failed", "err", err)
		}
		deps.Metrics.RecordToolCall(name, outcome, time.Since(start))
		return res, out, err
	}
}

func textResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: s}},
	}
}

func (d *Deps) functionHeaders() map[string]string {
	h := map[string]string{}
	if d.XAPIKey != "" {
		h["x-api-key"] = d.XAPIKey
	}
	if d.XRegion != "" {
		h["x-region"] = d.XRegion
	}
	return h
}

// SearchInput is the shared input of the hybrid search tools.
type SearchInput struct {
	Query string `json:"query" jsonschema:"Queries from user"`
}

func (d *Deps) hybridSearch(ctx context.Context, function, query string) (*mcp.CallToolResult, any, error) {
	if query == "" {
		return nil, nil, fmt.Errorf("query is required")
	}
	token := auth.AccessTokenFrom(ctx)
	out, err := d.Supabase.InvokeFunction(ctx, function, token,
		map[string]any{"query": query}, d.functionHeaders())
	if err != nil {
		return nil, nil, err
	}
	return textResult(string(out)), nil, nil
}

func (d *Deps) searchFlows(ctx context.Context, req *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, any, error) {
	return d.hybridSearch(ctx, "flow_hybrid_search", in.Query)
}

func (d *Deps) searchProcesses(ctx context.Context, req *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, any, error) {
	return d.hybridSearch(ctx, "process_hybrid_search", in.Query)
}

func (d *Deps) searchLifeCycleModels(ctx context.Context, req *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, any, error) {
	return d.hybridSearch(ctx, "lifecyclemodel_hybrid_search", in.Query)
}

// ESGSearchInput shapes a query against the ESG report index.
type ESGSearchInput struct {
	Query        string         `json:"query" jsonschema:"Requirements or questions from the user."`
	TopK         int            `json:"topK,omitempty" jsonschema:"Number of top chunk results to return."`
	ExtK         int            `json:"extK,omitempty" jsonschema:"Number of additional chunks to include before and after each topK result."`
	MetaContains string         `json:"metaContains,omitempty" jsonschema:"Optional keyword for fuzzy matching within document metadata."`
	Filter       *ESGFilter     `json:"filter,omitempty" jsonschema:"Optional filter conditions for specific fields."`
	DateFilter   *ESGDateFilter `json:"dateFilter,omitempty" jsonschema:"Optional date range filters in UNIX timestamps."`
}

type ESGFilter struct {
	RecID   []string `json:"rec_id,omitempty"`
	Country []string `json:"country,omitempty"`
}

type ESGDateFilter struct {
	PublicationDate *DateRange `json:"publication_date,omitempty"`
}

type DateRange struct {
	GTE int64 `json:"gte,omitempty"`
	LTE int64 `json:"lte,omitempty"`
}

func (d *Deps) searchESG(ctx context.Context, req *mcp.CallToolRequest, in ESGSearchInput) (*mcp.CallToolResult, any, error) {
	if in.Query == "" {
		return nil, nil, fmt.Errorf("query is required")
	}
	if in.TopK == 0 {
		in.TopK = 5
	}

	payload := map[string]any{"query": in.Query, "topK": in.TopK, "extK": in.ExtK}
	if in.MetaContains != "" {
		payload["metaContains"] = in.MetaContains
	}
	if in.Filter != nil {
		payload["filter"] = in.Filter
	}
	if in.DateFilter != nil {
		payload["dateFilter"] = in.DateFilter
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("encode esg query: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.ESGBaseURL+"/esg_search", bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if token := auth.AccessTokenFrom(ctx); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range d.functionHeaders() {
		httpReq.Header.Set(k, v)
	}

	resp, err := d.httpClient().Do(httpReq)
	if err != nil {
		return nil, nil, fmt.Errorf("esg search: %w", err)
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("esg search: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("esg search: status %d", resp.StatusCode)
	}
	return textResult(string(out)), nil, nil
}

// CRUDInput selects a database operation. Row-level security in the
// backing database scopes everything to the calling principal.
type CRUDInput struct {
	Action string         `json:"action" jsonschema:"One of select, insert, update, delete."`
	Limit  int            `json:"limit,omitempty" jsonschema:"Maximum rows to return on select."`
	Filter string         `json:"filter,omitempty" jsonschema:"PostgREST filter expression like id=eq.42."`
	Row    map[string]any `json:"row,omitempty" jsonschema:"Column values for insert and update."`
}

func (d *Deps) databaseCRUD(ctx context.Context, req *mcp.CallToolRequest, in CRUDInput) (*mcp.CallToolResult, any, error) {
	token := auth.AccessTokenFrom(ctx)
	if token == "" {
		return nil, nil, fmt.Errorf("no session available for database access")
	}
	table := d.Supabase.Table(d.CRUDTable, token)

	var filters []string
	if in.Filter != "" {
		filters = append(filters, in.Filter)
	}

	switch in.Action {
	case "", "select":
		if in.Limit > 0 {
			filters = append(filters, "limit="+strconv.Itoa(in.Limit))
		}
		rows, err := table.Select(ctx, filters...)
		if err != nil {
			return nil, nil, err
		}
		return jsonResult(rows)
	case "insert":
		if in.Row == nil {
			return nil, nil, fmt.Errorf("insert requires row")
		}
		rows, err := table.Insert(ctx, in.Row)
		if err != nil {
			return nil, nil, err
		}
		return jsonResult(rows)
	case "update":
		if in.Row == nil || len(filters) == 0 {
			return nil, nil, fmt.Errorf("update requires row and filter")
		}
		rows, err := table.Update(ctx, in.Row, filters...)
		if err != nil {
			return nil, nil, err
		}
		return jsonResult(rows)
	case "delete":
		if len(filters) == 0 {
			return nil, nil, fmt.Errorf("delete requires filter")
		}
		if err := table.Delete(ctx, filters...); err != nil {
			return nil, nil, err
		}
		return textResult("[]"), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown action %q", in.Action)
	}
}

func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, nil, fmt.Errorf("encode result: %w", err)
	}
	return textResult(string(raw)), nil, nil
}

// ImpactInput identifies the product system and method to calculate.
type ImpactInput struct {
	ProductSystem string `json:"productSystem" jsonschema:"OpenLCA product system ID"`
	ImpactMethod  string `json:"impactMethod" jsonschema:"OpenLCA impact method ID"`
}

func (d *Deps) impactAssessment(ctx context.Context, req *mcp.CallToolRequest, in ImpactInput) (*mcp.CallToolResult, any, error) {
	if in.ProductSystem == "" {
		return nil, nil, fmt.Errorf("no productSystem provided")
	}
	if in.ImpactMethod == "" {
		return nil, nil, fmt.Errorf("no impactMethod provided")
	}

	if _, err := d.OLCA.Get(ctx, "ProductSystem", in.ProductSystem); err != nil {
		return nil, nil, fmt.Errorf("product system not found: %w", err)
	}
	if _, err := d.OLCA.Get(ctx, "ImpactMethod", in.ImpactMethod); err != nil {
		return nil, nil, fmt.Errorf("impact method not found: %w", err)
	}

	result, err := d.OLCA.Calculate(ctx, olca.CalculationSetup{
		Target:       olca.Ref{Type: "ProductSystem", ID: in.ProductSystem},
		ImpactMethod: &olca.Ref{Type: "ImpactMethod", ID: in.ImpactMethod},
	})
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		if err := result.Dispose(context.WithoutCancel(ctx)); err != nil {
			d.log().WarnContext(ctx, "result dispose failed", "result_id", result.ID(), "err", err)
		}
	}()

	if err := result.WaitReady(ctx, 500*time.Millisecond); err != nil {
		return nil, nil, err
	}
	impacts, err := result.TotalImpacts(ctx)
	if err != nil {
		return nil, nil, err
	}

	type impactRow struct {
		Name  string  `json:"name"`
		Value float64 `json:"value"`
		Unit  string  `json:"unit,omitempty"`
	}
	rows := make([]impactRow, 0, len(impacts))
	for _, iv := range impacts {
		rows = append(rows, impactRow{
			Name:  iv.ImpactCategory.Name,
			Value: iv.Amount,
			Unit:  iv.ImpactCategory.RefUnit,
		})
	}
	return jsonResult(rows)
}

// ListInput is empty; the IPC endpoint is fixed at deployment time.
type ListInput struct{}

func (d *Deps) listDescriptors(ctx context.Context, modelType, emptyMsg string) (*mcp.CallToolResult, any, error) {
	refs, err := d.OLCA.GetDescriptors(ctx, modelType)
	if err != nil {
		return nil, nil, err
	}
	if len(refs) == 0 {
		return nil, nil, fmt.Errorf("%s", emptyMsg)
	}
	return jsonResult(refs)
}

func (d *Deps) listLCIAMethods(ctx context.Context, req *mcp.CallToolRequest, in ListInput) (*mcp.CallToolResult, any, error) {
	return d.listDescriptors(ctx, "ImpactMethod", "no LCIA methods found")
}

func (d *Deps) listSystemProcesses(ctx context.Context, req *mcp.CallToolRequest, in ListInput) (*mcp.CallToolResult, any, error) {
	return d.listDescriptors(ctx, "ProductSystem", "no product systems found")
}

// BOMInput is a pair of quantities to add.
type BOMInput struct {
	A float64 `json:"a" jsonschema:"The first number"`
	B float64 `json:"b" jsonschema:"The second number"`
}

func bomCalculation(ctx context.Context, req *mcp.CallToolRequest, in BOMInput) (*mcp.CallToolResult, any, error) {
	return textResult(strconv.FormatFloat(in.A+in.B, 'f', -1, 64)), nil, nil
}

// guidanceText walks the caller through the calculation workflow. Kept
// in lockstep with the registered openLCA tool names.
const guidanceText = `The workflow to perform LCA calculations using the MCP tool is as follows:
            1. Use the OpenLCA_List_LCIA_Methods_Tool to list all LCIA (Life Cycle Impact Assessment) method UUIDs and their corresponding names.
            2. Use the OpenLCA_List_System_Processes_Tool to list all product system UUIDs and their corresponding names.
            3. Use the OpenLCA_Impact_Assessment_Tool to perform LCA calculations.`

func calculationGuidance(ctx context.Context, req *mcp.CallToolRequest, in ListInput) (*mcp.CallToolResult, any, error) {
	return textResult(guidanceText), nil, nil
}
