// Package olca is a JSON-RPC 2.0 client for the openLCA IPC server. It
// covers the subset of the protocol the impact-assessment tools need:
// data retrieval, calculation dispatch, result polling, and disposal.
package olca

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// Ref identifies an openLCA dataset. The @type discriminator names the
// model class (ProductSystem, ImpactMethod, Process, ...).
type Ref struct {
	Type        string `json:"@type,omitempty"`
	ID          string `json:"@id,omitempty"`
	Name        string `json:"name,omitempty"`
	Category    string `json:"category,omitempty"`
	Description string `json:"description,omitempty"`
	RefUnit     string `json:"refUnit,omitempty"`
}

// CalculationSetup describes a calculation request for a product
// system or process target.
type CalculationSetup struct {
	Target       Ref     `json:"target"`
	ImpactMethod *Ref    `json:"impactMethod,omitempty"`
	NwSet        *Ref    `json:"nwSet,omitempty"`
	Allocation   string  `json:"allocation,omitempty"`
	Amount       float64 `json:"amount,omitempty"`
	Unit         *Ref    `json:"unit,omitempty"`
	WithCosts    bool    `json:"withCosts,omitempty"`
}

// ResultState is the scheduler's view of a dispatched calculation.
type ResultState struct {
	ID          string `json:"@id"`
	IsReady     bool   `json:"isReady"`
	IsScheduled bool   `json:"isScheduled"`
	Error       string `json:"error,omitempty"`
}

// ImpactValue is one impact category total of a finished calculation.
type ImpactValue struct {
	ImpactCategory Ref     `json:"impactCategory"`
	Amount         float64 `json:"amount"`
}

// Client talks to one openLCA IPC endpoint.
type Client struct {
	url    string
	http   *http.Client
	nextID atomic.Int64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a Client for the IPC server at url, typically
// http://localhost:8080.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:  url,
		http: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type rpcRequest struct {
	JSONRPCVersion string `json:"jsonrpc"`
	Method         string `json:"method"`
	Params         any    `json:"params,omitempty"`
	ID             int64  `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("openlca ipc error %d: %s", e.Code, e.Message)
}

func (c *Client) call(ctx context.Context, method string, params, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPCVersion: "2.0",
		Method:         method,
		Params:         params,
		ID:             c.nextID.Add(1),
	})
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d", method, resp.StatusCode)
	}

	var rr rpcResponse
	if err := json.Unmarshal(raw, &rr); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if rr.Error != nil {
		return rr.Error
	}
	if out != nil {
		if err := json.Unmarshal(rr.Result, out); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
	}
	return nil
}

// GetDescriptors lists all datasets of the given model type.
func (c *Client) GetDescriptors(ctx context.Context, modelType string) ([]Ref, error) {
	var refs []Ref
	err := c.call(ctx, "data/get/descriptors", map[string]string{"@type": modelType}, &refs)
	return refs, err
}

// Get fetches one dataset as raw JSON.
func (c *Client) Get(ctx context.Context, modelType, id string) (json.RawMessage, error) {
	var raw json.RawMessage
	err := c.call(ctx, "data/get", map[string]string{"@type": modelType, "@id": id}, &raw)
	return raw, err
}

// Calculate dispatches a calculation and returns a handle for polling
// its result. The caller owns the handle and must Dispose it.
func (c *Client) Calculate(ctx context.Context, setup CalculationSetup) (*Result, error) {
	var state ResultState
	if err := c.call(ctx, "result/calculate", setup, &state); err != nil {
		return nil, err
	}
	if state.ID == "" {
		return nil, fmt.Errorf("result/calculate: no result id returned")
	}
	return &Result{client: c, id: state.ID}, nil
}

// Result is a handle to a dispatched calculation on the IPC server.
type Result struct {
	client *Client
	id     string
}

// ID returns the server-side result identifier.
func (r *Result) ID() string { return r.id }

// State fetches the current scheduler state.
func (r *Result) State(ctx context.Context) (*ResultState, error) {
	var state ResultState
	if err := r.client.call(ctx, "result/state", map[string]string{"@id": r.id}, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// WaitReady polls the result until it is ready, the calculation fails,
// or the context ends.
func (r *Result) WaitReady(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		state, err := r.State(ctx)
		if err != nil {
			return err
		}
		if state.Error != "" {
			return fmt.Errorf("calculation failed: %s", state.Error)
		}
		if state.IsReady {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// TotalImpacts returns the impact category totals of a ready result.
func (r *Result) TotalImpacts(ctx context.Context) ([]ImpactValue, error) {
	var impacts []ImpactValue
	err := r.client.call(ctx, "result/total-impacts", map[string]string{"@id": r.id}, &impacts)
	return impacts, err
}

// Dispose releases the result on the server. Safe to call on results
// that already failed.
func (r *Result) Dispose(ctx context.Context) error {
	return r.client.call(ctx, "result/dispose", map[string]string{"@id": r.id}, nil)
}
