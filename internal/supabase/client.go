// Package supabase is a minimal client for the Supabase services this
// server depends on: GoTrue password grants and token introspection,
// edge function invocation, and PostgREST table access.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tiangong-lca/mcp-server-go/auth"
)

// Client talks to a single Supabase project. All requests carry the
// project's anon key; per-user authorization is supplied per call.
type Client struct {
	baseURL string
	anonKey string
	http    *http.Client
	now     func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New creates a Client for the project at baseURL.
func New(baseURL, anonKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         gotrueUser `json:"user"`
}

type gotrueUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// SignInWithPassword performs a GoTrue password grant. Credential
// rejections map to auth.ErrInvalidCredentials; transport and server
// failures are returned as plain errors.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*auth.Grant, error) {
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/auth/v1/token?grant_type=password", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.anonKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("supabase token request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("%w: %s", auth.ErrInvalidCredentials, readErrorBody(resp.Body))
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", auth.ErrUserNotFound, readErrorBody(resp.Body))
	default:
		return nil, fmt.Errorf("supabase token request: status %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("supabase token response: %w", err)
	}
	expiresAt := tr.ExpiresAt
	if expiresAt == 0 && tr.ExpiresIn > 0 {
		expiresAt = c.now().Unix() + tr.ExpiresIn
	}
	return &auth.Grant{
		User:         auth.Identity{ID: tr.User.ID, Email: tr.User.Email, Role: tr.User.Role},
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    expiresAt,
	}, nil
}

// GetUser introspects an access token against GoTrue. Unknown or
// rejected tokens map to auth.ErrUserNotFound.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*auth.Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("supabase user request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", auth.ErrUserNotFound, readErrorBody(resp.Body))
	default:
		return nil, fmt.Errorf("supabase user request: status %d", resp.StatusCode)
	}

	var u gotrueUser
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("supabase user response: %w", err)
	}
	return &auth.Identity{ID: u.ID, Email: u.Email, Role: u.Role}, nil
}

// InvokeFunction calls an edge function with the given JSON payload,
// forwarding the caller's access token. The raw response body is
// returned verbatim for the tool layer to interpret.
func (c *Client) InvokeFunction(ctx context.Context, name, accessToken string, payload any, extraHeaders map[string]string) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode function payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/functions/v1/"+url.PathEscape(name), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.anonKey)
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("edge function %s: %w", name, err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("edge function %s: read response: %w", name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("edge function %s: status %d: %s", name, resp.StatusCode, truncate(string(out), 200))
	}
	return out, nil
}

// Table returns a PostgREST accessor for the named table, scoped to the
// caller's access token.
func (c *Client) Table(name, accessToken string) *TableClient {
	return &TableClient{client: c, table: name, accessToken: accessToken}
}

// TableClient performs CRUD against one PostgREST table on behalf of
// one caller. Row-level security in the database enforces ownership;
// this layer only shapes requests.
type TableClient struct {
	client      *Client
	table       string
	accessToken string
}

// Select reads rows matching the given PostgREST filter expressions,
// e.g. "id=eq.42". An empty filter list reads all visible rows.
func (t *TableClient) Select(ctx context.Context, filters ...string) ([]map[string]any, error) {
	q := url.Values{"select": {"*"}}
	u := t.client.baseURL + "/rest/v1/" + url.PathEscape(t.table) + "?" + q.Encode()
	for _, f := range filters {
		u += "&" + f
	}
	body, err := t.do(ctx, http.MethodGet, u, nil, "")
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("postgrest select %s: %w", t.table, err)
	}
	return rows, nil
}

// Insert creates a row and returns the created representation.
func (t *TableClient) Insert(ctx context.Context, row map[string]any) ([]map[string]any, error) {
	u := t.client.baseURL + "/rest/v1/" + url.PathEscape(t.table)
	body, err := t.do(ctx, http.MethodPost, u, row, "return=representation")
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("postgrest insert %s: %w", t.table, err)
	}
	return rows, nil
}

// Update patches rows matching the filters and returns the updated
// representations.
func (t *TableClient) Update(ctx context.Context, row map[string]any, filters ...string) ([]map[string]any, error) {
	u := t.client.baseURL + "/rest/v1/" + url.PathEscape(t.table)
	if len(filters) > 0 {
		u += "?" + strings.Join(filters, "&")
	}
	body, err := t.do(ctx, http.MethodPatch, u, row, "return=representation")
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("postgrest update %s: %w", t.table, err)
	}
	return rows, nil
}

// Delete removes rows matching the filters.
func (t *TableClient) Delete(ctx context.Context, filters ...string) error {
	u := t.client.baseURL + "/rest/v1/" + url.PathEscape(t.table)
	if len(filters) > 0 {
		u += "?" + strings.Join(filters, "&")
	}
	_, err := t.do(ctx, http.MethodDelete, u, nil, "")
	return err
}

func (t *TableClient) do(ctx context.Context, method, u string, payload any, prefer string) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode row: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", t.client.anonKey)
	req.Header.Set("Authorization", "Bearer "+t.accessToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := t.client.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("postgrest %s %s: %w", method, t.table, err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("postgrest %s %s: read response: %w", method, t.table, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("postgrest %s %s: status %d: %s", method, t.table, resp.StatusCode, truncate(string(out), 200))
	}
	return out, nil
}

// readErrorBody extracts a human-readable message from a GoTrue error
// response, falling back to the raw body.
func readErrorBody(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	var e struct {
		Message     string `json:"msg"`
		Description string `json:"error_description"`
	}
	if err := json.Unmarshal(raw, &e); err == nil {
		if e.Message != "" {
			return e.Message
		}
		if e.Description != "" {
			return e.Description
		}
	}
	return truncate(strings.TrimSpace(string(raw)), 200)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

var _ auth.IdentityClient = (*Client)(nil)
