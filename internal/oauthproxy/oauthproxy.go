// Package oauthproxy fronts the Cognito hosted UI with the OAuth
// surface MCP clients expect: RFC 8414 authorization-server metadata,
// RFC 9728 protected-resource metadata, an authorize redirect, a PKCE
// token exchange proxy, and a callback landing page.
package oauthproxy

import (
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/go-chi/chi/v5"
)

// Config locates the upstream Cognito app client and this server's
// externally visible URL.
type Config struct {
	// BaseURL is the public URL of this server, without trailing slash.
	BaseURL string
	// CognitoDomain is the hosted-UI domain, like
	// https://example.auth.us-east-1.amazoncognito.com.
	CognitoDomain string
	ClientID      string
	ClientSecret  string
	// RedirectURI defaults to BaseURL + "/oauth/callback".
	RedirectURI string
}

// Proxy implements the OAuth endpoints.
type Proxy struct {
	cfg  Config
	log  *slog.Logger
	http *http.Client
}

// Option configures a Proxy.
type Option func(*Proxy)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(p *Proxy) { p.log = log }
}

// WithHTTPClient overrides the upstream HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(p *Proxy) { p.http = hc }
}

// New creates the proxy.
func New(cfg Config, opts ...Option) *Proxy {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.CognitoDomain = strings.TrimRight(cfg.CognitoDomain, "/")
	if cfg.RedirectURI == "" {
		cfg.RedirectURI = cfg.BaseURL + "/oauth/callback"
	}
	p := &Proxy{
		cfg:  cfg,
		log:  slog.Default(),
		http: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handler returns the router. It serves both the /oauth/* endpoints
// and the /.well-known/* metadata documents, so it is mounted at both
// prefixes.
func (p *Proxy) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(cors)

	r.Get("/oauth-authorization-server", p.serverMetadata)
	r.Get("/oauth-protected-resource", p.resourceMetadata)

	r.Get("/authorize", p.authorize)
	r.Post("/token", p.token)
	r.Get("/callback", p.callback)

	return r
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (p *Proxy) serverMetadata(w http.ResponseWriter, req *http.Request) {
	issuer := p.cfg.BaseURL + "/oauth"
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                issuer,
		"authorization_endpoint":                issuer + "/authorize",
		"token_endpoint":                        issuer + "/token",
		"revocation_endpoint":                   p.cfg.CognitoDomain + "/oauth2/revoke",
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token"},
		"code_challenge_methods_supported":      []string{"S256"},
		"scopes_supported":                      []string{"openid", "email", "profile"},
		"token_endpoint_auth_methods_supported": []string{"client_secret_post", "none"},
		"service_documentation":                 "https://docs.aws.amazon.com/cognito/",
	})
}

func (p *Proxy) resourceMetadata(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"resource":              p.cfg.BaseURL + "/mcp",
		"authorization_servers": []string{p.cfg.BaseURL + "/oauth"},
		"bearer_methods_supported": []string{
			"header",
		},
	})
}

// authorize forwards the client to the hosted UI, preserving the query
// string and pinning the redirect back to this server.
func (p *Proxy) authorize(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	if q.Get("client_id") == "" {
		q.Set("client_id", p.cfg.ClientID)
	}
	if q.Get("redirect_uri") == "" {
		q.Set("redirect_uri", p.cfg.RedirectURI)
	}
	if q.Get("response_type") == "" {
		q.Set("response_type", "code")
	}
	http.Redirect(w, req, p.cfg.CognitoDomain+"/oauth2/authorize?"+q.Encode(), http.StatusFound)
}

type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	Code         string `json:"code"`
	RedirectURI  string `json:"redirect_uri"`
	CodeVerifier string `json:"code_verifier"`
	RefreshToken string `json:"refresh_token"`
}

// parseTokenRequest accepts both form-encoded and JSON bodies.
func parseTokenRequest(req *http.Request) (*tokenRequest, error) {
	mt, err := contenttype.GetMediaType(req)
	if err != nil {
		return nil, fmt.Errorf("missing content type")
	}
	switch {
	case mt.Type == "application" && mt.Subtype == "json":
		var tr tokenRequest
		if err := json.NewDecoder(req.Body).Decode(&tr); err != nil {
			return nil, fmt.Errorf("invalid JSON body")
		}
		return &tr, nil
	case mt.Type == "application" && mt.Subtype == "x-www-form-urlencoded":
		if err := req.ParseForm(); err != nil {
			return nil, fmt.Errorf("invalid form body")
		}
		return &tokenRequest{
			GrantType:    req.PostForm.Get("grant_type"),
			ClientID:     req.PostForm.Get("client_id"),
			Code:         req.PostForm.Get("code"),
			RedirectURI:  req.PostForm.Get("redirect_uri"),
			CodeVerifier: req.PostForm.Get("code_verifier"),
			RefreshToken: req.PostForm.Get("refresh_token"),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported content type %s/%s", mt.Type, mt.Subtype)
	}
}

// token validates the PKCE exchange request and proxies it upstream,
// attaching the client secret for confidential clients.
func (p *Proxy) token(w http.ResponseWriter, req *http.Request) {
	tr, err := parseTokenRequest(req)
	if err != nil {
		oauthError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	if tr.ClientID != p.cfg.ClientID {
		oauthError(w, http.StatusBadRequest, "invalid_client", "Invalid or missing client_id")
		return
	}

	params := url.Values{
		"client_id": {p.cfg.ClientID},
	}
	switch tr.GrantType {
	case "authorization_code":
		if tr.Code == "" {
			oauthError(w, http.StatusBadRequest, "invalid_request", "Missing authorization code")
			return
		}
		if tr.RedirectURI != p.cfg.RedirectURI {
			oauthError(w, http.StatusBadRequest, "invalid_request", "Invalid redirect_uri")
			return
		}
		if tr.CodeVerifier == "" {
			oauthError(w, http.StatusBadRequest, "invalid_request", "Missing code_verifier for PKCE")
			return
		}
		params.Set("grant_type", "authorization_code")
		params.Set("code", tr.Code)
		params.Set("redirect_uri", tr.RedirectURI)
		params.Set("code_verifier", tr.CodeVerifier)
	case "refresh_token":
		if tr.RefreshToken == "" {
			oauthError(w, http.StatusBadRequest, "invalid_request", "Missing refresh_token")
			return
		}
		params.Set("grant_type", "refresh_token")
		params.Set("refresh_token", tr.RefreshToken)
	default:
		oauthError(w, http.StatusBadRequest, "invalid_request", "Invalid or missing grant_type")
		return
	}

	upstream, err := http.NewRequestWithContext(req.Context(), http.MethodPost,
		p.cfg.CognitoDomain+"/oauth2/token", strings.NewReader(params.Encode()))
	if err != nil {
		oauthError(w, http.StatusInternalServerError, "server_error", "Internal server error during token exchange")
		return
	}
	upstream.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	upstream.Header.Set("Accept", "application/json")
	if p.cfg.ClientSecret != "" {
		upstream.SetBasicAuth(p.cfg.ClientID, p.cfg.ClientSecret)
	}

	resp, err := p.http.Do(upstream)
	if err != nil {
		p.log.ErrorContext(req.Context(), "token exchange failed", "err", err)
		oauthError(w, http.StatusInternalServerError, "server_error", "Internal server error during token exchange")
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		oauthError(w, http.StatusInternalServerError, "server_error", "Internal server error during token exchange")
		return
	}
	if resp.StatusCode != http.StatusOK {
		p.log.WarnContext(req.Context(), "upstream rejected token exchange", "status", resp.StatusCode)
		oauthError(w, resp.StatusCode, "invalid_grant", "Token exchange failed: "+string(body))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

// callback renders a landing page carrying the authorization code. The
// actual exchange happens client-side where the PKCE verifier lives.
func (p *Proxy) callback(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	if e := q.Get("error"); e != "" {
		http.Error(w, fmt.Sprintf("OAuth Error: %s - %s", e, q.Get("error_description")), http.StatusBadRequest)
		return
	}
	code := q.Get("code")
	if code == "" {
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, callbackPage, html.EscapeString(code), html.EscapeString(code), html.EscapeString(q.Get("state")))
}

const callbackPage = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>Authentication Successful - Tiangong LCA MCP</title>
</head>
<body>
  <h1>Authentication Successful</h1>
  <p>Your OAuth authorization has been completed. Exchange the code
  below for an access token using your stored PKCE verifier.</p>
  <pre>%s</pre>
  <script>
    if (window.opener) {
      window.opener.postMessage({
        type: 'oauth_success',
        code: '%s',
        state: '%s'
      }, '*');
    }
  </script>
</body>
</html>
`

func oauthError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
