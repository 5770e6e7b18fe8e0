package oauthproxy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func testProxy(t *testing.T, upstream string) *Proxy {
	t.Helper()
	return New(Config{
		BaseURL:       "https://mcp.example.org",
		CognitoDomain: upstream,
		ClientID:      "client-1",
	})
}

func TestServerMetadata(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(testProxy(t, "https://pool.auth.us-east-1.amazoncognito.com").Handler())
	t.Cleanup(srv.Close)

	resp, err := srv.Client().Get(srv.URL + "/oauth-authorization-server")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var meta map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		t.Fatal(err)
	}
	if meta["issuer"] != "https://mcp.example.org/oauth" {
		t.Errorf("issuer = %v", meta["issuer"])
	}
	if meta["token_endpoint"] != "https://mcp.example.org/oauth/token" {
		t.Errorf("token_endpoint = %v", meta["token_endpoint"])
	}
	if meta["revocation_endpoint"] != "https://pool.auth.us-east-1.amazoncognito.com/oauth2/revoke" {
		t.Errorf("revocation_endpoint = %v", meta["revocation_endpoint"])
	}
}

func TestResourceMetadata(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(testProxy(t, "https://upstream").Handler())
	t.Cleanup(srv.Close)

	resp, err := srv.Client().Get(srv.URL + "/oauth-protected-resource")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var meta map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		t.Fatal(err)
	}
	if meta["resource"] != "https://mcp.example.org/mcp" {
		t.Errorf("resource = %v", meta["resource"])
	}
}

func TestAuthorizeRedirect(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(testProxy(t, "https://pool.auth.us-east-1.amazoncognito.com").Handler())
	t.Cleanup(srv.Close)

	client := srv.Client()
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	resp, err := client.Get(srv.URL + "/authorize?state=xyz&code_challenge=abc&code_challenge_method=S256")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(loc.String(), "https://pool.auth.us-east-1.amazoncognito.com/oauth2/authorize") {
		t.Fatalf("location = %s", loc)
	}
	q := loc.Query()
	if q.Get("client_id") != "client-1" || q.Get("state") != "xyz" || q.Get("response_type") != "code" {
		t.Fatalf("query = %v", q)
	}
	if q.Get("redirect_uri") != "https://mcp.example.org/oauth/callback" {
		t.Fatalf("redirect_uri = %q", q.Get("redirect_uri"))
	}
}

func TestTokenExchangeForm(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth2/token" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = r.ParseForm()
		if r.PostForm.Get("code_verifier") != "verifier-1" {
			t.Errorf("code_verifier = %q", r.PostForm.Get("code_verifier"))
		}
		if user, pass, ok := r.BasicAuth(); ok || user != "" || pass != "" {
			t.Error("public client must not send Basic auth")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at", "token_type": "Bearer", "expires_in": 3600,
		})
	}))
	t.Cleanup(upstream.Close)

	srv := httptest.NewServer(testProxy(t, upstream.URL).Handler())
	t.Cleanup(srv.Close)

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {"client-1"},
		"code":          {"code-1"},
		"redirect_uri":  {"https://mcp.example.org/oauth/callback"},
		"code_verifier": {"verifier-1"},
	}
	resp, err := srv.Client().PostForm(srv.URL+"/token", form)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var tokens map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		t.Fatal(err)
	}
	if tokens["access_token"] != "at" {
		t.Fatalf("tokens = %v", tokens)
	}
}

func TestTokenExchangeJSONWithSecret(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client-1" || pass != "s3cret" {
			t.Errorf("basic auth = %q, %q, %v", user, pass, ok)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "at"})
	}))
	t.Cleanup(upstream.Close)

	p := New(Config{
		BaseURL:       "https://mcp.example.org",
		CognitoDomain: upstream.URL,
		ClientID:      "client-1",
		ClientSecret:  "s3cret",
	})
	srv := httptest.NewServer(p.Handler())
	t.Cleanup(srv.Close)

	body := `{"grant_type":"authorization_code","client_id":"client-1","code":"c","redirect_uri":"https://mcp.example.org/oauth/callback","code_verifier":"v"}`
	resp, err := srv.Client().Post(srv.URL+"/token", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestTokenExchangeValidation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(testProxy(t, "https://unused").Handler())
	t.Cleanup(srv.Close)

	cases := []struct {
		name string
		form url.Values
		code string
	}{
		{
			name: "wrong grant type",
			form: url.Values{"grant_type": {"password"}, "client_id": {"client-1"}},
			code: "invalid_request",
		},
		{
			name: "wrong client",
			form: url.Values{"grant_type": {"authorization_code"}, "client_id": {"other"}},
			code: "invalid_client",
		},
		{
			name: "missing code",
			form: url.Values{"grant_type": {"authorization_code"}, "client_id": {"client-1"}},
			code: "invalid_request",
		},
		{
			name: "wrong redirect uri",
			form: url.Values{
				"grant_type": {"authorization_code"}, "client_id": {"client-1"},
				"code": {"c"}, "redirect_uri": {"https://evil/cb"}, "code_verifier": {"v"},
			},
			code: "invalid_request",
		},
		{
			name: "missing verifier",
			form: url.Values{
				"grant_type": {"authorization_code"}, "client_id": {"client-1"},
				"code": {"c"}, "redirect_uri": {"https://mcp.example.org/oauth/callback"},
			},
			code: "invalid_request",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := srv.Client().PostForm(srv.URL+"/token", tc.form)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
			var body map[string]string
			_ = json.NewDecoder(resp.Body).Decode(&body)
			if body["error"] != tc.code {
				t.Fatalf("error = %q, want %q", body["error"], tc.code)
			}
		})
	}
}

func TestCallback(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(testProxy(t, "https://unused").Handler())
	t.Cleanup(srv.Close)

	resp, err := srv.Client().Get(srv.URL + "/callback?code=abc123&state=s1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	buf := make([]byte, 1<<16)
	n, _ := resp.Body.Read(buf)
	if !strings.Contains(string(buf[:n]), "abc123") {
		t.Fatal("callback page missing authorization code")
	}

	resp, err = srv.Client().Get(srv.URL + "/callback?error=access_denied&error_description=nope")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("error callback status = %d", resp.StatusCode)
	}
}
