// Package httpserver wires the HTTP surface: the streamable MCP
// endpoint behind bearer authentication, health and metrics endpoints,
// and the OAuth proxy router.
package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/tiangong-lca/mcp-server-go/auth"
	"github.com/tiangong-lca/mcp-server-go/internal/logctx"
	"github.com/tiangong-lca/mcp-server-go/internal/metrics"
)

// rpcError is the JSON-RPC shaped error body returned outside the MCP
// session, matching what streamable HTTP clients expect on transport
// level failures.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcErrorBody struct {
	JSONRPC string   `json:"jsonrpc"`
	Error   rpcError `json:"error"`
	ID      any      `json:"id"`
}

func writeRPCError(w http.ResponseWriter, status, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(rpcErrorBody{
		JSONRPC: "2.0",
		Error:   rpcError{Code: code, Message: message},
		ID:      nil,
	})
}

// Options configures the HTTP surface.
type Options struct {
	Log           *slog.Logger
	Authenticator auth.Authenticator
	Server        *mcp.Server
	Metrics       *metrics.Collector
	Gatherer      prometheus.Gatherer

	// OAuth, when non-nil, is mounted at /oauth plus the well-known
	// metadata paths it serves.
	OAuth http.Handler

	// RateLimit is the per-principal request rate. Zero disables
	// limiting.
	RateLimit rate.Limit
	RateBurst int
}

// New builds the router.
func New(opts Options) http.Handler {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(requestLogger(log))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	if opts.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(opts.Gatherer))
	}

	if opts.OAuth != nil {
		r.Mount("/oauth", opts.OAuth)
		r.Mount("/.well-known", opts.OAuth)
	}

	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return opts.Server
	}, &mcp.StreamableHTTPOptions{Stateless: true})

	limiter := newPrincipalLimiter(opts.RateLimit, opts.RateBurst)

	r.Route("/mcp", func(r chi.Router) {
		r.Post("/", bearerAuth(log, opts.Authenticator, opts.Metrics, limiter, mcpHandler))
		methodNotAllowed := func(w http.ResponseWriter, req *http.Request) {
			writeRPCError(w, http.StatusMethodNotAllowed, -32000, "Method not allowed.")
		}
		r.Get("/", methodNotAllowed)
		r.Delete("/", methodNotAllowed)
	})

	return r
}

// requestLogger assigns a request id and records request context for
// the logctx handler.
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			reqID := req.Header.Get("X-Request-Id")
			if reqID == "" {
				reqID = uuid.NewString()
			}
			ctx := logctx.WithRequestData(req.Context(), &logctx.RequestData{
				RequestID:  reqID,
				Method:     req.Method,
				UserAgent:  req.UserAgent(),
				RemoteAddr: req.RemoteAddr,
				Path:       req.URL.Path,
			})
			w.Header().Set("X-Request-Id", reqID)

			start := time.Now()
			next.ServeHTTP(w, req.WithContext(ctx))
			log.DebugContext(ctx, "request handled", "duration_ms", time.Since(start).Milliseconds())
		})
	}
}

// bearerAuth resolves the Authorization header through the hybrid
// authenticator before admitting the request to the MCP handler.
func bearerAuth(log *slog.Logger, authenticator auth.Authenticator, m *metrics.Collector, limiter *principalLimiter, next http.Handler) http.HandlerFunc {
	if log == nil {
		log = slog.Default()
	}
	return func(w http.ResponseWriter, req *http.Request) {
		header := req.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeRPCError(w, http.StatusUnauthorized, -32001, "Missing or invalid authorization header")
			return
		}
		bearer := strings.TrimSpace(header[len("Bearer "):])
		if bearer == "" {
			writeRPCError(w, http.StatusUnauthorized, -32001, "Missing or invalid authorization header")
			return
		}

		kind := auth.Classify(bearer).String()
		res, err := authenticator.Authenticate(req.Context(), bearer)
		if err != nil {
			m.RecordAuthAttempt(kind, "error")
			log.ErrorContext(req.Context(), "authentication failed", "kind", kind, "err", err)
			writeRPCError(w, http.StatusInternalServerError, -32603, "Internal server error")
			return
		}
		if res == nil || !res.Authenticated {
			m.RecordAuthAttempt(kind, "rejected")
			msg := "Forbidden"
			if res != nil && res.Response != "" {
				msg = res.Response
			}
			writeRPCError(w, http.StatusForbidden, -32002, msg)
			return
		}
		m.RecordAuthAttempt(kind, "success")

		if limiter != nil && !limiter.allow(res.UserID) {
			writeRPCError(w, http.StatusTooManyRequests, -32029, "Too many requests")
			return
		}

		ctx := auth.WithResult(req.Context(), res)
		ctx = logctx.WithAuthData(ctx, &logctx.AuthData{Kind: kind, UserID: res.UserID})
		next.ServeHTTP(w, req.WithContext(ctx))
	}
}

// principalLimiter keeps one token bucket per authenticated principal.
type principalLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newPrincipalLimiter(limit rate.Limit, burst int) *principalLimiter {
	if limit <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &principalLimiter{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (p *principalLimiter) allow(principal string) bool {
	p.mu.Lock()
	l, ok := p.limiters[principal]
	if !ok {
		l = rate.NewLimiter(p.limit, p.burst)
		p.limiters[principal] = l
	}
	p.mu.Unlock()
	return l.Allow()
}
