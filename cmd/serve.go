package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tiangong-lca/mcp-server-go/auth"
	"github.com/tiangong-lca/mcp-server-go/internal/cognito"
	"github.com/tiangong-lca/mcp-server-go/internal/config"
	"github.com/tiangong-lca/mcp-server-go/internal/guide"
	"github.com/tiangong-lca/mcp-server-go/internal/httpserver"
	"github.com/tiangong-lca/mcp-server-go/internal/logctx"
	"github.com/tiangong-lca/mcp-server-go/internal/metrics"
	"github.com/tiangong-lca/mcp-server-go/internal/oauthproxy"
	"github.com/tiangong-lca/mcp-server-go/internal/olca"
	"github.com/tiangong-lca/mcp-server-go/internal/supabase"
	"github.com/tiangong-lca/mcp-server-go/internal/tools"
	"github.com/tiangong-lca/mcp-server-go/sessioncache"
	"github.com/tiangong-lca/mcp-server-go/sessioncache/memory"
	cacheredis "github.com/tiangong-lca/mcp-server-go/sessioncache/redis"
)

var serveFlags struct {
	configFile  string
	cognitoOnly bool
	rateLimit   float64
	rateBurst   int
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the streamable HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveFlags.configFile, "config", "c", "", "path to a YAML config file")
	serveCmd.Flags().BoolVar(&serveFlags.cognitoOnly, "cognito-only", false, "accept only Cognito-issued JWTs")
	serveCmd.Flags().Float64Var(&serveFlags.rateLimit, "rate-limit", 0, "per-principal requests per second (0 disables)")
	serveCmd.Flags().IntVar(&serveFlags.rateBurst, "rate-burst", 10, "per-principal burst size")
	rootCmd.AddCommand(serveCmd)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	base := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logctx.Handler{Handler: base})
}

func runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(serveFlags.configFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(serveFlags.cognitoOnly); err != nil {
		return err
	}

	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	var cache sessioncache.Cache
	if redisCache, err := cacheredis.New(cfg.Redis); err != nil {
		log.Warn("redis unavailable, using in-process session cache", "err", err)
		cache = memory.New()
	} else {
		cache = redisCache
	}
	defer cache.Close()
	cache = metrics.InstrumentCache(cache, collector)

	verifierCfg := cognito.DefaultConfig()
	verifierCfg.Issuer = cfg.Cognito.Issuer()
	verifierCfg.ClientID = cfg.Cognito.ClientID
	verifier, err := cognito.NewFromDiscovery(ctx, verifierCfg)
	if err != nil {
		return fmt.Errorf("cognito verifier: %w", err)
	}

	var authenticator auth.Authenticator
	deps := &tools.Deps{
		Log:        log,
		CRUDTable:  cfg.Tools.CRUDTable,
		ESGBaseURL: cfg.Tools.ESGBaseURL,
		XAPIKey:    cfg.Supabase.XAPIKey,
		XRegion:    cfg.Supabase.XRegion,
	}

	if serveFlags.cognitoOnly {
		authenticator = auth.NewCognito(verifier,
			auth.WithStrictIssuer(),
			auth.WithClaimsCache(cache),
			auth.WithCognitoLogger(log),
		)
	} else {
		sb := supabase.New(cfg.Supabase.BaseURL, cfg.Supabase.AnonKey)
		deps.Supabase = sb
		authenticator = auth.NewHybrid(verifier, sb, cache, auth.WithLogger(log))
	}

	if cfg.OpenLCA.IPCURL != "" {
		deps.OLCA = olca.New(cfg.OpenLCA.IPCURL)
	}

	deps.Metrics = collector

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "TianGong-LCA-MCP-Server",
		Version: rootCmd.Version,
	}, nil)
	tools.Register(server, deps)

	store := guide.NewStore(cfg.Tools.GuidanceDir, log)
	guide.Register(server, store)

	var oauthHandler http.Handler
	if cfg.Cognito.Domain != "" {
		oauthHandler = oauthproxy.New(oauthproxy.Config{
			BaseURL:       cfg.BaseURL,
			CognitoDomain: cfg.Cognito.Domain,
			ClientID:      cfg.Cognito.ClientID,
			ClientSecret:  cfg.Cognito.ClientSecret,
		}, oauthproxy.WithLogger(log)).Handler()
	}

	handler := httpserver.New(httpserver.Options{
		Log:           log,
		Authenticator: authenticator,
		Server:        server,
		Metrics:       collector,
		Gatherer:      reg,
		OAuth:         oauthHandler,
		RateLimit:     rate.Limit(serveFlags.rateLimit),
		RateBurst:     serveFlags.rateBurst,
	})

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", "addr", httpSrv.Addr, "cognito_only", serveFlags.cognitoOnly)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return store.Watch(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("shut down")
	return nil
}
