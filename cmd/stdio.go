package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/tiangong-lca/mcp-server-go/auth"
	"github.com/tiangong-lca/mcp-server-go/internal/config"
	"github.com/tiangong-lca/mcp-server-go/internal/guide"
	"github.com/tiangong-lca/mcp-server-go/internal/olca"
	"github.com/tiangong-lca/mcp-server-go/internal/supabase"
	"github.com/tiangong-lca/mcp-server-go/internal/tools"
)

var stdioFlags struct {
	configFile  string
	accessToken string
}

var stdioCmd = &cobra.Command{
	Use:   "stdio",
	Short: "Run over stdio for local MCP clients",
	Long: `stdio serves the tool surface over standard input and output.
There is no per-request bearer resolution on this transport; tools
that need a Supabase session use the token from --access-token or
the SUPABASE_ACCESS_TOKEN environment variable.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStdio(cmd.Context())
	},
}

func init() {
	stdioCmd.Flags().StringVarP(&stdioFlags.configFile, "config", "c", "", "path to a YAML config file")
	stdioCmd.Flags().StringVar(&stdioFlags.accessToken, "access-token", "", "Supabase access token for session-scoped tools")
	rootCmd.AddCommand(stdioCmd)
}

func runStdio(ctx context.Context) error {
	cfg, err := config.Load(stdioFlags.configFile)
	if err != nil {
		return err
	}

	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)

	deps := &tools.Deps{
		Log:        log,
		CRUDTable:  cfg.Tools.CRUDTable,
		ESGBaseURL: cfg.Tools.ESGBaseURL,
		XAPIKey:    cfg.Supabase.XAPIKey,
		XRegion:    cfg.Supabase.XRegion,
	}
	if cfg.Supabase.BaseURL != "" {
		deps.Supabase = supabase.New(cfg.Supabase.BaseURL, cfg.Supabase.AnonKey)
	}
	if cfg.OpenLCA.IPCURL != "" {
		deps.OLCA = olca.New(cfg.OpenLCA.IPCURL)
	}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "TianGong-LCA-MCP-Server",
		Version: rootCmd.Version,
	}, nil)
	tools.Register(server, deps)
	guide.Register(server, guide.NewStore(cfg.Tools.GuidanceDir, log))

	token := stdioFlags.accessToken
	if token == "" {
		token = os.Getenv("SUPABASE_ACCESS_TOKEN")
	}
	if token != "" {
		ctx = auth.WithResult(ctx, &auth.Result{
			Authenticated: true,
			Session:       &auth.Session{AccessToken: token},
		})
	}

	log.Info("serving over stdio")
	return server.Run(ctx, &mcp.StdioTransport{})
}
