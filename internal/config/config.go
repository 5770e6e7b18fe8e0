// Package config loads server configuration from the environment with
// an optional YAML file overlay. Environment variables are the primary
// source; a config file fills in whatever the environment leaves unset.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"

	"github.com/tiangong-lca/mcp-server-go/internal/cognito"
	cacheredis "github.com/tiangong-lca/mcp-server-go/sessioncache/redis"
)

// Config is the full server configuration.
type Config struct {
	// Host to bind the HTTP listener to. ENV: HOST
	Host string `env:"HOST,default=0.0.0.0" yaml:"host"`
	// Port for the HTTP listener. ENV: PORT
	Port int `env:"PORT,default=9278" yaml:"port"`
	// BaseURL is the externally visible URL of this server, used in
	// OAuth metadata documents. ENV: BASE_URL
	BaseURL string `env:"BASE_URL" yaml:"base_url"`
	// LogLevel is one of debug, info, warn, error. ENV: LOG_LEVEL
	LogLevel string `env:"LOG_LEVEL,default=info" yaml:"log_level"`

	Cognito  CognitoConfig     `yaml:"cognito"`
	Supabase SupabaseConfig    `yaml:"supabase"`
	Redis    cacheredis.Config `yaml:"redis"`
	OpenLCA  OpenLCAConfig     `yaml:"openlca"`
	Tools    ToolsConfig       `yaml:"tools"`
}

// CognitoConfig identifies the user pool and app client that issue
// acceptable JWTs, plus the hosted-UI domain the OAuth proxy fronts.
type CognitoConfig struct {
	// ENV: COGNITO_REGION
	Region string `env:"COGNITO_REGION" yaml:"region"`
	// ENV: COGNITO_USER_POOL_ID
	UserPoolID string `env:"COGNITO_USER_POOL_ID" yaml:"user_pool_id"`
	// ENV: COGNITO_CLIENT_ID
	ClientID string `env:"COGNITO_CLIENT_ID" yaml:"client_id"`
	// ENV: COGNITO_CLIENT_SECRET
	ClientSecret string `env:"COGNITO_CLIENT_SECRET" yaml:"client_secret"`
	// Domain is the hosted-UI domain, like
	// https://example.auth.us-east-1.amazoncognito.com.
	// ENV: COGNITO_DOMAIN
	Domain string `env:"COGNITO_DOMAIN" yaml:"domain"`
}

// Issuer returns the pool's canonical issuer URL.
func (c CognitoConfig) Issuer() string {
	return cognito.Issuer(c.Region, c.UserPoolID)
}

// SupabaseConfig locates the Supabase project backing the API-key and
// opaque-token paths and the edge-function search tools.
type SupabaseConfig struct {
	// ENV: SUPABASE_BASE_URL
	BaseURL string `env:"SUPABASE_BASE_URL" yaml:"base_url"`
	// ENV: SUPABASE_ANON_KEY
	AnonKey string `env:"SUPABASE_ANON_KEY" yaml:"anon_key"`
	// XAPIKey is forwarded to edge functions as x-api-key. ENV: X_API_KEY
	XAPIKey string `env:"X_API_KEY" yaml:"x_api_key"`
	// XRegion is forwarded to edge functions as x-region. ENV: X_REGION
	XRegion string `env:"X_REGION,default=us-east-1" yaml:"x_region"`
}

// OpenLCAConfig locates a local openLCA IPC server.
type OpenLCAConfig struct {
	// ENV: OPENLCA_IPC_URL
	IPCURL string `env:"OPENLCA_IPC_URL,default=http://localhost:8080" yaml:"ipc_url"`
}

// ToolsConfig tunes individual tools.
type ToolsConfig struct {
	// CRUDTable is the PostgREST table the database tool operates on.
	// ENV: CRUD_TABLE
	CRUDTable string `env:"CRUD_TABLE,default=contacts" yaml:"crud_table"`
	// ESGBaseURL is the base URL of the ESG search service. ENV: ESG_BASE_URL
	ESGBaseURL string `env:"ESG_BASE_URL" yaml:"esg_base_url"`
	// GuidanceDir holds the LCA guidance documents served as resources.
	// ENV: GUIDANCE_DIR
	GuidanceDir string `env:"GUIDANCE_DIR" yaml:"guidance_dir"`
}

// Load reads configuration from the environment. When path is
// non-empty, the YAML file there supplies values for fields the
// environment left at their zero value or default.
func Load(path string) (*Config, error) {
	var env Config
	if err := envdecode.Decode(&env); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if path == "" {
		return &env, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var file Config
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	merge(&env, &file)
	return &env, nil
}

// merge fills zero-valued string fields of dst from src. Numeric
// fields keep their env defaults unless explicitly overridden.
func merge(dst, src *Config) {
	setIfEmpty(&dst.BaseURL, src.BaseURL)
	setIfEmpty(&dst.LogLevel, src.LogLevel)
	if src.Port != 0 && os.Getenv("PORT") == "" {
		dst.Port = src.Port
	}
	if src.Host != "" && os.Getenv("HOST") == "" {
		dst.Host = src.Host
	}

	setIfEmpty(&dst.Cognito.Region, src.Cognito.Region)
	setIfEmpty(&dst.Cognito.UserPoolID, src.Cognito.UserPoolID)
	setIfEmpty(&dst.Cognito.ClientID, src.Cognito.ClientID)
	setIfEmpty(&dst.Cognito.ClientSecret, src.Cognito.ClientSecret)
	setIfEmpty(&dst.Cognito.Domain, src.Cognito.Domain)

	setIfEmpty(&dst.Supabase.BaseURL, src.Supabase.BaseURL)
	setIfEmpty(&dst.Supabase.AnonKey, src.Supabase.AnonKey)
	setIfEmpty(&dst.Supabase.XAPIKey, src.Supabase.XAPIKey)
	if src.Supabase.XRegion != "" && os.Getenv("X_REGION") == "" {
		dst.Supabase.XRegion = src.Supabase.XRegion
	}

	setIfEmpty(&dst.Redis.Password, src.Redis.Password)
	setIfEmpty(&dst.Redis.KeyPrefix, src.Redis.KeyPrefix)
	if src.Redis.Addr != "" && os.Getenv("REDIS_ADDR") == "" {
		dst.Redis.Addr = src.Redis.Addr
	}
	if src.Redis.DB != 0 && os.Getenv("REDIS_DB") == "" {
		dst.Redis.DB = src.Redis.DB
	}

	if src.OpenLCA.IPCURL != "" && os.Getenv("OPENLCA_IPC_URL") == "" {
		dst.OpenLCA.IPCURL = src.OpenLCA.IPCURL
	}
	if src.Tools.CRUDTable != "" && os.Getenv("CRUD_TABLE") == "" {
		dst.Tools.CRUDTable = src.Tools.CRUDTable
	}
	setIfEmpty(&dst.Tools.ESGBaseURL, src.Tools.ESGBaseURL)
	setIfEmpty(&dst.Tools.GuidanceDir, src.Tools.GuidanceDir)
}

func setIfEmpty(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

// Validate checks that the fields required by the selected mode are
// present. Cognito-only servers need no Supabase project.
func (c *Config) Validate(cognitoOnly bool) error {
	var missing []string
	if c.Cognito.Region == "" {
		missing = append(missing, "COGNITO_REGION")
	}
	if c.Cognito.UserPoolID == "" {
		missing = append(missing, "COGNITO_USER_POOL_ID")
	}
	if c.Cognito.ClientID == "" {
		missing = append(missing, "COGNITO_CLIENT_ID")
	}
	if !cognitoOnly {
		if c.Supabase.BaseURL == "" {
			missing = append(missing, "SUPABASE_BASE_URL")
		}
		if c.Supabase.AnonKey == "" {
			missing = append(missing, "SUPABASE_ANON_KEY")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ListenAddr returns the host:port pair for the HTTP listener.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
