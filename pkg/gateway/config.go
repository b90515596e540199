// Package gateway assembles the MCP gateway: configuration, the inbound MCP
// server with its middleware stack and built-in tools, and the dynamic proxy
// plane that forwards calls to downstream servers.
package gateway

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so config values parse from duration strings
// ("30s", "10m") instead of nanosecond integers.
type Duration time.Duration

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	*d = Duration(dur)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds the complete gateway configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	IDP        IDPConfig        `yaml:"idp"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Downstream DownstreamConfig `yaml:"downstream"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Session    SessionConfig    `yaml:"session"`
	Audit      AuditConfig      `yaml:"audit"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig configures the inbound MCP endpoint.
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Address string `yaml:"address"`
	MCPPath string `yaml:"mcp_path"`

	// ResourceMetadataURL is advertised in WWW-Authenticate challenges so
	// MCP clients can discover the authorization server per RFC 9728. When
	// set, the server also publishes the protected resource metadata
	// document at /.well-known/oauth-protected-resource.
	ResourceMetadataURL string `yaml:"resource_metadata_url"`
}

// IDPConfig configures the identity provider: inbound token verification
// and RFC 8693 token exchange.
type IDPConfig struct {
	IssuerURL       string `yaml:"issuer_url"`
	GatewayAudience string `yaml:"gateway_audience"`

	// ClientID and ClientSecret authenticate the gateway itself to the
	// token endpoint for exchange requests.
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`

	// JWKSURI and TokenURL default to the issuer's standard Keycloak
	// endpoints when empty.
	JWKSURI  string `yaml:"jwks_uri"`
	TokenURL string `yaml:"token_url"`

	JWKSRefreshTTL     Duration `yaml:"jwks_refresh_ttl"`
	Timeout            Duration `yaml:"timeout"`
	AlgorithmAllowlist []string `yaml:"algorithm_allowlist"`
	RoleClaimPath      string   `yaml:"role_claim_path"`
}

// ExchangeConfig configures exchanged-token caching.
type ExchangeConfig struct {
	CacheEnabled bool     `yaml:"cache_enabled"`
	CacheMaxTTL  Duration `yaml:"cache_max_ttl"`
}

// DownstreamConfig configures outbound MCP client behavior.
type DownstreamConfig struct {
	Timeout          Duration `yaml:"timeout"`
	ListToolsTimeout Duration `yaml:"list_tools_timeout"`
}

// CatalogConfig locates the downstream server catalog.
type CatalogConfig struct {
	Path string `yaml:"path"`
}

// SessionConfig configures session lifetime and expiry sweeping.
type SessionConfig struct {
	TTL             Duration `yaml:"ttl"`
	CleanupInterval Duration `yaml:"cleanup_interval"`
}

// AuditConfig configures audit logging.
type AuditConfig struct {
	Enabled      bool `yaml:"enabled"`
	LogToolCalls bool `yaml:"log_tool_calls"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json", "text"
}

// LoadConfig loads gateway configuration from a YAML file. Values of the
// form ${VAR} are expanded from the environment before parsing, so secrets
// stay out of the file itself.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- config path is intentionally user-provided
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

// expandEnvVars replaces ${VAR} references with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		return os.Getenv(name)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = "mcp-gateway"
	}
	if c.Server.Version == "" {
		c.Server.Version = "1.0.0"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.MCPPath == "" {
		c.Server.MCPPath = "/mcp"
	}
	if c.IDP.JWKSURI == "" && c.IDP.IssuerURL != "" {
		c.IDP.JWKSURI = issuerEndpoint(c.IDP.IssuerURL, "certs")
	}
	if c.IDP.TokenURL == "" && c.IDP.IssuerURL != "" {
		c.IDP.TokenURL = issuerEndpoint(c.IDP.IssuerURL, "token")
	}
	if c.IDP.JWKSRefreshTTL == 0 {
		c.IDP.JWKSRefreshTTL = Duration(10 * time.Minute)
	}
	if c.IDP.Timeout == 0 {
		c.IDP.Timeout = Duration(5 * time.Second)
	}
	if len(c.IDP.AlgorithmAllowlist) == 0 {
		c.IDP.AlgorithmAllowlist = []string{"RS256"}
	}
	if c.IDP.RoleClaimPath == "" {
		c.IDP.RoleClaimPath = "realm_access.roles"
	}
	if c.Exchange.CacheMaxTTL == 0 {
		c.Exchange.CacheMaxTTL = Duration(5 * time.Minute)
	}
	if c.Downstream.Timeout == 0 {
		c.Downstream.Timeout = Duration(30 * time.Second)
	}
	if c.Downstream.ListToolsTimeout == 0 {
		c.Downstream.ListToolsTimeout = Duration(60 * time.Second)
	}
	if c.Session.TTL == 0 {
		c.Session.TTL = Duration(30 * time.Minute)
	}
	if c.Session.CleanupInterval == 0 {
		c.Session.CleanupInterval = Duration(5 * time.Minute)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// issuerEndpoint builds a Keycloak protocol endpoint URL from the issuer.
func issuerEndpoint(issuer, leaf string) string {
	return strings.TrimSuffix(issuer, "/") + "/protocol/openid-connect/" + leaf
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.IDP.IssuerURL == "" {
		errs = append(errs, "idp.issuer_url is required")
	}
	if c.IDP.GatewayAudience == "" {
		errs = append(errs, "idp.gateway_audience is required")
	}
	if c.IDP.ClientID == "" {
		errs = append(errs, "idp.client_id is required")
	}
	if c.IDP.ClientSecret == "" {
		errs = append(errs, "idp.client_secret is required")
	}
	if c.Catalog.Path == "" {
		errs = append(errs, "catalog.path is required")
	}
	if !strings.HasPrefix(c.Server.MCPPath, "/") {
		errs = append(errs, fmt.Sprintf("server.mcp_path must start with /, got %q", c.Server.MCPPath))
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("logging.format must be json or text, got %q", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
