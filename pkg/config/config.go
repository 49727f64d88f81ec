package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

// Config holds all configuration for ekaya-connect.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys, client secrets) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3480"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	// FrontendURL is where users land after the OAuth callback. Defaults to BaseURL.
	FrontendURL string `yaml:"frontend_url" env:"FRONTEND_URL" env-default:""`

	// TLS configuration (optional - if both provided, server uses HTTPS)
	TLSCertPath string `yaml:"tls_cert_path" env:"TLS_CERT_PATH" env-default:""`
	TLSKeyPath  string `yaml:"tls_key_path" env:"TLS_KEY_PATH" env-default:""`

	// Authentication of end users (JWTs issued by the external identity provider)
	Auth AuthConfig `yaml:"auth"`

	// CookieDomain is the domain for the OAuth return_to session cookie (optional).
	CookieDomain string `yaml:"cookie_domain" env:"COOKIE_DOMAIN" env-default:""`

	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`

	Providers ProvidersConfig `yaml:"providers"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// CredentialsKey encrypts integration secrets at rest.
	// Generate with: openssl rand -base64 32
	CredentialsKey string `yaml:"-" env:"CREDENTIALS_KEY"` // Secret - not in YAML

	// OAuthStateSecret signs OAuth state values.
	OAuthStateSecret string `yaml:"-" env:"OAUTH_STATE_SECRET"` // Secret - not in YAML

	// SessionSecret signs the short-lived OAuth session cookie.
	SessionSecret string `yaml:"-" env:"SESSION_SECRET"` // Secret - not in YAML
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// EnableVerification controls whether JWT tokens are validated.
	// Set to false for local development without auth server.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`

	// JWKSEndpointsStr is a comma-separated list of issuer=jwks_url pairs.
	// Format: "issuer1=url1,issuer2=url2"
	JWKSEndpointsStr string `yaml:"jwks_endpoints" env:"JWKS_ENDPOINTS" env-default:"https://auth.ekaya.ai=https://auth.ekaya.ai/.well-known/jwks.json"`

	// JWKSEndpoints is the parsed map from JWKSEndpointsStr (not from config file).
	JWKSEndpoints map[string]string `yaml:"-"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ekaya"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"ekaya_connect"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig configures the optional OAuth state nonce store.
// When Host is empty nonces are kept in process memory.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// Enabled reports whether a Redis host is configured.
func (r *RedisConfig) Enabled() bool {
	return r.Host != ""
}

// Addr returns host:port.
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// ProvidersConfig holds provider transport settings and platform-default credentials.
type ProvidersConfig struct {
	// OverridesPath points at an optional YAML file re-pointing provider endpoints.
	OverridesPath string `yaml:"overrides_path" env:"PROVIDER_OVERRIDES_PATH" env-default:""`

	// RequestTimeout bounds every outbound provider call.
	RequestTimeout time.Duration `yaml:"request_timeout" env:"PROVIDER_REQUEST_TIMEOUT" env-default:"15s"`

	// CallbackBaseURL is the external base URL providers redirect back to. Defaults to BaseURL.
	CallbackBaseURL string `yaml:"callback_base_url" env:"OAUTH_CALLBACK_BASE_URL" env-default:""`

	GitHub         OAuthClientConfig `yaml:"github" env-prefix:"GITHUB_"`
	GitLab         OAuthClientConfig `yaml:"gitlab" env-prefix:"GITLAB_"`
	Bitbucket      OAuthClientConfig `yaml:"bitbucket" env-prefix:"BITBUCKET_"`
	GoogleCalendar OAuthClientConfig `yaml:"google_calendar" env-prefix:"GOOGLE_"`
	CalCom         OAuthClientConfig `yaml:"calcom" env-prefix:"CALCOM_"`
	Zoom           OAuthClientConfig `yaml:"zoom" env-prefix:"ZOOM_"`
	Slack          OAuthClientConfig `yaml:"slack" env-prefix:"SLACK_"`
	MicrosoftTeams OAuthClientConfig `yaml:"microsoft_teams" env-prefix:"MICROSOFT_"`

	OpenAIAPIKey    string `yaml:"-" env:"OPENAI_API_KEY"`    // Secret - not in YAML
	AnthropicAPIKey string `yaml:"-" env:"ANTHROPIC_API_KEY"` // Secret - not in YAML
}

// OAuthClientConfig is a platform OAuth application.
type OAuthClientConfig struct {
	ClientID     string `yaml:"client_id" env:"CLIENT_ID" env-default:""`
	ClientSecret string `yaml:"-" env:"CLIENT_SECRET"` // Secret - not in YAML
	APIKey       string `yaml:"-" env:"API_KEY"`       // Secret - not in YAML
}

// TelemetryConfig configures product analytics.
type TelemetryConfig struct {
	// PostHogAPIKey enables telemetry when set.
	PostHogAPIKey   string `yaml:"-" env:"POSTHOG_API_KEY"` // Secret - not in YAML
	PostHogEndpoint string `yaml:"posthog_endpoint" env:"POSTHOG_ENDPOINT" env-default:"https://us.i.posthog.com"`
}

// Enabled reports whether an analytics key is configured.
func (t *TelemetryConfig) Enabled() bool {
	return t.PostHogAPIKey != ""
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	return LoadFrom("config.yaml", version)
}

// LoadFrom is Load with an explicit config file path.
func LoadFrom(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	// Parse complex fields
	cfg.Auth.JWKSEndpoints = parseJWKSEndpoints(cfg.Auth.JWKSEndpointsStr)

	if err := cfg.validateTLS(); err != nil {
		return nil, fmt.Errorf("invalid TLS configuration: %w", err)
	}
	if err := cfg.validateSecrets(); err != nil {
		return nil, err
	}

	// Auto-derive BaseURL from Port if not explicitly set
	// Use HTTPS scheme if TLS is configured
	if cfg.BaseURL == "" {
		scheme := "http"
		if cfg.TLSCertPath != "" {
			scheme = "https"
		}
		cfg.BaseURL = (&url.URL{
			Scheme: scheme,
			Host:   "localhost:" + cfg.Port,
		}).String()
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.FrontendURL == "" {
		cfg.FrontendURL = cfg.BaseURL
	}
	if cfg.Providers.CallbackBaseURL == "" {
		cfg.Providers.CallbackBaseURL = cfg.BaseURL
	}
	cfg.Providers.CallbackBaseURL = strings.TrimSuffix(cfg.Providers.CallbackBaseURL, "/")

	cfg.Database.Host = resolveHostForDocker(cfg.Database.Host)
	cfg.Redis.Host = resolveHostForDocker(cfg.Redis.Host)

	return cfg, nil
}

// validateTLS ensures TLS configuration is valid if provided.
// Both cert and key must be provided together, and files must exist.
func (c *Config) validateTLS() error {
	certSet := c.TLSCertPath != ""
	keySet := c.TLSKeyPath != ""

	if certSet != keySet {
		return fmt.Errorf("both tls_cert_path and tls_key_path must be provided together")
	}
	if certSet {
		if _, err := os.Stat(c.TLSCertPath); err != nil {
			return fmt.Errorf("TLS cert file does not exist: %w", err)
		}
		if _, err := os.Stat(c.TLSKeyPath); err != nil {
			return fmt.Errorf("TLS key file does not exist: %w", err)
		}
	}
	return nil
}

// validateSecrets requires the keys without which integration data cannot be protected.
func (c *Config) validateSecrets() error {
	var errs []error
	if c.CredentialsKey == "" {
		errs = append(errs, errors.New("CREDENTIALS_KEY is required"))
	}
	if c.OAuthStateSecret == "" {
		errs = append(errs, errors.New("OAUTH_STATE_SECRET is required"))
	}
	if c.Providers.RequestTimeout <= 0 {
		errs = append(errs, errors.New("providers.request_timeout must be positive"))
	}
	return errors.Join(errs...)
}

// PlatformDefaults builds the read-only platform credential table handed to the resolver.
func (c *Config) PlatformDefaults() *models.PlatformDefaults {
	p := c.Providers
	oauthCreds := func(o OAuthClientConfig) models.PlatformCredentials {
		return models.PlatformCredentials{ClientID: o.ClientID, ClientSecret: o.ClientSecret, APIKey: o.APIKey}
	}
	return models.NewPlatformDefaults(p.CallbackBaseURL, map[string]models.PlatformCredentials{
		models.ProviderGitHub:         oauthCreds(p.GitHub),
		models.ProviderGitLab:         oauthCreds(p.GitLab),
		models.ProviderBitbucket:      oauthCreds(p.Bitbucket),
		models.ProviderGoogleCalendar: oauthCreds(p.GoogleCalendar),
		models.ProviderCalCom:         oauthCreds(p.CalCom),
		models.ProviderZoom:           oauthCreds(p.Zoom),
		models.ProviderSlack:          oauthCreds(p.Slack),
		models.ProviderMicrosoftTeams: oauthCreds(p.MicrosoftTeams),
		models.ProviderOpenAI:         {APIKey: p.OpenAIAPIKey},
		models.ProviderAnthropic:      {APIKey: p.AnthropicAPIKey},
	})
}

// IsLocal reports whether the service runs in a developer environment.
func (c *Config) IsLocal() bool {
	return c.Env == "local" || c.Env == "test"
}

// parseJWKSEndpoints parses the JWKS endpoints string into a map.
// Format: "issuer1=url1,issuer2=url2"
func parseJWKSEndpoints(value string) map[string]string {
	endpoints := make(map[string]string)
	if value == "" {
		return endpoints
	}

	for _, pair := range strings.Split(value, ",") {
		issuer, jwksURL, ok := strings.Cut(pair, "=")
		if ok {
			endpoints[strings.TrimSpace(issuer)] = strings.TrimSpace(jwksURL)
		}
	}
	return endpoints
}

// URL returns the database as a postgres:// URL for golang-migrate.
func (c *DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     c.Database,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	return u.String()
}

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// resolveHostForDocker rewrites loopback hosts to host.docker.internal inside a container
// so locally running Postgres and Redis stay reachable.
func resolveHostForDocker(host string) string {
	isDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	if isDockerResult && (host == "localhost" || host == "127.0.0.1") {
		return "host.docker.internal"
	}
	return host
}
