// ABOUTME: Configuration loading and parsing for chess-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete chess-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Session  SessionConfig  `yaml:"session"`
	OAuth    OAuthConfig    `yaml:"oauth"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SessionConfig holds first-party browser session configuration
type SessionConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	CookieName string        `yaml:"cookie_name"`
	Duration   time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	DurationRaw string `yaml:"duration"`
}

// OAuthConfig holds OAuth authorization server configuration
type OAuthConfig struct {
	// PublicURL overrides the base URL used in discovery metadata and
	// redirect construction. If empty, forwarded headers or the request
	// origin are used instead.
	PublicURL string `yaml:"public_url"`

	// SigninURL is the external identity provider sign-in page. Callers
	// without a first-party session are redirected here.
	SigninURL string `yaml:"signin_url"`

	// AllowedClients is the client_id allow-list. Empty means allow all.
	AllowedClients []string `yaml:"allowed_clients"`

	// ClientSecrets maps client_id to a bcrypt hash for confidential
	// clients. Public clients (no entry) authenticate with PKCE alone.
	ClientSecrets map[string]string `yaml:"client_secrets"`

	// AllowedOrigins is the set of browser origins that receive CORS
	// headers on the token endpoint.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// DefaultChallengeMethod is applied when an authorize request omits
	// code_challenge_method. Must be "plain" or "S256".
	DefaultChallengeMethod string `yaml:"default_challenge_method"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultSessionCookie is used when session.cookie_name is not configured.
const DefaultSessionCookie = "chess_session"

// DefaultSessionDuration is used when session.duration is not configured.
const DefaultSessionDuration = 7 * 24 * time.Hour

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Session.CookieName == "" {
		cfg.Session.CookieName = DefaultSessionCookie
	}
	if cfg.Session.Duration == 0 {
		cfg.Session.Duration = DefaultSessionDuration
	}
	if cfg.OAuth.DefaultChallengeMethod == "" {
		// Matches the behavior MCP clients already rely on; operators
		// can require S256 by setting this explicitly.
		cfg.OAuth.DefaultChallengeMethod = "plain"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Session.JWTSecret == "" {
		return fmt.Errorf("session.jwt_secret is required")
	}

	if m := c.OAuth.DefaultChallengeMethod; m != "plain" && m != "S256" {
		return fmt.Errorf("oauth.default_challenge_method must be \"plain\" or \"S256\", got %q", m)
	}

	if c.OAuth.PublicURL != "" {
		u, err := url.Parse(c.OAuth.PublicURL)
		if err != nil || !u.IsAbs() {
			return fmt.Errorf("oauth.public_url must be an absolute URL")
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Session.DurationRaw != "" {
		cfg.Session.Duration, err = time.ParseDuration(cfg.Session.DurationRaw)
		if err != nil {
			return fmt.Errorf("parsing session duration %q: %w", cfg.Session.DurationRaw, err)
		}
	}

	return nil
}
