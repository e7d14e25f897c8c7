// ABOUTME: Tests for configuration loading, env expansion, and validation

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: /tmp/chess.db
session:
  jwt_secret: super-secret
  duration: 24h
oauth:
  allowed_clients:
    - mcp-client
  default_challenge_method: S256
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "/tmp/chess.db", cfg.Database.Path)
	assert.Equal(t, "super-secret", cfg.Session.JWTSecret)
	assert.Equal(t, 24*time.Hour, cfg.Session.Duration)
	assert.Equal(t, []string{"mcp-client"}, cfg.OAuth.AllowedClients)
	assert.Equal(t, "S256", cfg.OAuth.DefaultChallengeMethod)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: /tmp/chess.db
session:
  jwt_secret: s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultSessionCookie, cfg.Session.CookieName)
	assert.Equal(t, DefaultSessionDuration, cfg.Session.Duration)
	assert.Equal(t, "plain", cfg.OAuth.DefaultChallengeMethod)
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_JWT_SECRET", "from-env")

	path := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: /tmp/chess.db
session:
  jwt_secret: ${TEST_JWT_SECRET}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Session.JWTSecret)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateFailures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing http addr",
			mutate:  func(c *Config) { c.Server.HTTPAddr = "" },
			wantErr: "server.http_addr",
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name:    "missing jwt secret",
			mutate:  func(c *Config) { c.Session.JWTSecret = "" },
			wantErr: "session.jwt_secret",
		},
		{
			name:    "bad challenge method",
			mutate:  func(c *Config) { c.OAuth.DefaultChallengeMethod = "sha1" },
			wantErr: "default_challenge_method",
		},
		{
			name:    "relative public url",
			mutate:  func(c *Config) { c.OAuth.PublicURL = "/not-absolute" },
			wantErr: "public_url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Server:   ServerConfig{HTTPAddr: ":8080"},
				Database: DatabaseConfig{Path: "/tmp/chess.db"},
				Session:  SessionConfig{JWTSecret: "s"},
				OAuth:    OAuthConfig{DefaultChallengeMethod: "plain"},
			}
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestInvalidDuration(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: /tmp/chess.db
session:
  jwt_secret: s
  duration: soon
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duration")
}
