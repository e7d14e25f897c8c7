// ABOUTME: Entry point for the chess-gateway server
// ABOUTME: Serves the MCP tool-call endpoint, OAuth server, and web views

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/agentchess/chess-gateway/internal/auth"
	"github.com/agentchess/chess-gateway/internal/config"
	"github.com/agentchess/chess-gateway/internal/gateway"
	"github.com/agentchess/chess-gateway/internal/store"
)

// version is set by goreleaser at build time.
var version = "dev"

const banner = `
       _                                    _
   ___| |__   ___  ___ ___        __ _  __ _| |_ _____      ____ _ _   _
  / __| '_ \ / _ \/ __/ __|_____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
 | (__| | | |  __/\__ \__ \_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
  \___|_| |_|\___||___/___/      \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                                 |___/                             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: CHESS_GATEWAY_CONFIG env var > XDG_CONFIG_HOME/chess-gateway/gateway.yaml > ~/.config/chess-gateway/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("CHESS_GATEWAY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "chess-gateway", "gateway.yaml")
}

// getDataPath returns the default data directory.
// Priority: XDG_DATA_HOME/chess-gateway > ~/.local/share/chess-gateway
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "chess-gateway")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: chess-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                Start the gateway server")
		fmt.Println("  init                 Write a starter config file")
		fmt.Println("  session --user NAME  Mint a browser session cookie for a user")
		fmt.Println("  health               Check gateway health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "session":
		err = runSession(ctx)
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	if cfg.OAuth.PublicURL != "" {
		green.Print("    ▶ ")
		fmt.Printf("Public:   %s\n", cfg.OAuth.PublicURL)
	}
	fmt.Println()

	logger.Info("starting chess-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runInit() error {
	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists at %s", configPath)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("generating session secret: %w", err)
	}

	content := fmt.Sprintf(`server:
  http_addr: ":8080"

database:
  path: %q

session:
  jwt_secret: %q
  cookie_name: chess_session
  duration: 168h

oauth:
  # public_url: https://chess.example.com
  # signin_url: https://id.example.com/signin
  allowed_clients: []
  allowed_origins: []
  default_challenge_method: plain

logging:
  level: info
  format: console
`, filepath.Join(getDataPath(), "chess.db"), base64.RawURLEncoding.EncodeToString(secret))

	if err := os.WriteFile(configPath, []byte(content), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	color.New(color.FgGreen).Printf("Created %s\n", configPath)
	return nil
}

// runSession mints a first-party session for a user and prints the
// signed cookie value. Useful for local development and for operators
// acting without the external identity provider.
func runSession(ctx context.Context) error {
	fs := flag.NewFlagSet("session", flag.ExitOnError)
	user := fs.String("user", "", "user id to create the session for")
	if err := fs.Parse(os.Args[2:]); err != nil {
		return err
	}
	if *user == "" {
		return fmt.Errorf("--user is required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	now := time.Now()
	session := &store.Session{
		ID:        uuid.New().String(),
		UserID:    *user,
		CreatedAt: now,
		ExpiresAt: now.Add(cfg.Session.Duration),
	}
	if err := st.CreateSession(ctx, session); err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	signer := auth.NewSessionSigner([]byte(cfg.Session.JWTSecret))
	cookie, err := signer.Sign(*user, session.ID, cfg.Session.Duration)
	if err != nil {
		return fmt.Errorf("signing session token: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("Session created for %s (expires %s)\n", *user, session.ExpiresAt.Format(time.RFC3339))
	fmt.Printf("\nCookie: %s=%s\n", cfg.Session.CookieName, cookie)
	return nil
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
