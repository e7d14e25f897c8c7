// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides game/chat/OAuth persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	// Pragmas above are per-connection; a single pooled connection keeps
	// them in effect and serializes writers instead of returning SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS games (
			id          TEXT PRIMARY KEY,
			white_id    TEXT NOT NULL,
			black_id    TEXT,
			status      TEXT NOT NULL DEFAULT 'open',
			result      TEXT,
			termination TEXT,
			moves_json  TEXT NOT NULL DEFAULT '[]',
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL,

			CHECK (status IN ('open', 'active', 'finished'))
		);

		CREATE INDEX IF NOT EXISTS idx_games_white ON games(white_id);
		CREATE INDEX IF NOT EXISTS idx_games_black ON games(black_id);
		CREATE INDEX IF NOT EXISTS idx_games_updated ON games(updated_at DESC);

		CREATE TABLE IF NOT EXISTS chat_messages (
			id         TEXT PRIMARY KEY,
			game_id    TEXT NOT NULL REFERENCES games(id),
			user_id    TEXT NOT NULL,
			body       TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_chat_game ON chat_messages(game_id, created_at);

		-- OAuth authorization codes. Only hashes are stored; a code is
		-- spent by setting used_at exactly once.
		CREATE TABLE IF NOT EXISTS oauth_codes (
			code_hash        TEXT PRIMARY KEY,
			user_id          TEXT NOT NULL,
			client_id        TEXT NOT NULL,
			redirect_uri     TEXT NOT NULL,
			code_challenge   TEXT NOT NULL,
			challenge_method TEXT NOT NULL,
			scope            TEXT NOT NULL,
			resource         TEXT,
			created_at       TEXT NOT NULL,
			expires_at       TEXT NOT NULL,
			used_at          TEXT,

			CHECK (challenge_method IN ('S256', 'plain'))
		);

		CREATE INDEX IF NOT EXISTS idx_oauth_codes_expires ON oauth_codes(expires_at);

		CREATE TABLE IF NOT EXISTS oauth_tokens (
			token_hash   TEXT PRIMARY KEY,
			user_id      TEXT NOT NULL,
			client_id    TEXT NOT NULL,
			scope        TEXT NOT NULL,
			resource     TEXT,
			created_at   TEXT NOT NULL,
			expires_at   TEXT NOT NULL,
			last_used_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_oauth_tokens_expires ON oauth_tokens(expires_at);

		-- First-party browser sessions (cookie-based)
		CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			created_at TEXT NOT NULL,
			expires_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
		CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Ping verifies the database connection is usable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// CreateGame creates a new game row.
func (s *SQLiteStore) CreateGame(ctx context.Context, game *Game) error {
	movesJSON, err := json.Marshal(game.Moves)
	if err != nil {
		return fmt.Errorf("encoding moves: %w", err)
	}

	query := `
		INSERT INTO games (id, white_id, black_id, status, result, termination, moves_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		game.ID,
		game.WhiteID,
		nullString(game.BlackID),
		game.Status,
		nullString(game.Result),
		nullString(game.Termination),
		string(movesJSON),
		game.CreatedAt.UTC().Format(time.RFC3339),
		game.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting game: %w", err)
	}

	s.logger.Debug("created game", "id", game.ID, "white", game.WhiteID)
	return nil
}

// GetGame retrieves a game by ID.
// Returns ErrNotFound if the game doesn't exist.
func (s *SQLiteStore) GetGame(ctx context.Context, id string) (*Game, error) {
	query := `
		SELECT id, white_id, black_id, status, result, termination, moves_json, created_at, updated_at
		FROM games
		WHERE id = ?
	`

	row := s.db.QueryRowContext(ctx, query, id)
	game, err := scanGame(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying game: %w", err)
	}
	return game, nil
}

// UpdateGame updates an existing game's seats, status, outcome, and moves.
// Returns ErrNotFound if the game doesn't exist.
func (s *SQLiteStore) UpdateGame(ctx context.Context, game *Game) error {
	movesJSON, err := json.Marshal(game.Moves)
	if err != nil {
		return fmt.Errorf("encoding moves: %w", err)
	}

	query := `
		UPDATE games
		SET white_id = ?, black_id = ?, status = ?, result = ?, termination = ?, moves_json = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		game.WhiteID,
		nullString(game.BlackID),
		game.Status,
		nullString(game.Result),
		nullString(game.Termination),
		string(movesJSON),
		game.UpdatedAt.UTC().Format(time.RFC3339),
		game.ID,
	)
	if err != nil {
		return fmt.Errorf("updating game: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated game", "id", game.ID, "status", game.Status)
	return nil
}

// ListGames retrieves games ordered by most recent activity. When userID
// is non-empty only games where the user holds a seat are returned;
// otherwise open and recently active games are listed.
// If limit is 0 or negative, a default limit of 50 is used.
func (s *SQLiteStore) ListGames(ctx context.Context, userID string, limit int) ([]*Game, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	var query string
	var args []any

	if userID != "" {
		query = `
			SELECT id, white_id, black_id, status, result, termination, moves_json, created_at, updated_at
			FROM games
			WHERE white_id = ? OR black_id = ?
			ORDER BY updated_at DESC
			LIMIT ?
		`
		args = []any{userID, userID, limit}
	} else {
		query = `
			SELECT id, white_id, black_id, status, result, termination, moves_json, created_at, updated_at
			FROM games
			ORDER BY updated_at DESC
			LIMIT ?
		`
		args = []any{limit}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying games: %w", err)
	}
	defer rows.Close()

	var games []*Game
	for rows.Next() {
		game, err := scanGame(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning game row: %w", err)
		}
		games = append(games, game)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating game rows: %w", err)
	}

	return games, nil
}

// scanGame scans one game row via the given scan function.
func scanGame(scan func(...any) error) (*Game, error) {
	var game Game
	var blackID, result, termination sql.NullString
	var movesJSON, createdAtStr, updatedAtStr string

	if err := scan(
		&game.ID,
		&game.WhiteID,
		&blackID,
		&game.Status,
		&result,
		&termination,
		&movesJSON,
		&createdAtStr,
		&updatedAtStr,
	); err != nil {
		return nil, err
	}

	game.BlackID = blackID.String
	game.Result = result.String
	game.Termination = termination.String

	if err := json.Unmarshal([]byte(movesJSON), &game.Moves); err != nil {
		return nil, fmt.Errorf("decoding moves: %w", err)
	}

	var err error
	game.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	game.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &game, nil
}

// SaveChatMessage saves a chat message to the database
func (s *SQLiteStore) SaveChatMessage(ctx context.Context, msg *ChatMessage) error {
	query := `
		INSERT INTO chat_messages (id, game_id, user_id, body, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.GameID,
		msg.UserID,
		msg.Body,
		msg.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting chat message: %w", err)
	}

	s.logger.Debug("saved chat message", "id", msg.ID, "game_id", msg.GameID)
	return nil
}

// GetChatMessages retrieves messages for a game, limited to the most recent
// `limit` messages, returned in chronological order (oldest first).
// If limit is 0 or negative, all messages are returned.
func (s *SQLiteStore) GetChatMessages(ctx context.Context, gameID string, limit int) ([]*ChatMessage, error) {
	var query string
	var args []any

	if limit > 0 {
		// Get the N most recent messages, but return them in chronological order
		query = `
			SELECT id, game_id, user_id, body, created_at
			FROM (
				SELECT id, game_id, user_id, body, created_at
				FROM chat_messages
				WHERE game_id = ?
				ORDER BY created_at DESC
				LIMIT ?
			)
			ORDER BY created_at ASC
		`
		args = []any{gameID, limit}
	} else {
		query = `
			SELECT id, game_id, user_id, body, created_at
			FROM chat_messages
			WHERE game_id = ?
			ORDER BY created_at ASC
		`
		args = []any{gameID}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying chat messages: %w", err)
	}
	defer rows.Close()

	var messages []*ChatMessage
	for rows.Next() {
		var msg ChatMessage
		var createdAtStr string

		if err := rows.Scan(&msg.ID, &msg.GameID, &msg.UserID, &msg.Body, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning chat message row: %w", err)
		}

		msg.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}

		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chat message rows: %w", err)
	}

	return messages, nil
}

// nullString returns nil for empty strings, otherwise the string itself
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
