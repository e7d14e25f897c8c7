// ABOUTME: Store interfaces and data types for chess-gateway persistence
// ABOUTME: Defines games, chat, OAuth codes/tokens, and browser sessions

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity doesn't exist.
var ErrNotFound = errors.New("not found")

// ErrCodeUsed is returned when an authorization code has already been
// redeemed. Distinct from ErrNotFound so the token endpoint can log
// replay attempts, though both surface as invalid_grant to clients.
var ErrCodeUsed = errors.New("authorization code already used")

// Game statuses
const (
	GameStatusOpen     = "open"     // waiting for a second player
	GameStatusActive   = "active"   // both seats filled, game in progress
	GameStatusFinished = "finished" // outcome decided
)

// Game represents a chess game between two users.
// Moves are stored in standard algebraic notation in play order; the
// rules engine replays them to reconstruct the position.
type Game struct {
	ID          string
	WhiteID     string
	BlackID     string // empty while the game is open
	Status      string
	Result      string // "1-0", "0-1", "1/2-1/2", empty while undecided
	Termination string // checkmate, stalemate, resignation, draw agreement
	Moves       []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ChatMessage is a single chat line attached to a game.
type ChatMessage struct {
	ID        string
	GameID    string
	UserID    string
	Body      string
	CreatedAt time.Time
}

// AuthCode is a pending OAuth authorization grant. Only the hash of the
// code value is ever persisted.
type AuthCode struct {
	CodeHash        string
	UserID          string
	ClientID        string
	RedirectURI     string
	CodeChallenge   string
	ChallengeMethod string // "S256" or "plain"
	Scope           string
	Resource        string
	CreatedAt       time.Time
	ExpiresAt       time.Time
	UsedAt          *time.Time
}

// AccessToken is an issued bearer credential. Only the hash of the token
// value is ever persisted; lookups are exact hash matches.
type AccessToken struct {
	TokenHash  string
	UserID     string
	ClientID   string
	Scope      string
	Resource   string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	LastUsedAt *time.Time
}

// Session is a first-party browser session. The cookie carries a signed
// token whose sid claim references this row, so logout can revoke it.
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// GameStore defines game and chat persistence.
type GameStore interface {
	CreateGame(ctx context.Context, game *Game) error
	GetGame(ctx context.Context, id string) (*Game, error)
	UpdateGame(ctx context.Context, game *Game) error
	ListGames(ctx context.Context, userID string, limit int) ([]*Game, error)

	SaveChatMessage(ctx context.Context, msg *ChatMessage) error
	GetChatMessages(ctx context.Context, gameID string, limit int) ([]*ChatMessage, error)
}

// OAuthStore defines authorization code and access token persistence.
type OAuthStore interface {
	CreateAuthCode(ctx context.Context, code *AuthCode) error
	GetAuthCode(ctx context.Context, codeHash string) (*AuthCode, error)

	// RedeemAuthCode atomically marks a code used. Returns ErrCodeUsed
	// if the code was already redeemed (including by a concurrent
	// exchange) and ErrNotFound if no such code exists.
	RedeemAuthCode(ctx context.Context, codeHash string) error

	CreateAccessToken(ctx context.Context, token *AccessToken) error

	// GetAccessToken returns the token only while it is unexpired.
	GetAccessToken(ctx context.Context, tokenHash string) (*AccessToken, error)

	// TouchAccessToken stamps last_used_at. Advisory; callers ignore errors.
	TouchAccessToken(ctx context.Context, tokenHash string) error

	DeleteExpiredAuthCodes(ctx context.Context) error
	DeleteExpiredAccessTokens(ctx context.Context) error
}

// SessionStore defines browser session persistence.
type SessionStore interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	DeleteSession(ctx context.Context, id string) error
	DeleteExpiredSessions(ctx context.Context) error
}

// Store combines all persistence interfaces backed by one database.
type Store interface {
	GameStore
	OAuthStore
	SessionStore

	// Ping verifies the underlying connection is usable.
	Ping(ctx context.Context) error

	Close() error
}
