// ABOUTME: Chess game domain service: seats, moves, outcomes, and chat
// ABOUTME: Rule legality is delegated to notnil/chess by replaying stored SAN moves

package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/notnil/chess"

	"github.com/agentchess/chess-gateway/internal/store"
)

// Domain errors. These reach MCP clients verbatim as JSON-RPC error
// messages, so they are phrased for the caller.
var (
	ErrGameNotFound    = errors.New("game not found")
	ErrNotAPlayer      = errors.New("you are not a player in this game")
	ErrNotYourTurn     = errors.New("it is not your turn")
	ErrGameNotJoinable = errors.New("game is not open for joining")
	ErrGameFinished    = errors.New("game is already finished")
	ErrGameNotStarted  = errors.New("game is waiting for an opponent")
	ErrSelfJoin        = errors.New("you cannot join your own game")
)

// Status is the queryable summary of a game.
type Status struct {
	GameID      string `json:"gameId"`
	White       string `json:"white"`
	Black       string `json:"black,omitempty"`
	Status      string `json:"status"`
	Turn        string `json:"turn,omitempty"` // "white" or "black" while active
	FEN         string `json:"fen"`
	MoveCount   int    `json:"moveCount"`
	LastMove    string `json:"lastMove,omitempty"`
	Result      string `json:"result,omitempty"`
	Termination string `json:"termination,omitempty"`
}

// Service implements the chess game domain on top of the store.
type Service struct {
	store  store.GameStore
	logger *slog.Logger
}

// NewService creates a game service.
func NewService(s store.GameStore) *Service {
	return &Service{
		store:  s,
		logger: slog.Default().With("component", "game"),
	}
}

// CreateGame creates a game with the creator seated as the given color
// ("white" by default). If opponentID is non-empty the game starts
// immediately; otherwise it is open for anyone to join.
func (s *Service) CreateGame(ctx context.Context, creatorID, color, opponentID string) (*store.Game, error) {
	if creatorID == opponentID && opponentID != "" {
		return nil, errors.New("you cannot play against yourself")
	}

	now := time.Now()
	g := &store.Game{
		ID:        uuid.New().String(),
		Status:    store.GameStatusOpen,
		Moves:     []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	switch color {
	case "", "white":
		g.WhiteID = creatorID
		g.BlackID = opponentID
	case "black":
		g.BlackID = creatorID
		g.WhiteID = opponentID
	default:
		return nil, fmt.Errorf("invalid color %q: must be white or black", color)
	}

	if g.WhiteID != "" && g.BlackID != "" {
		g.Status = store.GameStatusActive
	}

	if err := s.store.CreateGame(ctx, g); err != nil {
		return nil, err
	}

	s.logger.Info("game created", "game_id", g.ID, "creator", creatorID, "status", g.Status)
	return g, nil
}

// JoinGame seats the user in the vacant seat of an open game.
func (s *Service) JoinGame(ctx context.Context, gameID, userID string) (*store.Game, error) {
	g, err := s.getGame(ctx, gameID)
	if err != nil {
		return nil, err
	}

	if g.Status != store.GameStatusOpen {
		return nil, ErrGameNotJoinable
	}
	if g.WhiteID == userID || g.BlackID == userID {
		return nil, ErrSelfJoin
	}

	if g.WhiteID == "" {
		g.WhiteID = userID
	} else {
		g.BlackID = userID
	}
	g.Status = store.GameStatusActive
	g.UpdatedAt = time.Now()

	if err := s.store.UpdateGame(ctx, g); err != nil {
		return nil, err
	}

	s.logger.Info("game joined", "game_id", g.ID, "user", userID)
	return g, nil
}

// Move applies a move in standard algebraic notation for the given user.
// Only the player whose turn it is may move; legality comes from the
// rules engine.
func (s *Service) Move(ctx context.Context, gameID, userID, san string) (*store.Game, error) {
	g, err := s.getGame(ctx, gameID)
	if err != nil {
		return nil, err
	}

	if err := s.checkPlayable(g, userID); err != nil {
		return nil, err
	}

	engine, err := replay(g.Moves)
	if err != nil {
		return nil, err
	}

	if toMove(g, engine) != userID {
		return nil, ErrNotYourTurn
	}

	if err := engine.MoveStr(san); err != nil {
		return nil, fmt.Errorf("illegal move %q: %w", san, err)
	}

	g.Moves = append(g.Moves, san)
	applyOutcome(g, engine)
	g.UpdatedAt = time.Now()

	if err := s.store.UpdateGame(ctx, g); err != nil {
		return nil, err
	}

	s.logger.Debug("move applied", "game_id", g.ID, "user", userID, "san", san, "status", g.Status)
	return g, nil
}

// Resign ends the game with the resigning player losing.
func (s *Service) Resign(ctx context.Context, gameID, userID string) (*store.Game, error) {
	g, err := s.getGame(ctx, gameID)
	if err != nil {
		return nil, err
	}

	if err := s.checkPlayable(g, userID); err != nil {
		return nil, err
	}

	engine, err := replay(g.Moves)
	if err != nil {
		return nil, err
	}

	if userID == g.WhiteID {
		engine.Resign(chess.White)
	} else {
		engine.Resign(chess.Black)
	}

	applyOutcome(g, engine)
	g.UpdatedAt = time.Now()

	if err := s.store.UpdateGame(ctx, g); err != nil {
		return nil, err
	}

	s.logger.Info("game resigned", "game_id", g.ID, "user", userID, "result", g.Result)
	return g, nil
}

// Status returns the queryable summary of a game.
func (s *Service) Status(ctx context.Context, gameID string) (*Status, error) {
	g, err := s.getGame(ctx, gameID)
	if err != nil {
		return nil, err
	}

	engine, err := replay(g.Moves)
	if err != nil {
		return nil, err
	}

	st := &Status{
		GameID:      g.ID,
		White:       g.WhiteID,
		Black:       g.BlackID,
		Status:      g.Status,
		FEN:         engine.Position().String(),
		MoveCount:   len(g.Moves),
		Result:      g.Result,
		Termination: g.Termination,
	}
	if len(g.Moves) > 0 {
		st.LastMove = g.Moves[len(g.Moves)-1]
	}
	if g.Status == store.GameStatusActive {
		if engine.Position().Turn() == chess.White {
			st.Turn = "white"
		} else {
			st.Turn = "black"
		}
	}

	return st, nil
}

// History returns the move list in standard algebraic notation.
func (s *Service) History(ctx context.Context, gameID string) ([]string, error) {
	g, err := s.getGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return g.Moves, nil
}

// List returns games for a user, or recent games when userID is empty.
func (s *Service) List(ctx context.Context, userID string, limit int) ([]*store.Game, error) {
	return s.store.ListGames(ctx, userID, limit)
}

// Chat posts a chat message. Only seated players may chat in a game.
func (s *Service) Chat(ctx context.Context, gameID, userID, body string) (*store.ChatMessage, error) {
	g, err := s.getGame(ctx, gameID)
	if err != nil {
		return nil, err
	}

	if g.WhiteID != userID && g.BlackID != userID {
		return nil, ErrNotAPlayer
	}

	msg := &store.ChatMessage{
		ID:        uuid.New().String(),
		GameID:    gameID,
		UserID:    userID,
		Body:      body,
		CreatedAt: time.Now(),
	}
	if err := s.store.SaveChatMessage(ctx, msg); err != nil {
		return nil, err
	}

	return msg, nil
}

// ChatHistory returns the most recent chat messages in chronological order.
func (s *Service) ChatHistory(ctx context.Context, gameID string, limit int) ([]*store.ChatMessage, error) {
	if _, err := s.getGame(ctx, gameID); err != nil {
		return nil, err
	}
	return s.store.GetChatMessages(ctx, gameID, limit)
}

func (s *Service) getGame(ctx context.Context, gameID string) (*store.Game, error) {
	g, err := s.store.GetGame(ctx, gameID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrGameNotFound
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

// checkPlayable verifies the game is active and the user holds a seat.
func (s *Service) checkPlayable(g *store.Game, userID string) error {
	if g.WhiteID != userID && g.BlackID != userID {
		return ErrNotAPlayer
	}
	switch g.Status {
	case store.GameStatusFinished:
		return ErrGameFinished
	case store.GameStatusOpen:
		return ErrGameNotStarted
	}
	return nil
}

// replay reconstructs the engine state from the stored move list.
// Stored moves were validated at append time, so a replay failure means
// corrupted state rather than caller error.
func replay(moves []string) (*chess.Game, error) {
	engine := chess.NewGame()
	for i, san := range moves {
		if err := engine.MoveStr(san); err != nil {
			return nil, fmt.Errorf("replaying move %d (%q): %w", i+1, san, err)
		}
	}
	return engine, nil
}

// toMove returns the user id of the player whose turn it is.
func toMove(g *store.Game, engine *chess.Game) string {
	if engine.Position().Turn() == chess.White {
		return g.WhiteID
	}
	return g.BlackID
}

// applyOutcome copies the engine's outcome onto the game record if the
// game has been decided.
func applyOutcome(g *store.Game, engine *chess.Game) {
	if engine.Outcome() == chess.NoOutcome {
		return
	}
	g.Status = store.GameStatusFinished
	g.Result = engine.Outcome().String()
	g.Termination = strings.ToLower(engine.Method().String())
}
