// ABOUTME: The chess tool set exposed over MCP
// ABOUTME: Mutating tools require an authenticated caller; queries are public

package tools

import (
	"context"
	"encoding/json"

	"github.com/agentchess/chess-gateway/internal/auth"
	"github.com/agentchess/chess-gateway/internal/game"
	"github.com/agentchess/chess-gateway/internal/store"
)

// ImageResult is returned by tools whose primary output is media. The
// transport renders it as an image content block with a text fallback.
type ImageResult struct {
	Data     []byte
	MIMEType string

	// Fallback is the structured result used when the client cannot
	// display images, and as the structuredContent of the call.
	Fallback any
}

// gameView is the wire shape for a game returned by mutating tools.
type gameView struct {
	GameID      string `json:"gameId"`
	White       string `json:"white,omitempty"`
	Black       string `json:"black,omitempty"`
	Status      string `json:"status"`
	MoveCount   int    `json:"moveCount"`
	LastMove    string `json:"lastMove,omitempty"`
	Result      string `json:"result,omitempty"`
	Termination string `json:"termination,omitempty"`
}

func viewOf(g *store.Game) gameView {
	v := gameView{
		GameID:      g.ID,
		White:       g.WhiteID,
		Black:       g.BlackID,
		Status:      g.Status,
		MoveCount:   len(g.Moves),
		Result:      g.Result,
		Termination: g.Termination,
	}
	if len(g.Moves) > 0 {
		v.LastMove = g.Moves[len(g.Moves)-1]
	}
	return v
}

// RegisterChessTools wires the chess tool set against the game service.
func RegisterChessTools(r *Registry, svc *game.Service) {
	r.MustRegister(&Tool{
		Name:         "create_game",
		Description:  "Create a new chess game. You are seated as the given color (default white). Pass an opponent user id to start immediately, or leave it empty to open the game for anyone to join.",
		RequiresAuth: true,
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"color": {"type": "string", "description": "Seat to take: white or black. Defaults to white."},
				"opponent": {"type": "string", "description": "User id of the opponent. Optional."}
			}
		}`),
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			id, err := requireUser(ctx)
			if err != nil {
				return nil, err
			}
			g, err := svc.CreateGame(ctx, id, stringArg(args, "color"), stringArg(args, "opponent"))
			if err != nil {
				return nil, err
			}
			return viewOf(g), nil
		},
	})

	r.MustRegister(&Tool{
		Name:         "join_game",
		Description:  "Join an open chess game, taking the vacant seat.",
		RequiresAuth: true,
		InputSchema:  gameIDSchema,
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			id, err := requireUser(ctx)
			if err != nil {
				return nil, err
			}
			g, err := svc.JoinGame(ctx, stringArg(args, "gameId"), id)
			if err != nil {
				return nil, err
			}
			return viewOf(g), nil
		},
	})

	r.MustRegister(&Tool{
		Name:         "move_piece",
		Description:  "Make a move in standard algebraic notation (for example e4, Nf3, O-O, exd5, e8=Q). You must be a player in the game and it must be your turn.",
		RequiresAuth: true,
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"gameId": {"type": "string", "description": "Game identifier."},
				"move": {"type": "string", "description": "Move in standard algebraic notation."}
			},
			"required": ["gameId", "move"]
		}`),
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			id, err := requireUser(ctx)
			if err != nil {
				return nil, err
			}
			g, err := svc.Move(ctx, stringArg(args, "gameId"), id, stringArg(args, "move"))
			if err != nil {
				return nil, err
			}
			return viewOf(g), nil
		},
	})

	r.MustRegister(&Tool{
		Name:         "resign",
		Description:  "Resign a game you are playing. Your opponent wins.",
		RequiresAuth: true,
		InputSchema:  gameIDSchema,
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			id, err := requireUser(ctx)
			if err != nil {
				return nil, err
			}
			g, err := svc.Resign(ctx, stringArg(args, "gameId"), id)
			if err != nil {
				return nil, err
			}
			return viewOf(g), nil
		},
	})

	r.MustRegister(&Tool{
		Name:         "chat",
		Description:  "Post a chat message to a game you are playing. Markdown is supported in the web view.",
		RequiresAuth: true,
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"gameId": {"type": "string", "description": "Game identifier."},
				"message": {"type": "string", "description": "Message body."}
			},
			"required": ["gameId", "message"]
		}`),
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			id, err := requireUser(ctx)
			if err != nil {
				return nil, err
			}
			msg, err := svc.Chat(ctx, stringArg(args, "gameId"), id, stringArg(args, "message"))
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"gameId":    msg.GameID,
				"messageId": msg.ID,
				"postedAt":  msg.CreatedAt,
			}, nil
		},
	})

	r.MustRegister(&Tool{
		Name:        "status",
		Description: "Get the current status of a game: players, whose turn it is, the position as FEN, and the result if finished.",
		ReadOnly:    true,
		InputSchema: gameIDSchema,
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			return svc.Status(ctx, stringArg(args, "gameId"))
		},
	})

	r.MustRegister(&Tool{
		Name:        "history",
		Description: "Get the full move list of a game in standard algebraic notation.",
		ReadOnly:    true,
		InputSchema: gameIDSchema,
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			moves, err := svc.History(ctx, stringArg(args, "gameId"))
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"gameId":    stringArg(args, "gameId"),
				"moves":     moves,
				"moveCount": len(moves),
			}, nil
		},
	})

	r.MustRegister(&Tool{
		Name:        "snapshot",
		Description: "Render the current board position of a game as an SVG image.",
		ReadOnly:    true,
		InputSchema: gameIDSchema,
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			gameID := stringArg(args, "gameId")
			svg, err := svc.Snapshot(ctx, gameID)
			if err != nil {
				return nil, err
			}
			st, err := svc.Status(ctx, gameID)
			if err != nil {
				return nil, err
			}
			return &ImageResult{
				Data:     svg,
				MIMEType: game.SnapshotMIME,
				Fallback: st,
			}, nil
		},
	})

	r.MustRegister(&Tool{
		Name:        "list_games",
		Description: "List games. Pass a user id to see that user's games, or omit it for recent games.",
		ReadOnly:    true,
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"user": {"type": "string", "description": "Filter to games this user plays in. Optional."},
				"limit": {"type": "integer", "description": "Maximum number of games to return. Optional."}
			}
		}`),
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			games, err := svc.List(ctx, stringArg(args, "user"), intArg(args, "limit"))
			if err != nil {
				return nil, err
			}
			views := make([]gameView, len(games))
			for i, g := range games {
				views[i] = viewOf(g)
			}
			return map[string]any{"games": views, "count": len(views)}, nil
		},
	})

	r.MustRegister(&Tool{
		Name:        "chat_history",
		Description: "Get recent chat messages for a game in chronological order.",
		ReadOnly:    true,
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"gameId": {"type": "string", "description": "Game identifier."},
				"limit": {"type": "integer", "description": "Maximum number of messages to return. Optional."}
			},
			"required": ["gameId"]
		}`),
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			msgs, err := svc.ChatHistory(ctx, stringArg(args, "gameId"), intArg(args, "limit"))
			if err != nil {
				return nil, err
			}
			type chatView struct {
				MessageID string `json:"messageId"`
				UserID    string `json:"user"`
				Body      string `json:"message"`
				PostedAt  any    `json:"postedAt"`
			}
			views := make([]chatView, len(msgs))
			for i, m := range msgs {
				views[i] = chatView{MessageID: m.ID, UserID: m.UserID, Body: m.Body, PostedAt: m.CreatedAt}
			}
			return map[string]any{"gameId": stringArg(args, "gameId"), "messages": views}, nil
		},
	})
}

// gameIDSchema is shared by tools whose only argument is the game id.
var gameIDSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"gameId": {"type": "string", "description": "Game identifier."}
	},
	"required": ["gameId"]
}`)

// requireUser returns the caller's user id, or ErrAuthRequired for
// anonymous callers. Tool-level enforcement is the backstop; the
// transport also checks RequiresAuth before dispatch.
func requireUser(ctx context.Context) (string, error) {
	id := auth.FromContext(ctx)
	if id.IsAnonymous() {
		return "", auth.ErrAuthRequired
	}
	return id.UserID, nil
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func intArg(args map[string]any, key string) int {
	f, ok := args[key].(float64)
	if !ok {
		return 0
	}
	return int(f)
}
