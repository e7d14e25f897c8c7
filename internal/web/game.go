// ABOUTME: Server-rendered spectator view for games
// ABOUTME: Shows the board SVG, move list, and markdown-rendered chat

package web

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/yuin/goldmark"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/agentchess/chess-gateway/internal/game"
)

// Handler serves the read-only web pages.
type Handler struct {
	games    *game.Service
	markdown goldmark.Markdown
	tmpl     *template.Template
	logger   *slog.Logger
}

// NewHandler creates the web handler.
func NewHandler(games *game.Service) *Handler {
	return &Handler{
		games: games,
		// Raw HTML in chat is never passed through; goldmark escapes it
		// unless WithUnsafe is set, which we deliberately do not.
		markdown: goldmark.New(goldmark.WithRendererOptions(gmhtml.WithHardWraps())),
		tmpl:     template.Must(template.New("game").Parse(gamePageTemplate)),
		logger:   slog.Default().With("component", "web"),
	}
}

// RegisterRoutes registers the web routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/games/", h.handleGamePage)
	mux.HandleFunc("/health", h.handleHealth)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"ok"}`)
}

// handleGamePage renders /games/{id}. Appending /board serves the raw SVG.
func (h *Handler) handleGamePage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/games/")
	gameID, sub, _ := strings.Cut(strings.TrimSuffix(rest, "/"), "/")
	if gameID == "" {
		http.NotFound(w, r)
		return
	}

	if sub == "board" {
		h.serveBoard(w, r, gameID)
		return
	}
	if sub != "" {
		http.NotFound(w, r)
		return
	}

	st, err := h.games.Status(r.Context(), gameID)
	if err != nil {
		h.renderError(w, err)
		return
	}

	moves, err := h.games.History(r.Context(), gameID)
	if err != nil {
		h.renderError(w, err)
		return
	}

	msgs, err := h.games.ChatHistory(r.Context(), gameID, 100)
	if err != nil {
		h.renderError(w, err)
		return
	}

	type chatEntry struct {
		User string
		Body template.HTML
	}
	chat := make([]chatEntry, len(msgs))
	for i, m := range msgs {
		var buf bytes.Buffer
		if err := h.markdown.Convert([]byte(m.Body), &buf); err != nil {
			// Degrade to escaped plain text on conversion failure.
			buf.Reset()
			template.HTMLEscape(&buf, []byte(m.Body))
		}
		chat[i] = chatEntry{User: m.UserID, Body: template.HTML(buf.String())}
	}

	data := map[string]any{
		"Status": st,
		"Moves":  moves,
		"Chat":   chat,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.tmpl.Execute(w, data); err != nil {
		h.logger.Warn("failed to render game page", "error", err)
	}
}

func (h *Handler) serveBoard(w http.ResponseWriter, r *http.Request, gameID string) {
	svg, err := h.games.Snapshot(r.Context(), gameID)
	if err != nil {
		h.renderError(w, err)
		return
	}
	w.Header().Set("Content-Type", game.SnapshotMIME)
	_, _ = w.Write(svg)
}

func (h *Handler) renderError(w http.ResponseWriter, err error) {
	if errors.Is(err, game.ErrGameNotFound) {
		http.Error(w, "game not found", http.StatusNotFound)
		return
	}
	h.logger.Error("web request failed", "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

const gamePageTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Game {{.Status.GameID}}</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 960px; margin: 2rem auto; padding: 0 1rem; }
.board { float: left; margin-right: 2rem; }
.meta dt { font-weight: bold; }
.chat { clear: both; border-top: 1px solid #ccc; padding-top: 1rem; }
.chat .user { font-weight: bold; margin-right: .5rem; }
.moves { font-family: monospace; }
</style>
</head>
<body>
<h1>{{.Status.White}} vs {{if .Status.Black}}{{.Status.Black}}{{else}}(open seat){{end}}</h1>
<img class="board" src="/games/{{.Status.GameID}}/board" alt="board" width="360" height="360">
<dl class="meta">
<dt>Status</dt><dd>{{.Status.Status}}{{if .Status.Result}} ({{.Status.Result}}, {{.Status.Termination}}){{end}}</dd>
{{if .Status.Turn}}<dt>To move</dt><dd>{{.Status.Turn}}</dd>{{end}}
<dt>Position</dt><dd class="moves">{{.Status.FEN}}</dd>
</dl>
<h2>Moves</h2>
<p class="moves">{{range $i, $m := .Moves}}{{$m}} {{end}}</p>
<div class="chat">
<h2>Chat</h2>
{{range .Chat}}<div><span class="user">{{.User}}</span>{{.Body}}</div>{{else}}<p>No messages yet.</p>{{end}}
</div>
</body>
</html>
`
