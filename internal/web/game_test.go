// ABOUTME: Tests for the server-rendered game page

package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentchess/chess-gateway/internal/game"
	"github.com/agentchess/chess-gateway/internal/store"
)

func newTestHandler(t *testing.T) (*Handler, *game.Service) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	svc := game.NewService(st)
	return NewHandler(svc), svc
}

func TestGamePage(t *testing.T) {
	h, svc := newTestHandler(t)
	ctx := context.Background()

	g, err := svc.CreateGame(ctx, "alice", "white", "bob")
	require.NoError(t, err)

	_, err = svc.Chat(ctx, g.ID, "alice", "good luck **bob**")
	require.NoError(t, err)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/games/"+g.ID, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "alice")
	assert.Contains(t, body, "bob")
	// Chat markdown is rendered to HTML.
	assert.Contains(t, body, "<strong>bob</strong>")
}

func TestGamePageEscapesChatHTML(t *testing.T) {
	h, svc := newTestHandler(t)
	ctx := context.Background()

	g, err := svc.CreateGame(ctx, "alice", "white", "bob")
	require.NoError(t, err)

	_, err = svc.Chat(ctx, g.ID, "alice", `<script>alert(1)</script>`)
	require.NoError(t, err)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/games/"+g.ID, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "<script>alert(1)</script>")
}

func TestBoardSVG(t *testing.T) {
	h, svc := newTestHandler(t)

	g, err := svc.CreateGame(context.Background(), "alice", "white", "bob")
	require.NoError(t, err)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/games/"+g.ID+"/board", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, game.SnapshotMIME, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<svg")
}

func TestGamePageNotFound(t *testing.T) {
	h, _ := newTestHandler(t)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/games/missing", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandler(t)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
