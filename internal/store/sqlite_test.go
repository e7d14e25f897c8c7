// ABOUTME: Tests for the SQLite game and chat store

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testGame(id string) *Game {
	now := time.Now()
	return &Game{
		ID:        id,
		WhiteID:   "alice",
		Status:    GameStatusOpen,
		Moves:     []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestCreateAndGetGame(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	g := testGame("g1")
	require.NoError(t, s.CreateGame(ctx, g))

	got, err := s.GetGame(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.WhiteID)
	assert.Empty(t, got.BlackID)
	assert.Equal(t, GameStatusOpen, got.Status)
	assert.Empty(t, got.Moves)
}

func TestGetGameNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetGame(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateGame(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	g := testGame("g1")
	require.NoError(t, s.CreateGame(ctx, g))

	g.BlackID = "bob"
	g.Status = GameStatusActive
	g.Moves = []string{"e4", "e5"}
	g.UpdatedAt = time.Now()
	require.NoError(t, s.UpdateGame(ctx, g))

	got, err := s.GetGame(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "bob", got.BlackID)
	assert.Equal(t, GameStatusActive, got.Status)
	assert.Equal(t, []string{"e4", "e5"}, got.Moves)
}

func TestUpdateGameNotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.UpdateGame(context.Background(), testGame("missing"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListGamesByUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	g1 := testGame("g1")
	require.NoError(t, s.CreateGame(ctx, g1))

	g2 := testGame("g2")
	g2.WhiteID = "carol"
	g2.BlackID = "alice"
	g2.Status = GameStatusActive
	require.NoError(t, s.CreateGame(ctx, g2))

	g3 := testGame("g3")
	g3.WhiteID = "carol"
	require.NoError(t, s.CreateGame(ctx, g3))

	games, err := s.ListGames(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, games, 2)
	for _, g := range games {
		assert.True(t, g.WhiteID == "alice" || g.BlackID == "alice")
	}

	all, err := s.ListGames(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestListGamesLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"g1", "g2", "g3"} {
		require.NoError(t, s.CreateGame(ctx, testGame(id)))
	}

	games, err := s.ListGames(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, games, 2)
}

func TestChatMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateGame(ctx, testGame("g1")))

	base := time.Now().Add(-time.Minute)
	for i, body := range []string{"first", "second", "third"} {
		msg := &ChatMessage{
			ID:        body,
			GameID:    "g1",
			UserID:    "alice",
			Body:      body,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, s.SaveChatMessage(ctx, msg))
	}

	all, err := s.GetChatMessages(ctx, "g1", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "first", all[0].Body)
	assert.Equal(t, "third", all[2].Body)

	// Limited fetch returns the most recent N, oldest first.
	recent, err := s.GetChatMessages(ctx, "g1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "second", recent[0].Body)
	assert.Equal(t, "third", recent[1].Body)
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}
