// ABOUTME: Board snapshot rendering for games
// ABOUTME: Produces an SVG of the current position via notnil/chess/image

package game

import (
	"bytes"
	"context"
	"fmt"
	"image/color"

	"github.com/notnil/chess/image"
)

// SnapshotMIME is the media type of rendered board snapshots.
const SnapshotMIME = "image/svg+xml"

// lastMoveColor highlights the squares of the most recent move.
var lastMoveColor = color.RGBA{R: 255, G: 255, B: 153, A: 255}

// Snapshot renders the current board position as an SVG document.
func (s *Service) Snapshot(ctx context.Context, gameID string) ([]byte, error) {
	g, err := s.getGame(ctx, gameID)
	if err != nil {
		return nil, err
	}

	engine, err := replay(g.Moves)
	if err != nil {
		return nil, err
	}

	var opts []func(*image.Encoder)
	if moves := engine.Moves(); len(moves) > 0 {
		last := moves[len(moves)-1]
		opts = append(opts, image.MarkSquares(lastMoveColor, last.S1(), last.S2()))
	}

	var buf bytes.Buffer
	if err := image.SVG(&buf, engine.Position().Board(), opts...); err != nil {
		return nil, fmt.Errorf("rendering board: %w", err)
	}
	return buf.Bytes(), nil
}
