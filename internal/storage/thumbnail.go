package storage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"fumen/internal/domain"
)

// Renderer draws the preview image of a board and returns it as a string
// (typically a data URL).
type Renderer interface {
	Thumbnail(ctx context.Context, board domain.Board) (string, error)
}

// NodeWriter applies a partial node update. The active update channel is the
// usual implementation; GraphStore itself also satisfies it.
type NodeWriter interface {
	UpdateNode(ctx context.Context, n domain.Node) error
}

var errNoRenderer = errors.New("no thumbnail renderer configured")

// RefreshThumbnail re-renders the thumbnail of a field node when its board
// digest no longer matches the stored hash, or when no thumbnail exists. The
// update carries the thumbnail and hash only and goes through w, or through
// the store when w is nil.
func (s *GraphStore) RefreshThumbnail(ctx context.Context, id int64, w NodeWriter) error {
	n, err := s.GetNode(ctx, id)
	if err != nil {
		return err
	}
	if n == nil {
		return fmt.Errorf("refresh thumbnail %d: %w", id, domain.ErrNodeNotFound)
	}
	field, ok := n.(domain.FieldNode)
	if !ok {
		return fmt.Errorf("refresh thumbnail %d: %w", id, domain.ErrTypeMismatch)
	}
	if field.ThumbnailFresh() {
		return nil
	}
	if s.renderer == nil {
		return errNoRenderer
	}

	digest := field.Board.Digest()
	thumbnail, err := s.renderer.Thumbnail(ctx, field.Board)
	if err != nil {
		return fmt.Errorf("render thumbnail %d: %w", id, err)
	}
	s.logger.Debug("thumbnail refreshed", zap.Int64("id", id))

	if w == nil {
		w = s
	}
	return w.UpdateNode(ctx, domain.FieldNode{ID: &id, Thumbnail: &thumbnail, Hash: &digest})
}

// RefreshAllThumbnails refreshes every field node in id order and stops at
// the first error.
func (s *GraphStore) RefreshAllThumbnails(ctx context.Context, w NodeWriter) error {
	fields, err := s.Fields(ctx)
	if err != nil {
		return err
	}
	for _, f := range fields {
		if err := s.RefreshThumbnail(ctx, *f.ID, w); err != nil {
			return err
		}
	}
	return nil
}
