package studio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"zimage/pkg/types"
)

// Paging defaults for History.
const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 200
)

// History returns succeeded generations newest first and the total count.
func (s *Studio) History(ctx context.Context, limit, offset int) ([]types.HistoryItem, int, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.History(ctx, limit, offset)
}

// DeleteHistory removes a generation and its image file.
func (s *Studio) DeleteHistory(ctx context.Context, id int64) error {
	filename, err := s.store.DeleteGeneration(ctx, id)
	if err != nil {
		return err
	}
	if filename == "" {
		return nil
	}
	path := filepath.Join(s.paths.OutputDir, filepath.Base(filename))
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete associated image file: %w", err)
	}
	return nil
}
