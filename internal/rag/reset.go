package rag

import (
	"context"
	"fmt"
	"log/slog"
)

// Reset clears the store before a full re-index: enumerate every stored ID,
// delete them in batches, then verify the store reads back empty. Residual
// records after the delete pass are logged but do not fail the reset —
// re-indexing upserts over them anyway. Only a failed enumeration is fatal,
// since the caller cannot know the store's state.
func Reset(ctx context.Context, store VectorStore, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}

	ids, err := store.AllIDs(ctx)
	if err != nil {
		return fmt.Errorf("reset: enumerate records: %w", err)
	}
	if len(ids) == 0 {
		log.Debug("reset: store already empty")
		return nil
	}

	log.Info("reset: clearing store", slog.Int("records", len(ids)))
	if err := store.Delete(ctx, ids); err != nil {
		log.Warn("reset: delete reported failure", slog.Any("error", err))
	}

	remaining, err := store.AllIDs(ctx)
	if err != nil {
		log.Warn("reset: verification enumeration failed", slog.Any("error", err))
		return nil
	}
	if len(remaining) > 0 {
		log.Warn("reset: residual records after delete",
			slog.Int("remaining", len(remaining)))
	}
	return nil
}
