package engine

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/histree-io/histree/pkg/blob"
	"github.com/histree-io/histree/pkg/store"
)

// ArchiveConfig holds configuration for the ArchiveWorker.
type ArchiveConfig struct {
	Retention     time.Duration
	BatchSize     int
	CheckInterval time.Duration
}

// ArchiveWorker drains journal events past the retention window into
// gzipped JSONL segments in blob storage, then deletes them from SQLite.
// Events are gone from the live journal once archived; the readback path
// is the blob store.
type ArchiveWorker struct {
	store     *store.Store
	blobStore blob.Store
	config    ArchiveConfig
}

func NewArchiveWorker(st *store.Store, blobStore blob.Store, config ArchiveConfig) *ArchiveWorker {
	if config.BatchSize <= 0 {
		config.BatchSize = 500
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = 15 * time.Minute
	}
	return &ArchiveWorker{store: st, blobStore: blobStore, config: config}
}

func (w *ArchiveWorker) Run(ctx context.Context) {
	slog.Info("starting archive worker",
		"retention", w.config.Retention,
		"interval", w.config.CheckInterval)

	ticker := time.NewTicker(w.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("archive worker stopping")
			return
		case <-ticker.C:
			if err := w.ProcessBatch(ctx); err != nil {
				slog.Error("archive batch failed", "error", err)
			}
		}
	}
}

// ProcessBatch archives one batch of aged-out events. Exported so tests
// can drive it without the ticker.
func (w *ArchiveWorker) ProcessBatch(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-w.config.Retention)

	events, err := w.store.ReadEventsBefore(ctx, cutoff, w.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to read candidate events: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	var buf bytes.Buffer
	gzWriter := gzip.NewWriter(&buf)
	encoder := json.NewEncoder(gzWriter)
	for _, event := range events {
		if err := encoder.Encode(event); err != nil {
			gzWriter.Close()
			return fmt.Errorf("failed to encode event %s: %w", event.EventID, err)
		}
	}
	if err := gzWriter.Close(); err != nil {
		return fmt.Errorf("failed to close gzip writer: %w", err)
	}

	// Key layout: events/YYYY/MM/DD/<first_ts>_<last_ts>_<uuid>.jsonl.gz
	first := events[0]
	last := events[len(events)-1]
	year, month, day := first.TsIngest.UTC().Date()
	key := fmt.Sprintf("events/%04d/%02d/%02d/%d_%d_%s.jsonl.gz",
		year, month, day,
		first.TsIngest.Unix(),
		last.TsIngest.Unix(),
		uuid.NewString(),
	)

	if err := w.blobStore.Put(ctx, key, &buf); err != nil {
		return fmt.Errorf("failed to upload archive segment: %w", err)
	}

	// Delete only after the segment is durably published. A crash between
	// Put and Delete re-archives the same events into a second segment,
	// which readers tolerate; losing events is never possible.
	ids := make([]string, len(events))
	for i, event := range events {
		ids[i] = event.EventID
	}
	if err := w.store.DeleteEvents(ctx, ids); err != nil {
		return fmt.Errorf("failed to delete archived events: %w", err)
	}

	slog.Info("archived journal segment", "key", key, "events", len(events))
	return nil
}
