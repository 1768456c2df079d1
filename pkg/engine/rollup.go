package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/histree-io/histree/pkg/store"
)

const (
	rollupCursorKey = "rollup_hwm_ts"
	rollupBatchSize = 1000
)

// RollupWorker folds raw journal events into hourly activity_stats
// buckets keyed by (bucket, file_id, event_type). It keeps a high-water
// mark in system_state so restarts resume where the last batch ended.
type RollupWorker struct {
	store    *store.Store
	interval time.Duration
}

func NewRollupWorker(st *store.Store, interval time.Duration) *RollupWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &RollupWorker{store: st, interval: interval}
}

func (w *RollupWorker) Run(ctx context.Context) {
	slog.Info("starting rollup worker", "interval", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("rollup worker stopping")
			return
		case <-ticker.C:
			if err := w.ProcessBatch(ctx); err != nil {
				slog.Error("rollup batch failed", "error", err)
			}
		}
	}
}

// ProcessBatch rolls up one batch of events past the high-water mark.
// Exported so tests and the dogfood checker can drive it directly.
func (w *RollupWorker) ProcessBatch(ctx context.Context) error {
	since, err := w.cursor(ctx)
	if err != nil {
		return err
	}

	events, err := w.store.ReadEvents(ctx, since, rollupBatchSize)
	if err != nil {
		return fmt.Errorf("failed to read events: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	type bucketKey struct {
		bucket    time.Time
		fileID    string
		eventType store.EventType
	}
	groups := make(map[bucketKey]int)
	for _, evt := range events {
		k := bucketKey{
			bucket:    evt.TsEvent.UTC().Truncate(time.Hour),
			fileID:    evt.FileID,
			eventType: evt.EventType,
		}
		groups[k]++
	}

	stats := make([]store.ActivityStat, 0, len(groups))
	for k, count := range groups {
		stats = append(stats, store.ActivityStat{
			BucketTs:   k.bucket,
			FileID:     k.fileID,
			EventType:  k.eventType,
			EventCount: count,
		})
	}
	sort.Slice(stats, func(i, j int) bool {
		if !stats[i].BucketTs.Equal(stats[j].BucketTs) {
			return stats[i].BucketTs.Before(stats[j].BucketTs)
		}
		return stats[i].FileID < stats[j].FileID
	})

	if err := w.store.UpsertActivityStats(ctx, stats); err != nil {
		return fmt.Errorf("failed to upsert activity stats: %w", err)
	}

	// Advance the cursor only after the upsert lands. The upsert is
	// additive, so the cursor must move forward exactly once per batch.
	lastTs := events[len(events)-1].TsIngest
	return w.store.SetSystemState(ctx, rollupCursorKey, lastTs.Format(time.RFC3339Nano))
}

func (w *RollupWorker) cursor(ctx context.Context) (time.Time, error) {
	raw, err := w.store.GetSystemState(ctx, rollupCursorKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("failed to get %s: %w", rollupCursorKey, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		slog.Warn("unparsable rollup cursor, restarting from zero", "value", raw)
		return time.Time{}, nil
	}
	return ts, nil
}
