package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/histree-io/histree/pkg/store"
)

// PruneWorker deletes journal events older than the retention window.
// It is the backstop when no archiver is configured; with an archiver
// wired in, the archiver drains old events to blob storage first and the
// daemon leaves pruning off.
type PruneWorker struct {
	store     *store.Store
	retention time.Duration
	interval  time.Duration
}

func NewPruneWorker(st *store.Store, retention, interval time.Duration) *PruneWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &PruneWorker{store: st, retention: retention, interval: interval}
}

func (w *PruneWorker) Run(ctx context.Context) {
	if w.retention <= 0 {
		slog.Info("pruning disabled")
		return
	}

	slog.Info("starting prune worker", "retention", w.retention, "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Prune(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("prune worker stopping")
			return
		case <-ticker.C:
			w.Prune(ctx)
		}
	}
}

func (w *PruneWorker) Prune(ctx context.Context) {
	if w.retention <= 0 {
		return
	}
	cutoff := time.Now().UTC().Add(-w.retention)
	deleted, err := w.store.PruneEvents(ctx, cutoff)
	if err != nil {
		slog.Error("prune failed", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("pruned journal events", "deleted", deleted, "older_than", w.retention)
	}
}
