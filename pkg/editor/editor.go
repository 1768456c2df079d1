// Package editor implements the client side of the change-delivery
// protocol: poll the pending queue, handle entries oldest-first, then
// acknowledge exactly the contiguous prefix that was handled. Anything
// unacknowledged is redelivered on the next poll, so handlers should
// tolerate seeing a change twice.
package editor

import (
	"context"
	"log/slog"
	"time"

	"github.com/histree-io/histree/pkg/client"
)

const defaultInterval = 2 * time.Second

// Handler consumes one pending change. Returning an error stops the
// current pass; everything handled before the failure is still
// acknowledged.
type Handler func(change client.Change) error

// Config tunes an Editor. Zero values get working defaults.
type Config struct {
	FileID   string
	Interval time.Duration
	Handler  Handler
	Backoff  client.BackoffStrategy
	Logger   *slog.Logger
}

// Editor drives the poll-and-apply loop for one file.
type Editor struct {
	cli      *client.Client
	fileID   string
	interval time.Duration
	handler  Handler
	backoff  client.BackoffStrategy
	logger   *slog.Logger
}

func New(cli *client.Client, cfg Config) *Editor {
	e := &Editor{
		cli:      cli,
		fileID:   cfg.FileID,
		interval: cfg.Interval,
		handler:  cfg.Handler,
		backoff:  cfg.Backoff,
		logger:   cfg.Logger,
	}
	if e.interval <= 0 {
		e.interval = defaultInterval
	}
	if e.backoff == nil {
		e.backoff = client.DefaultBackoff()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.handler == nil {
		log := e.logger
		e.handler = func(ch client.Change) error {
			log.Info("change", "mode", ch.Mode, "node_id", ch.NodeID, "delta", string(ch.Delta))
			return nil
		}
	}
	return e
}

// ProcessOnce runs a single poll-handle-acknowledge pass and returns how
// many changes were handled. A handler failure mid-queue still
// acknowledges the prefix handled so far; the rest stays queued.
func (e *Editor) ProcessOnce(ctx context.Context) (int, error) {
	changes, err := e.cli.Changes(ctx, e.fileID)
	if err != nil {
		return 0, err
	}
	if len(changes) == 0 {
		return 0, nil
	}

	handled := 0
	var handleErr error
	for _, ch := range changes {
		if err := e.handler(ch); err != nil {
			handleErr = err
			break
		}
		handled++
	}
	if handled == 0 {
		return 0, handleErr
	}

	ids := make([]string, handled)
	for i := 0; i < handled; i++ {
		ids[i] = changes[i].NodeID
	}
	if _, err := e.cli.Ack(ctx, e.fileID, ids); err != nil {
		// Handled but not acknowledged; the server redelivers next poll.
		return handled, err
	}
	return handled, handleErr
}

// Run polls until ctx is done. Transient failures never end the loop,
// they stretch the interval with exponential backoff until a pass
// succeeds again.
func (e *Editor) Run(ctx context.Context) {
	e.logger.Info("starting editor loop", "file_id", e.fileID, "interval", e.interval)

	failures := 0
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("editor loop stopping", "file_id", e.fileID)
			return
		case <-timer.C:
		}

		n, err := e.ProcessOnce(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			e.logger.Info("editor loop stopping", "file_id", e.fileID)
			return
		case err != nil:
			failures++
			wait := e.backoff.Next(failures - 1)
			e.logger.Warn("poll pass failed", "file_id", e.fileID, "error", err, "retry_in", wait)
			timer.Reset(wait)
		default:
			if n > 0 {
				e.logger.Debug("changes applied", "file_id", e.fileID, "count", n)
			}
			failures = 0
			timer.Reset(e.interval)
		}
	}
}
