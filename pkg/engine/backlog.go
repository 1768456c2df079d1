package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/histree-io/histree/pkg/engine/trend"
)

// BacklogConfig tunes the pending-queue monitor.
type BacklogConfig struct {
	SampleInterval time.Duration
	WindowSize     int     // samples retained per file
	SlopeThreshold float64 // entries per second before warning
}

// BacklogMonitor samples every file's pending-change depth and fits a
// linear trend over a sliding window. A persistently positive slope
// means editors are falling behind the authors; the monitor exports the
// slope and logs a warning so operators see the stall before the queue
// is unbounded. All methods run on the monitor's own goroutine.
type BacklogMonitor struct {
	repo    *Repository
	config  BacklogConfig
	samples map[string][]trend.Point
}

func NewBacklogMonitor(repo *Repository, config BacklogConfig) *BacklogMonitor {
	if config.SampleInterval <= 0 {
		config.SampleInterval = 10 * time.Second
	}
	if config.WindowSize < 3 {
		config.WindowSize = 30
	}
	if config.SlopeThreshold <= 0 {
		config.SlopeThreshold = 0.1
	}
	return &BacklogMonitor{
		repo:    repo,
		config:  config,
		samples: make(map[string][]trend.Point),
	}
}

func (m *BacklogMonitor) Run(ctx context.Context) {
	slog.Info("starting backlog monitor",
		"interval", m.config.SampleInterval,
		"window", m.config.WindowSize)

	ticker := time.NewTicker(m.config.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("backlog monitor stopping")
			return
		case <-ticker.C:
			m.Sample(time.Now())
		}
	}
}

// Sample records one depth observation per known file and refits trends.
// Exported for tests.
func (m *BacklogMonitor) Sample(now time.Time) {
	for _, f := range m.repo.ListFiles() {
		window := append(m.samples[f.FileID], trend.Point{
			Ts:    now,
			Value: float64(f.PendingCount),
		})
		if len(window) > m.config.WindowSize {
			window = window[len(window)-m.config.WindowSize:]
		}
		m.samples[f.FileID] = window

		t, err := trend.Fit(window)
		if err != nil {
			continue
		}
		HistreeBacklogSlope.WithLabelValues(f.FileID).Set(t.Slope)
		if t.Growing(m.config.SlopeThreshold) {
			slog.Warn("pending queue growing",
				"file_id", f.FileID,
				"depth", f.PendingCount,
				"slope_per_sec", t.Slope)
		}
	}
}

// Slope returns the latest fitted slope for a file, with ok=false until
// the window has enough samples.
func (m *BacklogMonitor) Slope(fileID string) (float64, bool) {
	t, err := trend.Fit(m.samples[fileID])
	if err != nil {
		return 0, false
	}
	return t.Slope, true
}
