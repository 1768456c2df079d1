package reports

import (
	"context"
	"io"
	"time"

	"github.com/histree-io/histree/pkg/store"
)

type ReportType string

const (
	ReportTypeEvents   ReportType = "events"
	ReportTypeActivity ReportType = "activity"
)

type ReportParams struct {
	Start   time.Time
	End     time.Time
	Filters map[string]interface{}
}

// ReportStore defines the interface for data access required by reports.
type ReportStore interface {
	QueryEvents(ctx context.Context, filter store.EventFilter) ([]*store.Event, error)
	GetActivityStats(ctx context.Context, filter store.ActivityFilter) ([]store.ActivityStat, error)
}

type Generator interface {
	Generate(ctx context.Context, params ReportParams) (io.Reader, error)
}
