package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/histree-io/histree/pkg/store"
)

// ActivityReport generates CSV reports over the hourly rollup buckets.
type ActivityReport struct {
	store ReportStore
}

func NewActivityReport(s ReportStore) *ActivityReport {
	return &ActivityReport{store: s}
}

func (r *ActivityReport) Generate(ctx context.Context, params ReportParams) (io.Reader, error) {
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)

	headers := []string{"bucket_ts", "file_id", "event_type", "event_count"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write headers: %w", err)
	}

	filter := store.ActivityFilter{
		From: params.Start,
		To:   params.End,
	}
	if fileID, ok := params.Filters["file_id"].(string); ok && fileID != "" {
		filter.FileID = fileID
	}
	if eventType, ok := params.Filters["event_type"].(string); ok && eventType != "" {
		filter.EventType = store.EventType(eventType)
	}

	stats, err := r.store.GetActivityStats(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity stats: %w", err)
	}

	for _, stat := range stats {
		row := []string{
			stat.BucketTs.Format(time.RFC3339),
			stat.FileID,
			string(stat.EventType),
			fmt.Sprintf("%d", stat.EventCount),
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush writer: %w", err)
	}

	return buf, nil
}
