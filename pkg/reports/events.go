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

// EventsReport generates a CSV dump of raw journal events.
type EventsReport struct {
	store ReportStore
}

func NewEventsReport(s ReportStore) *EventsReport {
	return &EventsReport{store: s}
}

func (r *EventsReport) Generate(ctx context.Context, params ReportParams) (io.Reader, error) {
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)

	headers := []string{"ts_ingest", "ts_event", "event_id", "event_type", "file_id", "writer_id", "payload"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write headers: %w", err)
	}

	filter := store.EventFilter{
		From: params.Start,
		To:   params.End,
	}
	if fileID, ok := params.Filters["file_id"].(string); ok && fileID != "" {
		filter.FileID = fileID
	}
	if eventType, ok := params.Filters["event_type"].(string); ok && eventType != "" {
		filter.EventType = store.EventType(eventType)
	}

	events, err := r.store.QueryEvents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	for _, event := range events {
		row := []string{
			event.TsIngest.Format(time.RFC3339),
			event.TsEvent.Format(time.RFC3339),
			event.EventID,
			string(event.EventType),
			event.FileID,
			event.WriterID,
			string(event.Payload),
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
