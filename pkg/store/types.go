package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType represents the kind of journal event.
type EventType string

const (
	EventTypeGraphInitialized EventType = "graph_initialized"
	EventTypeNodeCreated      EventType = "node_created"
	EventTypeNavigated        EventType = "navigated"
	EventTypeChangesAcked     EventType = "changes_acknowledged"
	EventTypeAckRejected      EventType = "ack_rejected"
)

// Event is the canonical envelope for all journal events. The journal is
// a diagnostics trail: the daemon never replays it to rebuild graph state,
// and deleting it loses nothing but history.
type Event struct {
	EventID       string          `json:"event_id"`
	EventType     EventType       `json:"event_type"`
	SchemaVersion int             `json:"schema_version"`
	FileID        string          `json:"file_id"`
	WriterID      string          `json:"writer_id"`
	TsEvent       time.Time       `json:"ts_event"`
	TsIngest      time.Time       `json:"ts_ingest"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEvent builds an envelope around payload, which must marshal cleanly.
// TsIngest and WriterID are stamped by the journal on append.
func NewEvent(t EventType, fileID string, payload any) Event {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = json.RawMessage(`{}`)
	}
	return Event{
		EventID:       uuid.NewString(),
		EventType:     t,
		SchemaVersion: 1,
		FileID:        fileID,
		TsEvent:       time.Now().UTC(),
		Payload:       raw,
	}
}

// EventFilter narrows journal queries. Zero values mean "any".
type EventFilter struct {
	FileID    string
	EventType EventType
	From      time.Time
	To        time.Time
	Limit     int
}

// ActivityStat is one rolled-up bucket of journal activity.
type ActivityStat struct {
	BucketTs   time.Time `json:"bucket_ts"`
	FileID     string    `json:"file_id"`
	EventType  EventType `json:"event_type"`
	EventCount int       `json:"event_count"`
}

// ActivityFilter narrows rollup queries.
type ActivityFilter struct {
	FileID    string
	EventType EventType
	From      time.Time
	To        time.Time
}
