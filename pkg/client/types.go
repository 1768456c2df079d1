package client

import (
	"encoding/json"
	"time"
)

// Node is one version in a file's history graph.
type Node struct {
	// ID is the node's identifier ("root" for the synthetic root).
	ID string `json:"id"`
	// Delta is the opaque edit payload, null on the root.
	Delta json.RawMessage `json:"delta"`
	// Parents holds the parent node id (empty for the root).
	Parents []string `json:"parents"`
	// Children lists child node ids in creation order.
	Children []string `json:"children"`
}

// Graph is a point-in-time snapshot of one file's version graph.
type Graph struct {
	Nodes         map[string]Node `json:"nodes"`
	CurrentNodeID string          `json:"current_node_id"`
}

// Change is one pending edit instruction awaiting application.
// Mode is "apply" (do the delta) or "revert" (undo it).
type Change struct {
	NodeID string          `json:"node_id"`
	Delta  json.RawMessage `json:"delta"`
	Mode   string          `json:"mode"`
}

// FileInfo summarizes one tracked file.
type FileInfo struct {
	FileID        string `json:"file_id"`
	NodeCount     int    `json:"node_count"`
	PendingCount  int    `json:"pending_count"`
	CurrentNodeID string `json:"current_node_id"`
}

// Status is the health check response.
type Status struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// Event is one change-journal entry.
type Event struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	SchemaVersion int             `json:"schema_version"`
	FileID        string          `json:"file_id"`
	WriterID      string          `json:"writer_id"`
	TsEvent       time.Time       `json:"ts_event"`
	TsIngest      time.Time       `json:"ts_ingest"`
	Payload       json.RawMessage `json:"payload"`
}

// ActivityStat is one hourly bucket of rolled-up journal activity.
type ActivityStat struct {
	BucketTs   time.Time `json:"bucket_ts"`
	FileID     string    `json:"file_id"`
	EventType  string    `json:"event_type"`
	EventCount int       `json:"event_count"`
}

// TrendsOptions defines filters for GetTrends.
type TrendsOptions struct {
	From      time.Time
	To        time.Time
	FileID    string
	EventType string
}
