package engine

import "encoding/json"

// RootNodeID is the identifier of the synthetic root node every graph
// starts with. The root carries no delta.
const RootNodeID = "root"

// Mode labels the direction of a queued change.
type Mode string

const (
	ModeApply  Mode = "apply"
	ModeRevert Mode = "revert"
)

// Node is one immutable edit-history state transition. Delta is an opaque
// payload: the engine transports it and never inspects it. It is null only
// for the root. Parent is empty only for the root; Children holds child ids
// in creation order and is append-only.
type Node struct {
	ID       string
	Delta    json.RawMessage
	Parent   string
	Children []string
}

// PendingChange is a queue entry awaiting client acknowledgment. NodeID is
// the id the change is recorded against: the navigation target for an apply,
// the node being departed from for a revert.
type PendingChange struct {
	NodeID string          `json:"node_id"`
	Delta  json.RawMessage `json:"delta"`
	Mode   Mode            `json:"mode"`
}

// Snapshot is a read-only copy of one file's graph, safe to hand to
// concurrent readers. Child slices are cloned; deltas are shared but never
// mutated after creation.
type Snapshot struct {
	Nodes         map[string]Node
	CurrentNodeID string
}

// FileStats summarizes one file's graph for listings and monitoring.
type FileStats struct {
	FileID        string `json:"file_id"`
	NodeCount     int    `json:"node_count"`
	PendingCount  int    `json:"pending_count"`
	CurrentNodeID string `json:"current_node_id"`
}
