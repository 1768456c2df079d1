package api

import "encoding/json"

// CreateNodeRequest matches the POST /v1/nodes body schema.
type CreateNodeRequest struct {
	FileID       string          `json:"file_id,omitempty"`
	ParentNodeID string          `json:"parent_node_id"`
	Delta        json.RawMessage `json:"delta,omitempty"`
}

// CreateNodeResponse matches the response for POST /v1/nodes.
type CreateNodeResponse struct {
	NodeID string `json:"node_id"`
}

// NodeView is one node in a graph response. Parents carries zero elements
// (the root) or one; it stays list-shaped so the format can grow merge
// nodes without breaking readers.
type NodeView struct {
	ID       string          `json:"id"`
	Delta    json.RawMessage `json:"delta"`
	Parents  []string        `json:"parents"`
	Children []string        `json:"children"`
}

// GraphResponse matches the response for GET /v1/graph.
type GraphResponse struct {
	Nodes         map[string]NodeView `json:"nodes"`
	CurrentNodeID string              `json:"current_node_id"`
}

// NavigateRequest matches the POST /v1/navigate body schema.
type NavigateRequest struct {
	FileID        string `json:"file_id,omitempty"`
	CurrentNodeID string `json:"current_node_id"`
	TargetNodeID  string `json:"target_node_id"`
}

// NavigateResponse matches the response for POST /v1/navigate.
type NavigateResponse struct {
	Mode string `json:"mode"`
}

// AckRequest matches the POST /v1/ack body schema.
type AckRequest struct {
	FileID  string   `json:"file_id,omitempty"`
	NodeIDs []string `json:"node_ids"`
}

// AckResponse matches the response for POST /v1/ack.
type AckResponse struct {
	RemainingPendingCount int `json:"remaining_pending_count"`
}
