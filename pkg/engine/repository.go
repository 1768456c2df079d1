package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/histree-io/histree/pkg/store"
)

// Recorder receives one journal event per successful (or rejected-ack)
// mutation. Implementations must not block; store.Journal qualifies.
type Recorder interface {
	Record(e store.Event)
}

// Repository owns every file's version graph: the node tree, the current
// pointer, and the pending-change queue. It is constructed once at startup
// and shared by all callers; there is no ambient global.
//
// Locking: the outer RWMutex guards the file map, each graph carries its
// own RWMutex. Mutations (CreateNode, Navigate, Acknowledge) serialize per
// file id; reads (Snapshot, Poll) take the read lock and copy. Different
// file ids never contend.
type Repository struct {
	mu       sync.RWMutex
	graphs   map[string]*fileGraph
	recorder Recorder
}

type fileGraph struct {
	mu      sync.RWMutex
	nodes   map[string]*Node
	current string
	pending []PendingChange
}

// NewRepository creates an empty repository. rec may be nil to disable
// journaling.
func NewRepository(rec Recorder) *Repository {
	return &Repository{
		graphs:   make(map[string]*fileGraph),
		recorder: rec,
	}
}

// graph returns the graph for fileID, creating it with a root node on
// first access. Graphs live for the process lifetime.
func (r *Repository) graph(fileID string) *fileGraph {
	r.mu.RLock()
	g, ok := r.graphs[fileID]
	r.mu.RUnlock()
	if ok {
		return g
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.graphs[fileID]; ok {
		return g
	}
	g = &fileGraph{
		nodes: map[string]*Node{
			RootNodeID: {ID: RootNodeID},
		},
		current: RootNodeID,
	}
	r.graphs[fileID] = g
	r.record(store.NewEvent(store.EventTypeGraphInitialized, fileID, map[string]string{
		"root_node_id": RootNodeID,
	}))
	return g
}

// Init ensures a graph exists for fileID. Idempotent.
func (r *Repository) Init(fileID string) {
	r.graph(fileID)
}

// CreateNode inserts a new node under parentID carrying delta, appends it
// to the parent's children, and moves the current pointer to it: creation
// always originates from, and becomes, the active state. The generated id
// is never reused within the graph's lifetime.
func (r *Repository) CreateNode(fileID, parentID string, delta json.RawMessage) (string, error) {
	if parentID == "" {
		return "", fmt.Errorf("parent_node_id: %w", ErrMissingField)
	}
	if isNullJSON(delta) {
		return "", fmt.Errorf("delta: %w", ErrMissingField)
	}

	g := r.graph(fileID)
	g.mu.Lock()
	parent, ok := g.nodes[parentID]
	if !ok {
		g.mu.Unlock()
		return "", fmt.Errorf("%s: %w", parentID, ErrParentNotFound)
	}

	nodeID := uuid.NewString()
	g.nodes[nodeID] = &Node{
		ID:     nodeID,
		Delta:  append(json.RawMessage(nil), delta...),
		Parent: parentID,
	}
	parent.Children = append(parent.Children, nodeID)
	g.current = nodeID
	g.mu.Unlock()

	HistreeNodesTotal.WithLabelValues(fileID).Inc()
	r.record(store.NewEvent(store.EventTypeNodeCreated, fileID, map[string]string{
		"node_id":        nodeID,
		"parent_node_id": parentID,
	}))
	return nodeID, nil
}

// Snapshot returns a read-only copy of the graph for mirroring. The graph
// is created if it does not exist yet.
func (r *Repository) Snapshot(fileID string) Snapshot {
	g := r.graph(fileID)
	g.mu.RLock()
	defer g.mu.RUnlock()

	nodes := make(map[string]Node, len(g.nodes))
	for id, n := range g.nodes {
		cp := *n
		cp.Children = append([]string(nil), n.Children...)
		nodes[id] = cp
	}
	return Snapshot{Nodes: nodes, CurrentNodeID: g.current}
}

// ListFiles summarizes every known graph, sorted by file id.
func (r *Repository) ListFiles() []FileStats {
	r.mu.RLock()
	ids := make([]string, 0, len(r.graphs))
	for id := range r.graphs {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)

	stats := make([]FileStats, 0, len(ids))
	for _, id := range ids {
		r.mu.RLock()
		g := r.graphs[id]
		r.mu.RUnlock()
		if g == nil {
			continue
		}
		g.mu.RLock()
		stats = append(stats, FileStats{
			FileID:        id,
			NodeCount:     len(g.nodes),
			PendingCount:  len(g.pending),
			CurrentNodeID: g.current,
		})
		g.mu.RUnlock()
	}
	return stats
}

func (r *Repository) record(e store.Event) {
	if r.recorder != nil {
		r.recorder.Record(e)
	}
}

func isNullJSON(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
