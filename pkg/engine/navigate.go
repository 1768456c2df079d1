package engine

import (
	"fmt"

	"github.com/histree-io/histree/pkg/store"
)

// Navigate moves the graph's current pointer to currentID and queues the
// resulting change. The caller supplies where the pointer comes to rest
// (currentID) and whose delta is relevant (targetID):
//
//   - currentID == targetID resolves to apply: the change carries the
//     target's delta tagged with targetID ("replay this node forward").
//   - otherwise it resolves to revert: the change carries the target's
//     delta tagged with currentID ("undo, recorded against the node being
//     departed from").
//
// The asymmetric tagging lets a client locate which in-flight edit to
// replay versus which to unwind from the same payload.
func (r *Repository) Navigate(fileID, currentID, targetID string) (Mode, error) {
	if targetID == "" {
		return "", fmt.Errorf("target_node_id: %w", ErrMissingField)
	}

	g := r.graph(fileID)
	g.mu.Lock()
	target, ok := g.nodes[targetID]
	if !ok {
		g.mu.Unlock()
		return "", fmt.Errorf("target %s: %w", targetID, ErrNodeNotFound)
	}
	if _, ok := g.nodes[currentID]; !ok {
		g.mu.Unlock()
		return "", fmt.Errorf("current %s: %w", currentID, ErrNodeNotFound)
	}

	mode := ModeRevert
	taggedID := currentID
	if currentID == targetID {
		mode = ModeApply
		taggedID = targetID
	}

	g.current = currentID
	g.pending = append(g.pending, PendingChange{
		NodeID: taggedID,
		Delta:  target.Delta,
		Mode:   mode,
	})
	depth := len(g.pending)
	g.mu.Unlock()

	HistreeNavigationsTotal.WithLabelValues(fileID, string(mode)).Inc()
	HistreePendingDepth.WithLabelValues(fileID).Set(float64(depth))
	r.record(store.NewEvent(store.EventTypeNavigated, fileID, map[string]string{
		"node_id":         taggedID,
		"target_node_id":  targetID,
		"current_node_id": currentID,
		"mode":            string(mode),
	}))
	return mode, nil
}
