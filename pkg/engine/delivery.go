package engine

import (
	"github.com/histree-io/histree/pkg/store"
)

// Poll returns the full pending queue for fileID, oldest first, without
// mutating it. Repeated calls between acknowledgments return identical
// lists. Never blocks beyond the graph read lock.
func (r *Repository) Poll(fileID string) []PendingChange {
	g := r.graph(fileID)
	g.mu.RLock()
	out := append([]PendingChange(nil), g.pending...)
	g.mu.RUnlock()

	HistreePollsTotal.WithLabelValues(fileID).Inc()
	return out
}

// Acknowledge removes exactly len(nodeIDs) entries from the head of the
// queue after verifying nodeIDs matches the head element-by-element, in
// order. The check is all-or-nothing: any empty, oversized, or mismatched
// acknowledgment leaves the queue untouched and returns an error matching
// ErrAckMismatch. Returns the number of entries still pending.
func (r *Repository) Acknowledge(fileID string, nodeIDs []string) (int, error) {
	g := r.graph(fileID)
	g.mu.Lock()

	if err := matchHead(g.pending, nodeIDs); err != nil {
		g.mu.Unlock()
		HistreeAcksTotal.WithLabelValues(fileID, "rejected").Inc()
		r.record(store.NewEvent(store.EventTypeAckRejected, fileID, map[string]any{
			"node_ids": nodeIDs,
			"reason":   err.Error(),
		}))
		return 0, err
	}

	g.pending = append([]PendingChange(nil), g.pending[len(nodeIDs):]...)
	remaining := len(g.pending)
	g.mu.Unlock()

	HistreeAcksTotal.WithLabelValues(fileID, "ok").Inc()
	HistreePendingDepth.WithLabelValues(fileID).Set(float64(remaining))
	r.record(store.NewEvent(store.EventTypeChangesAcked, fileID, map[string]int{
		"acked":     len(nodeIDs),
		"remaining": remaining,
	}))
	return remaining, nil
}

func matchHead(pending []PendingChange, nodeIDs []string) error {
	if len(nodeIDs) == 0 {
		return ErrAckEmpty
	}
	if len(nodeIDs) > len(pending) {
		return ErrAckOverflow
	}
	for i, id := range nodeIDs {
		if pending[i].NodeID != id {
			return ackMismatchAt(i, pending[i].NodeID, id)
		}
	}
	return nil
}
