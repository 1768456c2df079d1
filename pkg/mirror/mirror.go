package mirror

import (
	"bytes"
	"errors"
	"sort"

	"github.com/histree-io/histree/pkg/client"
)

// ErrStaleClientState is returned when the previously current node is
// absent from a freshly fetched snapshot. The mirror refuses to re-point
// silently; the caller decides how to recover (typically by resetting).
var ErrStaleClientState = errors.New("previously current node missing from snapshot")

// Move is one navigate call the client should issue against the server:
// CurrentNodeID is where the pointer comes to rest, TargetNodeID is whose
// delta the resulting change carries.
type Move struct {
	CurrentNodeID string
	TargetNodeID  string
}

// Mirror is the client-side copy of one file's version graph. It is a
// plain state machine for a single goroutine; the TUI model owns one and
// feeds it snapshots from a timer and moves from keypresses, both arriving
// on the same update loop.
//
// The local pointer moves optimistically on Descend/Ascend and is never
// rolled back on a failed call; a later snapshot that differs from the
// last-seen one re-adopts the server's pointer.
type Mirror struct {
	nodes     map[string]client.Node
	root      string
	current   string
	selection map[string]int // node id -> selected child index
	last      client.Graph
	primed    bool
}

// New returns an empty mirror. It reports no current node until the first
// snapshot is applied.
func New() *Mirror {
	return &Mirror{
		selection: make(map[string]int),
	}
}

// ApplySnapshot reconciles the mirror against a freshly fetched snapshot.
// The mirror takes ownership of snap.
//
// Identical snapshots (same nodes, same shape, same pointer) are a no-op.
// On change the mirror is rebuilt, the server's pointer is adopted, and
// per-node selection state survives only for node ids still present. If
// the previously current node vanished from the snapshot the mirror keeps
// its last good state and returns ErrStaleClientState.
//
// The returned bool reports whether the mirror changed.
func (m *Mirror) ApplySnapshot(snap client.Graph) (bool, error) {
	if m.primed && structuralEqual(m.last, snap) {
		return false, nil
	}

	if m.primed && m.current != "" {
		if _, ok := snap.Nodes[m.current]; !ok {
			return false, ErrStaleClientState
		}
	}

	m.nodes = snap.Nodes
	if m.nodes == nil {
		m.nodes = make(map[string]client.Node)
	}
	m.root = findRoot(m.nodes)
	m.current = snap.CurrentNodeID

	migrated := make(map[string]int, len(m.selection))
	for id, sel := range m.selection {
		n, ok := m.nodes[id]
		if !ok || len(n.Children) == 0 {
			continue
		}
		if sel >= len(n.Children) {
			sel = len(n.Children) - 1
		}
		migrated[id] = sel
	}
	m.selection = migrated

	m.last = snap
	m.primed = true
	return true, nil
}

// Primed reports whether at least one snapshot has been adopted.
func (m *Mirror) Primed() bool { return m.primed }

// Current returns the local (possibly optimistic) pointer.
func (m *Mirror) Current() string { return m.current }

// Root returns the id of the parentless node, or "" before priming.
func (m *Mirror) Root() string { return m.root }

// Len returns the number of mirrored nodes.
func (m *Mirror) Len() int { return len(m.nodes) }

// Node looks up a mirrored node by id.
func (m *Mirror) Node(id string) (client.Node, bool) {
	n, ok := m.nodes[id]
	return n, ok
}

// Children returns the child ids of id in creation order.
func (m *Mirror) Children(id string) []string {
	return m.nodes[id].Children
}

// Parent returns id's parent, or false for the root and unknown ids.
func (m *Mirror) Parent(id string) (string, bool) {
	n, ok := m.nodes[id]
	if !ok || len(n.Parents) == 0 {
		return "", false
	}
	return n.Parents[0], true
}

// SelectedChild returns the child of the current node the selection index
// points at, or false when the current node has no children.
func (m *Mirror) SelectedChild() (string, bool) {
	children := m.Children(m.current)
	if len(children) == 0 {
		return "", false
	}
	return children[m.clampedSelection(m.current, len(children))], true
}

// Left moves the selection among the current node's children one step
// toward the oldest child. Reports whether the selection moved.
func (m *Mirror) Left() bool {
	children := m.Children(m.current)
	if len(children) == 0 {
		return false
	}
	sel := m.clampedSelection(m.current, len(children))
	if sel == 0 {
		return false
	}
	m.selection[m.current] = sel - 1
	return true
}

// Right moves the selection one step toward the newest child.
func (m *Mirror) Right() bool {
	children := m.Children(m.current)
	if len(children) == 0 {
		return false
	}
	sel := m.clampedSelection(m.current, len(children))
	if sel >= len(children)-1 {
		return false
	}
	m.selection[m.current] = sel + 1
	return true
}

// Descend optimistically moves the pointer to the selected child and
// returns the navigate call to issue: current=child, target=child, which
// the server resolves to apply.
func (m *Mirror) Descend() (Move, bool) {
	child, ok := m.SelectedChild()
	if !ok {
		return Move{}, false
	}
	m.current = child
	return Move{CurrentNodeID: child, TargetNodeID: child}, true
}

// Ascend optimistically moves the pointer to the parent and returns the
// navigate call to issue: current=parent, target=departed node, which the
// server resolves to revert. The parent's selection is pointed at the
// departed child so an immediate Descend retraces the step.
func (m *Mirror) Ascend() (Move, bool) {
	departed := m.current
	parent, ok := m.Parent(departed)
	if !ok {
		return Move{}, false
	}
	m.current = parent
	for i, c := range m.Children(parent) {
		if c == departed {
			m.selection[parent] = i
			break
		}
	}
	return Move{CurrentNodeID: parent, TargetNodeID: departed}, true
}

func (m *Mirror) clampedSelection(id string, n int) int {
	sel := m.selection[id]
	if sel < 0 {
		return 0
	}
	if sel >= n {
		return n - 1
	}
	return sel
}

// structuralEqual compares node ids, parent/child shape, deltas, and the
// current pointer. A pointer-only move still counts as a change so remote
// navigations are adopted on the next tick.
func structuralEqual(a, b client.Graph) bool {
	if a.CurrentNodeID != b.CurrentNodeID || len(a.Nodes) != len(b.Nodes) {
		return false
	}
	for id, an := range a.Nodes {
		bn, ok := b.Nodes[id]
		if !ok {
			return false
		}
		if !stringsEqual(an.Parents, bn.Parents) || !stringsEqual(an.Children, bn.Children) {
			return false
		}
		if !bytes.Equal(an.Delta, bn.Delta) {
			return false
		}
	}
	return true
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// findRoot picks the parentless node, preferring the lowest id if the
// snapshot is malformed enough to contain several.
func findRoot(nodes map[string]client.Node) string {
	roots := make([]string, 0, 1)
	for id, n := range nodes {
		if len(n.Parents) == 0 {
			roots = append(roots, id)
		}
	}
	if len(roots) == 0 {
		return ""
	}
	sort.Strings(roots)
	return roots[0]
}
