package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/histree-io/histree/pkg/engine"
	"github.com/histree-io/histree/pkg/simulation"
	"github.com/histree-io/histree/pkg/store"
)

// newTestServer wires a real repository behind the full middleware stack.
func newTestServer() *Server {
	return NewServer(engine.NewRepository(nil), nil, "")
}

// doJSON sends a request through routing and middleware, the way a real
// client reaches the daemon.
func doJSON(t *testing.T, s *Server, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(w, req)
	return w
}

func decodeInto(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// TestServer_EditLifecycle walks one file through the whole protocol:
// two creates, a revert navigation, an apply navigation, polling, and
// prefix acknowledgment including the double-ack rejection.
func TestServer_EditLifecycle(t *testing.T) {
	s := newTestServer()

	// Create n1 under the root.
	w := doJSON(t, s, "POST", "/v1/nodes", map[string]any{
		"file_id": "doc-1", "parent_node_id": "root", "delta": "A",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create n1: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created CreateNodeResponse
	decodeInto(t, w, &created)
	n1 := created.NodeID
	if n1 == "" {
		t.Fatal("create n1: empty node_id")
	}

	// Create n2 under n1.
	w = doJSON(t, s, "POST", "/v1/nodes", map[string]any{
		"file_id": "doc-1", "parent_node_id": n1, "delta": "B",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create n2: expected 201, got %d", w.Code)
	}
	decodeInto(t, w, &created)
	n2 := created.NodeID

	// Creation moved the pointer to n2.
	w = doJSON(t, s, "GET", "/v1/graph?file_id=doc-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("graph: expected 200, got %d", w.Code)
	}
	var graph GraphResponse
	decodeInto(t, w, &graph)
	if graph.CurrentNodeID != n2 {
		t.Errorf("expected current %s, got %s", n2, graph.CurrentNodeID)
	}
	if len(graph.Nodes) != 3 {
		t.Errorf("expected 3 nodes, got %d", len(graph.Nodes))
	}

	// Stepping back to n1 resolves to revert.
	w = doJSON(t, s, "POST", "/v1/navigate", map[string]any{
		"file_id": "doc-1", "current_node_id": n1, "target_node_id": n2,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("navigate back: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var nav NavigateResponse
	decodeInto(t, w, &nav)
	if nav.Mode != "revert" {
		t.Errorf("expected mode revert, got %s", nav.Mode)
	}

	// Stepping forward onto n2 resolves to apply.
	w = doJSON(t, s, "POST", "/v1/navigate", map[string]any{
		"file_id": "doc-1", "current_node_id": n2, "target_node_id": n2,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("navigate forward: expected 200, got %d", w.Code)
	}
	decodeInto(t, w, &nav)
	if nav.Mode != "apply" {
		t.Errorf("expected mode apply, got %s", nav.Mode)
	}

	// Both changes are pending, oldest first, both carrying n2's delta.
	w = doJSON(t, s, "GET", "/v1/changes?file_id=doc-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("changes: expected 200, got %d", w.Code)
	}
	var changes []engine.PendingChange
	decodeInto(t, w, &changes)
	if len(changes) != 2 {
		t.Fatalf("expected 2 pending changes, got %d", len(changes))
	}
	if changes[0].NodeID != n1 || changes[0].Mode != engine.ModeRevert {
		t.Errorf("change[0]: expected {%s revert}, got {%s %s}", n1, changes[0].NodeID, changes[0].Mode)
	}
	if changes[1].NodeID != n2 || changes[1].Mode != engine.ModeApply {
		t.Errorf("change[1]: expected {%s apply}, got {%s %s}", n2, changes[1].NodeID, changes[1].Mode)
	}
	if string(changes[0].Delta) != `"B"` || string(changes[1].Delta) != `"B"` {
		t.Errorf("expected both deltas %q, got %s and %s", `"B"`, changes[0].Delta, changes[1].Delta)
	}

	// Acknowledge the head entry only.
	w = doJSON(t, s, "POST", "/v1/ack", map[string]any{
		"file_id": "doc-1", "node_ids": []string{n1},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("ack n1: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var ack AckResponse
	decodeInto(t, w, &ack)
	if ack.RemainingPendingCount != 1 {
		t.Errorf("expected 1 remaining, got %d", ack.RemainingPendingCount)
	}

	// Acknowledging n1 again must be rejected: the head is now n2.
	w = doJSON(t, s, "POST", "/v1/ack", map[string]any{
		"file_id": "doc-1", "node_ids": []string{n1},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("double ack: expected 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "ack_mismatch") {
		t.Errorf("expected ack_mismatch, got %s", w.Body.String())
	}

	// The rejection left the queue untouched.
	w = doJSON(t, s, "GET", "/v1/changes?file_id=doc-1", nil)
	decodeInto(t, w, &changes)
	if len(changes) != 1 || changes[0].NodeID != n2 {
		t.Fatalf("expected queue [%s] after rejected ack, got %v", n2, changes)
	}

	// Acknowledge the remainder.
	w = doJSON(t, s, "POST", "/v1/ack", map[string]any{
		"file_id": "doc-1", "node_ids": []string{n2},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("ack n2: expected 200, got %d", w.Code)
	}
	decodeInto(t, w, &ack)
	if ack.RemainingPendingCount != 0 {
		t.Errorf("expected 0 remaining, got %d", ack.RemainingPendingCount)
	}

	// File stats reflect the drained queue.
	w = doJSON(t, s, "GET", "/v1/files", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("files: expected 200, got %d", w.Code)
	}
	var files []engine.FileStats
	decodeInto(t, w, &files)
	if len(files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(files))
	}
	if files[0].FileID != "doc-1" || files[0].NodeCount != 3 || files[0].PendingCount != 0 {
		t.Errorf("unexpected file stats: %+v", files[0])
	}
}

func TestHandleGraph_LazyInit(t *testing.T) {
	s := newTestServer()

	w := doJSON(t, s, "GET", "/v1/graph?file_id=fresh.txt", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var graph GraphResponse
	decodeInto(t, w, &graph)
	if graph.CurrentNodeID != engine.RootNodeID {
		t.Errorf("expected current root, got %s", graph.CurrentNodeID)
	}
	if len(graph.Nodes) != 1 {
		t.Fatalf("expected only the root node, got %d", len(graph.Nodes))
	}
	root := graph.Nodes[engine.RootNodeID]
	if len(root.Parents) != 0 {
		t.Errorf("root parents should be empty, got %v", root.Parents)
	}
	if len(root.Delta) != 0 && string(root.Delta) != "null" {
		t.Errorf("root delta should be null, got %s", root.Delta)
	}

	// The read made the file exist.
	w = doJSON(t, s, "GET", "/v1/files", nil)
	var files []engine.FileStats
	decodeInto(t, w, &files)
	if len(files) != 1 || files[0].FileID != "fresh.txt" {
		t.Errorf("expected fresh.txt to be tracked, got %v", files)
	}
}

// Parents and children marshal as arrays even when empty, never null.
func TestHandleGraph_Shape(t *testing.T) {
	s := newTestServer()

	w := doJSON(t, s, "POST", "/v1/nodes", map[string]any{
		"file_id": "shape", "parent_node_id": "root", "delta": map[string]string{"op": "x"},
	})
	var created CreateNodeResponse
	decodeInto(t, w, &created)

	w = doJSON(t, s, "GET", "/v1/graph?file_id=shape", nil)
	body := w.Body.String()
	if strings.Contains(body, `"parents":null`) || strings.Contains(body, `"children":null`) {
		t.Errorf("graph contains null lists: %s", body)
	}

	var graph GraphResponse
	if err := json.Unmarshal([]byte(body), &graph); err != nil {
		t.Fatalf("decode graph: %v", err)
	}
	child := graph.Nodes[created.NodeID]
	if len(child.Parents) != 1 || child.Parents[0] != engine.RootNodeID {
		t.Errorf("expected parents [root], got %v", child.Parents)
	}
	root := graph.Nodes[engine.RootNodeID]
	if len(root.Children) != 1 || root.Children[0] != created.NodeID {
		t.Errorf("expected root children [%s], got %v", created.NodeID, root.Children)
	}
}

func TestHandleChanges_Idempotent(t *testing.T) {
	s := newTestServer()

	// An empty queue is a JSON array, not null.
	w := doJSON(t, s, "GET", "/v1/changes?file_id=q", nil)
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("expected [], got %s", got)
	}

	w = doJSON(t, s, "POST", "/v1/nodes", map[string]any{
		"file_id": "q", "parent_node_id": "root", "delta": "A",
	})
	var created CreateNodeResponse
	decodeInto(t, w, &created)
	doJSON(t, s, "POST", "/v1/navigate", map[string]any{
		"file_id": "q", "current_node_id": created.NodeID, "target_node_id": created.NodeID,
	})

	first := doJSON(t, s, "GET", "/v1/changes?file_id=q", nil).Body.String()
	second := doJSON(t, s, "GET", "/v1/changes?file_id=q", nil).Body.String()
	if first != second {
		t.Errorf("polling mutated the queue:\n%s\n%s", first, second)
	}
}

// Requests without a file_id all land on the same default file.
func TestDefaultFileID(t *testing.T) {
	s := newTestServer()

	w := doJSON(t, s, "POST", "/v1/nodes", map[string]any{
		"parent_node_id": "root", "delta": "A",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}

	w = doJSON(t, s, "GET", "/v1/graph", nil)
	var graph GraphResponse
	decodeInto(t, w, &graph)
	if len(graph.Nodes) != 2 {
		t.Errorf("expected the create to land on the default file, got %d nodes", len(graph.Nodes))
	}

	w = doJSON(t, s, "GET", "/v1/files", nil)
	var files []engine.FileStats
	decodeInto(t, w, &files)
	if len(files) != 1 || files[0].FileID != DefaultFileID {
		t.Errorf("expected single file %q, got %v", DefaultFileID, files)
	}
}

func TestHandleFiles_Empty(t *testing.T) {
	s := newTestServer()
	w := doJSON(t, s, "GET", "/v1/files", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("expected [], got %s", got)
	}
}

// mockEventSource satisfies EventSource and records the filters it was
// asked for.
type mockEventSource struct {
	events []*store.Event
	stats  []store.ActivityStat

	lastFileID     string
	lastLimit      int
	lastEventsFlt  store.EventFilter
	lastStatsFlt   store.ActivityFilter
	queryEventsErr error
	statsErr       error
}

func (m *mockEventSource) QueryEvents(ctx context.Context, f store.EventFilter) ([]*store.Event, error) {
	m.lastEventsFlt = f
	return m.events, m.queryEventsErr
}

func (m *mockEventSource) RecentEvents(ctx context.Context, fileID string, limit int) ([]*store.Event, error) {
	m.lastFileID = fileID
	m.lastLimit = limit
	return m.events, m.queryEventsErr
}

func (m *mockEventSource) GetActivityStats(ctx context.Context, f store.ActivityFilter) ([]store.ActivityStat, error) {
	m.lastStatsFlt = f
	return m.stats, m.statsErr
}

func TestHandleEvents(t *testing.T) {
	ev := store.NewEvent(store.EventTypeNodeCreated, "doc-1", map[string]string{"node_id": "n1"})
	mock := &mockEventSource{events: []*store.Event{&ev}}
	s := NewServer(engine.NewRepository(nil), mock, "")

	w := doJSON(t, s, "GET", "/v1/events?file_id=doc-1&limit=5", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if mock.lastFileID != "doc-1" || mock.lastLimit != 5 {
		t.Errorf("expected file_id=doc-1 limit=5, got %q %d", mock.lastFileID, mock.lastLimit)
	}
	var events []*store.Event
	decodeInto(t, w, &events)
	if len(events) != 1 || events[0].EventType != store.EventTypeNodeCreated {
		t.Errorf("unexpected events: %v", events)
	}

	// Omitting file_id spans all files; omitting limit defaults to 50.
	doJSON(t, s, "GET", "/v1/events", nil)
	if mock.lastFileID != "" || mock.lastLimit != 50 {
		t.Errorf("expected file_id=\"\" limit=50, got %q %d", mock.lastFileID, mock.lastLimit)
	}

	// Garbage limits fall back to the default.
	doJSON(t, s, "GET", "/v1/events?limit=banana", nil)
	if mock.lastLimit != 50 {
		t.Errorf("expected limit fallback 50, got %d", mock.lastLimit)
	}
}

func TestHandleTrends_DefaultWindow(t *testing.T) {
	mock := &mockEventSource{stats: []store.ActivityStat{
		{FileID: "doc-1", EventType: store.EventTypeNavigated, EventCount: 4},
	}}
	s := NewServer(engine.NewRepository(nil), mock, "")

	w := doJSON(t, s, "GET", "/v1/trends", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	window := mock.lastStatsFlt.To.Sub(mock.lastStatsFlt.From)
	if window != 24*time.Hour {
		t.Errorf("expected a 24h default window, got %s", window)
	}
	if time.Since(mock.lastStatsFlt.To) > 5*time.Second {
		t.Errorf("expected to ~ now, got %s", mock.lastStatsFlt.To)
	}

	var stats []store.ActivityStat
	decodeInto(t, w, &stats)
	if len(stats) != 1 || stats[0].EventCount != 4 {
		t.Errorf("unexpected stats: %v", stats)
	}
}

func TestHandleTrends_ExplicitRange(t *testing.T) {
	mock := &mockEventSource{}
	s := NewServer(engine.NewRepository(nil), mock, "")

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(6 * time.Hour)
	target := "/v1/trends?from=" + from.Format(time.RFC3339) +
		"&to=" + to.Format(time.RFC3339) + "&file_id=doc-1&event_type=navigated"

	w := doJSON(t, s, "GET", target, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !mock.lastStatsFlt.From.Equal(from) || !mock.lastStatsFlt.To.Equal(to) {
		t.Errorf("filter window mismatch: %v..%v", mock.lastStatsFlt.From, mock.lastStatsFlt.To)
	}
	if mock.lastStatsFlt.FileID != "doc-1" || mock.lastStatsFlt.EventType != store.EventTypeNavigated {
		t.Errorf("filter fields mismatch: %+v", mock.lastStatsFlt)
	}
}

func TestHandleReports_CSV(t *testing.T) {
	ev := store.NewEvent(store.EventTypeNavigated, "doc-1", map[string]string{"mode": "apply"})
	mock := &mockEventSource{events: []*store.Event{&ev}}
	s := NewServer(engine.NewRepository(nil), mock, "")

	w := doJSON(t, s, "GET", "/v1/reports?type=events&file_id=doc-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("expected text/csv, got %s", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "report_events_") {
		t.Errorf("unexpected disposition: %s", cd)
	}
	if w.Body.Len() == 0 {
		t.Error("expected a non-empty report body")
	}
}

// Journal-backed routes answer 503 when the daemon runs without a journal.
func TestJournalDisabled(t *testing.T) {
	s := newTestServer()
	for _, target := range []string{"/v1/events", "/v1/trends", "/v1/reports?type=events"} {
		w := doJSON(t, s, "GET", target, nil)
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: expected 503, got %d", target, w.Code)
		}
		if !strings.Contains(w.Body.String(), "journal_disabled") {
			t.Errorf("%s: expected journal_disabled, got %s", target, w.Body.String())
		}
	}
}

// TestHandleSimulation_EndToEnd runs a short scenario whose agents loop
// back into a live listener serving this server's handler.
func TestHandleSimulation_EndToEnd(t *testing.T) {
	s := newTestServer()
	ts := httptest.NewServer(s.server.Handler)
	defer ts.Close()
	// The handler derives the agents' URL from the advertised address;
	// point it at the live listener.
	s.server.Addr = strings.TrimPrefix(ts.URL, "http://")

	scenario := simulation.Scenario{
		Name:     "api-smoke",
		Duration: 400 * time.Millisecond,
		Seed:     7,
		Files:    []string{"sim.txt"},
		Agents: []simulation.AgentConfig{
			{Name: "writer", Count: 1, Role: simulation.RoleAuthor, Behavior: simulation.BehaviorPeriodic, Rate: 40},
			{Name: "jumper", Count: 1, Role: simulation.RoleNavigator, Behavior: simulation.BehaviorPeriodic, Rate: 15},
		},
		Invariants: []simulation.Invariant{
			{Metric: "nodes_created", Condition: ">=", Value: 1, Scope: "global"},
			{Metric: "pending_remaining", Condition: "==", Value: 0, Scope: "global"},
			{Metric: "error_rate", Condition: "<=", Value: 0, Scope: "global"},
		},
	}
	body, err := json.Marshal(scenario)
	if err != nil {
		t.Fatalf("marshal scenario: %v", err)
	}

	resp, err := http.Post(ts.URL+"/v1/simulation", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post simulation: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result simulation.SimulationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.TotalCreated == 0 {
		t.Error("expected the writer to create nodes")
	}
	if !result.Success {
		t.Errorf("expected all invariants to pass: %+v", result.Invariants)
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer()
	w := doJSON(t, s, "GET", "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var status map[string]string
	decodeInto(t, w, &status)
	if status["status"] != "ok" {
		t.Errorf("expected status ok, got %q", status["status"])
	}
	if status["version"] == "" {
		t.Error("expected a version string")
	}
}

func TestTraceIDHeader(t *testing.T) {
	s := newTestServer()

	// A generated trace id comes back on the response.
	w := doJSON(t, s, "GET", "/healthz", nil)
	if w.Header().Get("X-Trace-ID") == "" {
		t.Error("expected a generated X-Trace-ID")
	}

	// A supplied trace id is echoed.
	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set("X-Trace-ID", "trace-abc")
	w = httptest.NewRecorder()
	s.server.Handler.ServeHTTP(w, req)
	if got := w.Header().Get("X-Trace-ID"); got != "trace-abc" {
		t.Errorf("expected trace-abc echoed, got %q", got)
	}
}

func TestSecureHeaders(t *testing.T) {
	handler := withSecureHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	expectedHeaders := map[string]string{
		"Content-Security-Policy":   "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' data:;",
		"Strict-Transport-Security": "max-age=63072000; includeSubDomains",
		"X-Content-Type-Options":    "nosniff",
		"X-Frame-Options":           "DENY",
		"Referrer-Policy":           "no-referrer",
		"X-XSS-Protection":          "1; mode=block",
	}
	for key, expected := range expectedHeaders {
		if got := w.Header().Get(key); got != expected {
			t.Errorf("header %s: expected %q, got %q", key, expected, got)
		}
	}
}
