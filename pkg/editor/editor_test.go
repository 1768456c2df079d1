package editor

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/histree-io/histree/pkg/api"
	"github.com/histree-io/histree/pkg/client"
	"github.com/histree-io/histree/pkg/engine"
)

// newTestClient spins up the real daemon handler on a local listener so
// the loop is exercised against the actual protocol, not a mock.
func newTestClient(t *testing.T) *client.Client {
	t.Helper()
	srv := api.NewServer(engine.NewRepository(nil), nil, "")
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return client.NewClient(ts.URL)
}

// seedPending builds root -> n1 -> n2 and queues a revert of n2 followed
// by an apply of n2, the canonical back-then-forward sequence.
func seedPending(t *testing.T, cli *client.Client, fileID string) (n1, n2 string) {
	t.Helper()
	ctx := context.Background()

	n1, err := cli.CreateNode(ctx, fileID, "root", []byte(`{"op":"insert","text":"A"}`))
	if err != nil {
		t.Fatalf("create n1: %v", err)
	}
	n2, err = cli.CreateNode(ctx, fileID, n1, []byte(`{"op":"insert","text":"B"}`))
	if err != nil {
		t.Fatalf("create n2: %v", err)
	}
	if _, err := cli.Navigate(ctx, fileID, n1, n2); err != nil {
		t.Fatalf("navigate back: %v", err)
	}
	if _, err := cli.Navigate(ctx, fileID, n2, n2); err != nil {
		t.Fatalf("navigate forward: %v", err)
	}
	return n1, n2
}

func TestProcessOnce_DrainsQueue(t *testing.T) {
	cli := newTestClient(t)
	seedPending(t, cli, "doc")

	var seen []string
	e := New(cli, Config{
		FileID: "doc",
		Handler: func(ch client.Change) error {
			seen = append(seen, ch.Mode)
			return nil
		},
	})

	n, err := e.ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}
	if n != 2 {
		t.Errorf("handled %d changes, want 2", n)
	}
	if len(seen) != 2 || seen[0] != "revert" || seen[1] != "apply" {
		t.Errorf("modes = %v, want [revert apply]", seen)
	}

	left, err := cli.Changes(context.Background(), "doc")
	if err != nil {
		t.Fatalf("changes after drain: %v", err)
	}
	if len(left) != 0 {
		t.Errorf("queue still holds %d entries after full ack", len(left))
	}
}

func TestProcessOnce_EmptyQueue(t *testing.T) {
	cli := newTestClient(t)
	e := New(cli, Config{FileID: "doc"})

	n, err := e.ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}
	if n != 0 {
		t.Errorf("handled %d on an empty queue", n)
	}
}

func TestProcessOnce_AcksOnlyHandledPrefix(t *testing.T) {
	cli := newTestClient(t)
	_, n2 := seedPending(t, cli, "doc")

	boom := errors.New("disk full")
	calls := 0
	e := New(cli, Config{
		FileID: "doc",
		Handler: func(client.Change) error {
			calls++
			if calls == 2 {
				return boom
			}
			return nil
		},
	})

	n, err := e.ProcessOnce(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want handler failure", err)
	}
	if n != 1 {
		t.Errorf("handled %d, want 1", n)
	}

	// Only the handled prefix was acknowledged; the apply of n2 is
	// still queued and a healthy pass picks it up.
	left, err := cli.Changes(context.Background(), "doc")
	if err != nil {
		t.Fatalf("changes: %v", err)
	}
	if len(left) != 1 || left[0].NodeID != n2 || left[0].Mode != "apply" {
		t.Fatalf("queue = %+v, want the unhandled apply of %s", left, n2)
	}

	e2 := New(cli, Config{FileID: "doc"})
	if n, err := e2.ProcessOnce(context.Background()); err != nil || n != 1 {
		t.Errorf("retry pass handled %d (%v), want 1", n, err)
	}
}

func TestProcessOnce_FirstChangeFails(t *testing.T) {
	cli := newTestClient(t)
	seedPending(t, cli, "doc")

	boom := errors.New("refused")
	e := New(cli, Config{
		FileID:  "doc",
		Handler: func(client.Change) error { return boom },
	})

	n, err := e.ProcessOnce(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want handler failure", err)
	}
	if n != 0 {
		t.Errorf("handled %d, want 0", n)
	}

	left, err := cli.Changes(context.Background(), "doc")
	if err != nil {
		t.Fatalf("changes: %v", err)
	}
	if len(left) != 2 {
		t.Errorf("queue shrank to %d entries with nothing acknowledged", len(left))
	}
}

func TestRun_DrainsThenIdles(t *testing.T) {
	cli := newTestClient(t)
	seedPending(t, cli, "doc")

	done := make(chan struct{})
	e := New(cli, Config{
		FileID:   "doc",
		Interval: 10 * time.Millisecond,
		Handler: func(ch client.Change) error {
			if ch.Mode == "apply" {
				close(done)
			}
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(stopped)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("loop never reached the queued apply")
	}
	cancel()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop on cancel")
	}
}

func TestRun_SurvivesDeadServer(t *testing.T) {
	// Endpoint with nothing listening: every pass fails, the loop backs
	// off and keeps going until cancelled.
	cli := client.NewClient("http://127.0.0.1:1")
	e := New(cli, Config{
		FileID:  "doc",
		Backoff: &client.ExponentialBackoff{Base: time.Millisecond, Max: 5 * time.Millisecond, Factor: 2},
	})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(stopped)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop on cancel")
	}
}

func TestNew_Defaults(t *testing.T) {
	e := New(client.NewClient("http://127.0.0.1:1"), Config{FileID: "doc"})
	if e.interval != defaultInterval {
		t.Errorf("interval = %v, want %v", e.interval, defaultInterval)
	}
	if e.handler == nil || e.backoff == nil || e.logger == nil {
		t.Error("defaults not filled in")
	}
}
