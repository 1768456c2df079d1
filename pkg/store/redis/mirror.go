package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/histree-io/histree/pkg/store"
)

const (
	// DefaultStream is the capped stream the journal mirrors into.
	DefaultStream = "histree:events"
	// DefaultMaxLen bounds the stream; older entries are trimmed.
	DefaultMaxLen = 10000
)

// StreamMirror fans journal events out to a Redis stream so external
// consumers can tail activity without touching the SQLite journal. The
// stream is capped: it is a live window, not durable history.
type StreamMirror struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewStreamMirror(client *redis.Client, stream string, maxLen int64) *StreamMirror {
	if stream == "" {
		stream = DefaultStream
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	return &StreamMirror{client: client, stream: stream, maxLen: maxLen}
}

// Publish appends one event to the stream, trimming approximately to
// the configured cap.
func (m *StreamMirror) Publish(ctx context.Context, e store.Event) error {
	err := m.client.XAdd(ctx, &redis.XAddArgs{
		Stream: m.stream,
		MaxLen: m.maxLen,
		Approx: true,
		Values: map[string]any{
			"event_id":   e.EventID,
			"event_type": string(e.EventType),
			"file_id":    e.FileID,
			"writer_id":  e.WriterID,
			"ts_event":   e.TsEvent.UTC().Format(time.RFC3339Nano),
			"payload":    string(e.Payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to XADD to %s: %w", m.stream, err)
	}
	return nil
}

// Recent returns up to count most recent stream entries, newest first.
func (m *StreamMirror) Recent(ctx context.Context, count int64) ([]redis.XMessage, error) {
	msgs, err := m.client.XRevRangeN(ctx, m.stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to XREVRANGE %s: %w", m.stream, err)
	}
	return msgs, nil
}

// Len reports the current stream depth.
func (m *StreamMirror) Len(ctx context.Context) (int64, error) {
	n, err := m.client.XLen(ctx, m.stream).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to XLEN %s: %w", m.stream, err)
	}
	return n, nil
}

// Ping verifies the connection before the daemon commits to mirroring.
func (m *StreamMirror) Ping(ctx context.Context) error {
	if err := m.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis unreachable: %w", err)
	}
	return nil
}
