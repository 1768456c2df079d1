package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	journalDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "histree_journal_dropped_total",
		Help: "Events dropped because the journal buffer was full",
	})
	journalFlushErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "histree_journal_flush_errors_total",
		Help: "Failed journal flush batches",
	})
)

func init() {
	prometheus.MustRegister(journalDropped)
	prometheus.MustRegister(journalFlushErrors)
}

// Mirror receives a copy of every flushed event. Used for the optional
// Redis stream fanout.
type Mirror interface {
	Publish(ctx context.Context, e Event) error
}

const (
	journalBuffer     = 1024
	journalBatchSize  = 128
	journalFlushEvery = 200 * time.Millisecond
	flushTimeout      = 5 * time.Second
)

// Journal decouples graph mutations from journal writes: Record never
// blocks the caller, a background loop flushes batches transactionally.
// Overflow drops events (with a counter) rather than stalling a mutation.
type Journal struct {
	store    *Store
	mirror   Mirror
	writerID string
	ch       chan Event
	done     chan struct{}
}

// NewJournal wraps store with an async writer. mirror may be nil.
func NewJournal(store *Store, mirror Mirror, writerID string) *Journal {
	if writerID == "" {
		writerID = "histree-d"
	}
	return &Journal{
		store:    store,
		mirror:   mirror,
		writerID: writerID,
		ch:       make(chan Event, journalBuffer),
		done:     make(chan struct{}),
	}
}

// Record queues an event for the next flush. Non-blocking.
func (j *Journal) Record(e Event) {
	e.WriterID = j.writerID
	if e.TsIngest.IsZero() {
		e.TsIngest = time.Now().UTC()
	}
	select {
	case j.ch <- e:
	default:
		journalDropped.Inc()
		slog.Warn("journal buffer full, dropping event", "event_type", e.EventType, "file_id", e.FileID)
	}
}

// Run flushes until ctx is cancelled, then drains whatever is still queued.
func (j *Journal) Run(ctx context.Context) {
	defer close(j.done)

	ticker := time.NewTicker(journalFlushEvery)
	defer ticker.Stop()

	batch := make([]Event, 0, journalBatchSize)

	for {
		select {
		case <-ctx.Done():
			j.drain(&batch)
			j.flush(&batch)
			return
		case e := <-j.ch:
			batch = append(batch, e)
			if len(batch) >= journalBatchSize {
				j.flush(&batch)
			}
		case <-ticker.C:
			j.flush(&batch)
		}
	}
}

// Done is closed once Run has flushed its final batch.
func (j *Journal) Done() <-chan struct{} {
	return j.done
}

func (j *Journal) drain(batch *[]Event) {
	for {
		select {
		case e := <-j.ch:
			*batch = append(*batch, e)
			if len(*batch) >= journalBatchSize {
				j.flush(batch)
			}
		default:
			return
		}
	}
}

func (j *Journal) flush(batch *[]Event) {
	if len(*batch) == 0 {
		return
	}
	// Fresh context: the flush must survive daemon shutdown.
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	if err := j.store.AppendEvents(ctx, *batch); err != nil {
		journalFlushErrors.Inc()
		slog.Error("journal flush failed", "error", err, "events", len(*batch))
		*batch = (*batch)[:0]
		return
	}
	if j.mirror != nil {
		for _, e := range *batch {
			if err := j.mirror.Publish(ctx, e); err != nil {
				slog.Warn("journal mirror publish failed", "error", err)
				break
			}
		}
	}
	*batch = (*batch)[:0]
}
