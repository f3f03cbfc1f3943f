// Package writer connects a ports.SnapshotSink to a bus so every recorded
// snapshot is copied to it.
package writer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/aretw0/lineage/internal/logging"
	"github.com/aretw0/lineage/pkg/bus"
	"github.com/aretw0/lineage/pkg/domain"
	"github.com/aretw0/lineage/pkg/ports"
)

// DefaultBuffer is the queue length used by WithAsync when given a size below 1.
const DefaultBuffer = 256

// Writer is a bus.Listener that forwards snapshot.created events to a sink.
// Sink failures are logged and counted, never returned to the publisher.
type Writer struct {
	sink   ports.SnapshotSink
	name   string
	logger *slog.Logger

	async  bool
	buffer int
	queue  chan *domain.Snapshot
	done   chan struct{}
	// stop is closed when Close gives up waiting; drain then discards the
	// rest of the queue and closes the sink itself.
	stop        chan struct{}
	drainCtx    context.Context
	cancelDrain context.CancelFunc

	// mu orders enqueue against Close so nothing is sent on a closed queue.
	mu     sync.RWMutex
	closed bool
	unsub  bus.UnsubscribeFunc

	written atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

// Stats counts deliveries by outcome.
type Stats struct {
	Written uint64 `json:"written"`
	Failed  uint64 `json:"failed"`
	Dropped uint64 `json:"dropped"`
}

// Option configures a Writer.
type Option func(*Writer)

// WithAsync delivers through a queue of the given size drained by one goroutine,
// so a slow sink does not stall Record. A full queue drops the snapshot.
func WithAsync(buffer int) Option {
	return func(w *Writer) {
		w.async = true
		w.buffer = buffer
	}
}

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) {
		w.logger = logger
	}
}

// WithName labels the writer in logs.
func WithName(name string) Option {
	return func(w *Writer) {
		w.name = name
	}
}

// New creates a detached Writer. Use Attach to subscribe it.
func New(sink ports.SnapshotSink, opts ...Option) *Writer {
	if sink == nil {
		panic("writer: nil sink")
	}
	w := &Writer{sink: sink, name: fmt.Sprintf("%T", sink)}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logging.NewNop()
	}
	w.logger = w.logger.With("sink", w.name)
	if w.async {
		if w.buffer < 1 {
			w.buffer = DefaultBuffer
		}
		w.queue = make(chan *domain.Snapshot, w.buffer)
		w.done = make(chan struct{})
		w.stop = make(chan struct{})
		w.drainCtx, w.cancelDrain = context.WithCancel(context.Background())
		go w.drain()
	}
	return w
}

// Attach creates a Writer and subscribes it to snapshot.created on b.
func Attach(b *bus.Bus, sink ports.SnapshotSink, opts ...Option) *Writer {
	w := New(sink, opts...)
	w.Subscribe(b)
	return w
}

// Subscribe registers w for snapshot.created on b, replacing any previous
// subscription. It is a no-op after Close.
func (w *Writer) Subscribe(b *bus.Bus) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.unsub != nil {
		w.unsub()
	}
	w.unsub = b.SubscribeListener(domain.EventSnapshotCreated, w)
}

// HandleEvent implements bus.Listener.
func (w *Writer) HandleEvent(ctx context.Context, e domain.Event) error {
	if e.Type != domain.EventSnapshotCreated || e.Snapshot == nil {
		return nil
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return nil
	}
	if !w.async {
		w.write(ctx, e.Snapshot)
		return nil
	}
	select {
	case w.queue <- e.Snapshot:
	default:
		w.dropped.Add(1)
		w.logger.Warn("writer queue full, snapshot dropped", "id", e.Snapshot.ID(), "buffer", w.buffer)
	}
	return nil
}

func (w *Writer) write(ctx context.Context, s *domain.Snapshot) {
	if err := w.sink.Write(ctx, s); err != nil {
		w.failed.Add(1)
		w.logger.Error("sink write failed", "id", s.ID(), "op", s.Operation(), "err", err)
		return
	}
	w.written.Add(1)
}

func (w *Writer) drain() {
	defer close(w.done)
	for s := range w.queue {
		select {
		case <-w.stop:
			w.dropped.Add(1)
			continue
		default:
		}
		w.write(w.drainCtx, s)
	}
}

// Close unsubscribes, drains any queued snapshots and closes the sink.
// Idempotent. If ctx ends before the queue drains, ctx.Err() is returned at
// once: the write in flight is cancelled, the remaining queue is counted as
// dropped and the sink is closed by the drain goroutine after its last Write
// returns, so the sink never sees a Write after Close.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.unsub != nil {
		w.unsub()
	}
	if w.async {
		close(w.queue)
	}
	w.mu.Unlock()

	if w.async {
		select {
		case <-w.done:
			w.cancelDrain()
		case <-ctx.Done():
			close(w.stop)
			w.cancelDrain()
			go w.closeAfterDrain()
			return fmt.Errorf("drain %s: %w", w.name, ctx.Err())
		}
	}
	if err := w.sink.Close(); err != nil {
		return fmt.Errorf("close %s: %w", w.name, err)
	}
	return nil
}

// closeAfterDrain closes the sink once an abandoned drain has returned.
func (w *Writer) closeAfterDrain() {
	<-w.done
	if err := w.sink.Close(); err != nil {
		w.logger.Error("sink close failed", "err", err)
	}
	w.logger.Warn("writer closed before its queue drained", "dropped", w.dropped.Load())
}

// Sink returns the wrapped sink.
func (w *Writer) Sink() ports.SnapshotSink { return w.sink }

// Name returns the label used in logs.
func (w *Writer) Name() string { return w.name }

// Stats returns a point-in-time copy of the delivery counters.
func (w *Writer) Stats() Stats {
	return Stats{
		Written: w.written.Load(),
		Failed:  w.failed.Load(),
		Dropped: w.dropped.Load(),
	}
}
