package lineage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/aretw0/lineage/internal/logging"
	"github.com/aretw0/lineage/pkg/bus"
	"github.com/aretw0/lineage/pkg/clone"
	"github.com/aretw0/lineage/pkg/domain"
	"github.com/aretw0/lineage/pkg/history"
	"github.com/aretw0/lineage/pkg/observability"
	"github.com/aretw0/lineage/pkg/ports"
	"github.com/aretw0/lineage/pkg/tracker"
	"github.com/aretw0/lineage/pkg/writer"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrClosed is returned by Attach after Close.
var ErrClosed = errors.New("lineage: ledger is closed")

// Ledger is the high-level entry point of the library. It wires a Bus, a
// History and a Tracker together and owns the writers attached to them.
type Ledger struct {
	bus       *bus.Bus
	tracker   *tracker.Tracker
	collector *observability.Collector
	logger    *slog.Logger

	capacity    int
	retention   tracker.Retention
	trackerOpts []tracker.Option
	sinks       []sinkSpec
	registerer  prometheus.Registerer
	stopped     bool

	mu      sync.Mutex
	writers []*writer.Writer
	closed  bool
}

type sinkSpec struct {
	sink ports.SnapshotSink
	opts []writer.Option
}

// Option defines a functional option for configuring the Ledger.
type Option func(*Ledger)

// WithBus publishes on b instead of a private bus.
func WithBus(b *bus.Bus) Option {
	return func(l *Ledger) {
		l.bus = b
	}
}

// WithCapacity bounds the History (default domain.DefaultCapacity).
func WithCapacity(n int) Option {
	return func(l *Ledger) {
		l.capacity = n
	}
}

// WithRetention selects how long fingerprint cache entries live.
func WithRetention(r tracker.Retention) Option {
	return func(l *Ledger) {
		l.retention = r
	}
}

// WithLogger sets a custom structured logger shared by the tracker and writers.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// WithCloner snapshots artifacts through c.
func WithCloner(c clone.Cloner) Option {
	return WithTrackerOptions(tracker.WithCloner(c))
}

// WithLifecycleHooks registers observability hooks on the tracker.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return WithTrackerOptions(tracker.WithHooks(hooks))
}

// WithTrackerOptions passes raw options to the underlying Tracker. They are
// applied after the Ledger's own, so they win.
func WithTrackerOptions(opts ...tracker.Option) Option {
	return func(l *Ledger) {
		l.trackerOpts = append(l.trackerOpts, opts...)
	}
}

// WithSink attaches sink when the Ledger is created.
func WithSink(sink ports.SnapshotSink, opts ...writer.Option) Option {
	return func(l *Ledger) {
		l.sinks = append(l.sinks, sinkSpec{sink: sink, opts: opts})
	}
}

// WithMetrics registers the Prometheus collector on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(l *Ledger) {
		l.registerer = reg
	}
}

// WithStopped leaves the tracker stopped after New; call Start to begin recording.
func WithStopped() Option {
	return func(l *Ledger) {
		l.stopped = true
	}
}

// New builds a Ledger and starts its tracker. Sinks given with WithSink are
// attached in order; if one fails, the writers attached so far are closed
// along with the failing sink.
func New(opts ...Option) (*Ledger, error) {
	l := &Ledger{}
	for _, opt := range opts {
		opt(l)
	}
	if l.bus == nil {
		l.bus = bus.New()
	}
	if l.logger == nil {
		l.logger = logging.NewNop()
	}

	trackerOpts := []tracker.Option{
		tracker.WithBus(l.bus),
		tracker.WithCapacity(l.capacity),
		tracker.WithRetention(l.retention),
		tracker.WithLogger(l.logger),
	}
	l.tracker = tracker.New(append(trackerOpts, l.trackerOpts...)...)

	if l.registerer != nil {
		l.collector = observability.New(l.tracker)
		if err := l.collector.Register(l.registerer); err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
		l.collector.Attach(l.bus)
	}

	for _, s := range l.sinks {
		if _, err := l.Attach(s.sink, s.opts...); err != nil {
			return nil, errors.Join(err, l.Close(context.Background()))
		}
	}
	l.sinks = nil

	if !l.stopped {
		if err := l.tracker.Start(context.Background()); err != nil {
			return nil, errors.Join(err, l.Close(context.Background()))
		}
	}
	return l, nil
}

// Attach subscribes a writer for sink. With metrics enabled writer names must
// be unique; they default to the sink's type, so name repeated sink types with
// writer.WithName.
func (l *Ledger) Attach(sink ports.SnapshotSink, opts ...writer.Option) (*writer.Writer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}

	w := writer.New(sink, append([]writer.Option{writer.WithLogger(l.logger)}, opts...)...)
	if l.collector != nil {
		if err := l.collector.TrackWriter(w); err != nil {
			return nil, errors.Join(err, w.Close(context.Background()))
		}
	}
	w.Subscribe(l.bus)
	l.writers = append(l.writers, w)
	l.logger.Debug("sink attached", "sink", w.Name())
	return w, nil
}

// Start resumes recording. See tracker.Tracker.Start.
func (l *Ledger) Start(ctx context.Context) error {
	return l.tracker.Start(ctx)
}

// Stop pauses recording without closing writers.
func (l *Ledger) Stop(ctx context.Context) error {
	return l.tracker.Stop(ctx)
}

// Track mints a handle for v.
func (l *Ledger) Track(v any) tracker.Ref {
	return l.tracker.Track(v)
}

// Record reports that op produced ref.Value. See tracker.Tracker.Record.
func (l *Ledger) Record(ctx context.Context, op string, ref tracker.Ref, opts ...tracker.RecordOption) (*domain.Snapshot, error) {
	return l.tracker.Record(ctx, op, ref, opts...)
}

// Tracker returns the underlying Tracker.
func (l *Ledger) Tracker() *tracker.Tracker { return l.tracker }

// Bus returns the bus snapshots are published on.
func (l *Ledger) Bus() *bus.Bus { return l.bus }

// History returns the bounded snapshot store.
func (l *Ledger) History() *history.History { return l.tracker.History() }

// Collector returns the metrics collector, or nil without WithMetrics.
func (l *Ledger) Collector() *observability.Collector { return l.collector }

// Writers returns the attached writers in attach order.
func (l *Ledger) Writers() []*writer.Writer {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.writers)
}

// Close stops the tracker, then closes writers in reverse attach order so
// queued snapshots drain before their sinks go away. Idempotent.
func (l *Ledger) Close(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	writers := l.writers
	l.writers = nil
	l.mu.Unlock()

	errs := []error{l.tracker.Stop(ctx)}
	if l.collector != nil {
		l.collector.Detach()
	}
	for _, w := range slices.Backward(writers) {
		errs = append(errs, w.Close(ctx))
	}
	return errors.Join(errs...)
}
