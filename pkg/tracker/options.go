package tracker

import (
	"log/slog"
	"maps"

	"github.com/aretw0/lineage/pkg/bus"
	"github.com/aretw0/lineage/pkg/clone"
	"github.com/aretw0/lineage/pkg/domain"
	"github.com/aretw0/lineage/pkg/history"
)

// Retention selects how long fingerprint cache entries live.
type Retention int

const (
	// RetainWithHistory drops an artifact's entry when History evicts the
	// snapshot that set it.
	RetainWithHistory Retention = iota
	// RetainForever keeps one entry per handle for the life of the Tracker.
	RetainForever
)

func (r Retention) String() string {
	switch r {
	case RetainWithHistory:
		return "history"
	case RetainForever:
		return "forever"
	default:
		return "unknown"
	}
}

// ParseRetention maps a config value to a Retention. Empty selects the default.
func ParseRetention(s string) (Retention, bool) {
	switch s {
	case "", "history":
		return RetainWithHistory, true
	case "forever":
		return RetainForever, true
	}
	return RetainWithHistory, false
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithBus sets the bus events are published to. Defaults to bus.Default().
func WithBus(b *bus.Bus) Option {
	return func(t *Tracker) {
		t.bus = b
	}
}

// WithHistory injects the History snapshots are appended to.
func WithHistory(h *history.History) Option {
	return func(t *Tracker) {
		t.history = h
	}
}

// WithCapacity sets the capacity of the History the Tracker creates.
// Ignored when WithHistory is given.
func WithCapacity(n int) Option {
	return func(t *Tracker) {
		t.capacity = n
	}
}

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// WithCloner sets how artifacts are frozen before being stored in a Snapshot.
func WithCloner(c clone.Cloner) Option {
	return func(t *Tracker) {
		t.cloner = c
	}
}

// WithRetention sets the fingerprint cache retention policy.
func WithRetention(r Retention) Option {
	return func(t *Tracker) {
		t.retention = r
	}
}

// WithClock overrides the timestamp source.
func WithClock(c domain.Clock) Option {
	return func(t *Tracker) {
		t.clock = c
	}
}

// WithIDGenerator overrides snapshot ID generation.
func WithIDGenerator(g domain.IDGenerator) Option {
	return func(t *Tracker) {
		t.newID = g
	}
}

// WithHooks registers lifecycle callbacks.
func WithHooks(h domain.LifecycleHooks) Option {
	return func(t *Tracker) {
		t.hooks = h
	}
}

// RecordOption describes one report.
type RecordOption func(*report)

type report struct {
	parents []string
	args    []any
	kwargs  map[string]any
	shape   domain.Shape
}

// WithParents lists the snapshot IDs the new event derives from.
func WithParents(ids ...string) RecordOption {
	return func(r *report) {
		r.parents = append(r.parents, ids...)
	}
}

// WithArgs records positional arguments of the operation.
func WithArgs(args ...any) RecordOption {
	return func(r *report) {
		r.args = append(r.args, args...)
	}
}

// WithKwargs merges named arguments of the operation.
func WithKwargs(kw map[string]any) RecordOption {
	return func(r *report) {
		if r.kwargs == nil {
			r.kwargs = make(map[string]any, len(kw))
		}
		maps.Copy(r.kwargs, kw)
	}
}

// WithKwarg sets one named argument.
func WithKwarg(key string, value any) RecordOption {
	return func(r *report) {
		if r.kwargs == nil {
			r.kwargs = make(map[string]any, 1)
		}
		r.kwargs[key] = value
	}
}

// WithShape overrides the shape derived from the artifact.
func WithShape(dims ...int) RecordOption {
	return func(r *report) {
		r.shape = append(domain.Shape{}, dims...)
	}
}
