package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/aretw0/lineage/internal/logging"
	"github.com/aretw0/lineage/pkg/bus"
	"github.com/aretw0/lineage/pkg/clone"
	"github.com/aretw0/lineage/pkg/domain"
	"github.com/aretw0/lineage/pkg/fingerprint"
	"github.com/aretw0/lineage/pkg/history"
)

// Tracker turns reports into snapshots, appends them to its History and
// publishes them on its Bus. Safe for concurrent use.
type Tracker struct {
	bus       *bus.Bus
	history   *history.History
	capacity  int
	logger    *slog.Logger
	cloner    clone.Cloner
	retention Retention
	clock     domain.Clock
	newID     domain.IDGenerator
	hooks     domain.LifecycleHooks

	running atomic.Bool
	handles Handles

	// seq makes the fingerprint check, the cache update and the History
	// append one step, so the History order matches the cache. Taken before mu.
	seq sync.Mutex
	// mu guards cache. Never held while taking the History lock.
	mu    sync.Mutex
	cache map[domain.Handle]cacheEntry

	recorded   atomic.Uint64
	suppressed atomic.Uint64
	ignored    atomic.Uint64
}

type cacheEntry struct {
	fp         fingerprint.Fingerprint
	snapshotID string
}

// Stats counts reports by outcome since the Tracker was created.
type Stats struct {
	Recorded   uint64 `json:"recorded"`
	Suppressed uint64 `json:"suppressed"`
	Ignored    uint64 `json:"ignored"`
}

// New creates a stopped Tracker. Call Start before reporting.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		cache: make(map[domain.Handle]cacheEntry),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.bus == nil {
		t.bus = bus.Default()
	}
	if t.logger == nil {
		t.logger = logging.NewNop()
	}
	if t.cloner == nil {
		t.cloner = clone.Identity
	}
	if t.clock == nil {
		t.clock = domain.Now
	}
	if t.newID == nil {
		t.newID = domain.NewID
	}
	if t.history == nil {
		t.history = history.New(t.capacity)
	}
	if t.retention == RetainWithHistory {
		t.history.OnEvict(t.forgetSnapshot)
	}
	return t
}

// Start enables reporting. Idempotent: tracker.started is only published on
// the transition from stopped, and its subscriber error is returned. The
// tracker stays running when a subscriber fails.
func (t *Tracker) Start(ctx context.Context) error {
	if !t.running.CompareAndSwap(false, true) {
		return nil
	}
	t.logger.Debug("tracker started", "capacity", t.history.Capacity(), "retention", t.retention.String())
	if err := t.bus.Publish(ctx, domain.NewEvent(domain.EventTrackerStarted, nil)); err != nil {
		return fmt.Errorf("publish %s: %w", domain.EventTrackerStarted, err)
	}
	return nil
}

// Stop disables reporting. Idempotent: tracker.stopped is only published on
// the transition from running, and its subscriber error is returned.
func (t *Tracker) Stop(ctx context.Context) error {
	if !t.running.CompareAndSwap(true, false) {
		return nil
	}
	t.logger.Debug("tracker stopped")
	if err := t.bus.Publish(ctx, domain.NewEvent(domain.EventTrackerStopped, nil)); err != nil {
		return fmt.Errorf("publish %s: %w", domain.EventTrackerStopped, err)
	}
	return nil
}

// Running reports whether reports are currently accepted.
func (t *Tracker) Running() bool {
	return t.running.Load()
}

// Track mints a new handle for v.
func (t *Tracker) Track(v any) Ref {
	return Ref{Handle: t.handles.Mint(), Value: v}
}

// Handles exposes the arena Track mints from, for adapters that allocate
// handles before the value exists.
func (t *Tracker) Handles() *Handles {
	return &t.handles
}

// Record reports that op produced ref.Value. It returns nil, nil when the
// tracker is stopped or the report fingerprints identically to the last one
// recorded for ref.Handle. Otherwise the snapshot is appended and published;
// a subscriber error is returned together with the already recorded snapshot.
func (t *Tracker) Record(ctx context.Context, op string, ref Ref, opts ...RecordOption) (*domain.Snapshot, error) {
	return t.record(ctx, op, ref, true, opts)
}

// RecordUnconditional records without consulting or updating the fingerprint cache.
func (t *Tracker) RecordUnconditional(ctx context.Context, op string, ref Ref, opts ...RecordOption) (*domain.Snapshot, error) {
	return t.record(ctx, op, ref, false, opts)
}

// Manual records a free-form annotation with no parents or arguments.
func (t *Tracker) Manual(ctx context.Context, note string, ref Ref) (*domain.Snapshot, error) {
	return t.Record(ctx, note, ref)
}

func (t *Tracker) record(ctx context.Context, op string, ref Ref, dedupe bool, opts []RecordOption) (*domain.Snapshot, error) {
	if !t.running.Load() {
		t.ignored.Add(1)
		t.logger.Debug("report ignored", "op", op, "handle", ref.Handle)
		if t.hooks.OnIgnored != nil {
			t.hooks.OnIgnored(ctx, op)
		}
		return nil, nil
	}

	var r report
	for _, opt := range opts {
		opt(&r)
	}
	shape := r.shape
	if shape == nil {
		shape = domain.ShapeOf(ref.Value)
	}
	if shape == nil {
		shape = domain.Shape{}
	}

	params := domain.SnapshotParams{
		Operation: op,
		Shape:     shape,
		Parents:   r.parents,
		Args:      r.args,
		Kwargs:    r.kwargs,
		Handle:    ref.Handle,
	}

	var fp fingerprint.Fingerprint
	if dedupe {
		fp = fingerprint.Compute(fingerprint.Input{
			Operation: op,
			Parents:   r.parents,
			Shape:     shape,
			Args:      r.args,
			Kwargs:    r.kwargs,
		})
	}

	var snap *domain.Snapshot
	t.seq.Lock()
	if dedupe {
		t.mu.Lock()
		if last, ok := t.cache[ref.Handle]; ok && last.fp == fp {
			t.mu.Unlock()
			t.seq.Unlock()
			t.suppressed.Add(1)
			t.logger.Debug("duplicate report suppressed", "op", op, "handle", ref.Handle, "fingerprint", fp.Hex())
			if t.hooks.OnSuppressed != nil {
				t.hooks.OnSuppressed(ctx, op, ref.Handle)
			}
			return nil, nil
		}
		snap = t.newSnapshot(params, ref.Value)
		t.cache[ref.Handle] = cacheEntry{fp: fp, snapshotID: snap.ID()}
		t.mu.Unlock()
	} else {
		snap = t.newSnapshot(params, ref.Value)
	}

	evicted := t.history.Append(snap)
	t.seq.Unlock()
	if evicted != nil {
		t.logger.Debug("snapshot evicted", "id", evicted.ID(), "op", evicted.Operation())
	}
	t.recorded.Add(1)
	t.logger.Debug("snapshot recorded", "id", snap.ID(), "op", op, "shape", snap.Shape().String(), "parents", snap.ParentLabel())
	if t.hooks.OnRecorded != nil {
		t.hooks.OnRecorded(ctx, snap)
	}

	if err := t.bus.Publish(ctx, domain.NewEvent(domain.EventSnapshotCreated, snap)); err != nil {
		return snap, fmt.Errorf("publish %s for snapshot %s: %w", domain.EventSnapshotCreated, snap.ID(), err)
	}
	return snap, nil
}

func (t *Tracker) newSnapshot(p domain.SnapshotParams, value any) *domain.Snapshot {
	p.ID = t.newID()
	p.Timestamp = t.clock()
	p.Artifact = t.cloner.Clone(value)
	return domain.NewSnapshot(p)
}

// forgetSnapshot is the History evict hook under RetainWithHistory. The entry
// is dropped only if it still points at the evicted snapshot.
func (t *Tracker) forgetSnapshot(s *domain.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.cache[s.Handle()]; ok && e.snapshotID == s.ID() {
		delete(t.cache, s.Handle())
	}
}

// Forget drops the fingerprint entry for h so its next report is always recorded.
func (t *Tracker) Forget(h domain.Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.cache, h)
}

// CacheLen returns the number of handles with a remembered fingerprint.
func (t *Tracker) CacheLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.cache)
}

// Stats returns a point-in-time copy of the report counters.
func (t *Tracker) Stats() Stats {
	return Stats{
		Recorded:   t.recorded.Load(),
		Suppressed: t.suppressed.Load(),
		Ignored:    t.ignored.Load(),
	}
}

// History returns the store snapshots are appended to.
func (t *Tracker) History() *history.History { return t.history }

// Bus returns the bus events are published on.
func (t *Tracker) Bus() *bus.Bus { return t.bus }

// Retention returns the configured cache retention policy.
func (t *Tracker) Retention() Retention { return t.retention }
