package tracker_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/lineage/pkg/bus"
	"github.com/aretw0/lineage/pkg/clone"
	"github.com/aretw0/lineage/pkg/domain"
	"github.com/aretw0/lineage/pkg/history"
	"github.com/aretw0/lineage/pkg/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// grid is a test artifact with an explicit two-dimensional shape.
type grid struct{ rows, cols int }

func (g grid) Shape() []int { return []int{g.rows, g.cols} }

func newTracker(t *testing.T, opts ...tracker.Option) (*tracker.Tracker, *bus.Bus) {
	t.Helper()
	b := bus.New()
	tr := tracker.New(append([]tracker.Option{tracker.WithBus(b)}, opts...)...)
	require.NoError(t, tr.Start(context.Background()))
	return tr, b
}

func TestTracker_RecordsAndIndexes(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(t)
	df := tr.Track(grid{3, 3})

	s1, err := tr.Record(ctx, "load", df)
	require.NoError(t, err)
	require.NotNil(t, s1)
	assert.Equal(t, "load", s1.Operation())
	assert.Equal(t, domain.Shape{3, 3}, s1.Shape())
	assert.True(t, s1.IsRoot())
	assert.Equal(t, df.Handle, s1.Handle())

	s2, err := tr.Record(ctx, "fillna", df.With(grid{3, 3}), tracker.WithParents(s1.ID()), tracker.WithKwarg("value", 0))
	require.NoError(t, err)
	require.NotNil(t, s2)
	assert.Equal(t, []string{s1.ID()}, s2.Parents())
	assert.Equal(t, map[string]any{"value": 0}, s2.Kwargs())

	h := tr.History()
	assert.Equal(t, 2, h.Len())
	assert.Equal(t, []string{s2.ID()}, h.ChildrenOf(s1.ID()))
	assert.Equal(t, tracker.Stats{Recorded: 2}, tr.Stats())
}

func TestTracker_SnapshotIDsAreUnique(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(t)
	seen := make(map[string]bool)
	for i := range 200 {
		s, err := tr.RecordUnconditional(ctx, "op", tr.Track(i))
		require.NoError(t, err)
		require.False(t, seen[s.ID()])
		seen[s.ID()] = true
	}
}

func TestTracker_DuplicateSuppression(t *testing.T) {
	ctx := context.Background()
	tr, b := newTracker(t)
	var events atomic.Int32
	b.Subscribe(domain.EventSnapshotCreated, func(context.Context, domain.Event) error {
		events.Add(1)
		return nil
	})
	df := tr.Track(grid{2, 2})

	first, err := tr.Record(ctx, "sort", df, tracker.WithArgs("a"), tracker.WithKwarg("ascending", true))
	require.NoError(t, err)
	require.NotNil(t, first)

	again, err := tr.Record(ctx, "sort", df, tracker.WithArgs("a"), tracker.WithKwarg("ascending", true))
	require.NoError(t, err)
	assert.Nil(t, again)

	changed, err := tr.Record(ctx, "sort", df, tracker.WithArgs("a"), tracker.WithKwarg("ascending", false))
	require.NoError(t, err)
	require.NotNil(t, changed)

	assert.Equal(t, 2, tr.History().Len())
	assert.EqualValues(t, 2, events.Load())
	assert.Equal(t, tracker.Stats{Recorded: 2, Suppressed: 1}, tr.Stats())
}

func TestTracker_IndependentArtifactsAreNotSuppressed(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(t)

	a, err := tr.Record(ctx, "load", tr.Track(grid{1, 1}))
	require.NoError(t, err)
	b, err := tr.Record(ctx, "load", tr.Track(grid{1, 1}))
	require.NoError(t, err)

	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestTracker_RecordUnconditionalBypassesCache(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(t)
	df := tr.Track(grid{1, 1})

	for range 3 {
		s, err := tr.RecordUnconditional(ctx, "touch", df)
		require.NoError(t, err)
		require.NotNil(t, s)
	}
	assert.Equal(t, 0, tr.CacheLen())

	s, err := tr.Record(ctx, "touch", df)
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestTracker_Manual(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(t)
	df := tr.Track([]int{1, 2, 3})

	s, err := tr.Manual(ctx, "checkpoint", df)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "checkpoint", s.Operation())
	assert.Equal(t, domain.Shape{3}, s.Shape())
	assert.Empty(t, s.Args())
	assert.Empty(t, s.Kwargs())

	again, err := tr.Manual(ctx, "checkpoint", df)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestTracker_StoppedIsInert(t *testing.T) {
	ctx := context.Background()
	b := bus.New()
	var events atomic.Int32
	b.Subscribe(domain.EventSnapshotCreated, func(context.Context, domain.Event) error {
		events.Add(1)
		return nil
	})
	tr := tracker.New(tracker.WithBus(b))

	s, err := tr.Record(ctx, "load", tr.Track(1))
	require.NoError(t, err)
	assert.Nil(t, s)

	require.NoError(t, tr.Start(ctx))
	require.NoError(t, tr.Stop(ctx))
	s, err = tr.RecordUnconditional(ctx, "load", tr.Track(1))
	require.NoError(t, err)
	assert.Nil(t, s)

	assert.Zero(t, tr.History().Len())
	assert.Zero(t, events.Load())
	assert.Equal(t, tracker.Stats{Ignored: 2}, tr.Stats())
}

func TestTracker_StartStopAreIdempotent(t *testing.T) {
	ctx := context.Background()
	b := bus.New()
	var started, stopped atomic.Int32
	b.Subscribe(domain.EventTrackerStarted, func(_ context.Context, e domain.Event) error {
		assert.Nil(t, e.Snapshot)
		started.Add(1)
		return nil
	})
	b.Subscribe(domain.EventTrackerStopped, func(context.Context, domain.Event) error {
		stopped.Add(1)
		return nil
	})
	tr := tracker.New(tracker.WithBus(b))

	require.NoError(t, tr.Stop(ctx))
	require.NoError(t, tr.Start(ctx))
	require.NoError(t, tr.Start(ctx))
	assert.True(t, tr.Running())
	require.NoError(t, tr.Stop(ctx))
	require.NoError(t, tr.Stop(ctx))
	assert.False(t, tr.Running())

	assert.EqualValues(t, 1, started.Load())
	assert.EqualValues(t, 1, stopped.Load())
}

func TestTracker_StopReturnsSubscriberError(t *testing.T) {
	ctx := context.Background()
	tr, b := newTracker(t)
	boom := errors.New("boom")
	b.Subscribe(domain.EventTrackerStopped, func(context.Context, domain.Event) error { return boom })

	err := tr.Stop(ctx)
	assert.ErrorIs(t, err, boom)
	assert.False(t, tr.Running())
}

func TestTracker_StartReturnsSubscriberError(t *testing.T) {
	ctx := context.Background()
	b := bus.New()
	boom := errors.New("boom")
	var called atomic.Bool
	b.Subscribe(domain.EventTrackerStarted, func(context.Context, domain.Event) error {
		called.Store(true)
		return boom
	})
	tr := tracker.New(tracker.WithBus(b))

	err := tr.Start(ctx)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), domain.EventTrackerStarted)
	assert.True(t, called.Load())
	assert.True(t, tr.Running())

	require.NoError(t, tr.Start(ctx), "no second publish while running")
}

func TestTracker_CacheMatchesHistoryTail(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(t, tracker.WithCapacity(4096))
	ref := tr.Track(1)

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				_, _ = tr.Record(ctx, "step", ref, tracker.WithArgs((g+i)%3))
			}
		}()
	}
	wg.Wait()

	snaps := tr.History().Snapshots()
	require.NotEmpty(t, snaps)
	tail := snaps[len(snaps)-1]
	s, err := tr.Record(ctx, "step", ref, tracker.WithArgs(tail.Args()...))
	require.NoError(t, err)
	assert.Nil(t, s, "the remembered fingerprint is the one of the History tail")
}

func TestTracker_EventDelivery(t *testing.T) {
	ctx := context.Background()
	tr, b := newTracker(t)
	var got []*domain.Snapshot
	b.Subscribe(domain.EventSnapshotCreated, func(_ context.Context, e domain.Event) error {
		got = append(got, e.Snapshot)
		return nil
	})

	s, err := tr.Record(ctx, "X", tr.Track(grid{2, 2}))
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Same(t, s, got[0])
	assert.Equal(t, "X", got[0].Operation())
	assert.Equal(t, "(2, 2)", got[0].Shape().String())
}

func TestTracker_UnsubscribeStopsDelivery(t *testing.T) {
	ctx := context.Background()
	tr, b := newTracker(t)
	var calls int
	unsub := b.Subscribe(domain.EventSnapshotCreated, func(context.Context, domain.Event) error {
		calls++
		return nil
	})

	_, err := tr.Record(ctx, "a", tr.Track(1))
	require.NoError(t, err)
	unsub()
	_, err = tr.Record(ctx, "b", tr.Track(2))
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
}

func TestTracker_SubscriberErrorIsReturnedWithSnapshot(t *testing.T) {
	ctx := context.Background()
	tr, b := newTracker(t)
	boom := errors.New("sink down")
	b.Subscribe(domain.EventSnapshotCreated, func(context.Context, domain.Event) error { return boom })

	s, err := tr.Record(ctx, "load", tr.Track(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	require.NotNil(t, s)
	assert.True(t, tr.History().Contains(s.ID()))
}

func TestTracker_EndToEndCapacityTwo(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(t, tracker.WithCapacity(2))
	a := tr.Track(grid{3, 3})

	s1, err := tr.Record(ctx, "init", a)
	require.NoError(t, err)
	s2, err := tr.Record(ctx, "update", a.With(grid{3, 4}), tracker.WithParents(s1.ID()))
	require.NoError(t, err)
	s3, err := tr.Record(ctx, "update", tr.Track(grid{3, 5}), tracker.WithParents(s2.ID()))
	require.NoError(t, err)
	require.NotNil(t, s3)

	h := tr.History()
	assert.Equal(t, 2, h.Len())
	assert.False(t, h.Contains(s1.ID()))
	assert.Equal(t, []string{s1.ID()}, h.ParentsOf(s2.ID()))
	assert.Empty(t, h.ChildrenOf(s1.ID()))
	assert.Equal(t, []string{s3.ID()}, h.ChildrenOf(s2.ID()))
	assert.Equal(t, domain.Shape{3, 5}, s3.Shape())
}

func TestTracker_BoundedGrowth(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(t, tracker.WithCapacity(5))
	for i := range 50 {
		_, err := tr.Record(ctx, fmt.Sprintf("op-%d", i), tr.Track(i))
		require.NoError(t, err)
		assert.LessOrEqual(t, tr.History().Len(), 5)
	}
	assert.Equal(t, 5, tr.History().Len())
	assert.LessOrEqual(t, tr.CacheLen(), 5)
}

func TestTracker_RetainWithHistoryForgetsEvictedEntries(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(t, tracker.WithCapacity(1))
	a := tr.Track(1)

	s, err := tr.Record(ctx, "load", a)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, 1, tr.CacheLen())

	_, err = tr.Record(ctx, "load", tr.Track(2))
	require.NoError(t, err)
	assert.Equal(t, 1, tr.CacheLen())

	// a's snapshot is gone, so the same report is new again.
	again, err := tr.Record(ctx, "load", a)
	require.NoError(t, err)
	assert.NotNil(t, again)
}

func TestTracker_RetainWithHistoryKeepsNewerEntry(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(t, tracker.WithCapacity(1))
	a := tr.Track(1)

	_, err := tr.Record(ctx, "load", a)
	require.NoError(t, err)
	// Evicts a's first snapshot, but the cache already points at the second.
	_, err = tr.Record(ctx, "clean", a)
	require.NoError(t, err)

	dup, err := tr.Record(ctx, "clean", a)
	require.NoError(t, err)
	assert.Nil(t, dup)
}

func TestTracker_RetainForever(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(t, tracker.WithCapacity(1), tracker.WithRetention(tracker.RetainForever))
	a := tr.Track(1)

	_, err := tr.Record(ctx, "load", a)
	require.NoError(t, err)
	for i := range 10 {
		_, err = tr.Record(ctx, "load", tr.Track(i+2))
		require.NoError(t, err)
	}
	assert.Equal(t, 11, tr.CacheLen())

	dup, err := tr.Record(ctx, "load", a)
	require.NoError(t, err)
	assert.Nil(t, dup)
}

func TestTracker_Forget(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(t)
	a := tr.Track(1)
	_, err := tr.Record(ctx, "load", a)
	require.NoError(t, err)

	tr.Forget(a.Handle)
	s, err := tr.Record(ctx, "load", a)
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestTracker_ConcurrentDuplicatesYieldOneSnapshot(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(t)
	a := tr.Track(grid{4, 4})

	var (
		wg      sync.WaitGroup
		created atomic.Int32
		start   = make(chan struct{})
	)
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			s, err := tr.Record(ctx, "normalize", a, tracker.WithKwarg("axis", 0))
			assert.NoError(t, err)
			if s != nil {
				created.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, 1, created.Load())
	assert.Equal(t, 1, tr.History().Len())
	assert.Equal(t, tracker.Stats{Recorded: 1, Suppressed: 31}, tr.Stats())
}

func TestTracker_ConcurrentWritersKeepIndexConsistent(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(t, tracker.WithCapacity(16))
	root, err := tr.Record(ctx, "root", tr.Track(0))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 25 {
				_, err := tr.Record(ctx, "step", tr.Track(w*100+i), tracker.WithParents(root.ID()))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	h := tr.History()
	assert.Equal(t, 16, h.Len())
	for s := range h.All() {
		for _, p := range h.ParentsOf(s.ID()) {
			if h.Contains(p) {
				assert.Contains(t, h.ChildrenOf(p), s.ID())
			}
		}
	}
	assert.False(t, h.Contains(root.ID()))
}

func TestTracker_InjectedClockAndIDs(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var n int
	tr, _ := newTracker(t,
		tracker.WithClock(func() time.Time { return fixed }),
		tracker.WithIDGenerator(func() string { n++; return fmt.Sprintf("snap-%d", n) }),
	)

	s, err := tr.Record(ctx, "load", tr.Track(1))
	require.NoError(t, err)
	assert.Equal(t, "snap-1", s.ID())
	assert.Equal(t, "2024-05-01T12:00:00.000000Z", s.TimestampString())
}

func TestTracker_WithHistoryAndCloner(t *testing.T) {
	ctx := context.Background()
	h := history.New(3)
	reg := clone.NewRegistry()
	clone.Register(reg, slices.Clone[[]int])
	tr, _ := newTracker(t, tracker.WithHistory(h), tracker.WithCloner(reg))
	assert.Same(t, h, tr.History())

	rows := []int{1, 2}
	s, err := tr.Record(ctx, "load", tr.Track(rows))
	require.NoError(t, err)
	rows[0] = 42
	assert.Equal(t, []int{1, 2}, s.Artifact())
}

func TestTracker_WithShapeOverride(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(t)
	s, err := tr.Record(ctx, "reshape", tr.Track(nil), tracker.WithShape(6, 1))
	require.NoError(t, err)
	assert.Equal(t, domain.Shape{6, 1}, s.Shape())

	s, err = tr.Record(ctx, "note", tr.Track(struct{}{}))
	require.NoError(t, err)
	assert.Empty(t, s.Shape())
}

func TestTracker_Hooks(t *testing.T) {
	ctx := context.Background()
	var recorded, suppressed, ignored []string
	tr, _ := newTracker(t, tracker.WithHooks(domain.LifecycleHooks{
		OnRecorded:   func(_ context.Context, s *domain.Snapshot) { recorded = append(recorded, s.Operation()) },
		OnSuppressed: func(_ context.Context, op string, _ domain.Handle) { suppressed = append(suppressed, op) },
		OnIgnored:    func(_ context.Context, op string) { ignored = append(ignored, op) },
	}))
	a := tr.Track(1)

	_, _ = tr.Record(ctx, "load", a)
	_, _ = tr.Record(ctx, "load", a)
	require.NoError(t, tr.Stop(ctx))
	_, _ = tr.Record(ctx, "late", a)

	assert.Equal(t, []string{"load"}, recorded)
	assert.Equal(t, []string{"load"}, suppressed)
	assert.Equal(t, []string{"late"}, ignored)
}

func TestHandles_MintIsMonotonic(t *testing.T) {
	var hs tracker.Handles
	prev := hs.Mint()
	assert.False(t, prev.IsZero())
	for range 10 {
		next := hs.Mint()
		assert.Greater(t, next, prev)
		prev = next
	}
}

func TestParseRetention(t *testing.T) {
	r, ok := tracker.ParseRetention("")
	assert.True(t, ok)
	assert.Equal(t, tracker.RetainWithHistory, r)

	r, ok = tracker.ParseRetention("forever")
	assert.True(t, ok)
	assert.Equal(t, tracker.RetainForever, r)
	assert.Equal(t, "forever", r.String())

	_, ok = tracker.ParseRetention("lru")
	assert.False(t, ok)
}
