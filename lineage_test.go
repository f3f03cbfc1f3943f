package lineage_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/lineage"
	"github.com/aretw0/lineage/pkg/adapters/memory"
	"github.com/aretw0/lineage/pkg/bus"
	"github.com/aretw0/lineage/pkg/domain"
	"github.com/aretw0/lineage/pkg/tracker"
	"github.com/aretw0/lineage/pkg/writer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// orderedSink records the order sinks are closed in.
type orderedSink struct {
	*memory.Store
	name   string
	closed *[]string
	err    error
}

func (s *orderedSink) Close() error {
	*s.closed = append(*s.closed, s.name)
	return s.err
}

func TestLedger_RecordsThroughSinks(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	ledger, err := lineage.New(lineage.WithCapacity(8), lineage.WithSink(store))
	require.NoError(t, err)

	assert.True(t, ledger.Tracker().Running())
	assert.Equal(t, 8, ledger.History().Capacity())

	rows := ledger.Track([]int{1, 2, 3})
	s1, err := ledger.Record(ctx, "load", rows)
	require.NoError(t, err)
	require.NotNil(t, s1)

	again, err := ledger.Record(ctx, "load", rows)
	require.NoError(t, err)
	assert.Nil(t, again, "unchanged report is suppressed")

	s2, err := ledger.Record(ctx, "sort", ledger.Track([]int{3, 2, 1}), tracker.WithParents(s1.ID()))
	require.NoError(t, err)

	require.NoError(t, ledger.Close(ctx))

	recs := store.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, s1.ID(), recs[0].ID)
	assert.Equal(t, []string{s1.ID()}, recs[1].Parents)
	assert.Equal(t, []string{s2.ID()}, ledger.History().ChildrenOf(s1.ID()))
	assert.False(t, ledger.Tracker().Running())
}

func TestLedger_CloseOrderAndIdempotence(t *testing.T) {
	ctx := context.Background()
	var closed []string
	first := &orderedSink{Store: memory.NewStore(), name: "first", closed: &closed}
	second := &orderedSink{Store: memory.NewStore(), name: "second", closed: &closed, err: errors.New("disk full")}

	ledger, err := lineage.New(
		lineage.WithSink(first, writer.WithName("first")),
		lineage.WithSink(second, writer.WithName("second"), writer.WithAsync(4)),
	)
	require.NoError(t, err)
	require.Len(t, ledger.Writers(), 2)

	err = ledger.Close(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, []string{"second", "first"}, closed)

	assert.NoError(t, ledger.Close(ctx))
	assert.Equal(t, []string{"second", "first"}, closed)

	_, err = ledger.Attach(memory.NewStore())
	assert.ErrorIs(t, err, lineage.ErrClosed)
}

func TestLedger_AttachAfterNew(t *testing.T) {
	ctx := context.Background()
	ledger, err := lineage.New()
	require.NoError(t, err)
	defer ledger.Close(ctx)

	early, err := ledger.Record(ctx, "load", ledger.Track("a"))
	require.NoError(t, err)

	store := memory.NewStore()
	_, err = ledger.Attach(store)
	require.NoError(t, err)

	late, err := ledger.Record(ctx, "upper", ledger.Track("A"), tracker.WithParents(early.ID()))
	require.NoError(t, err)

	recs := store.Records()
	require.Len(t, recs, 1, "sinks only see snapshots recorded after they attach")
	assert.Equal(t, late.ID(), recs[0].ID)
}

func TestLedger_Stopped(t *testing.T) {
	ctx := context.Background()
	ledger, err := lineage.New(lineage.WithStopped())
	require.NoError(t, err)
	defer ledger.Close(ctx)

	s, err := ledger.Record(ctx, "load", ledger.Track(1))
	require.NoError(t, err)
	assert.Nil(t, s)

	require.NoError(t, ledger.Start(ctx))
	s, err = ledger.Record(ctx, "load", ledger.Track(1))
	require.NoError(t, err)
	assert.NotNil(t, s)

	require.NoError(t, ledger.Stop(ctx))
	assert.False(t, ledger.Tracker().Running())
}

func TestLedger_SharedBus(t *testing.T) {
	ctx := context.Background()
	b := bus.New()
	var seen []string
	b.Subscribe(domain.EventSnapshotCreated, func(_ context.Context, e domain.Event) error {
		seen = append(seen, e.Snapshot.Operation())
		return nil
	})

	ledger, err := lineage.New(lineage.WithBus(b))
	require.NoError(t, err)
	defer ledger.Close(ctx)
	assert.Same(t, b, ledger.Bus())

	_, err = ledger.Record(ctx, "load", ledger.Track(1))
	require.NoError(t, err)
	assert.Equal(t, []string{"load"}, seen)
}

func TestLedger_StartSubscriberError(t *testing.T) {
	ctx := context.Background()
	b := bus.New()
	boom := errors.New("boom")
	b.Subscribe(domain.EventTrackerStarted, func(context.Context, domain.Event) error { return boom })

	_, err := lineage.New(lineage.WithBus(b))
	assert.ErrorIs(t, err, boom)

	ledger, err := lineage.New(lineage.WithBus(b), lineage.WithStopped())
	require.NoError(t, err)
	defer ledger.Close(ctx)
	assert.ErrorIs(t, ledger.Start(ctx), boom)
	assert.True(t, ledger.Tracker().Running())
}

func TestLedger_Metrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	ledger, err := lineage.New(
		lineage.WithMetrics(reg),
		lineage.WithSink(memory.NewStore(), writer.WithName("memory")),
	)
	require.NoError(t, err)
	require.NotNil(t, ledger.Collector())

	ref := ledger.Track([]int{1})
	_, err = ledger.Record(ctx, "load", ref)
	require.NoError(t, err)
	_, err = ledger.Record(ctx, "load", ref)
	require.NoError(t, err)

	n, err := testutil.GatherAndCount(reg, "lineage_snapshots_total", "lineage_reports_suppressed_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = ledger.Attach(memory.NewStore(), writer.WithName("memory"))
	assert.Error(t, err, "duplicate writer names collide in the registry")

	require.NoError(t, ledger.Close(ctx))
}

func TestLedger_Hooks(t *testing.T) {
	ctx := context.Background()
	var recorded, suppressed int
	ledger, err := lineage.New(lineage.WithLifecycleHooks(domain.LifecycleHooks{
		OnRecorded:   func(context.Context, *domain.Snapshot) { recorded++ },
		OnSuppressed: func(context.Context, string, domain.Handle) { suppressed++ },
	}))
	require.NoError(t, err)
	defer ledger.Close(ctx)

	ref := ledger.Track("x")
	_, _ = ledger.Record(ctx, "load", ref)
	_, _ = ledger.Record(ctx, "load", ref)
	assert.Equal(t, 1, recorded)
	assert.Equal(t, 1, suppressed)
}

func TestVersion(t *testing.T) {
	assert.NotEmpty(t, lineage.Version)
	assert.NotContains(t, lineage.Version, "\n")
}
