package observability_test

import (
	"context"
	"strings"
	"testing"

	"github.com/aretw0/lineage/pkg/adapters/memory"
	"github.com/aretw0/lineage/pkg/bus"
	"github.com/aretw0/lineage/pkg/observability"
	"github.com/aretw0/lineage/pkg/tracker"
	"github.com/aretw0/lineage/pkg/writer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_CountsReports(t *testing.T) {
	ctx := context.Background()
	b := bus.New()
	tr := tracker.New(tracker.WithBus(b), tracker.WithCapacity(3))

	reg := prometheus.NewPedanticRegistry()
	c := observability.New(tr)
	require.NoError(t, c.Register(reg))
	c.Attach(b)

	require.NoError(t, tr.Start(ctx))
	a := tr.Track([]int{1})
	_, err := tr.Record(ctx, "load", a)
	require.NoError(t, err)
	_, err = tr.Record(ctx, "load", a)
	require.NoError(t, err)
	for i := range 3 {
		_, err = tr.Record(ctx, "scale", tr.Track(i))
		require.NoError(t, err)
	}
	require.NoError(t, tr.Stop(ctx))
	_, err = tr.Record(ctx, "late", a)
	require.NoError(t, err)

	expected := `
# HELP lineage_history_capacity Maximum number of snapshots History retains.
# TYPE lineage_history_capacity gauge
lineage_history_capacity 3
# HELP lineage_history_size Snapshots currently retained in History.
# TYPE lineage_history_size gauge
lineage_history_size 3
# HELP lineage_reports_ignored_total Reports dropped because the tracker was stopped.
# TYPE lineage_reports_ignored_total counter
lineage_reports_ignored_total 1
# HELP lineage_reports_suppressed_total Reports dropped as duplicates of the artifact's last state.
# TYPE lineage_reports_suppressed_total counter
lineage_reports_suppressed_total 1
# HELP lineage_snapshots_total Total number of recorded snapshots by operation.
# TYPE lineage_snapshots_total counter
lineage_snapshots_total{operation="load"} 1
lineage_snapshots_total{operation="scale"} 3
# HELP lineage_tracker_transitions_total Tracker start and stop transitions.
# TYPE lineage_tracker_transitions_total counter
lineage_tracker_transitions_total{state="started"} 1
lineage_tracker_transitions_total{state="stopped"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"lineage_history_capacity", "lineage_history_size",
		"lineage_reports_ignored_total", "lineage_reports_suppressed_total",
		"lineage_snapshots_total", "lineage_tracker_transitions_total",
	))
}

func TestCollector_DetachStopsCounting(t *testing.T) {
	ctx := context.Background()
	b := bus.New()
	tr := tracker.New(tracker.WithBus(b))
	require.NoError(t, tr.Start(ctx))
	c := observability.New(tr)
	require.NoError(t, c.Register(prometheus.NewRegistry()))
	c.Attach(b)
	c.Detach()

	_, err := tr.Record(ctx, "load", tr.Track(1))
	require.NoError(t, err)
	assert.Zero(t, b.Len("snapshot.created"))
}

func TestCollector_TrackWriter(t *testing.T) {
	ctx := context.Background()
	b := bus.New()
	tr := tracker.New(tracker.WithBus(b))
	require.NoError(t, tr.Start(ctx))
	c := observability.New(tr)

	w := writer.Attach(b, memory.NewStore(), writer.WithName("memory"))
	assert.Error(t, c.TrackWriter(w))

	reg := prometheus.NewRegistry()
	require.NoError(t, c.Register(reg))
	require.NoError(t, c.TrackWriter(w))

	_, err := tr.Record(ctx, "load", tr.Track(1))
	require.NoError(t, err)

	expected := `
# HELP lineage_writer_deliveries_total Snapshots handed to a sink, by outcome.
# TYPE lineage_writer_deliveries_total counter
lineage_writer_deliveries_total{outcome="dropped",sink="memory"} 0
lineage_writer_deliveries_total{outcome="failed",sink="memory"} 0
lineage_writer_deliveries_total{outcome="written",sink="memory"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "lineage_writer_deliveries_total"))

	c.Detach()
	n, err := testutil.GatherAndCount(reg, "lineage_writer_deliveries_total")
	require.NoError(t, err)
	assert.Zero(t, n)
}
