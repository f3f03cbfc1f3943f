package ports

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aretw0/lineage/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunSinkContract runs a suite of tests to verify that a SnapshotSink implementation
// adheres to the defined interface contract. Sinks that also implement
// SnapshotReader get their read side checked against what was written.
// The sink is closed at the end of the suite.
func RunSinkContract(t *testing.T, sink SnapshotSink) {
	ctx := context.Background()
	suffix := time.Now().Format("20060102150405.000000")

	root := domain.NewSnapshot(domain.SnapshotParams{
		ID:        "contract-root-" + suffix,
		Operation: "load",
		Shape:     domain.Shape{3, 3},
		Kwargs:    map[string]any{"path": "data.csv"},
		Artifact:  [][]int{{1, 2, 3}, {4, 5, 6}, {7, 8, 9}},
	})
	child := domain.NewSnapshot(domain.SnapshotParams{
		ID:        "contract-child-" + suffix,
		Operation: "fillna",
		Shape:     domain.Shape{3, 3},
		Parents:   []string{root.ID()},
		Args:      []any{0},
	})

	t.Run("Write", func(t *testing.T) {
		require.NoError(t, sink.Write(ctx, root), "Write should not return error")
		require.NoError(t, sink.Write(ctx, child), "Write should not return error")
		if f, ok := sink.(Flusher); ok {
			require.NoError(t, f.Flush())
		}
	})

	reader, ok := sink.(SnapshotReader)
	if ok {
		t.Run("Load", func(t *testing.T) {
			rec, err := reader.Load(ctx, child.ID())
			require.NoError(t, err, "Load should not return error")
			assert.Equal(t, child.ID(), rec.ID)
			assert.Equal(t, "fillna", rec.Operation)
			assert.Equal(t, []int{3, 3}, rec.Shape)
			assert.Equal(t, []string{root.ID()}, rec.Parents)
			assert.Equal(t, child.TimestampString(), rec.Timestamp)
		})

		t.Run("Load Non-Existent", func(t *testing.T) {
			_, err := reader.Load(ctx, "non-existent-"+suffix)
			assert.ErrorIs(t, err, domain.ErrSnapshotNotFound)
		})

		t.Run("List", func(t *testing.T) {
			ids, err := reader.List(ctx)
			require.NoError(t, err)
			assert.Contains(t, ids, root.ID())
			assert.Contains(t, ids, child.ID())
		})
	}

	t.Run("Many Writes", func(t *testing.T) {
		for i := range 10 {
			s := domain.NewSnapshot(domain.SnapshotParams{
				ID:        fmt.Sprintf("contract-%s-%d", suffix, i),
				Operation: "step",
				Parents:   []string{child.ID()},
			})
			require.NoError(t, sink.Write(ctx, s))
		}
	})

	t.Run("Close", func(t *testing.T) {
		require.NoError(t, sink.Close(), "Close should not return error")
		assert.NoError(t, sink.Close(), "second Close should be a no-op")
	})
}
