package history

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/aretw0/lineage/pkg/domain"
	"github.com/stretchr/testify/require"
)

// checkIndex asserts the DAG index agrees with the retained window.
func checkIndex(t *testing.T, h *History) {
	t.Helper()
	h.mu.RLock()
	defer h.mu.RUnlock()

	retained := make(map[string]*domain.Snapshot, h.size)
	for i := 0; i < h.size; i++ {
		s := h.ring[(h.head+i)%len(h.ring)]
		retained[s.ID()] = s
	}
	require.Len(t, h.byID, h.size)
	require.Len(t, h.parents, h.size)

	for id, parents := range h.parents {
		s, ok := retained[id]
		require.True(t, ok, "parents entry for evicted %s", id)
		require.Equal(t, s.Parents(), parents)
	}

	for p, kids := range h.children {
		require.NotEmpty(t, kids, "empty children list kept for %s", p)
		for _, c := range kids {
			s, ok := retained[c]
			require.True(t, ok, "children of %s reference evicted %s", p, c)
			require.Contains(t, s.Parents(), p)
		}
	}

	// Every edge between two retained snapshots is indexed with its multiplicity.
	for id, s := range retained {
		want := map[string]int{}
		for _, p := range s.Parents() {
			if _, ok := retained[p]; ok {
				want[p]++
			}
		}
		for p, n := range want {
			got := 0
			for _, c := range h.children[p] {
				if c == id {
					got++
				}
			}
			require.Equal(t, n, got, "edge %s -> %s", p, id)
		}
	}
}

func TestHistory_IndexConsistencyUnderRandomAppends(t *testing.T) {
	for _, capacity := range []int{1, 2, 3, 7, 16} {
		t.Run(fmt.Sprintf("capacity=%d", capacity), func(t *testing.T) {
			rng := rand.New(rand.NewPCG(uint64(capacity), 42))
			h := New(capacity)
			var ids []string

			for i := 0; i < 300; i++ {
				var parents []string
				for n := rng.IntN(4); n > 0 && len(ids) > 0; n-- {
					// Bias towards recent IDs, sometimes reaching evicted ones.
					window := min(len(ids), capacity*2)
					parents = append(parents, ids[len(ids)-1-rng.IntN(window)])
				}
				id := fmt.Sprintf("s%d", i)
				h.Append(domain.NewSnapshot(domain.SnapshotParams{ID: id, Operation: "op", Parents: parents}))
				ids = append(ids, id)

				require.LessOrEqual(t, h.Len(), capacity)
				checkIndex(t, h)
			}
		})
	}
}
