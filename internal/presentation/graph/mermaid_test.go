package graph_test

import (
	"strings"
	"testing"

	"github.com/aretw0/lineage/internal/presentation/graph"
	"github.com/aretw0/lineage/pkg/domain"
	"github.com/stretchr/testify/assert"
)

func rec(id, op string, shape []int, parents ...string) domain.SnapshotRecord {
	if parents == nil {
		parents = []string{}
	}
	return domain.SnapshotRecord{ID: id, Operation: op, Shape: shape, Parents: parents}
}

func TestGenerateMermaid(t *testing.T) {
	tests := []struct {
		name     string
		recs     []domain.SnapshotRecord
		overlay  *graph.GraphOverlay
		contains []string
		excludes []string
	}{
		{
			name: "Root Shape",
			recs: []domain.SnapshotRecord{rec("a", "load", []int{3, 3})},
			contains: []string{
				`s_a(("load <br/> (3, 3) <br/> a"))`,
			},
		},
		{
			name: "Chain",
			recs: []domain.SnapshotRecord{
				rec("a", "load", nil),
				rec("b", "fillna", []int{4}, "a"),
			},
			contains: []string{
				`s_b["fillna <br/> (4,) <br/> b"]`,
				"s_a --> s_b",
			},
		},
		{
			name: "Merge Shape",
			recs: []domain.SnapshotRecord{
				rec("l", "load", nil),
				rec("r", "load", nil),
				rec("m", "merge", nil, "l", "r"),
			},
			contains: []string{
				`s_m{{"merge <br/> - <br/> m"}}`,
				"s_l --> s_m",
				"s_r --> s_m",
			},
		},
		{
			name: "Duplicate Parents",
			recs: []domain.SnapshotRecord{
				rec("a", "load", nil),
				rec("b", "self_join", nil, "a", "a"),
			},
			contains: []string{
				`s_b["self_join`,
				`s_a -- "x2" --> s_b`,
			},
			excludes: []string{"s_a --> s_b"},
		},
		{
			name: "Evicted Parent",
			recs: []domain.SnapshotRecord{
				rec("b", "update", nil, "gone-parent-id"),
			},
			contains: []string{
				`s_gone_parent_id[/"gone-par <br/> evicted"/]`,
				"s_gone_parent_id -.-> s_b",
				"class s_gone_parent_id evicted;",
			},
		},
		{
			name: "ID Sanitization",
			recs: []domain.SnapshotRecord{
				rec("6f1c2a34-aaaa-bbbb", "load", nil),
			},
			contains: []string{
				`s_6f1c2a34_aaaa_bbbb(("load <br/> - <br/> 6f1c2a34"))`,
			},
		},
		{
			name: "Quote Escaping",
			recs: []domain.SnapshotRecord{
				rec("q", `query "x"`, nil),
			},
			contains: []string{`"query 'x' <br/>`},
		},
		{
			name: "Overlay",
			recs: []domain.SnapshotRecord{
				rec("a", "load", nil),
				rec("b", "scale", nil, "a"),
			},
			overlay: &graph.GraphOverlay{Highlighted: []string{"a", "a", "unknown"}, Focus: "b"},
			contains: []string{
				"classDef visited",
				"class s_a visited;",
				"class s_b current;",
			},
			excludes: []string{"s_unknown"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := graph.GenerateMermaid(tt.recs, tt.overlay)
			assert.True(t, strings.HasPrefix(out, "graph TD\n"))
			for _, want := range tt.contains {
				assert.Contains(t, out, want)
			}
			for _, unwanted := range tt.excludes {
				assert.NotContains(t, out, unwanted)
			}
			if tt.name == "Overlay" {
				assert.Equal(t, 1, strings.Count(out, "class s_a visited;"))
			}
		})
	}
}

func TestGenerateMermaid_Empty(t *testing.T) {
	assert.Equal(t, "graph TD\n", graph.GenerateMermaid(nil, nil))
}
