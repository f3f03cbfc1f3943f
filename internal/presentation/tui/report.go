package tui

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/aretw0/lineage/pkg/adapters/sqlite"
	"github.com/aretw0/lineage/pkg/domain"
)

// Print writes markdown to w, rendered through glamour when styled is set.
// Rendering failures fall back to the raw markdown.
func Print(w io.Writer, markdown string, styled bool) error {
	if styled {
		if out, err := NewRenderer()(markdown); err == nil {
			markdown = out
		}
	}
	_, err := io.WriteString(w, markdown)
	return err
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func shortIDs(ids []string) string {
	if len(ids) == 0 {
		return "<root>"
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = shortID(id)
	}
	return strings.Join(out, ", ")
}

// Summary describes a lineage window: totals, per-operation counts and one row
// per snapshot in chronological order.
func Summary(title string, recs []domain.SnapshotRecord) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", cell(title))

	known := make(map[string]bool, len(recs))
	for _, r := range recs {
		known[r.ID] = true
	}
	var roots, merges, dangling int
	counts := make(map[string]int)
	for _, r := range recs {
		counts[r.Operation]++
		if len(r.Parents) == 0 {
			roots++
		}
		if len(slices.Compact(slices.Sorted(slices.Values(r.Parents)))) > 1 {
			merges++
		}
		for _, p := range r.Parents {
			if !known[p] {
				dangling++
			}
		}
	}
	fmt.Fprintf(&sb, "%d snapshots, %d roots, %d merges, %d references to evicted parents.\n\n",
		len(recs), roots, merges, dangling)

	if len(recs) == 0 {
		return sb.String()
	}

	sb.WriteString("## Operations\n\n| operation | snapshots |\n| --- | ---: |\n")
	ops := make([]string, 0, len(counts))
	for op := range counts {
		ops = append(ops, op)
	}
	slices.Sort(ops)
	for _, op := range ops {
		fmt.Fprintf(&sb, "| %s | %d |\n", cell(op), counts[op])
	}

	sb.WriteString("\n## Snapshots\n\n")
	sb.WriteString(SnapshotTable(recs))
	return sb.String()
}

// SnapshotTable renders one markdown row per record.
func SnapshotTable(recs []domain.SnapshotRecord) string {
	var sb strings.Builder
	sb.WriteString("| # | id | timestamp | operation | shape | parents |\n| ---: | --- | --- | --- | --- | --- |\n")
	for i, r := range recs {
		fmt.Fprintf(&sb, "| %d | %s | %s | %s | %s | %s |\n",
			i+1, shortID(r.ID), cell(r.Timestamp), cell(r.Operation),
			domain.Shape(r.Shape).String(), shortIDs(r.Parents))
	}
	return sb.String()
}

// ProjectsTable lists catalog projects with their pipelines and run counts.
func ProjectsTable(projects []sqlite.ProjectSummary) string {
	var sb strings.Builder
	sb.WriteString("| project | tag | pipeline | runs |\n| --- | --- | --- | ---: |\n")
	for _, p := range projects {
		if len(p.Pipelines) == 0 {
			fmt.Fprintf(&sb, "| %s | %s | - | 0 |\n", cell(p.Name), cell(p.UserTag))
			continue
		}
		for _, pl := range p.Pipelines {
			fmt.Fprintf(&sb, "| %s | %s | %s | %d |\n", cell(p.Name), cell(p.UserTag), cell(pl.Name), pl.Runs)
		}
	}
	return sb.String()
}

// RunsTable lists catalog runs.
func RunsTable(runs []sqlite.Run) string {
	var sb strings.Builder
	sb.WriteString("| run | pipeline | status | started | finished |\n| --- | --- | --- | --- | --- |\n")
	for _, r := range runs {
		finished := r.FinishedAt
		if finished == "" {
			finished = "-"
		}
		fmt.Fprintf(&sb, "| %s | %s | %s | %s | %s |\n",
			r.UID, cell(r.Pipeline), r.Status, r.StartedAt, finished)
	}
	return sb.String()
}
