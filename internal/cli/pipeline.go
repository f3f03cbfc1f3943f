package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/lineage"
	"github.com/aretw0/lineage/pkg/domain"
	"github.com/aretw0/lineage/pkg/tracker"
)

var errTrackerStopped = errors.New("tracker is stopped")

// table stands in for a dataframe: the demo only needs a name and a shape.
type table struct {
	name    string
	rows    int
	columns []string
}

func newTable(name string, rows int, columns ...string) table {
	return table{name: name, rows: rows, columns: columns}
}

// Shape implements domain.Shaper.
func (t table) Shape() []int { return []int{t.rows, len(t.columns)} }

func (t table) String() string {
	return fmt.Sprintf("%s[%d rows x %d cols]", t.name, t.rows, len(t.columns))
}

func (t table) withColumns(extra ...string) table {
	cols := append(append([]string{}, t.columns...), extra...)
	return table{name: t.name, rows: t.rows, columns: cols}
}

var _ domain.Shaper = table{}

// PipelineResult summarises one demo run.
type PipelineResult struct {
	Last       *domain.Snapshot
	Reports    int
	Recorded   int
	Suppressed int
}

type pipeline struct {
	ctx    context.Context
	ledger *lineage.Ledger
	res    PipelineResult
}

func (p *pipeline) record(op string, ref tracker.Ref, opts ...tracker.RecordOption) (*domain.Snapshot, error) {
	p.res.Reports++
	s, err := p.ledger.Record(p.ctx, op, ref, opts...)
	if err != nil {
		return s, fmt.Errorf("%s: %w", op, err)
	}
	if s == nil {
		if !p.ledger.Tracker().Running() {
			return nil, fmt.Errorf("%s: %w", op, errTrackerStopped)
		}
		p.res.Suppressed++
		return nil, nil
	}
	p.res.Recorded++
	p.res.Last = s
	return s, nil
}

// RunPipeline reports a simulated predictive-maintenance pipeline: load the
// telemetry, error, failure and machine tables, widen the errors, merge
// everything into one panel, label it, order it, and add rolling features.
// features controls how many rolling feature columns are added, one report each.
func RunPipeline(ctx context.Context, ledger *lineage.Ledger, features int) (PipelineResult, error) {
	if !ledger.Tracker().Running() {
		return PipelineResult{}, fmt.Errorf("pipeline: %w", errTrackerStopped)
	}
	p := &pipeline{ctx: ctx, ledger: ledger}
	const id, ts = "machineid", "datetime"

	load := func(file string, t table) (tracker.Ref, *domain.Snapshot, error) {
		ref := ledger.Track(t)
		s, err := p.record("read_csv", ref, tracker.WithArgs(file))
		return ref, s, err
	}
	tel, telSnap, err := load("PdM_telemetry.csv", newTable("telemetry", 8761, ts, id, "volt", "rotate", "pressure", "vibration"))
	if err != nil {
		return p.res, err
	}
	_, errSnap, err := load("PdM_errors.csv", newTable("errors", 3919, ts, id, "errorid"))
	if err != nil {
		return p.res, err
	}
	_, failSnap, err := load("PdM_failures.csv", newTable("failures", 761, ts, id, "failure"))
	if err != nil {
		return p.res, err
	}
	_, machSnap, err := load("PdM_machines.csv", newTable("machines", 100, id, "model", "age"))
	if err != nil {
		return p.res, err
	}

	renamed, err := p.record("rename", tel.With(newTable("telemetry", 8761, ts, id, "voltage", "rotate", "pressure", "vibration")),
		tracker.WithParents(telSnap.ID()), tracker.WithKwarg("columns", map[string]string{"volt": "voltage"}))
	if err != nil {
		return p.res, err
	}

	errWide := ledger.Track(newTable("errors_wide", 3919, id, ts, "error1", "error2", "error3", "error4", "error5"))
	wide, err := p.record("pivot_table", errWide, tracker.WithParents(errSnap.ID()),
		tracker.WithKwargs(map[string]any{"index": []string{id, ts}, "columns": "errorid", "fill_value": 0}))
	if err != nil {
		return p.res, err
	}

	panel := newTable("panel", 8761, ts, id, "voltage", "rotate", "pressure", "vibration",
		"error1", "error2", "error3", "error4", "error5")
	panelRef := ledger.Track(panel)
	merged, err := p.record("merge", panelRef, tracker.WithParents(renamed.ID(), wide.ID()),
		tracker.WithKwargs(map[string]any{"on": []string{id, ts}, "how": "left"}))
	if err != nil {
		return p.res, err
	}
	// Reporting the unchanged panel again is suppressed.
	if _, err := p.record("merge", panelRef, tracker.WithParents(renamed.ID(), wide.ID()),
		tracker.WithKwargs(map[string]any{"on": []string{id, ts}, "how": "left"})); err != nil {
		return p.res, err
	}

	filled, err := p.record("fillna", panelRef.With(panel), tracker.WithParents(merged.ID()), tracker.WithArgs(0))
	if err != nil {
		return p.res, err
	}

	panel = panel.withColumns("model", "age")
	withMachines, err := p.record("merge", panelRef.With(panel), tracker.WithParents(filled.ID(), machSnap.ID()),
		tracker.WithKwargs(map[string]any{"on": id, "how": "left"}))
	if err != nil {
		return p.res, err
	}

	labels := ledger.Track(newTable("labels", 761, id, ts, "label"))
	shifted, err := p.record("shift_horizon", labels, tracker.WithParents(failSnap.ID()), tracker.WithKwarg("hours", 24))
	if err != nil {
		return p.res, err
	}

	panel = panel.withColumns("label")
	labelled, err := p.record("merge", panelRef.With(panel), tracker.WithParents(withMachines.ID(), shifted.ID()),
		tracker.WithKwargs(map[string]any{"on": []string{id, ts}, "how": "left"}))
	if err != nil {
		return p.res, err
	}

	sorted, err := p.record("sort_values", panelRef.With(panel), tracker.WithParents(labelled.ID()),
		tracker.WithArgs([]string{id, ts}))
	if err != nil {
		return p.res, err
	}
	prev, err := p.record("ffill", panelRef.With(panel), tracker.WithParents(sorted.ID()), tracker.WithKwarg("limit", 3))
	if err != nil {
		return p.res, err
	}

	sensors := []string{"voltage", "rotate", "pressure", "vibration"}
	stats := []string{"mean", "std"}
	for i := range features {
		column := fmt.Sprintf("%s_%s", sensors[(i/len(stats))%len(sensors)], stats[i%len(stats)])
		if i >= len(sensors)*len(stats) {
			column = fmt.Sprintf("%s_%d", column, i/(len(sensors)*len(stats)))
		}
		panel = panel.withColumns(column)
		next, err := p.record("rolling", panelRef.With(panel), tracker.WithParents(prev.ID()),
			tracker.WithKwargs(map[string]any{"window": "3h", "column": column}))
		if err != nil {
			return p.res, err
		}
		prev = next
	}
	return p.res, nil
}
