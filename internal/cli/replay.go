package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/aretw0/lineage/internal/presentation/graph"
	"github.com/aretw0/lineage/internal/presentation/tui"
	"github.com/aretw0/lineage/pkg/adapters/file"
	"github.com/aretw0/lineage/pkg/domain"
	"github.com/aretw0/lineage/pkg/history"
)

// ReplayOptions configures Replay.
type ReplayOptions struct {
	Path     string
	Capacity int // 0 keeps every record
	Format   string
	Op       string
	Focus    string
	Out      io.Writer
}

// Replay output formats.
const (
	FormatSummary = "summary"
	FormatMermaid = "mermaid"
	FormatJSON    = "json"
)

// LoadRecords appends persisted records to h in file order. When recs exceed
// the capacity of h the oldest are evicted as usual.
func LoadRecords(h *history.History, recs []domain.SnapshotRecord) error {
	for i, rec := range recs {
		s, err := rec.Snapshot()
		if err != nil {
			return fmt.Errorf("record %d (%s): %w", i+1, rec.ID, err)
		}
		h.Append(s)
	}
	return nil
}

// Replay rebuilds a History from a snapshot file and renders it.
func Replay(opts ReplayOptions) error {
	out := stdout(opts.Out)
	recs, err := file.ReadRecords(opts.Path)
	if err != nil {
		return err
	}
	capacity := opts.Capacity
	if capacity < 1 {
		capacity = max(len(recs), 1)
	}
	h := history.New(capacity)
	if err := LoadRecords(h, recs); err != nil {
		return err
	}

	var view []domain.SnapshotRecord
	for s := range h.Filter(opts.Op) {
		view = append(view, s.Record())
	}

	switch opts.Format {
	case "", FormatSummary:
		return tui.Print(out, tui.Summary(filepath.Base(opts.Path), view), isTerminal(out))
	case FormatMermaid:
		var overlay *graph.GraphOverlay
		if opts.Focus != "" {
			if !h.Contains(opts.Focus) {
				return fmt.Errorf("%w: %s", domain.ErrSnapshotNotFound, opts.Focus)
			}
			overlay = &graph.GraphOverlay{Focus: opts.Focus}
			for id := range h.Ancestors(opts.Focus) {
				overlay.Highlighted = append(overlay.Highlighted, id)
			}
		}
		_, err := fmt.Fprint(out, graph.GenerateMermaid(view, overlay))
		return err
	case FormatJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if view == nil {
			view = []domain.SnapshotRecord{}
		}
		return enc.Encode(view)
	default:
		return fmt.Errorf("unknown format %q (want %s, %s or %s)", opts.Format, FormatSummary, FormatMermaid, FormatJSON)
	}
}
