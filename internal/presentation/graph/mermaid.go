package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/lineage/pkg/domain"
)

// GraphOverlay marks snapshots to highlight, e.g. the ancestry of a focus.
type GraphOverlay struct {
	Highlighted []string
	Focus       string
}

// GenerateMermaid produces a Mermaid flowchart of the lineage in recs.
// It applies semantic styling:
// - Root (no parents): ((Circle))
// - Merge (two or more distinct parents): {{Hexagon}}
// - Default: [Rectangle]
// Parents missing from recs (evicted or never retained) are drawn as
// [/Parallelogram/] placeholders with dotted edges. Repeated parents are drawn
// once with a multiplicity label.
func GenerateMermaid(recs []domain.SnapshotRecord, overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	known := make(map[string]bool, len(recs))
	for _, r := range recs {
		known[r.ID] = true
	}
	missing := make(map[string]bool)

	for _, r := range recs {
		safeID := sanitizeMermaidID(r.ID)

		counts := make(map[string]int, len(r.Parents))
		var order []string
		for _, p := range r.Parents {
			if counts[p] == 0 {
				order = append(order, p)
			}
			counts[p]++
		}

		opener, closer := "[", "]"
		switch {
		case len(r.Parents) == 0:
			opener, closer = "((", "))" // Circle
		case len(order) > 1:
			opener, closer = "{{", "}}" // Hexagon
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", safeID, opener, label(r), closer)

		for _, p := range order {
			safeFrom := sanitizeMermaidID(p)
			arrow := "-->"
			if !known[p] {
				arrow = "-.->"
				if !missing[p] {
					missing[p] = true
					fmt.Fprintf(&sb, "    %s[/\"%s <br/> evicted\"/]\n", safeFrom, shortID(p))
				}
			}
			if n := counts[p]; n > 1 {
				if known[p] {
					arrow = fmt.Sprintf("-- \"x%d\" -->", n)
				} else {
					arrow = fmt.Sprintf("-. \"x%d\" .->", n)
				}
			}
			fmt.Fprintf(&sb, "    %s %s %s\n", safeFrom, arrow, safeID)
		}
	}

	if len(missing) > 0 {
		sb.WriteString("    classDef evicted fill:#f5f5f5,stroke:#9e9e9e,stroke-dasharray:3 3,color:#616161;\n")
		for _, r := range recs {
			for _, p := range r.Parents {
				if missing[p] {
					fmt.Fprintf(&sb, "    class %s evicted;\n", sanitizeMermaidID(p))
					missing[p] = false
				}
			}
		}
	}

	// Apply Overlay Styles
	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high-contrast on light backgrounds, regardless of theme (Light/Dark)
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		seen := make(map[string]bool)
		for _, id := range overlay.Highlighted {
			safeID := sanitizeMermaidID(id)
			if !seen[safeID] && safeID != "" && known[id] {
				seen[safeID] = true
				fmt.Fprintf(&sb, "    class %s visited;\n", safeID)
			}
		}

		if overlay.Focus != "" && known[overlay.Focus] {
			fmt.Fprintf(&sb, "    class %s current;\n", sanitizeMermaidID(overlay.Focus))
		}
	}

	return sb.String()
}

func label(r domain.SnapshotRecord) string {
	op := strings.ReplaceAll(r.Operation, "\"", "'")
	shape := domain.Shape(r.Shape).String()
	return fmt.Sprintf("%s <br/> %s <br/> %s", op, shape, shortID(r.ID))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	if s == "" {
		return s
	}
	// Mermaid reserves some bare words ("end", "graph"); a prefix keeps every id safe
	return "s_" + s
}
