package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/muesli/termenv"
)

// PrintBanner writes the lineage ASCII banner and version to w.
func PrintBanner(w io.Writer, version string) {
	p := termenv.ColorProfile()
	// Teal to blue, one shade per line
	lines := []struct {
		text  string
		color string
	}{
		{" _ _                        ", "#2dd4bf"},
		{"| (_)_ __   ___  __ _  __ _  ___ ", "#22d3ee"},
		{"| | | '_ \\ / _ \\/ _` |/ _` |/ _ \\", "#38bdf8"},
		{"| | | | | |  __/ (_| | (_| |  __/", "#60a5fa"},
		{"|_|_|_| |_|\\___|\\__,_|\\__, |\\___|", "#818cf8"},
		{"                      |___/      ", "#a78bfa"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	if v := strings.TrimSpace(version); v != "" {
		fmt.Fprintln(w, termenv.String("  v"+v).Faint())
	}
	fmt.Fprintln(w)
}
