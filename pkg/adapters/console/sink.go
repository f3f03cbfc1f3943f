// Package console prints one line per recorded snapshot.
package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/aretw0/lineage/pkg/domain"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// DefaultPrefix tags every line.
const DefaultPrefix = "[lineage]"

// Sink implements ports.SnapshotSink by writing a human-readable line per
// snapshot:
//
//	[lineage] <ts>  <op>  <shape>  parents=<ids|<root>>  <artifact>
type Sink struct {
	mu       sync.Mutex
	out      io.Writer
	prefix   string
	color    *bool
	profile  termenv.Profile
	maxWidth int
}

// Option configures a Sink.
type Option func(*Sink)

// WithWriter sets the destination. Defaults to os.Stdout.
func WithWriter(w io.Writer) Option {
	return func(s *Sink) {
		s.out = w
	}
}

// WithPrefix replaces the line tag.
func WithPrefix(p string) Option {
	return func(s *Sink) {
		s.prefix = p
	}
}

// WithColor forces colors on or off instead of detecting a terminal.
func WithColor(enabled bool) Option {
	return func(s *Sink) {
		s.color = &enabled
	}
}

// WithArtifactWidth truncates the artifact rendering to n runes. 0 disables it.
func WithArtifactWidth(n int) Option {
	return func(s *Sink) {
		s.maxWidth = n
	}
}

// New creates a console sink.
func New(opts ...Option) *Sink {
	s := &Sink{out: os.Stdout, prefix: DefaultPrefix, maxWidth: 80}
	for _, opt := range opts {
		opt(s)
	}
	colored := isTerminal(s.out)
	if s.color != nil {
		colored = *s.color
	}
	s.profile = termenv.Ascii
	if colored {
		s.profile = termenv.ColorProfile()
		if s.profile == termenv.Ascii {
			s.profile = termenv.ANSI
		}
	}
	return s
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Write prints the snapshot line.
func (s *Sink) Write(ctx context.Context, snap *domain.Snapshot) error {
	line := s.Format(snap)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintln(s.out, line)
	return err
}

// Format renders the line without writing it.
func (s *Sink) Format(snap *domain.Snapshot) string {
	ts := snap.TimestampString()
	op := fmt.Sprintf("%-25s", snap.Operation())
	shape := fmt.Sprintf("%-15s", snap.Shape().String())
	parents := fmt.Sprintf("parents=%-25s", strings.Join(parentsOrRoot(snap), ","))
	artifact := s.truncate(fmt.Sprintf("%v", snap.Artifact()))

	if s.profile != termenv.Ascii {
		ts = termenv.String(ts).Foreground(s.profile.Color("#94a3b8")).String()
		op = termenv.String(op).Foreground(s.profile.Color("#818cf8")).Bold().String()
		shape = termenv.String(shape).Foreground(s.profile.Color("#34d399")).String()
		parents = termenv.String(parents).Faint().String()
	}
	return fmt.Sprintf("%s %s  %s  %s  %s  %s", s.prefix, ts, op, shape, parents, artifact)
}

func parentsOrRoot(snap *domain.Snapshot) []string {
	if snap.IsRoot() {
		return []string{domain.RootLabel}
	}
	return snap.Parents()
}

func (s *Sink) truncate(v string) string {
	if s.maxWidth <= 0 {
		return v
	}
	r := []rune(v)
	if len(r) <= s.maxWidth {
		return v
	}
	return string(r[:s.maxWidth]) + "…"
}

// Close is a no-op; the writer is not owned by the sink.
func (s *Sink) Close() error {
	return nil
}
