package middleware

import (
	"context"
	"fmt"
	"regexp"

	"github.com/aretw0/lineage/pkg/domain"
	"github.com/aretw0/lineage/pkg/ports"
)

// Mask replaces redacted values.
const Mask = "***"

type redactSink struct {
	next     ports.SnapshotSink
	patterns []*regexp.Regexp
}

// NewRedactMiddleware creates a middleware that masks the values of kwargs
// whose key matches one of the patterns, at any nesting depth. The recorded
// snapshot is left untouched; the sink receives a masked copy.
func NewRedactMiddleware(patternStrings []string) (Middleware, error) {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redact pattern %q: %w", p, err)
		}
		patterns[i] = re
	}
	return func(next ports.SnapshotSink) ports.SnapshotSink {
		return &redactSink{next: next, patterns: patterns}
	}, nil
}

func (m *redactSink) Write(ctx context.Context, s *domain.Snapshot) error {
	kwargs := s.Kwargs()
	if !maskMap(kwargs, m.patterns) {
		return m.next.Write(ctx, s)
	}
	masked := domain.NewSnapshot(domain.SnapshotParams{
		ID:        s.ID(),
		Timestamp: s.Timestamp(),
		Operation: s.Operation(),
		Shape:     s.Shape(),
		Parents:   s.Parents(),
		Args:      s.Args(),
		Kwargs:    kwargs,
		Artifact:  s.Artifact(),
		Handle:    s.Handle(),
	})
	return m.next.Write(ctx, masked)
}

func (m *redactSink) Flush() error {
	if f, ok := m.next.(ports.Flusher); ok {
		return f.Flush()
	}
	return nil
}

func (m *redactSink) Close() error {
	return m.next.Close()
}

func (m *redactSink) Unwrap() ports.SnapshotSink {
	return m.next
}

// maskMap masks m in place, copying nested maps before touching them.
// It reports whether anything was masked.
func maskMap(m map[string]any, patterns []*regexp.Regexp) bool {
	masked := false
	for k, v := range m {
		if matchAny(k, patterns) {
			m[k] = Mask
			masked = true
			continue
		}
		if sub, ok := v.(map[string]any); ok {
			cp := make(map[string]any, len(sub))
			for sk, sv := range sub {
				cp[sk] = sv
			}
			if maskMap(cp, patterns) {
				m[k] = cp
				masked = true
			}
		}
	}
	return masked
}

func matchAny(key string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(key) {
			return true
		}
	}
	return false
}
