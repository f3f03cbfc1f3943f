package domain

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// SnapshotParams carries everything needed to build a Snapshot.
// Zero-valued ID / Timestamp are filled in by NewSnapshot.
type SnapshotParams struct {
	ID        string
	Timestamp time.Time
	Operation string
	// Shape overrides the derived shape when non-nil.
	Shape    Shape
	Parents  []string
	Args     []any
	Kwargs   map[string]any
	Artifact any
	Handle   Handle
}

// Snapshot is an immutable capture of an artifact after a transformation.
// All fields are fixed by NewSnapshot; accessors hand out copies.
type Snapshot struct {
	id        string
	timestamp time.Time
	operation string
	shape     Shape
	parents   []string
	args      []any
	kwargs    map[string]any
	artifact  any
	handle    Handle
}

// NewSnapshot builds a Snapshot from p, assigning an ID and timestamp when absent
// and deriving the shape from the artifact when p.Shape is nil.
// Parent order and duplicate parent IDs are preserved.
func NewSnapshot(p SnapshotParams) *Snapshot {
	id := p.ID
	if id == "" {
		id = NewID()
	}
	ts := p.Timestamp
	if ts.IsZero() {
		ts = Now()
	}
	shape := p.Shape.Clone()
	if shape == nil {
		shape = ShapeOf(p.Artifact)
	}
	var parents []string
	if len(p.Parents) > 0 {
		parents = slices.Clone(p.Parents)
	}
	var kwargs map[string]any
	if len(p.Kwargs) > 0 {
		kwargs = maps.Clone(p.Kwargs)
	}
	var args []any
	if len(p.Args) > 0 {
		args = slices.Clone(p.Args)
	}
	return &Snapshot{
		id:        id,
		timestamp: ts.UTC(),
		operation: p.Operation,
		shape:     shape,
		parents:   parents,
		args:      args,
		kwargs:    kwargs,
		artifact:  p.Artifact,
		handle:    p.Handle,
	}
}

func (s *Snapshot) ID() string           { return s.id }
func (s *Snapshot) Timestamp() time.Time { return s.timestamp }
func (s *Snapshot) Operation() string    { return s.operation }
func (s *Snapshot) Shape() Shape         { return s.shape.Clone() }
func (s *Snapshot) Parents() []string    { return slices.Clone(s.parents) }
func (s *Snapshot) Args() []any          { return slices.Clone(s.args) }
func (s *Snapshot) Kwargs() map[string]any {
	return maps.Clone(s.kwargs)
}

// Artifact returns the captured artifact (a registered clone or the original reference).
func (s *Snapshot) Artifact() any { return s.artifact }

// Handle returns the artifact handle the report was made against.
func (s *Snapshot) Handle() Handle { return s.handle }

// IsRoot reports whether the snapshot has no recorded predecessors.
func (s *Snapshot) IsRoot() bool { return len(s.parents) == 0 }

// TimestampString renders the creation time in TimestampLayout.
func (s *Snapshot) TimestampString() string {
	return FormatTimestamp(s.timestamp)
}

// ParentLabel joins the parent IDs with commas, or returns RootLabel.
func (s *Snapshot) ParentLabel() string {
	if len(s.parents) == 0 {
		return RootLabel
	}
	return strings.Join(s.parents, ",")
}

func (s *Snapshot) String() string {
	return fmt.Sprintf("<Snapshot %s op=%s shape=%s parents=%s>",
		s.TimestampString(), s.operation, s.shape, s.ParentLabel())
}

// SnapshotRecord is the serializable form of a Snapshot. The artifact itself is
// not part of the record; writers that need it read Snapshot.Artifact directly.
type SnapshotRecord struct {
	ID        string         `json:"id" yaml:"id" mapstructure:"id"`
	Timestamp string         `json:"timestamp" yaml:"timestamp" mapstructure:"timestamp"`
	Operation string         `json:"operation" yaml:"operation" mapstructure:"operation"`
	Shape     []int          `json:"shape" yaml:"shape" mapstructure:"shape"`
	Parents   []string       `json:"parents" yaml:"parents" mapstructure:"parents"`
	Args      []any          `json:"args,omitempty" yaml:"args,omitempty" mapstructure:"args"`
	Kwargs    map[string]any `json:"kwargs,omitempty" yaml:"kwargs,omitempty" mapstructure:"kwargs"`
	Handle    uint64         `json:"handle,omitempty" yaml:"handle,omitempty" mapstructure:"handle"`
}

// Record converts the snapshot into its serializable form.
// Args and kwargs go through Jsonify, so the record always marshals.
func (s *Snapshot) Record() SnapshotRecord {
	r := SnapshotRecord{
		ID:        s.id,
		Timestamp: s.TimestampString(),
		Operation: s.operation,
		Shape:     []int(s.shape.Clone()),
		Parents:   slices.Clone(s.parents),
		Handle:    uint64(s.handle),
	}
	if r.Shape == nil {
		r.Shape = []int{}
	}
	if r.Parents == nil {
		r.Parents = []string{}
	}
	if len(s.args) > 0 {
		r.Args = make([]any, len(s.args))
		for i, a := range s.args {
			r.Args[i] = Jsonify(a)
		}
	}
	if len(s.kwargs) > 0 {
		r.Kwargs = make(map[string]any, len(s.kwargs))
		for k, v := range s.kwargs {
			r.Kwargs[k] = Jsonify(v)
		}
	}
	return r
}

// Snapshot rebuilds a Snapshot from a record (artifact-less). Used when replaying
// persisted lineage into a fresh History.
func (r SnapshotRecord) Snapshot() (*Snapshot, error) {
	ts, err := ParseTimestamp(r.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q: %w", r.Timestamp, err)
	}
	shape := Shape(r.Shape)
	if shape == nil {
		shape = Shape{}
	}
	return NewSnapshot(SnapshotParams{
		ID:        r.ID,
		Timestamp: ts,
		Operation: r.Operation,
		Shape:     shape,
		Parents:   r.Parents,
		Args:      r.Args,
		Kwargs:    r.Kwargs,
		Handle:    Handle(r.Handle),
	}), nil
}
