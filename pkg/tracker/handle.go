package tracker

import (
	"sync/atomic"

	"github.com/aretw0/lineage/pkg/domain"
)

// Handles mints artifact handles. The zero value is ready to use and never
// returns the zero Handle.
type Handles struct {
	next atomic.Uint64
}

// Mint returns a fresh handle, strictly greater than every earlier one.
func (a *Handles) Mint() domain.Handle {
	return domain.Handle(a.next.Add(1))
}

// Ref pairs an artifact with the handle its reports are keyed by.
// Two Refs with the same Handle are the same artifact as far as duplicate
// detection is concerned, whatever their Value.
type Ref struct {
	Handle domain.Handle
	Value  any
}

// With returns a Ref for the same artifact carrying a new value, for
// transformations that mutate in place but return a fresh Go value.
func (r Ref) With(v any) Ref {
	return Ref{Handle: r.Handle, Value: v}
}
