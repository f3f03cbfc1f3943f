// Package history implements the bounded, insertion-ordered snapshot store and
// its live parent/child index.
package history

import (
	"iter"
	"slices"
	"sync"

	"github.com/aretw0/lineage/pkg/domain"
)

// EvictHook is called with each snapshot pushed out by capacity pressure.
// It runs while the History lock is held and must not call back into the History.
type EvictHook func(*domain.Snapshot)

// Option configures a History.
type Option func(*History)

// WithEvictHook registers a callback for evicted snapshots.
func WithEvictHook(fn EvictHook) Option {
	return func(h *History) {
		h.onEvict = append(h.onEvict, fn)
	}
}

// History is a ring buffer of snapshots plus a DAG index over their parent IDs.
// Safe for concurrent use.
type History struct {
	mu sync.RWMutex

	ring []*domain.Snapshot
	head int // index of the oldest element
	size int

	byID     map[string]*domain.Snapshot
	parents  map[string][]string
	children map[string][]string

	onEvict []EvictHook
}

// New creates a History retaining at most capacity snapshots.
// A capacity below 1 selects domain.DefaultCapacity.
func New(capacity int, opts ...Option) *History {
	if capacity < 1 {
		capacity = domain.DefaultCapacity
	}
	h := &History{
		ring:     make([]*domain.Snapshot, capacity),
		byID:     make(map[string]*domain.Snapshot),
		parents:  make(map[string][]string),
		children: make(map[string][]string),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// OnEvict registers fn after construction. Used by components that receive an
// already built History and need to follow its eviction.
func (h *History) OnEvict(fn EvictHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onEvict = append(h.onEvict, fn)
}

// Capacity returns the maximum number of retained snapshots.
func (h *History) Capacity() int {
	return len(h.ring)
}

// Append adds s at the tail. When the buffer is full the oldest snapshot is
// evicted first and returned; its adjacency entries are removed after s's own
// edges are installed, so no index entry survives that names the evicted ID.
func (h *History) Append(s *domain.Snapshot) (evicted *domain.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.size == len(h.ring) {
		evicted = h.ring[h.head]
		h.ring[h.head] = nil
		h.head = (h.head + 1) % len(h.ring)
		h.size--
	}

	tail := (h.head + h.size) % len(h.ring)
	h.ring[tail] = s
	h.size++

	id := s.ID()
	h.byID[id] = s
	parents := s.Parents()
	h.parents[id] = parents
	for _, p := range parents {
		h.children[p] = append(h.children[p], id)
	}

	if evicted != nil {
		h.unlink(evicted.ID())
		for _, fn := range h.onEvict {
			fn(evicted)
		}
	}
	return evicted
}

// unlink drops every adjacency entry mentioning id. Caller holds h.mu.
func (h *History) unlink(id string) {
	delete(h.byID, id)
	for _, p := range h.parents[id] {
		kids := h.children[p]
		if i := slices.Index(kids, id); i >= 0 {
			kids = slices.Delete(kids, i, i+1)
		}
		if len(kids) == 0 {
			delete(h.children, p)
		} else {
			h.children[p] = kids
		}
	}
	delete(h.parents, id)
	delete(h.children, id)
}

// Len returns the number of retained snapshots.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

// At returns the i-th retained snapshot in chronological order. Negative
// indexes count back from the newest (-1 is the latest).
func (h *History) At(i int) (*domain.Snapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if i < 0 {
		i += h.size
	}
	if i < 0 || i >= h.size {
		return nil, false
	}
	return h.ring[(h.head+i)%len(h.ring)], true
}

// Get returns the retained snapshot with the given ID.
func (h *History) Get(id string) (*domain.Snapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.byID[id]
	return s, ok
}

// Contains reports whether id is currently retained.
func (h *History) Contains(id string) bool {
	_, ok := h.Get(id)
	return ok
}

// ParentsOf returns the parent IDs of the retained snapshot id (empty if unknown or evicted).
// IDs of evicted parents are still reported: the edge belongs to the child.
func (h *History) ParentsOf(id string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.parents[id])
}

// ChildrenOf returns the IDs of retained snapshots that list id as a parent.
func (h *History) ChildrenOf(id string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.children[id])
}

// Ancestors lazily yields every ID reachable by following parent edges from id.
// Each ID is yielded once; the order is unspecified.
func (h *History) Ancestors(id string) iter.Seq[string] {
	return h.walk(id, h.ParentsOf)
}

// Descendants lazily yields every ID reachable by following child edges from id.
// Each ID is yielded once; the order is unspecified.
func (h *History) Descendants(id string) iter.Seq[string] {
	return h.walk(id, h.ChildrenOf)
}

func (h *History) walk(id string, next func(string) []string) iter.Seq[string] {
	return func(yield func(string) bool) {
		stack := next(id)
		seen := make(map[string]struct{})
		for len(stack) > 0 {
			current := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if _, ok := seen[current]; ok {
				continue
			}
			seen[current] = struct{}{}
			if !yield(current) {
				return
			}
			stack = append(stack, next(current)...)
		}
	}
}

// Snapshots returns a chronological copy of the retained window.
func (h *History) Snapshots() []*domain.Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*domain.Snapshot, h.size)
	for i := range out {
		out[i] = h.ring[(h.head+i)%len(h.ring)]
	}
	return out
}

// All yields the retained snapshots in chronological order.
func (h *History) All() iter.Seq[*domain.Snapshot] {
	return h.Filter("")
}

// Filter yields retained snapshots whose operation equals op, or all of them
// when op is empty, in chronological order. It iterates a copy of the window
// taken when iteration starts.
func (h *History) Filter(op string) iter.Seq[*domain.Snapshot] {
	return func(yield func(*domain.Snapshot) bool) {
		for _, s := range h.Snapshots() {
			if op != "" && s.Operation() != op {
				continue
			}
			if !yield(s) {
				return
			}
		}
	}
}
