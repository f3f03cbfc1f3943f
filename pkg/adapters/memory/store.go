package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/aretw0/lineage/pkg/domain"
)

// Store implements ports.SnapshotSink and ports.SnapshotReader in memory.
// Safe for concurrent use.
type Store struct {
	order []string
	data  map[string]domain.SnapshotRecord
	mu    sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]domain.SnapshotRecord),
	}
}

// Write stores the snapshot's record. Writing an ID twice keeps the first position
// and the latest record.
func (s *Store) Write(ctx context.Context, snap *domain.Snapshot) error {
	// Records are already copies, similar to serialization
	rec := snap.Record()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[rec.ID]; !ok {
		s.order = append(s.order, rec.ID)
	}
	s.data[rec.ID] = rec
	return nil
}

// Load retrieves a record from memory.
func (s *Store) Load(ctx context.Context, id string) (domain.SnapshotRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.data[id]
	if !ok {
		return domain.SnapshotRecord{}, domain.ErrSnapshotNotFound
	}
	// Copy slices on read so the caller can't mutate stored records
	rec.Shape = slices.Clone(rec.Shape)
	rec.Parents = slices.Clone(rec.Parents)
	return rec, nil
}

// List returns stored IDs in write order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order), nil
}

// Records returns every stored record in write order.
func (s *Store) Records() []domain.SnapshotRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.SnapshotRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.data[id])
	}
	return out
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Close is a no-op; the records stay readable.
func (s *Store) Close() error {
	return nil
}
