package ports

import (
	"context"

	"github.com/aretw0/lineage/pkg/domain"
)

// SnapshotSink persists or forwards copies of recorded snapshots.
// Writers call Write once per snapshot.created event, in publish order.
type SnapshotSink interface {
	// Write stores s. Implementations must not retain s.Artifact() beyond the call
	// unless they document otherwise.
	Write(ctx context.Context, s *domain.Snapshot) error

	// Close flushes and releases the sink. Calling Close twice is allowed.
	Close() error
}

// SnapshotReader reads back what a sink stored.
type SnapshotReader interface {
	// Load returns the record stored under id.
	// Returns domain.ErrSnapshotNotFound if the sink has no such snapshot.
	Load(ctx context.Context, id string) (domain.SnapshotRecord, error)

	// List returns stored snapshot IDs in write order.
	List(ctx context.Context) ([]string, error)
}

// Flusher is implemented by sinks that buffer writes.
type Flusher interface {
	Flush() error
}
