package domain

import (
	"context"
	"time"
)

// EventType is the key subscribers register against on the bus.
type EventType = string

const (
	EventSnapshotCreated EventType = "snapshot.created"
	EventTrackerStarted  EventType = "tracker.started"
	EventTrackerStopped  EventType = "tracker.stopped"
)

// Event is the envelope delivered to bus subscribers.
// Snapshot is nil for tracker lifecycle events.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Snapshot  *Snapshot
}

// NewEvent stamps an event of the given type with the current UTC time.
func NewEvent(t EventType, s *Snapshot) Event {
	return Event{Type: t, Timestamp: Now(), Snapshot: s}
}

// LifecycleHooks are optional callbacks invoked by the tracker around each report.
// They run synchronously on the reporting goroutine, outside the tracker's locks.
type LifecycleHooks struct {
	OnRecorded   func(context.Context, *Snapshot)
	OnSuppressed func(ctx context.Context, operation string, handle Handle)
	OnIgnored    func(ctx context.Context, operation string)
}
