package domain

import "errors"

// ErrSnapshotNotFound is returned when a snapshot ID is not retained (never recorded or evicted).
var ErrSnapshotNotFound = errors.New("snapshot not found")

// ErrRunNotStarted is returned by catalog writers when a snapshot arrives before a run was begun.
var ErrRunNotStarted = errors.New("run not started")

// ErrRunAlreadyStarted is returned when BeginRun is called twice on the same writer.
var ErrRunAlreadyStarted = errors.New("run already started")

// ErrUnknownSink is returned by the sink factory for an unregistered sink type.
var ErrUnknownSink = errors.New("unknown sink type")
