package domain

// Field constants shared by the JSON record, the SQLite catalog and the Redis sink.
const (
	KeyID        = "id"
	KeyTimestamp = "timestamp"
	KeyOperation = "operation"
	KeyShape     = "shape"
	KeyParents   = "parents"
	KeyArgs      = "args"
	KeyKwargs    = "kwargs"
	KeyHandle    = "handle"
)

// DefaultCapacity is the number of snapshots a History retains when no capacity is configured.
const DefaultCapacity = 1000

// RootLabel is printed in place of the parent list for snapshots without parents.
const RootLabel = "<root>"
