/*
Package domain contains the core value types of the lineage ledger.

It defines the immutable Snapshot that describes one recorded transformation,
the Event envelope broadcast on the bus, artifact handles, and the clock and
identity helpers shared by every other package. The package is kept free of
I/O and persistence concerns.

# Key Entities

  - Snapshot: one immutable recorded transformation (operation, shape, parents, params).
  - SnapshotRecord: the JSON form of a Snapshot, consumed by writers.
  - Event: a bus envelope (snapshot.created, tracker.started, tracker.stopped).
  - Handle: an opaque per-artifact identity minted by instrumentation layers.
*/
package domain
