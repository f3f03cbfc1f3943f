/*
Package ports defines the driven ports (interfaces) for the lineage ledger.

These interfaces decouple the tracker and its writers from concrete backends,
so snapshots can be copied to memory, files, Redis or a SQLite catalog without
the core knowing which.

# Key Interfaces

  - SnapshotSink: receives each recorded snapshot (memory, console, file, redis, sqlite).
  - SnapshotReader: looks snapshots up again by ID (memory, redis).
*/
package ports
