/*
Package lineage is an in-process provenance ledger for data pipelines.

Every time a pipeline step produces an artifact (a table, a slice, a model), the
step reports it. The ledger turns the report into an immutable Snapshot, keeps
the most recent snapshots in a bounded History indexed as a parent/child DAG,
and publishes each snapshot on an event Bus where writers copy it to sinks
(console, JSON Lines files, Redis, a SQLite catalog).

# Concept

Artifacts are identified by a Handle minted with Track, not by their value.
Reporting the same handle again only records a new snapshot when the artifact's
fingerprint changed (operation, parents, shape and arguments), so chatty
pipelines that report on every method call still produce a clean lineage.

# Key Features

  - Immutable snapshots: artifacts are copied through a clone registry at report time.
  - Bounded memory: History evicts the oldest snapshot and its DAG edges first.
  - Idempotent reporting: repeated reports of an unchanged artifact are suppressed.
  - Pluggable sinks: writers subscribe to the bus, optionally asynchronously.

# Usage

	package main

	import (
		"context"
		"log"

		"github.com/aretw0/lineage"
		"github.com/aretw0/lineage/pkg/adapters/console"
		"github.com/aretw0/lineage/pkg/tracker"
	)

	func main() {
		ctx := context.Background()
		ledger, err := lineage.New(lineage.WithSink(console.New()))
		if err != nil {
			log.Fatal(err)
		}
		defer ledger.Close(ctx)

		rows := ledger.Track([]string{"a", "b", "c"})
		loaded, err := ledger.Record(ctx, "load", rows)
		if err != nil {
			log.Fatal(err)
		}

		sorted := ledger.Track([]string{"c", "b", "a"})
		if _, err := ledger.Record(ctx, "sort", sorted, tracker.WithParents(loaded.ID())); err != nil {
			log.Fatal(err)
		}
	}
*/
package lineage
