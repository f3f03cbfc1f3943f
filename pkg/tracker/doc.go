// Package tracker decides whether a report about an artifact is a new lineage
// event or a repeat of the artifact's last recorded state.
//
// A Tracker owns a History, publishes to a Bus and keys its duplicate-detection
// cache by artifact Handle. Handles are minted by Track (or a Handles arena) and
// passed alongside the artifact on every report:
//
//	t := tracker.New(tracker.WithBus(b))
//	if err := t.Start(ctx); err != nil {
//		return err
//	}
//	df := t.Track(rows)
//	s, err := t.Record(ctx, "load", df)
//	_, err = t.Record(ctx, "fillna", df, tracker.WithParents(s.ID()))
package tracker
