package middleware

import "github.com/aretw0/lineage/pkg/ports"

// Middleware allows wrapping a SnapshotSink to add behavior.
type Middleware func(ports.SnapshotSink) ports.SnapshotSink

// Chain applies mws to sink; the first middleware is the outermost.
func Chain(sink ports.SnapshotSink, mws ...Middleware) ports.SnapshotSink {
	for i := len(mws) - 1; i >= 0; i-- {
		sink = mws[i](sink)
	}
	return sink
}

// Unwrapper is implemented by sinks that wrap another sink.
type Unwrapper interface {
	Unwrap() ports.SnapshotSink
}

// Innermost strips every middleware layer from sink.
func Innermost(sink ports.SnapshotSink) ports.SnapshotSink {
	for {
		u, ok := sink.(Unwrapper)
		if !ok {
			return sink
		}
		sink = u.Unwrap()
	}
}
