package observability

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aretw0/lineage/pkg/bus"
	"github.com/aretw0/lineage/pkg/domain"
	"github.com/aretw0/lineage/pkg/tracker"
	"github.com/aretw0/lineage/pkg/writer"
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric name.
const Namespace = "lineage"

// Collector is a bus.Listener feeding Prometheus metrics.
type Collector struct {
	tracker *tracker.Tracker

	snapshots   *prometheus.CounterVec
	transitions *prometheus.CounterVec
	scraped     []prometheus.Collector

	mu      sync.Mutex
	reg     prometheus.Registerer
	writers []prometheus.Collector
	unsub   []bus.UnsubscribeFunc
}

// New creates a Collector reading counters from t.
func New(t *tracker.Tracker) *Collector {
	c := &Collector{
		tracker: t,
		snapshots: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "snapshots_total",
				Help:      "Total number of recorded snapshots by operation.",
			},
			[]string{"operation"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "tracker_transitions_total",
				Help:      "Tracker start and stop transitions.",
			},
			[]string{"state"},
		),
	}
	h := t.History()
	c.scraped = []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "history_size",
			Help:      "Snapshots currently retained in History.",
		}, func() float64 { return float64(h.Len()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "history_capacity",
			Help:      "Maximum number of snapshots History retains.",
		}, func() float64 { return float64(h.Capacity()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "reports_suppressed_total",
			Help:      "Reports dropped as duplicates of the artifact's last state.",
		}, func() float64 { return float64(t.Stats().Suppressed) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "reports_ignored_total",
			Help:      "Reports dropped because the tracker was stopped.",
		}, func() float64 { return float64(t.Stats().Ignored) }),
	}
	return c
}

// Register adds every metric to reg. Writers added later with TrackWriter are
// registered on the same registerer.
func (c *Collector) Register(reg prometheus.Registerer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	all := append([]prometheus.Collector{c.snapshots, c.transitions}, c.scraped...)
	for _, m := range all {
		if err := reg.Register(m); err != nil {
			return fmt.Errorf("register metric: %w", err)
		}
	}
	c.reg = reg
	return nil
}

// Attach subscribes the collector to every event type it counts.
func (c *Collector) Attach(b *bus.Bus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, et := range []string{domain.EventSnapshotCreated, domain.EventTrackerStarted, domain.EventTrackerStopped} {
		c.unsub = append(c.unsub, b.SubscribeListener(et, c))
	}
}

// Detach undoes Attach and unregisters writer metrics.
func (c *Collector) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, u := range c.unsub {
		u()
	}
	c.unsub = nil
	if c.reg != nil {
		for _, w := range c.writers {
			c.reg.Unregister(w)
		}
	}
	c.writers = nil
}

// HandleEvent implements bus.Listener.
func (c *Collector) HandleEvent(_ context.Context, e domain.Event) error {
	switch e.Type {
	case domain.EventSnapshotCreated:
		if e.Snapshot != nil {
			c.snapshots.WithLabelValues(e.Snapshot.Operation()).Inc()
		}
	case domain.EventTrackerStarted:
		c.transitions.WithLabelValues("started").Inc()
	case domain.EventTrackerStopped:
		c.transitions.WithLabelValues("stopped").Inc()
	}
	return nil
}

// TrackWriter exposes w's delivery counters as
// lineage_writer_deliveries_total{sink, outcome}.
func (c *Collector) TrackWriter(w *writer.Writer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reg == nil {
		return errors.New("observability: Register must be called before TrackWriter")
	}
	outcomes := map[string]func(writer.Stats) uint64{
		"written": func(s writer.Stats) uint64 { return s.Written },
		"failed":  func(s writer.Stats) uint64 { return s.Failed },
		"dropped": func(s writer.Stats) uint64 { return s.Dropped },
	}
	for outcome, pick := range outcomes {
		m := prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   Namespace,
			Name:        "writer_deliveries_total",
			Help:        "Snapshots handed to a sink, by outcome.",
			ConstLabels: prometheus.Labels{"sink": w.Name(), "outcome": outcome},
		}, func() float64 { return float64(pick(w.Stats())) })
		if err := c.reg.Register(m); err != nil {
			return fmt.Errorf("register writer %s metric: %w", w.Name(), err)
		}
		c.writers = append(c.writers, m)
	}
	return nil
}
