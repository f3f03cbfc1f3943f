package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/aretw0/lineage/internal/logging"
	"github.com/aretw0/lineage/pkg/bus"
	"github.com/aretw0/lineage/pkg/domain"
)

// allTopics is the topic of subscribers that want every operation.
const allTopics = ""

// StreamManager fans recorded snapshots out to active SSE connections.
// Subscribers are keyed by operation name; the empty topic receives everything.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan<- string]struct{}
	buffer      int
	logger      *slog.Logger

	unsub bus.UnsubscribeFunc
}

// NewStreamManager creates a StreamManager whose per-client buffer holds buffer messages.
func NewStreamManager(buffer int, logger *slog.Logger) *StreamManager {
	if buffer < 1 {
		buffer = 10
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &StreamManager{
		subscribers: make(map[string]map[chan<- string]struct{}),
		buffer:      buffer,
		logger:      logger,
	}
}

// Subscribe registers a client for topic and returns its channel plus a cancel func.
func (sm *StreamManager) Subscribe(topic string) (chan string, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan string, sm.buffer)
	if _, ok := sm.subscribers[topic]; !ok {
		sm.subscribers[topic] = make(map[chan<- string]struct{})
	}
	sm.subscribers[topic][ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			sm.mu.Lock()
			defer sm.mu.Unlock()
			subs := sm.subscribers[topic]
			if _, ok := subs[ch]; ok {
				delete(subs, ch)
				close(ch)
				if len(subs) == 0 {
					delete(sm.subscribers, topic)
				}
			}
		})
	}
}

// DisconnectAll closes every client channel, ending their streams.
func (sm *StreamManager) DisconnectAll() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for topic, subs := range sm.subscribers {
		for ch := range subs {
			close(ch)
		}
		delete(sm.subscribers, topic)
	}
}

// Len returns the number of connected clients across all topics.
func (sm *StreamManager) Len() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	n := 0
	for _, subs := range sm.subscribers {
		n += len(subs)
	}
	return n
}

// Broadcast sends msg to the subscribers of topic and to the catch-all subscribers.
// Slow clients whose buffer is full miss the message.
func (sm *StreamManager) Broadcast(topic string, msg string) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	sm.send(topic, msg)
	if topic != allTopics {
		sm.send(allTopics, msg)
	}
}

func (sm *StreamManager) send(topic, msg string) {
	for ch := range sm.subscribers[topic] {
		select {
		case ch <- msg:
		default:
			sm.logger.Warn("SSE: client buffer full, dropping message", "topic", topic)
		}
	}
}

// HandleEvent implements bus.Listener. Each created snapshot is broadcast as its
// JSON record on the topic named after its operation.
func (sm *StreamManager) HandleEvent(_ context.Context, e domain.Event) error {
	if e.Type != domain.EventSnapshotCreated || e.Snapshot == nil {
		return nil
	}
	data, err := json.Marshal(e.Snapshot.Record())
	if err != nil {
		sm.logger.Error("SSE: encode snapshot", "id", e.Snapshot.ID(), "err", err)
		return nil
	}
	sm.Broadcast(e.Snapshot.Operation(), string(data))
	return nil
}

// Attach subscribes the manager to snapshot.created on b. Calling it again
// replaces the previous subscription.
func (sm *StreamManager) Attach(b *bus.Bus) {
	sm.Detach()
	unsub := b.SubscribeListener(domain.EventSnapshotCreated, sm)
	sm.mu.Lock()
	sm.unsub = unsub
	sm.mu.Unlock()
}

// Detach removes the bus subscription installed by Attach.
func (sm *StreamManager) Detach() {
	sm.mu.Lock()
	unsub := sm.unsub
	sm.unsub = nil
	sm.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}
