package bus

import (
	"context"
	"reflect"
	"slices"
	"sync"

	"github.com/aretw0/lineage/pkg/domain"
)

// Listener receives events. Implementations registered via SubscribeListener
// must be comparable (typically a pointer) so Unsubscribe can find them.
type Listener interface {
	HandleEvent(ctx context.Context, e domain.Event) error
}

// HandlerFunc adapts a plain function to Listener.
type HandlerFunc func(ctx context.Context, e domain.Event) error

// HandleEvent calls f.
func (f HandlerFunc) HandleEvent(ctx context.Context, e domain.Event) error {
	return f(ctx, e)
}

// UnsubscribeFunc removes exactly one registration. Calling it more than once is a no-op.
type UnsubscribeFunc func()

type registration struct {
	id       uint64
	listener Listener
	// comparable is false for HandlerFunc registrations, which can only be removed
	// through their UnsubscribeFunc.
	comparable bool
}

// Bus is a thread-safe event registry keyed by event type.
// The zero value is not usable; call New.
type Bus struct {
	mu       sync.Mutex
	registry map[string][]registration
	nextID   uint64
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{registry: make(map[string][]registration)}
}

var (
	defaultOnce sync.Once
	defaultBus  *Bus
)

// Default returns the process-wide convenience bus. Libraries and tests should
// construct their own with New.
func Default() *Bus {
	defaultOnce.Do(func() {
		defaultBus = New()
	})
	return defaultBus
}

// Subscribe registers fn for eventType. Funcs are not comparable in Go, so
// the returned UnsubscribeFunc is the only way to remove fn: Unsubscribe ignores
// HandlerFunc values. Keep the func, or register a pointer with SubscribeListener.
func (b *Bus) Subscribe(eventType string, fn HandlerFunc) UnsubscribeFunc {
	return b.add(eventType, fn, false)
}

// SubscribeListener registers l for eventType. The same listener may be
// registered for several event types and later removed with Unsubscribe.
// Non-comparable listeners can only be removed through the returned func.
func (b *Bus) SubscribeListener(eventType string, l Listener) UnsubscribeFunc {
	return b.add(eventType, l, isComparable(l))
}

func isComparable(l Listener) bool {
	return l != nil && reflect.TypeOf(l).Comparable()
}

func (b *Bus) add(eventType string, l Listener, comparable bool) UnsubscribeFunc {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.registry[eventType] = append(b.registry[eventType], registration{
		id:         id,
		listener:   l,
		comparable: comparable,
	})
	b.mu.Unlock()

	return func() {
		b.remove(eventType, func(r registration) bool { return r.id == id })
	}
}

// Unsubscribe removes every registration of l for the given event types,
// or for all event types when none are given. It is a no-op for listeners that
// are not comparable, including every HandlerFunc and any registration made
// through Subscribe.
func (b *Bus) Unsubscribe(l Listener, eventTypes ...string) {
	if !isComparable(l) {
		return
	}
	match := func(r registration) bool {
		return r.comparable && r.listener == l
	}
	if len(eventTypes) > 0 {
		for _, et := range eventTypes {
			b.remove(et, match)
		}
		return
	}

	b.mu.Lock()
	types := make([]string, 0, len(b.registry))
	for et := range b.registry {
		types = append(types, et)
	}
	b.mu.Unlock()

	for _, et := range types {
		b.remove(et, match)
	}
}

// remove rebuilds the slice rather than editing it in place: in-flight publishes
// hold the old backing array.
func (b *Bus) remove(eventType string, match func(registration) bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	regs, ok := b.registry[eventType]
	if !ok {
		return
	}
	kept := make([]registration, 0, len(regs))
	for _, r := range regs {
		if !match(r) {
			kept = append(kept, r)
		}
	}
	if len(kept) == 0 {
		delete(b.registry, eventType)
		return
	}
	b.registry[eventType] = kept
}

// Publish delivers e to every listener registered for e.Type at the time of the
// call, in registration order. The first error aborts delivery and is returned.
func (b *Bus) Publish(ctx context.Context, e domain.Event) error {
	b.mu.Lock()
	regs := slices.Clone(b.registry[e.Type])
	b.mu.Unlock()

	for _, r := range regs {
		if err := r.listener.HandleEvent(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of registrations for eventType.
func (b *Bus) Len(eventType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.registry[eventType])
}

// Reset removes all registrations.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registry = make(map[string][]registration)
}
