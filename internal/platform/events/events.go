// Package events is the publish capability consumed by the enrollment
// engine: named events with a flat key-value payload, fanned out to
// in-process subscribers and, optionally, a signed webhook endpoint.
package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Publisher publishes a named event with a key-value payload.
type Publisher interface {
	Publish(ctx context.Context, name string, payload map[string]string) error
}

// SubscriberFunc handles one published event.
type SubscriberFunc func(ctx context.Context, name string, payload map[string]string)

// Bus is an in-process Publisher delivering events synchronously to
// registered subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]SubscriberFunc
	all  []SubscriberFunc
	log  zerolog.Logger
}

// NewBus creates an empty Bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		subs: make(map[string][]SubscriberFunc),
		log:  log,
	}
}

// Subscribe registers fn for the named event. An empty name subscribes to
// every event.
func (b *Bus) Subscribe(name string, fn SubscriberFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if name == "" {
		b.all = append(b.all, fn)
		return
	}
	b.subs[name] = append(b.subs[name], fn)
}

func (b *Bus) Publish(ctx context.Context, name string, payload map[string]string) error {
	b.mu.RLock()
	fns := make([]SubscriberFunc, 0, len(b.subs[name])+len(b.all))
	fns = append(fns, b.subs[name]...)
	fns = append(fns, b.all...)
	b.mu.RUnlock()

	b.log.Debug().Str("event", name).Int("subscribers", len(fns)).Msg("event published")
	for _, fn := range fns {
		fn(ctx, name, payload)
	}
	return nil
}

// Fanout publishes each event to every wrapped publisher, returning the
// first error after all have been attempted.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, name string, payload map[string]string) error {
	var first error
	for _, p := range f {
		if err := p.Publish(ctx, name, payload); err != nil && first == nil {
			first = err
		}
	}
	return first
}
