package events

import (
	"sync"

	"github.com/rs/zerolog"
)

// Handler consumes a published event. Handlers run on the publisher's
// goroutine and must not publish back into the bus; components that need to
// react with new events buffer them and publish from their own loop.
type Handler func(Event)

// Subscription identifies a registered handler for later removal.
type Subscription uint64

// Bus delivers every published event, synchronously and in subscription
// order, to each subscriber whose minimum severity admits it. A panicking
// handler is recovered and logged; remaining subscribers still receive the
// event.
type Bus struct {
	mu     sync.Mutex
	subs   []subscriber
	nextID Subscription
	logger zerolog.Logger

	published uint64
	delivered uint64
}

type subscriber struct {
	id          Subscription
	minSeverity Severity
	handler     Handler
}

// NewBus creates an empty bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		logger: logger.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers a handler for every event at or above minSeverity.
func (b *Bus) Subscribe(minSeverity Severity, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.subs = append(b.subs, subscriber{
		id:          b.nextID,
		minSeverity: minSeverity,
		handler:     handler,
	})
	b.logger.Debug().
		Uint64("subscription", uint64(b.nextID)).
		Str("min_severity", minSeverity.String()).
		Msg("Subscriber registered")
	return b.nextID
}

// Unsubscribe removes a handler. Unknown ids are ignored.
func (b *Bus) Unsubscribe(id Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers the event to all matching subscribers before returning.
// The bus lock is held for the whole fan-out, so publishing from inside a
// handler deadlocks; that is the contract, not an oversight.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.published++
	for _, sub := range b.subs {
		if event.Severity < sub.minSeverity {
			continue
		}
		b.deliver(sub, event)
		b.delivered++
	}

	b.logger.Debug().
		Str("kind", event.Payload.Kind()).
		Str("severity", event.Severity.String()).
		Str("source", event.Source).
		Msg("Event published")
}

func (b *Bus) deliver(sub subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Uint64("subscription", uint64(sub.id)).
				Str("kind", event.Payload.Kind()).
				Interface("panic", r).
				Msg("Subscriber panicked handling event")
		}
	}()
	sub.handler(event)
}

// Stats returns the running publish and delivery counters.
func (b *Bus) Stats() (published, delivered uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.published, b.delivered
}
