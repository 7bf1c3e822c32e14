// Package notify delivers job and batch lifecycle events to the
// clients that own them. Delivery is best-effort and at-most-once: the
// push channel is a cache-invalidation hint, and the HTTP surface stays
// authoritative.
package notify

import (
	"sync"

	"server/internal/domain"
	"server/internal/infra"
)

const subscriberBuffer = 32

// Bus is an in-process publish/subscribe fanout keyed by owner.
// Subscribers only ever see events for their own identity; there is no
// catch-up log, so a reconnecting client re-derives state by polling.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	logger infra.Logger
	closed bool
}

// NewBus creates an empty bus.
func NewBus(logger infra.Logger) *Bus {
	return &Bus{
		subs:   make(map[string]map[*Subscription]struct{}),
		logger: logger,
	}
}

// Subscription is one owner-scoped event feed.
type Subscription struct {
	ownerID string
	ch      chan domain.Event
	bus     *Bus
	once    sync.Once
}

// Events returns the subscription's receive channel. It is closed when
// the subscription or the bus shuts down.
func (s *Subscription) Events() <-chan domain.Event { return s.ch }

// OwnerID returns the identity this subscription is scoped to.
func (s *Subscription) OwnerID() string { return s.ownerID }

// Close detaches the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.remove(s)
		close(s.ch)
	})
}

// Subscribe registers a feed for the given owner identity. The identity
// must come from the authenticated connection, never from the client
// payload.
func (b *Bus) Subscribe(ownerID string) *Subscription {
	sub := &Subscription{
		ownerID: ownerID,
		ch:      make(chan domain.Event, subscriberBuffer),
		bus:     b,
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	set, ok := b.subs[ownerID]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[ownerID] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Publish fans the event out to the owner's subscribers. A subscriber
// that cannot keep up drops the event rather than blocking publishers.
func (b *Bus) Publish(evt domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for sub := range b.subs[evt.OwnerID] {
		select {
		case sub.ch <- evt:
		default:
			b.logger.Debug().
				Str("owner_id", evt.OwnerID).
				Str("event_type", string(evt.Type)).
				Msg("notify: dropping event for slow subscriber")
		}
	}
}

// Close shuts the bus down and closes every subscription channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, set := range b.subs {
		for sub := range set {
			sub.once.Do(func() { close(sub.ch) })
		}
	}
	b.subs = make(map[string]map[*Subscription]struct{})
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[sub.ownerID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subs, sub.ownerID)
		}
	}
}
