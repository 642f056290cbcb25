package repository

import (
	"sync"

	"inapp-messaging/internal/event"
)

// DefaultMaxPendingEvents bounds the pending store; oldest non-persistent events are dropped first.
const DefaultMaxPendingEvents = 1000

// EventRepository holds logged events that have not been consumed by a trigger yet.
type EventRepository struct {
	mu     sync.Mutex
	events []*event.Event
	max    int
}

func NewEventRepository(max int) *EventRepository {
	if max <= 0 {
		max = DefaultMaxPendingEvents
	}
	return &EventRepository{max: max}
}

// Add appends e. Persistent events of the same key are stored once.
func (r *EventRepository) Add(e *event.Event) {
	if e == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.IsPersistent {
		for _, existing := range r.events {
			if existing.IsPersistent && existing.Key() == e.Key() {
				return
			}
		}
	}
	r.events = append(r.events, e)
	if len(r.events) > r.max {
		r.dropOldest()
	}
}

func (r *EventRepository) dropOldest() {
	for i, e := range r.events {
		if !e.IsPersistent {
			r.events = append(r.events[:i], r.events[i+1:]...)
			return
		}
	}
}

// Snapshot returns the pending events in log order.
func (r *EventRepository) Snapshot() []*event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*event.Event(nil), r.events...)
}

// Consume removes the given non-persistent events. Persistent events are kept.
func (r *EventRepository) Consume(consumed []*event.Event) {
	if len(consumed) == 0 {
		return
	}
	drop := make(map[*event.Event]struct{}, len(consumed))
	for _, e := range consumed {
		if !e.IsPersistent {
			drop[e] = struct{}{}
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.events[:0]
	for _, e := range r.events {
		if _, ok := drop[e]; !ok {
			kept = append(kept, e)
		}
	}
	r.events = kept
}

func (r *EventRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *EventRepository) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
