package engine

import "inapp-messaging/internal/event"

// Result is the outcome of a matching pass.
type Result struct {
	Matched  []string       // campaign ids in catalog order
	Consumed []*event.Event // non-persistent events to remove
}
