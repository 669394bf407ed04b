package view

import (
	"github.com/roach88/treesync/internal/node"
)

// EventType names a listener event.
type EventType string

const (
	EventValue        EventType = "value"
	EventChildAdded   EventType = "child_added"
	EventChildRemoved EventType = "child_removed"
	EventChildChanged EventType = "child_changed"
	EventChildMoved   EventType = "child_moved"
)

// ParseEventType validates a listener event name.
func ParseEventType(s string) (EventType, bool) {
	switch t := EventType(s); t {
	case EventValue, EventChildAdded, EventChildRemoved, EventChildChanged, EventChildMoved:
		return t, true
	}
	return "", false
}

// Event is one delivery to one registration. A non-nil Err marks a cancel
// event: the registration has been removed and only its cancel callback runs.
type Event struct {
	Type         EventType
	Path         node.Path
	Snapshot     Snapshot
	PrevName     string
	Err          error
	Registration *Registration
}

// IsCancel reports whether ev is a cancel event.
func (ev Event) IsCancel() bool {
	return ev.Err != nil
}

// Registration binds a callback to one event type of one query. The
// identity used to unregister is the *Registration itself.
//
// Registrations are only touched from the engine's loop goroutine.
type Registration struct {
	id        uint64
	eventType EventType
	callback  func(Event)
	cancel    func(error)
	once      bool
	fired     bool
	removed   bool
}

// NewRegistration creates a registration. cancel may be nil.
func NewRegistration(id uint64, eventType EventType, callback func(Event), cancel func(error)) *Registration {
	return &Registration{id: id, eventType: eventType, callback: callback, cancel: cancel}
}

// NewOnceRegistration creates a registration that fires at most once.
func NewOnceRegistration(id uint64, eventType EventType, callback func(Event), cancel func(error)) *Registration {
	r := NewRegistration(id, eventType, callback, cancel)
	r.once = true
	return r
}

// ID returns the registration id.
func (r *Registration) ID() uint64 { return r.id }

// Type returns the event type the registration listens for.
func (r *Registration) Type() EventType { return r.eventType }

// Once reports whether the registration fires at most once.
func (r *Registration) Once() bool { return r.once }

// RespondsTo reports whether events of type t are delivered to r.
func (r *Registration) RespondsTo(t EventType) bool {
	return r.eventType == t
}

// Fire delivers ev. It reports false when a once registration has already
// fired, in which case nothing is called.
func (r *Registration) Fire(ev Event) bool {
	if ev.IsCancel() {
		if r.cancel != nil {
			r.cancel(ev.Err)
		}
		return true
	}
	if r.once {
		if r.fired {
			return false
		}
		r.fired = true
	}
	r.callback(ev)
	return true
}

// Fired reports whether a once registration has delivered its event.
func (r *Registration) Fired() bool { return r.fired }

// Removed reports whether the registration was detached from its view.
func (r *Registration) Removed() bool { return r.removed }
