// Package broadcast delivers newly persisted readings to live viewers.
//
// Delivery is best effort: events published while nobody listens are gone,
// a slow subscriber loses events instead of slowing the writer, and nothing
// is replayed on reconnect.
package broadcast

import (
	"context"

	"github.com/sentinel-nexus/sentinel/internal/domain"
)

// EventReadingNew is emitted after a reading has been persisted.
const EventReadingNew = "reading:new"

// Event is one live notification.
type Event struct {
	Name    string
	Reading domain.Reading
	// Origin identifies the process that produced the event. Relays use it
	// to drop their own echoes.
	Origin string
}

// NewReadingEvent builds the reading:new event for r.
func NewReadingEvent(r domain.Reading) Event {
	return Event{Name: EventReadingNew, Reading: r}
}

// Publisher accepts live events. Implementations must not block on slow
// consumers.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev Event) error

func (f PublisherFunc) Publish(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Discard drops every event.
var Discard Publisher = PublisherFunc(func(context.Context, Event) error { return nil })

// Envelope is the wire form of an Event on external transports.
type Envelope struct {
	Event  string         `json:"event"`
	Origin string         `json:"origin,omitempty"`
	Data   domain.Reading `json:"data"`
}

func (e Envelope) toEvent() Event {
	return Event{Name: e.Event, Reading: e.Data, Origin: e.Origin}
}

func envelopeOf(ev Event, origin string) Envelope {
	if ev.Origin != "" {
		origin = ev.Origin
	}
	return Envelope{Event: ev.Name, Origin: origin, Data: ev.Reading}
}
