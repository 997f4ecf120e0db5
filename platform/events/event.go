// Package events carries the in-process event bus that modules use to
// react to each other without direct references. Platform layer only;
// no business knowledge lives here.
package events

import (
	"context"
	"time"
)

// Event is what every published event satisfies.
type Event interface {
	// EventName identifies the event type. One name per type.
	EventName() string
	// OccurredAt is the moment the event happened.
	OccurredAt() time.Time
}

// BaseEvent holds the timestamp shared by all concrete events and is
// meant to be embedded.
type BaseEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// OccurredAt is the moment the event happened.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// NewBaseEvent stamps a BaseEvent with the current time.
func NewBaseEvent() BaseEvent {
	return BaseEvent{Timestamp: time.Now()}
}

// Handler consumes events it subscribed to.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a plain function into a Handler.
type HandlerFunc func(ctx context.Context, event Event) error

// Handle invokes the wrapped function.
func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Bus publishes events and routes them to subscribed handlers.
type Bus interface {
	// Publish fans the event out to every handler subscribed to its
	// name. Handlers run asynchronously.
	Publish(ctx context.Context, event Event)

	// PublishSync fans the event out and blocks until every handler
	// has finished.
	PublishSync(ctx context.Context, event Event) error

	// Subscribe registers a handler under an event name, as returned
	// by Event.EventName().
	Subscribe(eventName string, handler Handler)
}
