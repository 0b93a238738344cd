// Package events carries domain events between modules over an in-process
// bus. The pipeline publishes what happened; side effects such as alerting
// subscribe without the publisher knowing who listens.
package events

import (
	"context"
	"time"
)

// Event is implemented by everything published on the bus.
type Event interface {
	// EventName keys subscriptions. One name per concrete event type.
	EventName() string
	OccurredAt() time.Time
}

// BaseEvent carries the publication timestamp. Concrete events embed it and
// add their own EventName.
type BaseEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// NewBaseEvent stamps an event with the current time.
func NewBaseEvent() BaseEvent {
	return BaseEvent{Timestamp: time.Now()}
}

// Handler consumes events for one subscribed name.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Bus fans events out to subscribed handlers. Publish is fire-and-forget and
// must not block the caller; PublishSync waits for every handler and reports
// the first error. Subscribe keys on the event's EventName value.
type Bus interface {
	Publish(ctx context.Context, event Event)
	PublishSync(ctx context.Context, event Event) error
	Subscribe(eventName string, handler Handler)
}
