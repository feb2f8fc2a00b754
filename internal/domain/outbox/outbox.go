package outbox

import "context"

// Event is a named domain fact published after a state change.
type Event interface {
	EventName() string
}

// Keyed events name the aggregate they belong to. Broker publishers use the
// key for partitioning so events of one order stay ordered.
type Keyed interface {
	Event
	Key() string
}

type Handler func(ctx context.Context, e Event) error

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type PublisherFunc func(ctx context.Context, e Event) error

func (f PublisherFunc) Publish(ctx context.Context, e Event) error { return f(ctx, e) }

// Subscriber registers handlers by event name.
type Subscriber interface {
	Subscribe(eventName string, h Handler)
}
