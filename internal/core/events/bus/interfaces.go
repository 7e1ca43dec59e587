package bus

import (
	"errors"
	"time"
)

var (
	// ErrBusClosed is returned by every operation on a closed bus.
	ErrBusClosed = errors.New("event bus is closed")
	// ErrEmptyChannel is returned when subscribing or publishing without a channel name.
	ErrEmptyChannel = errors.New("event channel name is empty")
)

// EventBus defines a thread-safe, in-process pub/sub event bus.
//
// Key characteristics:
// - Channel fan-out: handlers subscribe by Event.Type(), which names the channel.
// - Synchronous delivery: Publish calls handler callbacks in the caller goroutine.
// - Error aggregation: multiple handler errors are joined and returned from Publish.
// - Cancel is a barrier: once Subscription.Cancel returns, the handler is not
//   running and will never be called again.
//
// Notes:
// - Handlers should be quick or offload heavy work to avoid blocking publishers.
// - A handler must not cancel its own subscription; Cancel waits for the
//   handler to return and would deadlock.
// - All methods must be safe for concurrent use.
type EventBus interface {
	// Publish delivers the event synchronously to all active subscribers of
	// event.Type(). If one or more handlers return an error, a joined error is
	// returned.
	Publish(event Event) error
	// PublishAsync publishes in a separate goroutine and returns a channel that
	// will receive the joined error (or nil) when delivery completes; then the
	// channel is closed.
	PublishAsync(event Event) <-chan error
	// Subscribe registers a handler for a channel and returns a Subscription
	// handle that can be used to cancel later.
	Subscribe(channel string, handler EventHandler) (Subscription, error)
	// Unsubscribe cancels the given Subscription. It is safe to call with nil; does nothing.
	Unsubscribe(Subscription) error

	// GetMetrics returns a snapshot of accumulated counters.
	GetMetrics() EventBusMetrics
	// GetChannels returns a snapshot list of channels with at least one subscriber.
	GetChannels() []ChannelInfo

	// Close cancels every subscription and rejects further use.
	Close() error
}

// Event is an immutable message transported by the EventBus.
//
// Fields:
// - Type: channel the event is routed on (required for delivery).
// - Source: identifier of the publisher (free-form).
// - Timestamp: creation time of the event.
// - Data: opaque payload for consumers.
//
// Implementations should treat Event values as read-only.
type Event interface {
	Type() string
	Source() string
	Timestamp() time.Time
	Data() any
}

// EventHandler is a user callback invoked per delivered event. If it returns an
// error, Publish aggregates and returns it.
type EventHandler func(event Event) error

// Subscription represents a registered handler bound to a channel.
// Use Cancel or EventBus.Unsubscribe to stop receiving events.
type Subscription interface {
	// ID is a unique identifier for this subscription.
	ID() string
	// EventType returns the channel this subscription listens to.
	EventType() string
	// IsActive reports whether this subscription is still registered.
	IsActive() bool
	// Cancel de-registers the handler from the bus and waits for an in-flight
	// call to finish. Multiple calls are safe.
	Cancel() error
}

// EventBusMetrics represents a minimal set of counters.
type EventBusMetrics struct {
	Published         uint64
	DeliveredHandlers uint64
	Errors            uint64
	Unrouted          uint64
	SubscribersActive uint64
}

// ChannelInfo provides a minimal snapshot about a channel.
type ChannelInfo struct {
	Name string
	Subs int
}
