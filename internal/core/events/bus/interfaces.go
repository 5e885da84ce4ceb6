package bus

// Handler is a user callback invoked per published value.
type Handler[T any] func(event T)

// Subscription represents a registered handler.
// Use Cancel to stop receiving events.
type Subscription interface {
	// ID is a unique identifier for this subscription.
	ID() string
	// IsActive reports whether this subscription is still registered.
	IsActive() bool
	// Cancel de-registers the handler. Multiple calls are safe.
	Cancel()
}

// Publisher is the publishing half of a Signal, handed to code that raises
// notifications but must not observe them.
type Publisher[T any] interface {
	Publish(event T)
}

// Subscriber is the subscribing half of a Signal, exposed to collaborators.
type Subscriber[T any] interface {
	Subscribe(handler Handler[T]) Subscription
}
