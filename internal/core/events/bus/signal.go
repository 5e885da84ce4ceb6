package bus

import (
	"sync"

	"github.com/google/uuid"
)

var (
	_ Publisher[int]  = (*Signal[int])(nil)
	_ Subscriber[int] = (*Signal[int])(nil)
)

// Signal is a typed, in-process notification channel.
//
// Delivery is synchronous: Publish calls every active handler on the calling
// goroutine in subscription order. A handler may cancel its own or another
// subscription while being called; cancelled handlers are skipped for the rest
// of the current delivery. Handlers subscribed during a delivery only receive
// later events. The zero value is ready to use.
type Signal[T any] struct {
	mu   sync.Mutex
	subs []*subscription[T]
}

type subscription[T any] struct {
	id      string
	handler Handler[T]
	active  bool
	signal  *Signal[T]
}

func (s *subscription[T]) ID() string { return s.id }

func (s *subscription[T]) IsActive() bool {
	s.signal.mu.Lock()
	defer s.signal.mu.Unlock()
	return s.active
}

func (s *subscription[T]) Cancel() {
	s.signal.remove(s)
}

func (b *Signal[T]) Subscribe(handler Handler[T]) Subscription {
	s := &subscription[T]{id: uuid.NewString(), handler: handler, active: true, signal: b}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()
	return s
}

func (b *Signal[T]) Publish(event T) {
	b.mu.Lock()
	snapshot := make([]*subscription[T], len(b.subs))
	copy(snapshot, b.subs)
	b.mu.Unlock()

	for _, s := range snapshot {
		b.mu.Lock()
		active := s.active
		b.mu.Unlock()
		if active {
			s.handler(event)
		}
	}
}

// Len returns the number of active subscriptions.
func (b *Signal[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Reset cancels every subscription.
func (b *Signal[T]) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		s.active = false
	}
	b.subs = nil
}

func (b *Signal[T]) remove(target *subscription[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	target.active = false
	for i, s := range b.subs {
		if s == target {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}
