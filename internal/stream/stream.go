package stream

import (
	"sync"
)

// Stream is a minimal fan-out publisher for live sensor values.
//
// Each subscriber gets its own buffered channel. Publish never blocks: when a
// subscriber's buffer is full, its oldest pending value is dropped to make
// room, so a slow listener on one stream cannot stall the producer or other
// streams. Values published before Subscribe are not replayed.
type Stream[T any] struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription[T]
	nextID uint64
	closed bool
}

type Subscription[T any] struct {
	// C delivers values in publish order.
	C <-chan T

	ch     chan T
	cancel func()
	once   sync.Once
}

// Cancel stops delivery and releases the subscription. Safe to call more than
// once and safe to call concurrently with Publish.
func (s *Subscription[T]) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

func New[T any]() *Stream[T] {
	return &Stream[T]{subs: make(map[uint64]*Subscription[T])}
}

// Subscribe registers a listener with the given channel buffer. A buffer of 0
// or less gets a small default.
func (s *Stream[T]) Subscribe(buffer int) *Subscription[T] {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan T, buffer)

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++

	sub := &Subscription[T]{C: ch, ch: ch}
	sub.cancel = func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}

	if s.closed {
		close(ch)
		sub.cancel = func() {}
		return sub
	}

	s.subs[id] = sub
	return sub
}

// Publish delivers v to every active subscriber in order. It never blocks.
func (s *Stream[T]) Publish(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	for _, sub := range s.subs {
		for {
			select {
			case sub.ch <- v:
			default:
				// Full: drop the oldest pending value and retry.
				select {
				case <-sub.ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Close terminates all subscriptions. Subsequent Publish calls are no-ops and
// subsequent Subscribe calls return an already-closed subscription.
func (s *Stream[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for id, sub := range s.subs {
		close(sub.ch)
		delete(s.subs, id)
	}
}
