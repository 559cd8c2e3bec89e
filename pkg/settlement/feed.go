package settlement

import (
	"context"
	"sync"
)

// EventFeed fans events out to subscribers. Append never blocks: each subscriber has its own
// queue drained by a goroutine, so a slow reader only delays itself. Events reach every
// subscriber in append order.
type EventFeed[T any] struct {
	mu   sync.Mutex
	subs map[*subscription[T]]struct{}
}

type subscription[T any] struct {
	ctx  context.Context
	ch   chan<- T
	wake chan struct{}

	mu    sync.Mutex
	queue []T
}

func NewEventFeed[T any]() *EventFeed[T] {
	return &EventFeed[T]{subs: make(map[*subscription[T]]struct{})}
}

// Append queues ev for every current subscriber.
func (f *EventFeed[T]) Append(ev T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs {
		sub.push(ev)
	}
}

// Subscribe delivers every event appended from now on to ch until ctx is done.
func (f *EventFeed[T]) Subscribe(ctx context.Context, ch chan<- T) {
	sub := &subscription[T]{
		ctx:  ctx,
		ch:   ch,
		wake: make(chan struct{}, 1),
	}

	f.mu.Lock()
	f.subs[sub] = struct{}{}
	f.mu.Unlock()

	go sub.run(func() {
		f.mu.Lock()
		delete(f.subs, sub)
		f.mu.Unlock()
	})
}

// Subscribers returns the number of live subscriptions.
func (f *EventFeed[T]) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (s *subscription[T]) push(ev T) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription[T]) run(done func()) {
	defer done()
	for {
		s.mu.Lock()
		pending := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, ev := range pending {
			select {
			case s.ch <- ev:
			case <-s.ctx.Done():
				return
			}
		}

		select {
		case <-s.wake:
		case <-s.ctx.Done():
			return
		}
	}
}
