// Package broadcast fans values out to a dynamic set of subscribers.
package broadcast

import (
	"errors"
	"sync"
)

var ErrClosed = errors.New("broadcast: closed")

// Subscription is one receiver registered on a Broadcaster.
type Subscription[T any] struct {
	ch      chan T
	dropped uint64
}

// C returns the delivery channel. It is closed on Unsubscribe or Close.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Broadcaster delivers each published value to every subscriber in publish
// order. A subscriber whose buffer is full loses its oldest value.
type Broadcaster[T any] struct {
	mu          sync.Mutex
	subscribers map[*Subscription[T]]struct{}
	closed      bool
}

func New[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{
		subscribers: make(map[*Subscription[T]]struct{}),
	}
}

func (b *Broadcaster[T]) Subscribe(buffer int) (*Subscription[T], error) {
	if buffer < 1 {
		buffer = 1
	}
	sub := &Subscription[T]{ch: make(chan T, buffer)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	b.subscribers[sub] = struct{}{}
	return sub, nil
}

// Unsubscribe removes sub and closes its channel. Safe to call twice.
func (b *Broadcaster[T]) Unsubscribe(sub *Subscription[T]) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub.ch)
}

func (b *Broadcaster[T]) Publish(msg T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for sub := range b.subscribers {
		select {
		case sub.ch <- msg:
		default:
			// full: drop the oldest value so the newest always lands
			select {
			case <-sub.ch:
				sub.dropped++
			default:
			}
			sub.ch <- msg
		}
	}
}

func (b *Broadcaster[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Close closes every subscriber channel; later Subscribe calls fail.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subscribers {
		close(sub.ch)
	}
	b.subscribers = make(map[*Subscription[T]]struct{})
}
