// Package eventbus implements a per-topic publish/subscribe bus with
// bounded subscriber buffers. A subscriber that cannot keep up is
// terminated rather than silently skipped, so every surviving
// subscriber observes the complete ordered event sequence of its topic.
package eventbus

import (
	"sync"

	"github.com/google/uuid"

	"github.com/kilianp07/griddispatch/core/errs"
)

// DefaultBufferSize is the subscription channel depth used when the bus
// is constructed with a non-positive size.
const DefaultBufferSize = 256

// ErrSlowSubscriber marks subscriptions terminated by buffer overflow.
var ErrSlowSubscriber = errs.New(errs.KindResourceExhausted, "event subscriber too slow")

// Bus fans events of type T out to subscribers keyed by topic K.
// Publishes on one topic reach every subscriber of that topic in
// publish order. Wildcard subscribers see every topic, still in
// per-topic publish order.
type Bus[K comparable, T any] struct {
	mu     sync.Mutex
	buffer int
	subs   map[K][]*Subscription[K, T]
	all    []*Subscription[K, T]
	closed bool
}

// New creates a bus whose subscriptions buffer up to buffer events each.
func New[K comparable, T any](buffer int) *Bus[K, T] {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}
	return &Bus[K, T]{buffer: buffer, subs: make(map[K][]*Subscription[K, T])}
}

// Subscription is one subscriber's handle on a topic.
type Subscription[K comparable, T any] struct {
	id    uuid.UUID
	topic K
	wild  bool
	bus   *Bus[K, T]
	ch    chan T

	mu   sync.Mutex
	err  error
	dead bool
}

// ID identifies the subscription.
func (s *Subscription[K, T]) ID() uuid.UUID { return s.id }

// Topic returns the subscribed topic; the zero K for wildcard
// subscriptions.
func (s *Subscription[K, T]) Topic() K { return s.topic }

// C is the event channel. It is closed when the subscription ends; Err
// then says why.
func (s *Subscription[K, T]) C() <-chan T { return s.ch }

// Err reports why the subscription ended: ErrSlowSubscriber after an
// overflow, nil after Cancel or bus close. Meaningful once C is closed.
func (s *Subscription[K, T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Cancel removes the subscription from the bus and closes its channel.
// Safe to call more than once.
func (s *Subscription[K, T]) Cancel() {
	s.bus.remove(s)
	s.terminate(nil)
}

func (s *Subscription[K, T]) terminate(err error) {
	s.mu.Lock()
	if s.dead {
		s.mu.Unlock()
		return
	}
	s.dead = true
	s.err = err
	s.mu.Unlock()
	close(s.ch)
}

// Subscribe registers a subscriber for one topic. On a closed bus the
// returned subscription is already terminated.
func (b *Bus[K, T]) Subscribe(topic K) *Subscription[K, T] {
	sub := &Subscription[K, T]{
		id:    uuid.New(),
		topic: topic,
		bus:   b,
		ch:    make(chan T, b.buffer),
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.terminate(nil)
		return sub
	}
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()
	return sub
}

// SubscribeAll registers a subscriber that receives every topic's
// events. The same buffering and overflow rules apply.
func (b *Bus[K, T]) SubscribeAll() *Subscription[K, T] {
	sub := &Subscription[K, T]{
		id:   uuid.New(),
		wild: true,
		bus:  b,
		ch:   make(chan T, b.buffer),
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.terminate(nil)
		return sub
	}
	b.all = append(b.all, sub)
	b.mu.Unlock()
	return sub
}

// Publish delivers the event to every subscriber of the topic and to
// every wildcard subscriber. A subscriber whose buffer is full is
// terminated with ErrSlowSubscriber instead of losing the event
// silently.
func (b *Bus[K, T]) Publish(topic K, e T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	subs := b.subs[topic]
	n := 0
	for _, sub := range subs {
		select {
		case sub.ch <- e:
			subs[n] = sub
			n++
		default:
			sub.terminate(ErrSlowSubscriber)
		}
	}
	if n != len(subs) {
		if n == 0 {
			delete(b.subs, topic)
		} else {
			b.subs[topic] = subs[:n]
		}
	}
	n = 0
	for _, sub := range b.all {
		select {
		case sub.ch <- e:
			b.all[n] = sub
			n++
		default:
			sub.terminate(ErrSlowSubscriber)
		}
	}
	b.all = b.all[:n]
}

// SubscriberCount reports how many live subscriptions the topic has.
func (b *Bus[K, T]) SubscriberCount(topic K) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}

// Close terminates every subscription. Further publishes are dropped
// and further subscriptions come back already terminated.
func (b *Bus[K, T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	all := b.all
	b.subs = nil
	b.all = nil
	b.mu.Unlock()
	for _, list := range subs {
		for _, sub := range list {
			sub.terminate(nil)
		}
	}
	for _, sub := range all {
		sub.terminate(nil)
	}
}

func (b *Bus[K, T]) remove(s *Subscription[K, T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.wild {
		for i, cur := range b.all {
			if cur == s {
				b.all = append(b.all[:i], b.all[i+1:]...)
				return
			}
		}
		return
	}
	subs := b.subs[s.topic]
	for i, cur := range subs {
		if cur == s {
			b.subs[s.topic] = append(subs[:i], subs[i+1:]...)
			if len(b.subs[s.topic]) == 0 {
				delete(b.subs, s.topic)
			}
			return
		}
	}
}
