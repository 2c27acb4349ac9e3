package pubsub

import (
	"sync"

	"colloquy/internal/domain"
)

type subscriber struct {
	name string
	ch   chan domain.Event
}

type Bus struct {
	mu     sync.RWMutex
	subs   map[domain.EventKind][]subscriber
	taps   []subscriber
	buffer int
	closed bool
}

func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		subs:   make(map[domain.EventKind][]subscriber),
		buffer: buffer,
	}
}

func (b *Bus) Subscribe(name string, kinds ...domain.EventKind) <-chan domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return closedChannel()
	}
	ch := make(chan domain.Event, b.buffer)
	for _, kind := range kinds {
		b.subs[kind] = append(b.subs[kind], subscriber{name: name, ch: ch})
	}
	return ch
}

func (b *Bus) SubscribeAll(name string) <-chan domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return closedChannel()
	}
	ch := make(chan domain.Event, b.buffer)
	b.taps = append(b.taps, subscriber{name: name, ch: ch})
	return ch
}

func closedChannel() <-chan domain.Event {
	ch := make(chan domain.Event)
	close(ch)
	return ch
}

func (b *Bus) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	closing := make(map[chan domain.Event]struct{})
	for kind, subs := range b.subs {
		kept := subs[:0]
		for _, sub := range subs {
			if sub.name == name {
				closing[sub.ch] = struct{}{}
				continue
			}
			kept = append(kept, sub)
		}
		b.subs[kind] = kept
	}
	kept := b.taps[:0]
	for _, tap := range b.taps {
		if tap.name == name {
			closing[tap.ch] = struct{}{}
			continue
		}
		kept = append(kept, tap)
	}
	b.taps = kept
	for ch := range closing {
		close(ch)
	}
}

// Publish fans the event out to every subscriber of its kind and every tap.
// Delivery is at-most-once: a subscriber whose buffer is full misses the event.
func (b *Bus) Publish(event domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, sub := range b.subs[event.Kind] {
		select {
		case sub.ch <- event:
		default:
		}
	}
	for _, tap := range b.taps {
		select {
		case tap.ch <- event:
		default:
		}
	}
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	seen := make(map[chan domain.Event]struct{})
	for _, subs := range b.subs {
		for _, sub := range subs {
			if _, ok := seen[sub.ch]; ok {
				continue
			}
			seen[sub.ch] = struct{}{}
			close(sub.ch)
		}
	}
	for _, tap := range b.taps {
		if _, ok := seen[tap.ch]; ok {
			continue
		}
		seen[tap.ch] = struct{}{}
		close(tap.ch)
	}
	b.subs = make(map[domain.EventKind][]subscriber)
	b.taps = nil
}
