package main

import (
	"sync"

	"colloquy/internal/domain"
)

// eventLog keeps a bounded in-memory tail of bus traffic for /events.
type eventLog struct {
	mu      sync.Mutex
	entries []domain.Event
	max     int
}

func newEventLog(max int) *eventLog {
	if max <= 0 {
		max = 256
	}
	return &eventLog{max: max}
}

func (l *eventLog) append(event domain.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, event)
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
}

func (l *eventLog) tail(n int) []domain.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]domain.Event, n)
	copy(out, l.entries[len(l.entries)-n:])
	return out
}
