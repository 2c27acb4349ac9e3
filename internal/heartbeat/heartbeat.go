package heartbeat

import (
	"context"
	"log"
	"sync"
	"time"

	"colloquy/internal/domain"
)

type Bus interface {
	Publish(event domain.Event)
	Subscribe(name string, kinds ...domain.EventKind) <-chan domain.Event
}

// Emitter publishes a tick event at a fixed interval while running.
// Start and Stop are idempotent; starting while running cancels the prior
// ticker before scheduling a new one, so tickers never accumulate.
type Emitter struct {
	mu       sync.Mutex
	bus      Bus
	interval time.Duration
	logger   *log.Logger
	stop     chan struct{}
	done     chan struct{}
}

func New(bus Bus, interval time.Duration, logger *log.Logger) *Emitter {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Emitter{
		bus:      bus,
		interval: interval,
		logger:   logger,
	}
}

func (e *Emitter) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopLocked()
	stop := make(chan struct{})
	done := make(chan struct{})
	e.stop = stop
	e.done = done
	go func() {
		defer close(done)
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				now := time.Now().UTC()
				e.bus.Publish(domain.Event{
					Kind:      domain.EventTick,
					Timestamp: now,
					Payload:   domain.TickPayload{Timestamp: now},
				})
			}
		}
	}()
}

func (e *Emitter) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopLocked()
}

func (e *Emitter) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.stop != nil
}

// Run ties the emitter to the session lifecycle: ticking starts with
// session_started and stops with session_ended or context cancellation.
func (e *Emitter) Run(ctx context.Context) {
	events := e.bus.Subscribe("heartbeat", domain.EventSessionStarted, domain.EventSessionEnded)
	go func() {
		defer e.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				switch event.Kind {
				case domain.EventSessionStarted:
					e.logger.Printf("heartbeat started interval=%s", e.interval)
					e.Start()
				case domain.EventSessionEnded:
					e.logger.Printf("heartbeat stopped")
					e.Stop()
				}
			}
		}
	}()
}

func (e *Emitter) stopLocked() {
	if e.stop == nil {
		return
	}
	close(e.stop)
	<-e.done
	e.stop = nil
	e.done = nil
}
