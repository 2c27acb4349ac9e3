package simulation

import (
	"context"
	"sync"
	"time"

	"colloquy/internal/domain"
)

type Bus interface {
	Publish(event domain.Event)
	SubscribeAll(name string) <-chan domain.Event
	Unsubscribe(name string)
}

// EventRecord pairs an event with the moment the collector received it,
// so observation latency is just ReceiptTimestamp minus OwnTimestamp.
type EventRecord struct {
	Kind             domain.EventKind
	OwnTimestamp     time.Time
	ReceiptTimestamp time.Time
	Payload          domain.EventPayload
}

// Collector taps every bus topic and keeps kind-partitioned ordered logs.
// It is a pure observer; it never publishes.
type Collector struct {
	mu      sync.Mutex
	bus     Bus
	records map[domain.EventKind][]EventRecord
	total   int
	wg      sync.WaitGroup
}

func NewCollector(bus Bus) *Collector {
	return &Collector{
		bus:     bus,
		records: make(map[domain.EventKind][]EventRecord),
	}
}

func (c *Collector) Start(ctx context.Context) {
	events := c.bus.SubscribeAll("collector")
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.bus.Unsubscribe("collector")
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				c.record(event)
			}
		}
	}()
}

func (c *Collector) Wait() {
	c.wg.Wait()
}

func (c *Collector) record(event domain.Event) {
	entry := EventRecord{
		Kind:             event.Kind,
		OwnTimestamp:     event.Timestamp,
		ReceiptTimestamp: time.Now().UTC(),
		Payload:          event.Payload,
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[event.Kind] = append(c.records[event.Kind], entry)
	c.total++
}

func (c *Collector) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

func (c *Collector) Count(kind domain.EventKind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records[kind])
}

func (c *Collector) DirectiveCount() int {
	return c.Count(domain.EventCoordinatorDirective)
}

func (c *Collector) Records(kind domain.EventKind) []EventRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]EventRecord(nil), c.records[kind]...)
}

func (c *Collector) LastDirective() (domain.Directive, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	log := c.records[domain.EventCoordinatorDirective]
	for i := len(log) - 1; i >= 0; i-- {
		if directive, ok := log[i].Payload.(domain.Directive); ok {
			return directive, true
		}
	}
	return domain.Directive{}, false
}

// Snapshot returns a deep copy of every partition, safe to analyze while
// the collector keeps recording.
func (c *Collector) Snapshot() map[domain.EventKind][]EventRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[domain.EventKind][]EventRecord, len(c.records))
	for kind, log := range c.records {
		out[kind] = append([]EventRecord(nil), log...)
	}
	return out
}
