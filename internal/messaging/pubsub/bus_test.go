package pubsub

import (
	"testing"
	"time"

	"colloquy/internal/domain"
)

func tickEvent() domain.Event {
	return domain.Event{
		Kind:      domain.EventTick,
		Timestamp: time.Now().UTC(),
		Payload:   domain.TickPayload{Timestamp: time.Now().UTC()},
	}
}

func responseEvent(text string) domain.Event {
	return domain.Event{
		Kind:      domain.EventResponseSubmitted,
		Timestamp: time.Now().UTC(),
		Payload: domain.ResponsePayload{
			Topic:        "theme",
			ResponseText: text,
			Timestamp:    time.Now().UTC(),
		},
	}
}

func TestPublishFansOutByKind(t *testing.T) {
	bus := New(8)
	defer bus.Close()

	first := bus.Subscribe("first", domain.EventResponseSubmitted)
	second := bus.Subscribe("second", domain.EventResponseSubmitted)
	ticks := bus.Subscribe("ticks", domain.EventTick)

	bus.Publish(responseEvent("answer"))

	for name, ch := range map[string]<-chan domain.Event{"first": first, "second": second} {
		select {
		case got := <-ch:
			if got.Kind != domain.EventResponseSubmitted {
				t.Fatalf("%s received kind=%s", name, got.Kind)
			}
		default:
			t.Fatalf("%s did not receive the event", name)
		}
	}
	if len(ticks) != 0 {
		t.Fatalf("tick subscriber received %d events for another kind", len(ticks))
	}
}

func TestSubscribeSharesOneChannelAcrossKinds(t *testing.T) {
	bus := New(8)
	defer bus.Close()

	ch := bus.Subscribe("multi", domain.EventTick, domain.EventResponseSubmitted)

	bus.Publish(tickEvent())
	bus.Publish(responseEvent("answer"))

	if len(ch) != 2 {
		t.Fatalf("expected 2 buffered events, got %d", len(ch))
	}
	if got := <-ch; got.Kind != domain.EventTick {
		t.Fatalf("first event kind=%s", got.Kind)
	}
	if got := <-ch; got.Kind != domain.EventResponseSubmitted {
		t.Fatalf("second event kind=%s", got.Kind)
	}
}

func TestSubscribeAllReceivesEveryKind(t *testing.T) {
	bus := New(8)
	defer bus.Close()

	tap := bus.SubscribeAll("tap")

	bus.Publish(tickEvent())
	bus.Publish(responseEvent("answer"))

	if len(tap) != 2 {
		t.Fatalf("tap buffered %d events, want 2", len(tap))
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New(8)
	defer bus.Close()

	ch := bus.Subscribe("gone", domain.EventTick, domain.EventResponseSubmitted)
	keep := bus.Subscribe("keep", domain.EventTick)

	bus.Unsubscribe("gone")

	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after unsubscribe")
	}

	bus.Publish(tickEvent())
	if len(keep) != 1 {
		t.Fatalf("remaining subscriber received %d events, want 1", len(keep))
	}
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	bus := New(1)
	defer bus.Close()

	ch := bus.Subscribe("slow", domain.EventTick)

	bus.Publish(tickEvent())
	bus.Publish(tickEvent())

	if len(ch) != 1 {
		t.Fatalf("buffered %d events, want 1 after overflow drop", len(ch))
	}
	<-ch
	bus.Publish(tickEvent())
	if len(ch) != 1 {
		t.Fatalf("subscriber should receive events again after draining, got %d", len(ch))
	}
}

func TestCloseStopsDeliveryAndClosesChannels(t *testing.T) {
	bus := New(8)

	ch := bus.Subscribe("sub", domain.EventTick, domain.EventResponseSubmitted)
	tap := bus.SubscribeAll("tap")

	bus.Close()
	bus.Close()

	if _, ok := <-ch; ok {
		t.Fatalf("subscriber channel should be closed")
	}
	if _, ok := <-tap; ok {
		t.Fatalf("tap channel should be closed")
	}

	bus.Publish(tickEvent())
}
