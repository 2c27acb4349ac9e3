package agent

import (
	"context"
	"log"
	"time"

	"colloquy/internal/domain"
)

type TimekeeperConfig struct {
	TotalBudget       time.Duration
	CriticalRemaining time.Duration
	HighRemaining     time.Duration
	HighPace          time.Duration
	MediumPace        time.Duration
	Logger            *log.Logger
}

func (c TimekeeperConfig) withDefaults() TimekeeperConfig {
	if c.TotalBudget <= 0 {
		c.TotalBudget = 5 * time.Minute
	}
	if c.CriticalRemaining <= 0 {
		c.CriticalRemaining = 30 * time.Second
	}
	if c.HighRemaining <= 0 {
		c.HighRemaining = time.Minute
	}
	if c.HighPace <= 0 {
		c.HighPace = 30 * time.Second
	}
	if c.MediumPace <= 0 {
		c.MediumPace = 45 * time.Second
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	return c
}

// Timekeeper derives time pressure from the session clock. Pure computation:
// it never fails and never blocks.
type Timekeeper struct {
	id    string
	cfg   TimekeeperConfig
	bus   Bus
	store Store
}

func NewTimekeeper(bus Bus, store Store, cfg TimekeeperConfig) *Timekeeper {
	return &Timekeeper{
		id:    "timekeeper",
		cfg:   cfg.withDefaults(),
		bus:   bus,
		store: store,
	}
}

func (t *Timekeeper) ID() string { return t.id }

func (t *Timekeeper) Start(ctx context.Context) {
	events := t.bus.Subscribe(t.id, domain.EventTick, domain.EventTopicCompleted)
	go func() {
		defer t.bus.Unsubscribe(t.id)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				t.handleEvent(event)
			}
		}
	}()
}

func (t *Timekeeper) handleEvent(domain.Event) {
	state := t.store.GetState()
	if state.Status != domain.SessionStatusInProgress || state.StartedAt == nil {
		return
	}

	elapsed := time.Now().UTC().Sub(*state.StartedAt)
	remaining := t.cfg.TotalBudget - elapsed
	if remaining < 0 {
		remaining = 0
	}
	topicsRemaining := t.topicsRemaining(state)
	if topicsRemaining < 1 {
		topicsRemaining = 1
	}
	pace := remaining / time.Duration(topicsRemaining)
	pressure := t.classify(remaining, pace)

	publishObservation(t.bus, t.id, domain.PacePayload{
		Pressure:       pressure,
		RemainingMS:    int64(remaining / time.Millisecond),
		PaceMS:         int64(pace / time.Millisecond),
		Recommendation: paceRecommendation(pressure),
	})
}

func (t *Timekeeper) classify(remaining, pace time.Duration) domain.PressureLevel {
	switch {
	case remaining <= t.cfg.CriticalRemaining:
		return domain.PressureCritical
	case remaining <= t.cfg.HighRemaining || pace < t.cfg.HighPace:
		return domain.PressureHigh
	case pace < t.cfg.MediumPace:
		return domain.PressureMedium
	default:
		return domain.PressureLow
	}
}

func (t *Timekeeper) topicsRemaining(state domain.Session) int {
	if state.ActiveTopic == nil {
		return 0
	}
	topics := t.store.Topics()
	for i, topic := range topics {
		if topic.ID == *state.ActiveTopic {
			return len(topics) - i
		}
	}
	return 0
}

func paceRecommendation(pressure domain.PressureLevel) domain.PaceRecommendation {
	switch pressure {
	case domain.PressureCritical:
		return domain.PaceWrapUp
	case domain.PressureHigh, domain.PressureMedium:
		return domain.PaceAccelerate
	default:
		return domain.PaceOnPace
	}
}
