package agent

import (
	"context"

	"colloquy/internal/domain"
)

const (
	gradeABand = 2.6
	gradeBBand = 2.2
	gradeCBand = 1.8
	gradeDBand = 1.4
)

// Grader folds quality ratings into the session score map and derives a
// running grade plus the list of topics still uncovered.
type Grader struct {
	id    string
	bus   Bus
	store Store
}

func NewGrader(bus Bus, store Store) *Grader {
	return &Grader{
		id:    "grader",
		bus:   bus,
		store: store,
	}
}

func (g *Grader) ID() string { return g.id }

func (g *Grader) Start(ctx context.Context) {
	events := g.bus.Subscribe(g.id, domain.EventAgentObservation)
	go func() {
		defer g.bus.Unsubscribe(g.id)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				g.handleEvent(event)
			}
		}
	}()
}

func (g *Grader) handleEvent(event domain.Event) {
	observation, ok := event.Payload.(domain.Observation)
	if !ok {
		return
	}
	quality, ok := observation.Payload.(domain.QualityPayload)
	if !ok {
		return
	}

	g.store.RecordScore(quality.Topic, quality.Rating)

	state := g.store.GetState()
	mean := 0.0
	for _, score := range state.Scores {
		mean += float64(score)
	}
	if len(state.Scores) > 0 {
		mean /= float64(len(state.Scores))
	}

	var gaps []domain.TopicID
	for _, topic := range g.store.Topics() {
		if _, scored := state.Scores[topic.ID]; !scored {
			gaps = append(gaps, topic.ID)
		}
	}

	publishObservation(g.bus, g.id, domain.CoveragePayload{
		RunningGrade: gradeFor(mean, len(state.Scores)),
		TopicsScored: len(state.Scores),
		CoverageGaps: gaps,
	})
}

func gradeFor(mean float64, scored int) string {
	if scored == 0 {
		return "none"
	}
	switch {
	case mean >= gradeABand:
		return "A"
	case mean >= gradeBBand:
		return "B"
	case mean >= gradeCBand:
		return "C"
	case mean >= gradeDBand:
		return "D"
	default:
		return "F"
	}
}
