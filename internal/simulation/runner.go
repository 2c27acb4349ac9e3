package simulation

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"colloquy/internal/domain"
)

type Store interface {
	StartSession() domain.Session
	RecordResponse(topic domain.TopicID, text string)
	GetState() domain.Session
}

type Outcome string

const (
	OutcomeCompleted          Outcome = "completed"
	OutcomeEndedByCoordinator Outcome = "ended_by_coordinator"
	OutcomeMaxIterations      Outcome = "max_iterations_reached"
	OutcomeTimeout            Outcome = "timeout"
)

type RunConfig struct {
	IterationCap int
	PollTimeout  time.Duration
	PollInterval time.Duration
	Logger       *log.Logger
}

func (c RunConfig) withDefaults() RunConfig {
	if c.IterationCap <= 0 {
		c.IterationCap = 25
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 2 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	return c
}

type RunResult struct {
	RunID      string
	Persona    string
	Outcome    Outcome
	Iterations int
	StartedAt  time.Time
	EndedAt    time.Time
	FinalState domain.Session
	Events     map[domain.EventKind][]EventRecord
}

// Runner drives one full session with a scripted persona: submit a
// response, wait for the resulting directive, act on its kind, repeat.
type Runner struct {
	cfg       RunConfig
	store     Store
	collector *Collector
}

func NewRunner(store Store, collector *Collector, cfg RunConfig) *Runner {
	return &Runner{
		cfg:       cfg.withDefaults(),
		store:     store,
		collector: collector,
	}
}

func (r *Runner) Run(ctx context.Context, persona Persona) RunResult {
	result := RunResult{
		RunID:     uuid.NewString(),
		Persona:   persona.Name,
		StartedAt: time.Now().UTC(),
	}
	r.store.StartSession()

	probeCount := 0
	timedOut := false
	var lastDirective *domain.Directive

	for result.Iterations < r.cfg.IterationCap {
		state := r.store.GetState()
		if state.Status != domain.SessionStatusInProgress || state.ActiveTopic == nil {
			break
		}
		topic := *state.ActiveTopic

		before := r.collector.DirectiveCount()
		r.store.RecordResponse(topic, persona.Respond(topic, probeCount))
		result.Iterations++

		directive, ok := r.waitForDirective(ctx, before)
		if !ok {
			if ctx.Err() != nil {
				timedOut = true
				break
			}
			r.cfg.Logger.Printf("simulation run=%s poll timed out waiting for directive iteration=%d",
				result.RunID, result.Iterations)
			continue
		}
		lastDirective = &directive

		switch directive.Kind {
		case domain.DirectiveProbe:
			probeCount++
		case domain.DirectiveTransition:
			probeCount = 0
		}
	}

	result.EndedAt = time.Now().UTC()
	result.FinalState = r.store.GetState()
	result.Events = r.collector.Snapshot()
	result.Outcome = classifyOutcome(result, lastDirective, timedOut, r.cfg.IterationCap)
	return result
}

func classifyOutcome(result RunResult, lastDirective *domain.Directive, timedOut bool, iterationCap int) Outcome {
	switch {
	case timedOut:
		return OutcomeTimeout
	case result.FinalState.Status == domain.SessionStatusCompleted:
		if lastDirective != nil && lastDirective.Kind == domain.DirectiveEnd {
			return OutcomeEndedByCoordinator
		}
		return OutcomeCompleted
	case result.Iterations >= iterationCap:
		return OutcomeMaxIterations
	default:
		return OutcomeTimeout
	}
}

func (r *Runner) waitForDirective(ctx context.Context, before int) (domain.Directive, bool) {
	deadline := time.NewTimer(r.cfg.PollTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return domain.Directive{}, false
		case <-deadline.C:
			return domain.Directive{}, false
		case <-ticker.C:
			if r.collector.DirectiveCount() > before {
				if directive, ok := r.collector.LastDirective(); ok {
					return directive, true
				}
			}
		}
	}
}
