package agent

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"

	"colloquy/internal/domain"
	"colloquy/internal/reasoning"
)

// Assessor judges each submitted response against the active topic's depth
// criteria through one reasoning call. The call runs detached so event intake
// never blocks; on failure the fixed fallback payload is published instead.
type Assessor struct {
	id     string
	bus    Bus
	store  Store
	engine reasoning.Engine
	logger *log.Logger
}

func NewAssessor(bus Bus, store Store, engine reasoning.Engine, logger *log.Logger) *Assessor {
	if logger == nil {
		logger = log.Default()
	}
	return &Assessor{
		id:     "assessor",
		bus:    bus,
		store:  store,
		engine: engine,
		logger: logger,
	}
}

func (a *Assessor) ID() string { return a.id }

func (a *Assessor) Start(ctx context.Context) {
	events := a.bus.Subscribe(a.id, domain.EventResponseSubmitted)
	go func() {
		defer a.bus.Unsubscribe(a.id)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				a.handleEvent(ctx, event)
			}
		}
	}()
}

func (a *Assessor) handleEvent(ctx context.Context, event domain.Event) {
	response, ok := event.Payload.(domain.ResponsePayload)
	if !ok {
		return
	}
	topic := domain.Topic{ID: response.Topic}
	for _, known := range a.store.Topics() {
		if known.ID == response.Topic {
			topic = known
			break
		}
	}
	go a.evaluate(ctx, topic, response.ResponseText)
}

func (a *Assessor) evaluate(ctx context.Context, topic domain.Topic, responseText string) {
	req := reasoning.Request{
		Purpose: reasoning.PurposeEvaluation,
		Blocks: []reasoning.Block{
			{Role: reasoning.RoleSystem, Text: evaluationInstructions},
			{Role: reasoning.RoleUser, Text: buildEvaluationContext(topic)},
			{Role: reasoning.RoleUser, Text: responseText},
		},
	}

	payload := fallbackQuality(topic.ID)
	output, err := a.engine.Complete(ctx, req)
	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		a.logger.Printf("assessor evaluation failed topic=%s reason=%v", topic.ID, err)
	default:
		parsed, perr := parseEvaluation(output)
		if perr != nil {
			a.logger.Printf("assessor evaluation unparseable topic=%s reason=%v output=%s", topic.ID, perr, trim(output, 200))
		} else {
			parsed.Topic = topic.ID
			payload = parsed
		}
	}
	publishObservation(a.bus, a.id, payload)
}

func parseEvaluation(output string) (domain.QualityPayload, error) {
	var payload domain.QualityPayload
	ratingSeen := false
	recommendationSeen := false

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "RATING:"):
			value := strings.TrimSpace(line[len("RATING:"):])
			fields := strings.Fields(value)
			if len(fields) == 0 {
				continue
			}
			rating, err := strconv.Atoi(fields[0])
			if err != nil {
				continue
			}
			if rating < 1 {
				rating = 1
			}
			if rating > 3 {
				rating = 3
			}
			payload.Rating = rating
			ratingSeen = true
		case strings.HasPrefix(upper, "RECOMMENDATION:"):
			value := strings.ToLower(line[len("RECOMMENDATION:"):])
			switch {
			case strings.Contains(value, "probe"):
				payload.Recommendation = domain.QualityProbe
				recommendationSeen = true
			case strings.Contains(value, "accept"):
				payload.Recommendation = domain.QualityAccept
				recommendationSeen = true
			case strings.Contains(value, "move"):
				payload.Recommendation = domain.QualityMoveOn
				recommendationSeen = true
			}
		case strings.HasPrefix(upper, "NOTE:"):
			payload.Note = strings.TrimSpace(line[len("NOTE:"):])
		case strings.HasPrefix(upper, "FRUSTRATION:"):
			payload.FrustrationDetected = strings.Contains(strings.ToLower(line), "true")
		}
	}

	if !ratingSeen {
		return domain.QualityPayload{}, errors.New("missing rating line")
	}
	if !recommendationSeen {
		return domain.QualityPayload{}, errors.New("missing recommendation line")
	}
	return payload, nil
}

func fallbackQuality(topic domain.TopicID) domain.QualityPayload {
	return domain.QualityPayload{
		Topic:               topic,
		Rating:              2,
		Recommendation:      domain.QualityAccept,
		Note:                "fallback",
		FrustrationDetected: false,
	}
}

func buildEvaluationContext(topic domain.Topic) string {
	var b strings.Builder
	b.WriteString("Topic: ")
	b.WriteString(topic.Name)
	b.WriteString("\nQuestion asked:\n")
	b.WriteString(topic.PromptQuestion)
	b.WriteString("\nDepth criteria:\n")
	b.WriteString(topic.DepthCriteria)
	b.WriteString("\n\nThe next message is the candidate's answer. Evaluate it.")
	return b.String()
}

const evaluationInstructions = `You are scoring one interview answer for depth of engagement.
Reply with exactly four labeled lines and nothing else:
RATING: 1, 2, or 3
RECOMMENDATION: probe, accept, or move_on
NOTE: one short sentence on the answer
FRUSTRATION: true or false`
