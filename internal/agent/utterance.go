package agent

import (
	"context"
	"errors"
	"log"
	"strings"

	"colloquy/internal/domain"
	"colloquy/internal/reasoning"
)

const historyWindow = 6

var utteranceTemplates = map[domain.DirectiveKind]string{
	domain.DirectiveProbe:      "Could you take that a little further? What stands out to you most?",
	domain.DirectiveTransition: "Thanks, that covers it well. Let's move on to the next topic.",
	domain.DirectiveEnd:        "That brings us to the end of our discussion. Thank you for your time.",
}

// Prompter turns each directive into the interviewer's next utterance through
// one reasoning call conditioned on a bounded tail of the transcript. On
// failure it falls back to a fixed template for the directive kind.
type Prompter struct {
	id     string
	bus    Bus
	store  Store
	engine reasoning.Engine
	logger *log.Logger
}

func NewPrompter(bus Bus, store Store, engine reasoning.Engine, logger *log.Logger) *Prompter {
	if logger == nil {
		logger = log.Default()
	}
	return &Prompter{
		id:     "prompter",
		bus:    bus,
		store:  store,
		engine: engine,
		logger: logger,
	}
}

func (p *Prompter) ID() string { return p.id }

func (p *Prompter) Start(ctx context.Context) {
	events := p.bus.Subscribe(p.id, domain.EventCoordinatorDirective)
	go func() {
		defer p.bus.Unsubscribe(p.id)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				directive, ok := event.Payload.(domain.Directive)
				if !ok {
					continue
				}
				go p.generate(ctx, directive)
			}
		}
	}()
}

func (p *Prompter) generate(ctx context.Context, directive domain.Directive) {
	state := p.store.GetState()
	req := reasoning.Request{
		Purpose: reasoning.PurposeUtterance,
		Blocks: []reasoning.Block{
			{Role: reasoning.RoleSystem, Text: utteranceInstructions(directive.Kind)},
			{Role: reasoning.RoleUser, Text: p.buildUtteranceContext(directive, state.History)},
		},
	}

	text, err := p.engine.Complete(ctx, req)
	if errors.Is(err, context.Canceled) {
		return
	}
	if err != nil {
		p.logger.Printf("prompter generation failed kind=%s topic=%s reason=%v", directive.Kind, directive.Topic, err)
		text = utteranceTemplates[directive.Kind]
	}
	text = strings.TrimSpace(text)
	if text == "" {
		text = utteranceTemplates[directive.Kind]
	}

	now := directive.Timestamp
	p.bus.Publish(domain.Event{
		Kind:      domain.EventUtteranceGenerated,
		Timestamp: now,
		Payload: domain.UtterancePayload{
			Text:          text,
			Topic:         directive.Topic,
			DirectiveKind: directive.Kind,
			Timestamp:     now,
		},
	})
	p.store.AppendHistory(domain.HistoryRoleInterviewer, text)
}

func (p *Prompter) buildUtteranceContext(directive domain.Directive, history []domain.HistoryEntry) string {
	topicName := string(directive.Topic)
	var next *domain.Topic
	for _, topic := range p.store.Topics() {
		if topic.ID == directive.Topic {
			topicName = topic.Name
		}
		if directive.NextTopic != nil && topic.ID == *directive.NextTopic {
			t := topic
			next = &t
		}
	}

	var b strings.Builder
	b.WriteString("Current topic: ")
	b.WriteString(topicName)
	b.WriteString("\nDirective: ")
	b.WriteString(string(directive.Kind))
	b.WriteString("\nReason: ")
	b.WriteString(directive.Reason)
	if next != nil {
		b.WriteString("\nNext topic question:\n")
		b.WriteString(next.PromptQuestion)
	}
	if tail := historyTail(history, historyWindow); len(tail) > 0 {
		b.WriteString("\n\nRecent exchange:\n")
		for _, entry := range tail {
			b.WriteString(string(entry.Role))
			b.WriteString(": ")
			b.WriteString(entry.Content)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func historyTail(history []domain.HistoryEntry, n int) []domain.HistoryEntry {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

func utteranceInstructions(kind domain.DirectiveKind) string {
	switch kind {
	case domain.DirectiveTransition:
		return "You are the interviewer. Acknowledge the last answer briefly, then ask the next topic's question. Reply with the remark and question only."
	case domain.DirectiveEnd:
		return "You are the interviewer. Close the conversation warmly in one or two sentences. Reply with the closing remark only."
	default:
		return "You are the interviewer. Ask one short follow-up question that pushes deeper on the current topic. Reply with the question only."
	}
}
