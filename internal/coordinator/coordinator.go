package coordinator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"colloquy/internal/domain"
	"colloquy/internal/policy"
	"colloquy/internal/reasoning"
)

const coordinatorAgentID = "coordinator"

type Store interface {
	GetState() domain.Session
	Topics() []domain.Topic
	NextTopic() (domain.Topic, bool)
	CompleteTopic(topic domain.TopicID)
	AdvanceTopic() *domain.TopicID
	EndSession()
}

type Policy interface {
	Decide(in policy.Input) policy.Decision
}

type Bus interface {
	Publish(event domain.Event)
	Subscribe(name string, kinds ...domain.EventKind) <-chan domain.Event
	Unsubscribe(name string)
}

type Config struct {
	CollectionWindow time.Duration
	RetryLimit       int
	CriticalAgentID  string
	DecisionTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.CollectionWindow <= 0 {
		c.CollectionWindow = 800 * time.Millisecond
	}
	if c.RetryLimit <= 0 {
		c.RetryLimit = 3
	}
	if c.CriticalAgentID == "" {
		c.CriticalAgentID = "assessor"
	}
	if c.DecisionTimeout <= 0 {
		c.DecisionTimeout = 10 * time.Second
	}
	return c
}

type phase string

const (
	phaseIdle       phase = "idle"
	phaseCollecting phase = "collecting"
	phaseDeciding   phase = "deciding"
)

type pendingResponse struct {
	topic domain.TopicID
	text  string
	at    time.Time
}

// Coordinator collects agent observations inside a bounded window per
// submitted response and emits exactly one directive per decision cycle.
// All cycle state lives in the loop goroutine; the window timer posts
// epoch-tagged fires back onto timerC, so cancel-and-restart is atomic
// with respect to the loop and stale fires are ignored.
type Coordinator struct {
	cfg    Config
	store  Store
	policy Policy
	bus    Bus
	engine reasoning.Engine
	logger *log.Logger

	wg     sync.WaitGroup
	timerC chan int

	phase        phase
	windowEpoch  int
	windowTimer  *time.Timer
	retries      int
	pending      *pendingResponse
	observations map[string]domain.Observation

	histMu       sync.Mutex
	probeHistory map[domain.TopicID][]domain.ProbeHistoryEntry
}

func New(store Store, pol Policy, bus Bus, engine reasoning.Engine, cfg Config, logger *log.Logger) *Coordinator {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = log.Default()
	}
	return &Coordinator{
		cfg:          cfg,
		store:        store,
		policy:       pol,
		bus:          bus,
		engine:       engine,
		logger:       logger,
		timerC:       make(chan int, 8),
		phase:        phaseIdle,
		observations: make(map[string]domain.Observation),
		probeHistory: make(map[domain.TopicID][]domain.ProbeHistoryEntry),
	}
}

func (c *Coordinator) Start(ctx context.Context) {
	events := c.bus.Subscribe(coordinatorAgentID,
		domain.EventResponseSubmitted,
		domain.EventAgentObservation,
		domain.EventSessionEnded,
	)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.bus.Unsubscribe(coordinatorAgentID)
		c.loop(ctx, events)
	}()
}

func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) ProbeHistory(topic domain.TopicID) []domain.ProbeHistoryEntry {
	c.histMu.Lock()
	defer c.histMu.Unlock()
	return append([]domain.ProbeHistoryEntry(nil), c.probeHistory[topic]...)
}

func (c *Coordinator) loop(ctx context.Context, events <-chan domain.Event) {
	for {
		select {
		case <-ctx.Done():
			c.stopWindowTimer()
			return
		case epoch := <-c.timerC:
			if epoch != c.windowEpoch || c.phase != phaseCollecting {
				continue
			}
			c.handleWindowExpiry(ctx)
		case event, ok := <-events:
			if !ok {
				return
			}
			c.handleEvent(event)
		}
	}
}

func (c *Coordinator) handleEvent(event domain.Event) {
	switch event.Kind {
	case domain.EventResponseSubmitted:
		payload, ok := event.Payload.(domain.ResponsePayload)
		if !ok {
			return
		}
		c.restartWindow(payload)
	case domain.EventAgentObservation:
		if c.phase != phaseCollecting {
			return
		}
		observation, ok := event.Payload.(domain.Observation)
		if !ok {
			return
		}
		c.observations[observation.SourceAgentID] = observation
	case domain.EventSessionEnded:
		c.resetCycle()
	}
}

// restartWindow supersedes any open cycle: the previous window's timer is
// cancelled, its cache discarded, and no directive is ever emitted for it.
func (c *Coordinator) restartWindow(payload domain.ResponsePayload) {
	c.stopWindowTimer()
	c.windowEpoch++
	c.phase = phaseCollecting
	c.retries = 0
	c.pending = &pendingResponse{topic: payload.Topic, text: payload.ResponseText, at: payload.Timestamp}
	c.observations = make(map[string]domain.Observation)
	c.armWindow()
}

func (c *Coordinator) armWindow() {
	epoch := c.windowEpoch
	c.windowTimer = time.AfterFunc(c.cfg.CollectionWindow, func() {
		select {
		case c.timerC <- epoch:
		default:
		}
	})
}

func (c *Coordinator) stopWindowTimer() {
	if c.windowTimer != nil {
		c.windowTimer.Stop()
		c.windowTimer = nil
	}
}

func (c *Coordinator) handleWindowExpiry(ctx context.Context) {
	if _, ok := c.observations[c.cfg.CriticalAgentID]; !ok {
		if c.retries < c.cfg.RetryLimit {
			c.retries++
			c.windowEpoch++
			c.armWindow()
			c.logger.Printf("coordinator waiting on %s observation retry=%d/%d",
				c.cfg.CriticalAgentID, c.retries, c.cfg.RetryLimit)
			return
		}
		c.logger.Printf("coordinator proceeding without %s observation after %d retries",
			c.cfg.CriticalAgentID, c.retries)
	}
	c.phase = phaseDeciding
	c.decide(ctx)
	c.resetCycle()
}

func (c *Coordinator) decide(ctx context.Context) {
	pending := c.pending
	if pending == nil {
		return
	}
	next, hasNext := c.store.NextTopic()
	kind, reason := c.synthesize(ctx, pending, next, hasNext)

	now := time.Now().UTC()
	directive := domain.Directive{
		ID:        uuid.NewString(),
		Kind:      kind,
		Topic:     pending.topic,
		Reason:    reason,
		Timestamp: now,
	}
	if kind == domain.DirectiveTransition && hasNext {
		id := next.ID
		directive.NextTopic = &id
	}
	c.bus.Publish(domain.Event{
		Kind:      domain.EventCoordinatorDirective,
		Timestamp: now,
		Payload:   directive,
	})

	switch kind {
	case domain.DirectiveProbe:
		c.appendProbeHistory(pending, kind)
	case domain.DirectiveTransition:
		c.clearProbeHistory(pending.topic)
		c.store.CompleteTopic(pending.topic)
		c.store.AdvanceTopic()
	case domain.DirectiveEnd:
		c.store.EndSession()
	}
	c.logger.Printf("coordinator directive kind=%s topic=%s reason=%q", kind, pending.topic, reason)
}

func (c *Coordinator) synthesize(ctx context.Context, pending *pendingResponse, next domain.Topic, hasNext bool) (domain.DirectiveKind, string) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.DecisionTimeout)
	defer cancel()

	output, err := c.engine.Complete(callCtx, c.buildDecisionRequest(pending))
	if err != nil {
		c.logger.Printf("coordinator synthesis failed; using rule chain: %v", err)
		decision := c.policy.Decide(policy.Input{
			Pressure:       c.cachedPressure(),
			Recommendation: c.cachedRecommendation(),
			CoverageGaps:   c.cachedCoverageGaps(),
			HasNextTopic:   hasNext,
		})
		return decision.Kind, decision.Reason
	}
	return parseDecision(output)
}

// parseDecision is deliberately permissive: a labeled DECISION line wins,
// otherwise the whole output is scanned; anything ambiguous falls back to
// probe, the most conservative choice.
func parseDecision(output string) (domain.DirectiveKind, string) {
	reason := ""
	searchArea := strings.ToUpper(output)
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "DECISION:"):
			searchArea = upper
		case strings.HasPrefix(upper, "REASONING:"):
			reason = strings.TrimSpace(line[len("REASONING:"):])
		}
	}

	kind := domain.DirectiveProbe
	found := 0
	for _, candidate := range []struct {
		token string
		kind  domain.DirectiveKind
	}{
		{"PROBE", domain.DirectiveProbe},
		{"TRANSITION", domain.DirectiveTransition},
		{"END", domain.DirectiveEnd},
	} {
		if strings.Contains(searchArea, candidate.token) {
			kind = candidate.kind
			found++
		}
	}
	if found != 1 {
		kind = domain.DirectiveProbe
	}
	if reason == "" {
		reason = "no rationale provided"
	}
	return kind, reason
}

func (c *Coordinator) buildDecisionRequest(pending *pendingResponse) reasoning.Request {
	var topic domain.Topic
	for _, known := range c.store.Topics() {
		if known.ID == pending.topic {
			topic = known
			break
		}
	}

	var b strings.Builder
	b.WriteString("Topic: ")
	b.WriteString(topic.Name)
	b.WriteString("\nQuestion asked:\n")
	b.WriteString(topic.PromptQuestion)
	b.WriteString("\nDepth criteria:\n")
	b.WriteString(topic.DepthCriteria)
	b.WriteString("\n\nLatest answer:\n")
	b.WriteString(pending.text)

	history := c.ProbeHistory(pending.topic)
	if len(history) > 0 {
		b.WriteString("\n\nEarlier probes on this topic:\n")
		for _, entry := range history {
			fmt.Fprintf(&b, "- rating=%d recommendation=%s answer=%q\n",
				entry.Rating, entry.Recommendation, entry.ResponseSummary)
		}
	}

	b.WriteString("\nAgent signals:\n")
	if len(c.observations) == 0 {
		b.WriteString("- none collected this cycle\n")
	}
	for agentID, observation := range c.observations {
		switch payload := observation.Payload.(type) {
		case domain.PacePayload:
			fmt.Fprintf(&b, "- %s: pressure=%s remaining_ms=%d pace_ms=%d recommendation=%s\n",
				agentID, payload.Pressure, payload.RemainingMS, payload.PaceMS, payload.Recommendation)
		case domain.CoveragePayload:
			fmt.Fprintf(&b, "- %s: grade=%s topics_scored=%d gaps=%d\n",
				agentID, payload.RunningGrade, payload.TopicsScored, len(payload.CoverageGaps))
		case domain.QualityPayload:
			fmt.Fprintf(&b, "- %s: rating=%d recommendation=%s frustration=%t note=%q\n",
				agentID, payload.Rating, payload.Recommendation, payload.FrustrationDetected, payload.Note)
		}
	}

	return reasoning.Request{
		Purpose: reasoning.PurposeDecision,
		Blocks: []reasoning.Block{
			{Role: reasoning.RoleSystem, Text: decisionInstructions},
			{Role: reasoning.RoleUser, Text: b.String()},
		},
	}
}

func (c *Coordinator) cachedQuality() (domain.QualityPayload, bool) {
	observation, ok := c.observations[c.cfg.CriticalAgentID]
	if !ok {
		return domain.QualityPayload{}, false
	}
	payload, ok := observation.Payload.(domain.QualityPayload)
	return payload, ok
}

func (c *Coordinator) cachedRecommendation() domain.QualityRecommendation {
	payload, ok := c.cachedQuality()
	if !ok {
		return ""
	}
	return payload.Recommendation
}

func (c *Coordinator) cachedPressure() domain.PressureLevel {
	for _, observation := range c.observations {
		if payload, ok := observation.Payload.(domain.PacePayload); ok {
			return payload.Pressure
		}
	}
	return ""
}

func (c *Coordinator) cachedCoverageGaps() bool {
	for _, observation := range c.observations {
		if payload, ok := observation.Payload.(domain.CoveragePayload); ok {
			return len(payload.CoverageGaps) > 0
		}
	}
	return false
}

func (c *Coordinator) appendProbeHistory(pending *pendingResponse, decision domain.DirectiveKind) {
	quality, _ := c.cachedQuality()
	entry := domain.ProbeHistoryEntry{
		ResponseSummary: trimText(pending.text, 120),
		Rating:          quality.Rating,
		Recommendation:  quality.Recommendation,
		Decision:        decision,
	}
	c.histMu.Lock()
	defer c.histMu.Unlock()
	c.probeHistory[pending.topic] = append(c.probeHistory[pending.topic], entry)
}

func (c *Coordinator) clearProbeHistory(topic domain.TopicID) {
	c.histMu.Lock()
	defer c.histMu.Unlock()
	delete(c.probeHistory, topic)
}

func (c *Coordinator) resetCycle() {
	c.stopWindowTimer()
	c.windowEpoch++
	c.phase = phaseIdle
	c.retries = 0
	c.pending = nil
	c.observations = make(map[string]domain.Observation)
}

func trimText(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

const decisionInstructions = `You are the interview coordinator deciding the next move for the current topic.
Reply with exactly two labeled lines:
DECISION: PROBE, TRANSITION, or END
REASONING: one short sentence`
