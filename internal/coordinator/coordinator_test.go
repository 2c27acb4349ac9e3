package coordinator

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"colloquy/internal/domain"
	"colloquy/internal/messaging/pubsub"
	"colloquy/internal/policy"
	"colloquy/internal/reasoning"
	"colloquy/internal/store/memory"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func testTopics() []domain.Topic {
	return []domain.Topic{
		{ID: "theme", Name: "Theme", PromptQuestion: "What did you think of the theme?", DepthCriteria: "names a theme and ties it to a scene"},
		{ID: "characters", Name: "Characters", PromptQuestion: "Which character stayed with you?", DepthCriteria: "specific character with motivation"},
	}
}

type fixture struct {
	bus        *pubsub.Bus
	store      *memory.Store
	engine     *reasoning.ScriptedEngine
	coord      *Coordinator
	directives <-chan domain.Event
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	bus := pubsub.New(64)
	store := memory.New(bus, testTopics())
	engine := reasoning.NewScriptedEngine()
	engine.FailPurpose(reasoning.PurposeDecision, true)
	directives := bus.Subscribe("test", domain.EventCoordinatorDirective)

	coord := New(store, policy.New(), bus, engine, cfg, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	coord.Start(ctx)
	t.Cleanup(func() {
		cancel()
		coord.Wait()
		bus.Close()
	})

	return &fixture{bus: bus, store: store, engine: engine, coord: coord, directives: directives}
}

func (f *fixture) publishQuality(topic domain.TopicID, rating int, rec domain.QualityRecommendation) {
	now := time.Now().UTC()
	f.bus.Publish(domain.Event{
		Kind:      domain.EventAgentObservation,
		Timestamp: now,
		Payload: domain.Observation{
			SourceAgentID: "assessor",
			Timestamp:     now,
			Payload:       domain.QualityPayload{Topic: topic, Rating: rating, Recommendation: rec},
		},
	})
}

func (f *fixture) publishPace(pressure domain.PressureLevel) {
	now := time.Now().UTC()
	f.bus.Publish(domain.Event{
		Kind:      domain.EventAgentObservation,
		Timestamp: now,
		Payload: domain.Observation{
			SourceAgentID: "timekeeper",
			Timestamp:     now,
			Payload:       domain.PacePayload{Pressure: pressure, Recommendation: domain.PaceOnPace},
		},
	})
}

func waitDirective(t *testing.T, events <-chan domain.Event, timeout time.Duration) domain.Directive {
	t.Helper()
	select {
	case event, ok := <-events:
		if !ok {
			t.Fatalf("directive channel closed")
		}
		directive, isDir := event.Payload.(domain.Directive)
		if !isDir {
			t.Fatalf("payload type %T", event.Payload)
		}
		return directive
	case <-time.After(timeout):
		t.Fatalf("no directive within %s", timeout)
	}
	return domain.Directive{}
}

func TestParseDecision(t *testing.T) {
	tests := []struct {
		name       string
		in         string
		wantKind   domain.DirectiveKind
		wantReason string
	}{
		{
			name:       "labeled probe",
			in:         "DECISION: PROBE\nREASONING: the answer stays on the surface",
			wantKind:   domain.DirectiveProbe,
			wantReason: "the answer stays on the surface",
		},
		{
			name:       "labeled transition",
			in:         "DECISION: TRANSITION\nREASONING: covered in enough depth",
			wantKind:   domain.DirectiveTransition,
			wantReason: "covered in enough depth",
		},
		{
			name:       "labeled end without reasoning",
			in:         "DECISION: END",
			wantKind:   domain.DirectiveEnd,
			wantReason: "no rationale provided",
		},
		{
			name:       "lowercase labels",
			in:         "decision: transition\nreasoning: move along",
			wantKind:   domain.DirectiveTransition,
			wantReason: "move along",
		},
		{
			name:       "labeled line wins over reasoning text",
			in:         "DECISION: END\nREASONING: no transition is needed here",
			wantKind:   domain.DirectiveEnd,
			wantReason: "no transition is needed here",
		},
		{
			name:     "unlabeled output scanned whole",
			in:       "I believe we should probe deeper on this one.",
			wantKind: domain.DirectiveProbe,
		},
		{
			name:     "ambiguous output falls back to probe",
			in:       "Either TRANSITION or END would work.",
			wantKind: domain.DirectiveProbe,
		},
		{
			name:     "unknown token falls back to probe",
			in:       "DECISION: RETREAT",
			wantKind: domain.DirectiveProbe,
		},
		{
			name:     "empty output falls back to probe",
			in:       "",
			wantKind: domain.DirectiveProbe,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			kind, reason := parseDecision(tc.in)
			if kind != tc.wantKind {
				t.Fatalf("parseDecision(%q) kind=%s want=%s", tc.in, kind, tc.wantKind)
			}
			if tc.wantReason != "" && reason != tc.wantReason {
				t.Fatalf("parseDecision(%q) reason=%q want=%q", tc.in, reason, tc.wantReason)
			}
			if reason == "" {
				t.Fatalf("reason must never be empty")
			}
		})
	}
}

func TestOneDirectivePerCycle(t *testing.T) {
	f := newFixture(t, Config{CollectionWindow: 30 * time.Millisecond})
	f.store.StartSession()

	f.store.RecordResponse("theme", "It was fine.")
	f.publishQuality("theme", 1, domain.QualityProbe)

	directive := waitDirective(t, f.directives, 2*time.Second)
	if directive.Kind != domain.DirectiveProbe {
		t.Fatalf("kind=%s want=%s reason=%q", directive.Kind, domain.DirectiveProbe, directive.Reason)
	}
	if directive.Topic != "theme" {
		t.Fatalf("topic=%s", directive.Topic)
	}

	time.Sleep(120 * time.Millisecond)
	if len(f.directives) != 0 {
		t.Fatalf("extra directive emitted for the same cycle")
	}

	history := f.coord.ProbeHistory("theme")
	if len(history) != 1 {
		t.Fatalf("probe history len=%d want 1", len(history))
	}
	if history[0].Rating != 1 || history[0].Decision != domain.DirectiveProbe {
		t.Fatalf("probe history entry=%+v", history[0])
	}
}

func TestNewResponseSupersedesOpenWindow(t *testing.T) {
	f := newFixture(t, Config{CollectionWindow: 120 * time.Millisecond})
	f.store.StartSession()

	f.store.RecordResponse("theme", "First answer, soon superseded.")
	time.Sleep(20 * time.Millisecond)
	f.store.RecordResponse("characters", "Second answer that owns the cycle.")
	f.publishQuality("characters", 1, domain.QualityProbe)

	directive := waitDirective(t, f.directives, 2*time.Second)
	if directive.Topic != "characters" {
		t.Fatalf("directive topic=%s want the superseding response's topic", directive.Topic)
	}

	time.Sleep(300 * time.Millisecond)
	if len(f.directives) != 0 {
		t.Fatalf("superseded window still produced a directive")
	}
}

func TestRetriesThenFailsOpenWithoutCriticalObservation(t *testing.T) {
	f := newFixture(t, Config{CollectionWindow: 20 * time.Millisecond, RetryLimit: 2})
	f.store.StartSession()

	started := time.Now()
	f.store.RecordResponse("theme", "An answer nobody assesses.")

	directive := waitDirective(t, f.directives, 2*time.Second)
	if directive.Kind != domain.DirectiveProbe {
		t.Fatalf("kind=%s reason=%q", directive.Kind, directive.Reason)
	}
	if elapsed := time.Since(started); elapsed < 50*time.Millisecond {
		t.Fatalf("directive after %s; retries should have spanned at least three windows", elapsed)
	}

	history := f.coord.ProbeHistory("theme")
	if len(history) != 1 {
		t.Fatalf("probe history len=%d want 1", len(history))
	}
	if history[0].Rating != 0 {
		t.Fatalf("rating=%d; fail-open cycle has no quality to record", history[0].Rating)
	}
}

func TestTransitionAdvancesTopicAndClearsProbes(t *testing.T) {
	f := newFixture(t, Config{CollectionWindow: 30 * time.Millisecond})
	f.store.StartSession()

	f.store.RecordResponse("theme", "Too thin.")
	f.publishQuality("theme", 1, domain.QualityProbe)
	first := waitDirective(t, f.directives, 2*time.Second)
	if first.Kind != domain.DirectiveProbe {
		t.Fatalf("first kind=%s", first.Kind)
	}

	f.store.RecordResponse("theme", "A fuller answer tying the theme to the closing scene.")
	f.publishQuality("theme", 3, domain.QualityAccept)
	second := waitDirective(t, f.directives, 2*time.Second)
	if second.Kind != domain.DirectiveTransition {
		t.Fatalf("second kind=%s reason=%q", second.Kind, second.Reason)
	}
	if second.NextTopic == nil || *second.NextTopic != "characters" {
		t.Fatalf("next topic=%v want characters", second.NextTopic)
	}

	state := f.store.GetState()
	if state.ActiveTopic == nil || *state.ActiveTopic != "characters" {
		t.Fatalf("active topic=%v want characters", state.ActiveTopic)
	}
	if got := f.coord.ProbeHistory("theme"); len(got) != 0 {
		t.Fatalf("probe history survived the transition: %v", got)
	}
}

func TestAcceptOnLastTopicEndsSession(t *testing.T) {
	f := newFixture(t, Config{CollectionWindow: 30 * time.Millisecond})
	f.store.StartSession()
	f.store.AdvanceTopic()

	f.store.RecordResponse("characters", "The narrator, because the unreliable framing recasts everything.")
	f.publishQuality("characters", 3, domain.QualityAccept)

	directive := waitDirective(t, f.directives, 2*time.Second)
	if directive.Kind != domain.DirectiveEnd {
		t.Fatalf("kind=%s reason=%q", directive.Kind, directive.Reason)
	}
	if directive.NextTopic != nil {
		t.Fatalf("end directive carries next topic %v", *directive.NextTopic)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && f.store.GetState().Status != domain.SessionStatusCompleted {
		time.Sleep(5 * time.Millisecond)
	}
	if got := f.store.GetState().Status; got != domain.SessionStatusCompleted {
		t.Fatalf("session status=%s want=%s", got, domain.SessionStatusCompleted)
	}
}

func TestCriticalPressureEndsDespiteShallowAnswer(t *testing.T) {
	f := newFixture(t, Config{CollectionWindow: 30 * time.Millisecond})
	f.store.StartSession()

	f.store.RecordResponse("theme", "Fine I guess.")
	f.publishQuality("theme", 1, domain.QualityProbe)
	f.publishPace(domain.PressureCritical)

	directive := waitDirective(t, f.directives, 2*time.Second)
	if directive.Kind != domain.DirectiveEnd {
		t.Fatalf("kind=%s reason=%q", directive.Kind, directive.Reason)
	}
	if directive.Reason != "critical time pressure" {
		t.Fatalf("reason=%q", directive.Reason)
	}
}

func TestSynthesisOutputWinsOverRuleChain(t *testing.T) {
	f := newFixture(t, Config{CollectionWindow: 30 * time.Millisecond})
	f.engine.FailPurpose(reasoning.PurposeDecision, false)
	f.store.StartSession()

	f.store.RecordResponse("theme", "A substantive answer the rules would accept outright.")
	f.publishQuality("theme", 3, domain.QualityAccept)

	directive := waitDirective(t, f.directives, 2*time.Second)
	if directive.Kind != domain.DirectiveProbe {
		t.Fatalf("kind=%s; synthesized decision should override the rule chain", directive.Kind)
	}
	if directive.Reason != "scripted default" {
		t.Fatalf("reason=%q want the synthesized rationale", directive.Reason)
	}
}

func TestSessionEndedClearsOpenWindow(t *testing.T) {
	f := newFixture(t, Config{CollectionWindow: 60 * time.Millisecond})
	f.store.StartSession()

	f.store.RecordResponse("theme", "An answer whose window gets cancelled.")
	f.store.EndSession()

	time.Sleep(250 * time.Millisecond)
	if len(f.directives) != 0 {
		t.Fatalf("directive emitted after the session ended")
	}
}

func TestProbeHistoryAccumulatesPerTopic(t *testing.T) {
	f := newFixture(t, Config{CollectionWindow: 25 * time.Millisecond})
	f.store.StartSession()

	answers := []string{"Short.", "Still short."}
	for _, answer := range answers {
		f.store.RecordResponse("theme", answer)
		f.publishQuality("theme", 1, domain.QualityProbe)
		waitDirective(t, f.directives, 2*time.Second)
	}

	history := f.coord.ProbeHistory("theme")
	if len(history) != 2 {
		t.Fatalf("probe history len=%d want 2", len(history))
	}
	if history[0].ResponseSummary != "Short." || history[1].ResponseSummary != "Still short." {
		t.Fatalf("history summaries=%+v", history)
	}
	if got := f.coord.ProbeHistory("characters"); len(got) != 0 {
		t.Fatalf("unrelated topic has history: %v", got)
	}
}
