package policy

import (
	"testing"

	"colloquy/internal/domain"
)

func TestDecideRuleChain(t *testing.T) {
	tests := []struct {
		name string
		in   Input
		want domain.DirectiveKind
	}{
		{
			name: "critical pressure ends the session",
			in:   Input{Pressure: domain.PressureCritical, Recommendation: domain.QualityAccept, HasNextTopic: true},
			want: domain.DirectiveEnd,
		},
		{
			name: "critical pressure with coverage gaps forces one more topic",
			in:   Input{Pressure: domain.PressureCritical, Recommendation: domain.QualityProbe, CoverageGaps: true, HasNextTopic: true},
			want: domain.DirectiveTransition,
		},
		{
			name: "critical pressure with gaps but no next topic still ends",
			in:   Input{Pressure: domain.PressureCritical, CoverageGaps: true, HasNextTopic: false},
			want: domain.DirectiveEnd,
		},
		{
			name: "high pressure overrides a probe recommendation",
			in:   Input{Pressure: domain.PressureHigh, Recommendation: domain.QualityProbe, HasNextTopic: true},
			want: domain.DirectiveTransition,
		},
		{
			name: "high pressure probe on the last topic ends",
			in:   Input{Pressure: domain.PressureHigh, Recommendation: domain.QualityProbe, HasNextTopic: false},
			want: domain.DirectiveEnd,
		},
		{
			name: "high pressure with accepted answer advances",
			in:   Input{Pressure: domain.PressureHigh, Recommendation: domain.QualityAccept, HasNextTopic: true},
			want: domain.DirectiveTransition,
		},
		{
			name: "low pressure probe recommendation probes",
			in:   Input{Pressure: domain.PressureLow, Recommendation: domain.QualityProbe, HasNextTopic: true},
			want: domain.DirectiveProbe,
		},
		{
			name: "medium pressure probe recommendation probes",
			in:   Input{Pressure: domain.PressureMedium, Recommendation: domain.QualityProbe, HasNextTopic: true},
			want: domain.DirectiveProbe,
		},
		{
			name: "accepted answer advances",
			in:   Input{Pressure: domain.PressureLow, Recommendation: domain.QualityAccept, HasNextTopic: true},
			want: domain.DirectiveTransition,
		},
		{
			name: "accepted answer on the last topic ends",
			in:   Input{Pressure: domain.PressureLow, Recommendation: domain.QualityAccept, HasNextTopic: false},
			want: domain.DirectiveEnd,
		},
		{
			name: "frustrated candidate moves on",
			in:   Input{Pressure: domain.PressureMedium, Recommendation: domain.QualityMoveOn, HasNextTopic: true},
			want: domain.DirectiveTransition,
		},
		{
			name: "missing signals default to probing",
			in:   Input{},
			want: domain.DirectiveProbe,
		},
		{
			name: "unknown pressure is treated as low",
			in:   Input{Recommendation: domain.QualityProbe, HasNextTopic: true},
			want: domain.DirectiveProbe,
		},
	}

	engine := New()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := engine.Decide(tc.in)
			if got.Kind != tc.want {
				t.Fatalf("Decide(%+v)=%s want=%s", tc.in, got.Kind, tc.want)
			}
			if got.Reason == "" {
				t.Fatalf("decision carries no reason")
			}
		})
	}
}

func TestDecideReasonsExplainThemselves(t *testing.T) {
	engine := New()

	critical := engine.Decide(Input{Pressure: domain.PressureCritical})
	if critical.Reason != "critical time pressure" {
		t.Fatalf("critical reason=%q", critical.Reason)
	}

	override := engine.Decide(Input{Pressure: domain.PressureHigh, Recommendation: domain.QualityProbe, HasNextTopic: true})
	if override.Reason != "time pressure overrides shallow answer" {
		t.Fatalf("override reason=%q", override.Reason)
	}
}
