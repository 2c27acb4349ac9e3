package policy

import (
	"colloquy/internal/domain"
)

type Input struct {
	Pressure       domain.PressureLevel
	Recommendation domain.QualityRecommendation
	CoverageGaps   bool
	HasNextTopic   bool
}

type Decision struct {
	Kind   domain.DirectiveKind
	Reason string
}

type Engine struct{}

func New() *Engine {
	return &Engine{}
}

// Decide evaluates the fallback rule chain. Clause order is load-bearing:
// reordering changes outcomes at the boundaries, e.g. critical pressure
// against a shallow answer.
func (e *Engine) Decide(in Input) Decision {
	pressure := in.Pressure
	if pressure == "" {
		pressure = domain.PressureLow
	}

	if pressure == domain.PressureCritical {
		if in.CoverageGaps && in.HasNextTopic {
			return Decision{
				Kind:   domain.DirectiveTransition,
				Reason: "critical time pressure; forcing final coverage question",
			}
		}
		return Decision{Kind: domain.DirectiveEnd, Reason: "critical time pressure"}
	}

	if pressure == domain.PressureHigh && in.Recommendation == domain.QualityProbe {
		if !in.HasNextTopic {
			return Decision{Kind: domain.DirectiveEnd, Reason: "time pressure overrides shallow answer"}
		}
		return Decision{Kind: domain.DirectiveTransition, Reason: "time pressure overrides shallow answer"}
	}

	if in.Recommendation == domain.QualityProbe &&
		(pressure == domain.PressureLow || pressure == domain.PressureMedium) {
		return Decision{Kind: domain.DirectiveProbe, Reason: "shallow answer needs a deeper follow-up"}
	}

	if in.Recommendation == domain.QualityAccept || in.Recommendation == domain.QualityMoveOn {
		if !in.HasNextTopic {
			return Decision{Kind: domain.DirectiveEnd, Reason: "answer accepted; no topics remain"}
		}
		return Decision{Kind: domain.DirectiveTransition, Reason: "answer accepted; advancing"}
	}

	return Decision{Kind: domain.DirectiveProbe, Reason: "no clear signal; probing by default"}
}
