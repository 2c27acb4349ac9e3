package reasoning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var ErrScripted = errors.New("scripted reasoning failure")

// ScriptedEngine is the deterministic engine the simulation harness runs
// against: evaluation is a text heuristic, utterances are canned, and decision
// synthesis fails by default so the coordinator exercises its rule chain.
type ScriptedEngine struct {
	mu      sync.Mutex
	fail    map[Purpose]bool
	latency time.Duration
	calls   map[Purpose]int
}

func NewScriptedEngine() *ScriptedEngine {
	return &ScriptedEngine{
		fail:  map[Purpose]bool{PurposeDecision: true},
		calls: make(map[Purpose]int),
	}
}

func (e *ScriptedEngine) FailPurpose(purpose Purpose, fail bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fail[purpose] = fail
}

func (e *ScriptedEngine) SetLatency(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.latency = d
}

func (e *ScriptedEngine) Calls(purpose Purpose) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[purpose]
}

func (e *ScriptedEngine) Complete(ctx context.Context, req Request) (string, error) {
	e.mu.Lock()
	e.calls[req.Purpose]++
	fail := e.fail[req.Purpose]
	latency := e.latency
	e.mu.Unlock()

	if latency > 0 {
		timer := time.NewTimer(latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	if fail {
		return "", fmt.Errorf("%w: purpose=%s", ErrScripted, req.Purpose)
	}

	switch req.Purpose {
	case PurposeEvaluation:
		return scriptedEvaluation(req.LastUserText()), nil
	case PurposeUtterance:
		return "Could you say more about that?", nil
	case PurposeDecision:
		return "DECISION: PROBE\nREASONING: scripted default", nil
	default:
		return "", fmt.Errorf("unknown purpose %q", req.Purpose)
	}
}

var frustrationMarkers = []string{
	"whatever",
	"already said",
	"move on",
	"i guess",
	"who cares",
	"does it matter",
}

func scriptedEvaluation(response string) string {
	lower := strings.ToLower(response)
	frustrated := false
	for _, marker := range frustrationMarkers {
		if strings.Contains(lower, marker) {
			frustrated = true
			break
		}
	}

	words := len(strings.Fields(response))
	rating := 1
	recommendation := "probe"
	note := "shallow answer"
	switch {
	case words >= 40:
		rating = 3
		recommendation = "accept"
		note = "substantive answer"
	case words >= 15:
		rating = 2
		note = "moderate depth"
	}
	if frustrated {
		recommendation = "move_on"
		note = "dismissive tone"
	}

	return fmt.Sprintf("RATING: %d\nRECOMMENDATION: %s\nNOTE: %s\nFRUSTRATION: %t",
		rating, recommendation, note, frustrated)
}
