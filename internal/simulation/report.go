package simulation

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"colloquy/internal/domain"
)

const (
	slowObservationThreshold = 250 * time.Millisecond
	thoroughPersonaName      = "thorough"
	thoroughProbeCeiling     = 2
	criticalCoverageRatio    = 0.8
)

type LatencyStats struct {
	Count       int     `json:"count"`
	MeanMS      float64 `json:"mean_ms"`
	MinMS       float64 `json:"min_ms"`
	MaxMS       float64 `json:"max_ms"`
	SlowCount   int     `json:"slow_count"`
	ThresholdMS float64 `json:"threshold_ms"`
}

type Anomaly struct {
	RunID   string `json:"run_id"`
	Persona string `json:"persona"`
	Kind    string `json:"kind"`
	Detail  string `json:"detail"`
}

type EventDocument struct {
	Kind             string `json:"kind"`
	OwnTimestamp     string `json:"own_timestamp"`
	ReceiptTimestamp string `json:"receipt_timestamp"`
	Payload          string `json:"payload"`
}

type RunDocument struct {
	RunID      string          `json:"run_id"`
	Persona    string          `json:"persona"`
	Outcome    string          `json:"outcome"`
	Iterations int             `json:"iterations"`
	StartedAt  string          `json:"started_at"`
	EndedAt    string          `json:"ended_at"`
	Events     []EventDocument `json:"events"`
}

type BatchReport struct {
	BatchID         string                    `json:"batch_id"`
	GeneratedAt     string                    `json:"generated_at"`
	RunCount        int                       `json:"run_count"`
	Outcomes        map[string]int            `json:"outcomes"`
	Latency         LatencyStats              `json:"observation_latency"`
	DirectivesByRun map[string]map[string]int `json:"directives_by_persona"`
	TotalDirectives int                       `json:"total_directives"`
	Anomalies       []Anomaly                 `json:"anomalies"`
	Runs            []RunDocument             `json:"runs"`
}

// BuildReport computes the batch summary: outcome histogram, observation
// latency statistics, per-persona directive counts, and the anomaly scan.
func BuildReport(results []RunResult, criticalAgentID string) BatchReport {
	report := BatchReport{
		BatchID:         uuid.NewString(),
		GeneratedAt:     time.Now().UTC().Format(time.RFC3339Nano),
		RunCount:        len(results),
		Outcomes:        make(map[string]int),
		DirectivesByRun: make(map[string]map[string]int),
	}

	var latencies []time.Duration
	for _, result := range results {
		report.Outcomes[string(result.Outcome)]++
		report.Runs = append(report.Runs, buildRunDocument(result))

		perKind := report.DirectivesByRun[result.Persona]
		if perKind == nil {
			perKind = make(map[string]int)
			report.DirectivesByRun[result.Persona] = perKind
		}
		for _, record := range result.Events[domain.EventCoordinatorDirective] {
			directive, ok := record.Payload.(domain.Directive)
			if !ok {
				continue
			}
			perKind[string(directive.Kind)]++
			report.TotalDirectives++
		}
		for _, record := range result.Events[domain.EventAgentObservation] {
			latencies = append(latencies, record.ReceiptTimestamp.Sub(record.OwnTimestamp))
		}

		report.Anomalies = append(report.Anomalies, scanRun(result, criticalAgentID)...)
	}

	report.Latency = latencyStats(latencies)
	return report
}

func (r BatchReport) MarshalDocument() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

func UnmarshalDocument(data []byte) (BatchReport, error) {
	var report BatchReport
	if err := json.Unmarshal(data, &report); err != nil {
		return BatchReport{}, fmt.Errorf("parse batch report: %w", err)
	}
	return report, nil
}

func buildRunDocument(result RunResult) RunDocument {
	doc := RunDocument{
		RunID:      result.RunID,
		Persona:    result.Persona,
		Outcome:    string(result.Outcome),
		Iterations: result.Iterations,
		StartedAt:  result.StartedAt.Format(time.RFC3339Nano),
		EndedAt:    result.EndedAt.Format(time.RFC3339Nano),
	}
	// RFC3339Nano trims trailing zeros, so the formatted strings do not
	// sort chronologically; order on the times before formatting.
	type timedEvent struct {
		receipt time.Time
		doc     EventDocument
	}
	var events []timedEvent
	for kind, log := range result.Events {
		for _, record := range log {
			events = append(events, timedEvent{
				receipt: record.ReceiptTimestamp,
				doc: EventDocument{
					Kind:             string(kind),
					OwnTimestamp:     record.OwnTimestamp.Format(time.RFC3339Nano),
					ReceiptTimestamp: record.ReceiptTimestamp.Format(time.RFC3339Nano),
					Payload:          summarizePayload(record.Payload),
				},
			})
		}
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].receipt.Equal(events[j].receipt) {
			return events[i].doc.Kind < events[j].doc.Kind
		}
		return events[i].receipt.Before(events[j].receipt)
	})
	for _, event := range events {
		doc.Events = append(doc.Events, event.doc)
	}
	return doc
}

func summarizePayload(payload domain.EventPayload) string {
	switch p := payload.(type) {
	case domain.TickPayload:
		return "tick"
	case domain.ResponsePayload:
		return fmt.Sprintf("topic=%s chars=%d", p.Topic, len(p.ResponseText))
	case domain.Observation:
		switch obs := p.Payload.(type) {
		case domain.PacePayload:
			return fmt.Sprintf("agent=%s pressure=%s remaining_ms=%d", p.SourceAgentID, obs.Pressure, obs.RemainingMS)
		case domain.CoveragePayload:
			return fmt.Sprintf("agent=%s grade=%s gaps=%d", p.SourceAgentID, obs.RunningGrade, len(obs.CoverageGaps))
		case domain.QualityPayload:
			return fmt.Sprintf("agent=%s rating=%d recommendation=%s frustration=%t",
				p.SourceAgentID, obs.Rating, obs.Recommendation, obs.FrustrationDetected)
		default:
			return fmt.Sprintf("agent=%s", p.SourceAgentID)
		}
	case domain.Directive:
		return fmt.Sprintf("kind=%s topic=%s reason=%q", p.Kind, p.Topic, p.Reason)
	case domain.UtterancePayload:
		return fmt.Sprintf("topic=%s kind=%s chars=%d", p.Topic, p.DirectiveKind, len(p.Text))
	case domain.TopicCompletedPayload:
		return fmt.Sprintf("topic=%s", p.Topic)
	case domain.SessionStartedPayload:
		return fmt.Sprintf("session=%s", p.Session.ID)
	case domain.SessionEndedPayload:
		return "session ended"
	default:
		return ""
	}
}

func latencyStats(latencies []time.Duration) LatencyStats {
	stats := LatencyStats{ThresholdMS: float64(slowObservationThreshold.Milliseconds())}
	if len(latencies) == 0 {
		return stats
	}
	stats.Count = len(latencies)
	min, max := latencies[0], latencies[0]
	var sum time.Duration
	for _, d := range latencies {
		sum += d
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
		if d > slowObservationThreshold {
			stats.SlowCount++
		}
	}
	stats.MeanMS = float64(sum.Microseconds()) / float64(len(latencies)) / 1000
	stats.MinMS = float64(min.Microseconds()) / 1000
	stats.MaxMS = float64(max.Microseconds()) / 1000
	return stats
}

// scanRun applies the heuristic anomaly detectors to one run's event log.
func scanRun(result RunResult, criticalAgentID string) []Anomaly {
	var anomalies []Anomaly

	probes := 0
	probesByTopic := make(map[domain.TopicID]int)
	for _, record := range result.Events[domain.EventCoordinatorDirective] {
		directive, ok := record.Payload.(domain.Directive)
		if !ok || directive.Kind != domain.DirectiveProbe {
			continue
		}
		probes++
		probesByTopic[directive.Topic]++
	}

	frustrationFlags := 0
	criticalObservations := 0
	var criticalReceipts []time.Time
	for _, record := range result.Events[domain.EventAgentObservation] {
		observation, ok := record.Payload.(domain.Observation)
		if !ok {
			continue
		}
		if observation.SourceAgentID == criticalAgentID {
			criticalObservations++
			criticalReceipts = append(criticalReceipts, record.ReceiptTimestamp)
		}
		if quality, ok := observation.Payload.(domain.QualityPayload); ok && quality.FrustrationDetected {
			frustrationFlags++
		}
	}

	if frustrationFlags > 0 && probes > 2*frustrationFlags {
		anomalies = append(anomalies, Anomaly{
			RunID:   result.RunID,
			Persona: result.Persona,
			Kind:    "probe_frustration_ratio",
			Detail:  fmt.Sprintf("%d probes against %d frustration flags", probes, frustrationFlags),
		})
	}

	responses := len(result.Events[domain.EventResponseSubmitted])
	if responses > 0 && float64(criticalObservations) < criticalCoverageRatio*float64(responses) {
		anomalies = append(anomalies, Anomaly{
			RunID:   result.RunID,
			Persona: result.Persona,
			Kind:    "critical_observation_coverage",
			Detail: fmt.Sprintf("%d observations from %s across %d responses",
				criticalObservations, criticalAgentID, responses),
		})
	}

	if blind := decisionsWithoutCritical(result, criticalReceipts); blind > 0 {
		anomalies = append(anomalies, Anomaly{
			RunID:   result.RunID,
			Persona: result.Persona,
			Kind:    "decision_without_critical",
			Detail:  fmt.Sprintf("%d directives issued with no %s observation in the cycle", blind, criticalAgentID),
		})
	}

	if result.Persona == thoroughPersonaName {
		for topic, count := range probesByTopic {
			if count > thoroughProbeCeiling {
				anomalies = append(anomalies, Anomaly{
					RunID:   result.RunID,
					Persona: result.Persona,
					Kind:    "thorough_probe_ceiling",
					Detail:  fmt.Sprintf("topic %s probed %d times", topic, count),
				})
			}
		}
	}

	return anomalies
}

// decisionsWithoutCritical reconstructs cycles from the log: each directive
// is paired with the latest response received before it, and counted when
// no critical-agent observation landed in between.
func decisionsWithoutCritical(result RunResult, criticalReceipts []time.Time) int {
	var responseReceipts []time.Time
	for _, record := range result.Events[domain.EventResponseSubmitted] {
		responseReceipts = append(responseReceipts, record.ReceiptTimestamp)
	}

	blind := 0
	for _, record := range result.Events[domain.EventCoordinatorDirective] {
		issued := record.ReceiptTimestamp
		var cycleStart time.Time
		for _, receipt := range responseReceipts {
			if !receipt.After(issued) && receipt.After(cycleStart) {
				cycleStart = receipt
			}
		}
		if cycleStart.IsZero() {
			continue
		}
		seen := false
		for _, receipt := range criticalReceipts {
			if !receipt.Before(cycleStart) && !receipt.After(issued) {
				seen = true
				break
			}
		}
		if !seen {
			blind++
		}
	}
	return blind
}
