package agent

import (
	"time"

	"colloquy/internal/domain"
)

type Bus interface {
	Publish(event domain.Event)
	Subscribe(name string, kinds ...domain.EventKind) <-chan domain.Event
	Unsubscribe(name string)
}

type Store interface {
	GetState() domain.Session
	Topics() []domain.Topic
	ActiveTopic() (domain.Topic, bool)
	RecordScore(topic domain.TopicID, rating int)
	AppendHistory(role domain.HistoryRole, content string)
}

func publishObservation(bus Bus, agentID string, payload domain.ObservationPayload) {
	now := time.Now().UTC()
	bus.Publish(domain.Event{
		Kind:      domain.EventAgentObservation,
		Timestamp: now,
		Payload: domain.Observation{
			SourceAgentID: agentID,
			Timestamp:     now,
			Payload:       payload,
		},
	})
}

func trim(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
