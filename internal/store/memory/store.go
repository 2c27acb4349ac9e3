package memory

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"colloquy/internal/domain"
)

type Publisher interface {
	Publish(event domain.Event)
}

// Store owns the canonical session record. Every mutation is serialized through
// one mutex, so callers never observe a partially-applied change, and no
// operation can fail: invalid input is clamped or ignored.
type Store struct {
	mu      sync.Mutex
	bus     Publisher
	topics  []domain.Topic
	session domain.Session
}

func New(bus Publisher, topics []domain.Topic) *Store {
	s := &Store{
		bus:    bus,
		topics: append([]domain.Topic(nil), topics...),
	}
	s.session = emptySession()
	return s
}

func (s *Store) StartSession() domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	s.session = emptySession()
	s.session.ID = uuid.NewString()
	s.session.StartedAt = &now
	if len(s.topics) == 0 {
		s.session.Status = domain.SessionStatusCompleted
		s.session.EndedAt = &now
	} else {
		s.session.Status = domain.SessionStatusInProgress
		id := s.topics[0].ID
		s.session.ActiveTopic = &id
	}
	snapshot := copySession(s.session)
	s.publish(domain.EventSessionStarted, now, domain.SessionStartedPayload{Session: snapshot})
	return snapshot
}

func (s *Store) RecordResponse(topic domain.TopicID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	text = strings.TrimSpace(text)
	if s.session.Status != domain.SessionStatusInProgress || text == "" || !s.knownTopic(topic) {
		return
	}
	now := time.Now().UTC()
	s.session.Responses[topic] = append(s.session.Responses[topic], text)
	s.session.History = append(s.session.History, domain.HistoryEntry{
		Role:      domain.HistoryRoleCandidate,
		Content:   text,
		Timestamp: now,
	})
	s.publish(domain.EventResponseSubmitted, now, domain.ResponsePayload{
		Topic:        topic,
		ResponseText: text,
		Timestamp:    now,
	})
}

func (s *Store) RecordScore(topic domain.TopicID, rating int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session.Status != domain.SessionStatusInProgress || !s.knownTopic(topic) {
		return
	}
	if rating < 1 {
		rating = 1
	}
	if rating > 3 {
		rating = 3
	}
	s.session.Scores[topic] = rating
}

func (s *Store) CompleteTopic(topic domain.TopicID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session.Status != domain.SessionStatusInProgress || !s.knownTopic(topic) {
		return
	}
	s.publish(domain.EventTopicCompleted, time.Now().UTC(), domain.TopicCompletedPayload{Topic: topic})
}

func (s *Store) AdvanceTopic() *domain.TopicID {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session.Status != domain.SessionStatusInProgress || s.session.ActiveTopic == nil {
		return nil
	}
	idx := s.topicIndex(*s.session.ActiveTopic)
	if idx >= 0 && idx+1 < len(s.topics) {
		id := s.topics[idx+1].ID
		s.session.ActiveTopic = &id
		out := id
		return &out
	}
	s.endLocked(time.Now().UTC())
	return nil
}

func (s *Store) AppendHistory(role domain.HistoryRole, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	content = strings.TrimSpace(content)
	if content == "" || s.session.ID == "" {
		return
	}
	s.session.History = append(s.session.History, domain.HistoryEntry{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
}

func (s *Store) EndSession() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session.Status != domain.SessionStatusInProgress {
		return
	}
	s.endLocked(time.Now().UTC())
}

func (s *Store) GetState() domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	return copySession(s.session)
}

func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.session = emptySession()
}

func (s *Store) Topics() []domain.Topic {
	return append([]domain.Topic(nil), s.topics...)
}

func (s *Store) ActiveTopic() (domain.Topic, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session.ActiveTopic == nil {
		return domain.Topic{}, false
	}
	idx := s.topicIndex(*s.session.ActiveTopic)
	if idx < 0 {
		return domain.Topic{}, false
	}
	return s.topics[idx], true
}

func (s *Store) NextTopic() (domain.Topic, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session.ActiveTopic == nil {
		return domain.Topic{}, false
	}
	idx := s.topicIndex(*s.session.ActiveTopic)
	if idx < 0 || idx+1 >= len(s.topics) {
		return domain.Topic{}, false
	}
	return s.topics[idx+1], true
}

func (s *Store) endLocked(now time.Time) {
	s.session.Status = domain.SessionStatusCompleted
	s.session.ActiveTopic = nil
	s.session.EndedAt = &now
	s.publish(domain.EventSessionEnded, now, domain.SessionEndedPayload{Timestamp: now})
}

func (s *Store) publish(kind domain.EventKind, ts time.Time, payload domain.EventPayload) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(domain.Event{Kind: kind, Timestamp: ts, Payload: payload})
}

func (s *Store) knownTopic(id domain.TopicID) bool {
	return s.topicIndex(id) >= 0
}

func (s *Store) topicIndex(id domain.TopicID) int {
	for i, topic := range s.topics {
		if topic.ID == id {
			return i
		}
	}
	return -1
}

func emptySession() domain.Session {
	return domain.Session{
		Status:    domain.SessionStatusNotStarted,
		Responses: make(map[domain.TopicID][]string),
		Scores:    make(map[domain.TopicID]int),
	}
}

func copySession(in domain.Session) domain.Session {
	out := in
	if in.ActiveTopic != nil {
		id := *in.ActiveTopic
		out.ActiveTopic = &id
	}
	if in.StartedAt != nil {
		t := *in.StartedAt
		out.StartedAt = &t
	}
	if in.EndedAt != nil {
		t := *in.EndedAt
		out.EndedAt = &t
	}
	out.Responses = make(map[domain.TopicID][]string, len(in.Responses))
	for topic, responses := range in.Responses {
		out.Responses[topic] = append([]string(nil), responses...)
	}
	out.Scores = make(map[domain.TopicID]int, len(in.Scores))
	for topic, score := range in.Scores {
		out.Scores[topic] = score
	}
	out.History = append([]domain.HistoryEntry(nil), in.History...)
	return out
}
