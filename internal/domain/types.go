package domain

import (
	"time"
)

type SessionStatus string

const (
	SessionStatusNotStarted SessionStatus = "not_started"
	SessionStatusInProgress SessionStatus = "in_progress"
	SessionStatusCompleted  SessionStatus = "completed"
)

type TopicID string

type Topic struct {
	ID             TopicID `json:"id"`
	Name           string  `json:"name"`
	PromptQuestion string  `json:"prompt_question"`
	DepthCriteria  string  `json:"depth_criteria"`
}

type HistoryRole string

const (
	HistoryRoleInterviewer HistoryRole = "interviewer"
	HistoryRoleCandidate   HistoryRole = "candidate"
)

type HistoryEntry struct {
	Role      HistoryRole `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

type Session struct {
	ID          string               `json:"id"`
	Status      SessionStatus        `json:"status"`
	ActiveTopic *TopicID             `json:"active_topic"`
	Responses   map[TopicID][]string `json:"responses"`
	Scores      map[TopicID]int      `json:"scores"`
	History     []HistoryEntry       `json:"history"`
	StartedAt   *time.Time           `json:"started_at,omitempty"`
	EndedAt     *time.Time           `json:"ended_at,omitempty"`
}

type PressureLevel string

const (
	PressureLow      PressureLevel = "low"
	PressureMedium   PressureLevel = "medium"
	PressureHigh     PressureLevel = "high"
	PressureCritical PressureLevel = "critical"
)

type PaceRecommendation string

const (
	PaceOnPace     PaceRecommendation = "on_pace"
	PaceAccelerate PaceRecommendation = "accelerate"
	PaceWrapUp     PaceRecommendation = "wrap_up"
)

type QualityRecommendation string

const (
	QualityProbe  QualityRecommendation = "probe"
	QualityAccept QualityRecommendation = "accept"
	QualityMoveOn QualityRecommendation = "move_on"
)

type DirectiveKind string

const (
	DirectiveProbe      DirectiveKind = "probe"
	DirectiveTransition DirectiveKind = "transition"
	DirectiveEnd        DirectiveKind = "end"
)

type Directive struct {
	ID        string        `json:"id"`
	Kind      DirectiveKind `json:"kind"`
	Topic     TopicID       `json:"topic"`
	NextTopic *TopicID      `json:"next_topic"`
	Reason    string        `json:"reason"`
	Timestamp time.Time     `json:"timestamp"`
}

type ProbeHistoryEntry struct {
	ResponseSummary string                `json:"response_summary"`
	Rating          int                   `json:"rating"`
	Recommendation  QualityRecommendation `json:"recommendation"`
	Decision        DirectiveKind         `json:"decision"`
}

type ObservationPayload interface {
	observationPayload()
}

type PacePayload struct {
	Pressure       PressureLevel      `json:"pressure"`
	RemainingMS    int64              `json:"remaining_ms"`
	PaceMS         int64              `json:"pace_ms"`
	Recommendation PaceRecommendation `json:"recommendation"`
}

type CoveragePayload struct {
	RunningGrade string    `json:"running_grade"`
	TopicsScored int       `json:"topics_scored"`
	CoverageGaps []TopicID `json:"coverage_gaps"`
}

type QualityPayload struct {
	Topic               TopicID               `json:"topic"`
	Rating              int                   `json:"rating"`
	Recommendation      QualityRecommendation `json:"recommendation"`
	Note                string                `json:"note"`
	FrustrationDetected bool                  `json:"frustration_detected"`
}

func (PacePayload) observationPayload()     {}
func (CoveragePayload) observationPayload() {}
func (QualityPayload) observationPayload()  {}

type Observation struct {
	SourceAgentID string             `json:"source_agent_id"`
	Timestamp     time.Time          `json:"timestamp"`
	Payload       ObservationPayload `json:"payload"`
}

type EventKind string

const (
	EventTick                 EventKind = "tick"
	EventResponseSubmitted    EventKind = "response_submitted"
	EventAgentObservation     EventKind = "agent_observation"
	EventCoordinatorDirective EventKind = "coordinator_directive"
	EventUtteranceGenerated   EventKind = "utterance_generated"
	EventTopicCompleted       EventKind = "topic_completed"
	EventSessionStarted       EventKind = "session_started"
	EventSessionEnded         EventKind = "session_ended"
)

type EventPayload interface {
	eventPayload()
}

type Event struct {
	Kind      EventKind    `json:"kind"`
	Timestamp time.Time    `json:"timestamp"`
	Payload   EventPayload `json:"payload"`
}

type TickPayload struct {
	Timestamp time.Time `json:"timestamp"`
}

type ResponsePayload struct {
	Topic        TopicID   `json:"topic"`
	ResponseText string    `json:"response_text"`
	Timestamp    time.Time `json:"timestamp"`
}

type UtterancePayload struct {
	Text          string        `json:"text"`
	Topic         TopicID       `json:"topic"`
	DirectiveKind DirectiveKind `json:"directive_kind"`
	Timestamp     time.Time     `json:"timestamp"`
}

type TopicCompletedPayload struct {
	Topic TopicID `json:"topic"`
}

type SessionStartedPayload struct {
	Session Session `json:"session"`
}

type SessionEndedPayload struct {
	Timestamp time.Time `json:"timestamp"`
}

func (TickPayload) eventPayload()           {}
func (ResponsePayload) eventPayload()       {}
func (Observation) eventPayload()           {}
func (Directive) eventPayload()             {}
func (UtterancePayload) eventPayload()      {}
func (TopicCompletedPayload) eventPayload() {}
func (SessionStartedPayload) eventPayload() {}
func (SessionEndedPayload) eventPayload()   {}
