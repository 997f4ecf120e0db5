package domain

import (
	"time"

	"github.com/google/uuid"
)

// SessionState is a node in the per-bot conversation state machine.
type SessionState string

const (
	StateGreeting        SessionState = "greeting"
	StateQuestion        SessionState = "question"
	StateStalledRecovery SessionState = "stalled_recovery"
	StateQualified       SessionState = "qualified"
	StateClosed          SessionState = "closed"
)

// Terminal reports whether the state ends the session.
func (s SessionState) Terminal() bool {
	return s == StateQualified || s == StateClosed
}

// Answer is one recorded qualification answer with its quality score.
type Answer struct {
	Question   string    `json:"question"`
	Body       string    `json:"body"`
	Quality    float64   `json:"quality"`
	AnsweredAt time.Time `json:"answeredAt"`
}

// ConversationSession tracks one lead's engagement with one bot type.
// At most one active session exists per (lead, bot type).
type ConversationSession struct {
	ID               uuid.UUID
	LeadID           uuid.UUID
	BotType          BotType
	State            SessionState
	QuestionIndex    int // index of the next question to ask
	Answers          []Answer
	TimelineOK       bool // the lead's stated timeline is acceptable
	RecoveryAttempts int  // stalled_recovery entries so far
	TakeAway         bool // escalated to the take-away strategy variant
	LastInboundAt    time.Time
	StartedAt        time.Time
	ClosedAt         *time.Time
}

// Active reports whether the session can still receive inbound messages.
func (s *ConversationSession) Active() bool {
	return !s.State.Terminal()
}

// IdleSince reports whether the session has been without inbound
// activity for at least the given window.
func (s *ConversationSession) IdleSince(now time.Time, idle time.Duration) bool {
	if !s.Active() {
		return false
	}
	last := s.LastInboundAt
	if last.IsZero() {
		last = s.StartedAt
	}
	return now.Sub(last) >= idle
}

// QualificationResult is an immutable snapshot produced by the scoring
// engine. History is append-only per session.
type QualificationResult struct {
	ID                uuid.UUID
	SessionID         uuid.UUID
	LeadID            uuid.UUID
	Temperature       Temperature
	Confidence        float64
	QuestionsAnswered int
	AverageQuality    float64
	QuestionScores    []float64
	Thresholds        Thresholds // exact values used for this evaluation
	Stalled           bool
	Degraded          bool
	EvaluatedAt       time.Time
}

// ContextBundle is the qualification context transferred on handoff.
// The receiving bot must be able to skip every fact already present.
type ContextBundle struct {
	Facts       map[string]string `json:"facts"` // question key -> answer body
	Temperature Temperature       `json:"temperature"`
	Confidence  float64           `json:"confidence"`
	StallCount  int               `json:"stallCount"`
	Summary     string            `json:"summary"`
}

// HasFact reports whether a qualification item was already answered.
func (c ContextBundle) HasFact(key string) bool {
	_, ok := c.Facts[key]
	return ok
}

// Merge returns a bundle containing this bundle's facts plus any facts
// from other not already present. Existing answers win.
func (c ContextBundle) Merge(other ContextBundle) ContextBundle {
	merged := ContextBundle{
		Facts:       make(map[string]string, len(c.Facts)+len(other.Facts)),
		Temperature: c.Temperature,
		Confidence:  c.Confidence,
		StallCount:  c.StallCount + other.StallCount,
		Summary:     c.Summary,
	}
	for k, v := range other.Facts {
		merged.Facts[k] = v
	}
	for k, v := range c.Facts {
		merged.Facts[k] = v
	}
	return merged
}

// HandoffRecord links a closing session to the one opened for the
// receiving bot type, carrying the full context bundle.
type HandoffRecord struct {
	ID            uuid.UUID
	LeadID        uuid.UUID
	FromSessionID uuid.UUID
	ToSessionID   uuid.UUID
	FromBot       BotType
	ToBot         BotType
	Context       ContextBundle
	CreatedAt     time.Time
}
