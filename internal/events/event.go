// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Lead Domain Events
// =============================================================================

// LeadCreated is published when a lead is created on first inbound contact.
type LeadCreated struct {
	BaseEvent
	LeadID     uuid.UUID      `json:"leadId"`
	ExternalID string         `json:"externalId"`
	Source     string         `json:"source"`
	OwningBot  domain.BotType `json:"owningBot"`
}

func (e LeadCreated) EventName() string { return "leads.lead.created" }

// TemperatureChanged is published when a scoring evaluation moves a
// lead's temperature bucket.
type TemperatureChanged struct {
	BaseEvent
	LeadID         uuid.UUID          `json:"leadId"`
	SessionID      uuid.UUID          `json:"sessionId"`
	OldTemperature domain.Temperature `json:"oldTemperature"`
	NewTemperature domain.Temperature `json:"newTemperature"`
	Confidence     float64            `json:"confidence"`
}

func (e TemperatureChanged) EventName() string { return "leads.temperature.changed" }

// =============================================================================
// Conversation Domain Events
// =============================================================================

// SessionStalled is published when stall detection fires on a session.
type SessionStalled struct {
	BaseEvent
	LeadID    uuid.UUID      `json:"leadId"`
	SessionID uuid.UUID      `json:"sessionId"`
	BotType   domain.BotType `json:"botType"`
	Attempts  int            `json:"attempts"`
}

func (e SessionStalled) EventName() string { return "conversation.session.stalled" }

// SessionQualified is published when a session reaches a qualified
// terminal state.
type SessionQualified struct {
	BaseEvent
	LeadID      uuid.UUID          `json:"leadId"`
	SessionID   uuid.UUID          `json:"sessionId"`
	BotType     domain.BotType     `json:"botType"`
	Temperature domain.Temperature `json:"temperature"`
	Confidence  float64            `json:"confidence"`
}

func (e SessionQualified) EventName() string { return "conversation.session.qualified" }

// SessionClosed is published when a session is abandoned after the idle
// timeout or closed on handoff.
type SessionClosed struct {
	BaseEvent
	LeadID    uuid.UUID      `json:"leadId"`
	SessionID uuid.UUID      `json:"sessionId"`
	BotType   domain.BotType `json:"botType"`
	Reason    string         `json:"reason"` // "idle_timeout", "handoff"
}

func (e SessionClosed) EventName() string { return "conversation.session.closed" }

// =============================================================================
// Orchestration Domain Events
// =============================================================================

// HandoffCompleted is published after a lead transfers between bot types.
type HandoffCompleted struct {
	BaseEvent
	HandoffID     uuid.UUID      `json:"handoffId"`
	LeadID        uuid.UUID      `json:"leadId"`
	FromBot       domain.BotType `json:"fromBot"`
	ToBot         domain.BotType `json:"toBot"`
	FromSessionID uuid.UUID      `json:"fromSessionId"`
	ToSessionID   uuid.UUID      `json:"toSessionId"`
	Confidence    float64        `json:"confidence"`
}

func (e HandoffCompleted) EventName() string { return "orchestrator.handoff.completed" }

// HandoffRejected is published when a handoff attempt fails closed: the
// source session remains open and no state transferred.
type HandoffRejected struct {
	BaseEvent
	LeadID  uuid.UUID      `json:"leadId"`
	FromBot domain.BotType `json:"fromBot"`
	ToBot   domain.BotType `json:"toBot"`
	Reason  string         `json:"reason"` // "low_confidence", "target_unavailable", "no_result"
}

func (e HandoffRejected) EventName() string { return "orchestrator.handoff.rejected" }

// =============================================================================
// Ingest Domain Events
// =============================================================================

// EventDeadLettered is published when an inbound event cannot be
// processed and is parked with a reason. Nothing is silently dropped.
type EventDeadLettered struct {
	BaseEvent
	IdempotencyKey string `json:"idempotencyKey"`
	Source         string `json:"source"`
	Type           string `json:"type"`
	Reason         string `json:"reason"`
}

func (e EventDeadLettered) EventName() string { return "ingest.event.dead_lettered" }

// CascadeExceeded is published when cascading internal events hit the
// configured depth bound.
type CascadeExceeded struct {
	BaseEvent
	IdempotencyKey string `json:"idempotencyKey"`
	Depth          int    `json:"depth"`
}

func (e CascadeExceeded) EventName() string { return "ingest.cascade.exceeded" }

// =============================================================================
// CRM Domain Events
// =============================================================================

// CRMSyncCompleted is published after a lead's changed fields reach the CRM.
type CRMSyncCompleted struct {
	BaseEvent
	LeadID   uuid.UUID `json:"leadId"`
	Fields   []string  `json:"fields"`
	Attempts int       `json:"attempts"`
}

func (e CRMSyncCompleted) EventName() string { return "crm.sync.completed" }

// CRMSyncFailed is published when retries are exhausted; the lead is
// marked sync-failed for operator visibility.
type CRMSyncFailed struct {
	BaseEvent
	LeadID   uuid.UUID `json:"leadId"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error"`
}

func (e CRMSyncFailed) EventName() string { return "crm.sync.failed" }

// =============================================================================
// Compliance Domain Events
// =============================================================================

// LeadOptedOut is published when an opt-out keyword is detected on an
// inbound message.
type LeadOptedOut struct {
	BaseEvent
	LeadID  uuid.UUID `json:"leadId"`
	Keyword string    `json:"keyword"`
}

func (e LeadOptedOut) EventName() string { return "compliance.lead.opted_out" }

// ContactDenied is published when an outbound send is blocked.
type ContactDenied struct {
	BaseEvent
	LeadID  uuid.UUID `json:"leadId"`
	Channel string    `json:"channel"`
	Reason  string    `json:"reason"`
}

func (e ContactDenied) EventName() string { return "compliance.contact.denied" }
