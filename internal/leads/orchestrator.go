package leads

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"leadflow_backend/internal/conversation"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads/bots"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/platform/logger"
)

// OrchestratorStore is the persistence surface the orchestrator needs.
// Satisfied by the leads repository.
type OrchestratorStore interface {
	GetLead(ctx context.Context, id uuid.UUID) (domain.Lead, error)
	GetActiveSession(ctx context.Context, leadID uuid.UUID, botType domain.BotType) (*domain.ConversationSession, error)
	LatestQualificationResult(ctx context.Context, sessionID uuid.UUID) (domain.QualificationResult, error)
}

// Handoff rejection reasons. Every rejection leaves the source session
// open and untouched.
const (
	RejectLowConfidence     = "low_confidence"
	RejectTargetUnavailable = "target_unavailable"
	RejectNoResult          = "no_result"
)

// Orchestrator routes leads between bot variants. A handoff closes the
// source session, opens the target session seeded with the exported
// context bundle, and records the transfer. Transfers fail closed: any
// precondition miss or mid-flight error rejects the handoff rather than
// leaving the lead between bots.
type Orchestrator struct {
	registry *bots.Registry
	sessions *conversation.Service
	store    OrchestratorStore
	eventBus events.Bus
	log      *logger.Logger

	confidenceFloor float64

	// Idempotency protection: tracks in-flight handoffs per lead
	activeRuns map[uuid.UUID]bool
	runsMu     sync.Mutex
}

func NewOrchestrator(registry *bots.Registry, sessions *conversation.Service, store OrchestratorStore, eventBus events.Bus, log *logger.Logger, confidenceFloor float64) *Orchestrator {
	return &Orchestrator{
		registry:        registry,
		sessions:        sessions,
		store:           store,
		eventBus:        eventBus,
		log:             log,
		confidenceFloor: confidenceFloor,
		activeRuns:      make(map[uuid.UUID]bool),
	}
}

// markRunning attempts to mark a handoff as in flight for the lead.
// Returns false when one is already running.
func (o *Orchestrator) markRunning(leadID uuid.UUID) bool {
	o.runsMu.Lock()
	defer o.runsMu.Unlock()

	if o.activeRuns[leadID] {
		return false
	}
	o.activeRuns[leadID] = true
	return true
}

func (o *Orchestrator) markComplete(leadID uuid.UUID) {
	o.runsMu.Lock()
	defer o.runsMu.Unlock()
	delete(o.activeRuns, leadID)
}

// Route transfers the lead from its owning bot to the target bot type.
// Returns the handoff record on success, or nil when the handoff was
// rejected (the rejection reason is published, not returned as an error).
func (o *Orchestrator) Route(ctx context.Context, leadID uuid.UUID, toBot domain.BotType) (*domain.HandoffRecord, error) {
	if !o.markRunning(leadID) {
		o.log.Info("orchestrator: handoff already running for lead, skipping", "leadId", leadID)
		return nil, nil
	}
	defer o.markComplete(leadID)

	lead, err := o.store.GetLead(ctx, leadID)
	if err != nil {
		return nil, err
	}

	fromBot := lead.OwningBot
	if fromBot == toBot {
		o.log.Info("orchestrator: lead already owned by target bot", "leadId", leadID, "bot", toBot)
		return nil, nil
	}

	sourceBot, err := o.registry.Lookup(fromBot)
	if err != nil {
		o.reject(ctx, leadID, fromBot, toBot, RejectTargetUnavailable)
		return nil, nil
	}
	if _, err := o.registry.Lookup(toBot); err != nil {
		o.reject(ctx, leadID, fromBot, toBot, RejectTargetUnavailable)
		return nil, nil
	}

	source, err := o.store.GetActiveSession(ctx, leadID, fromBot)
	if err != nil {
		return nil, err
	}
	if source == nil {
		o.reject(ctx, leadID, fromBot, toBot, RejectNoResult)
		return nil, nil
	}

	result, err := o.store.LatestQualificationResult(ctx, source.ID)
	if err != nil {
		o.reject(ctx, leadID, fromBot, toBot, RejectNoResult)
		return nil, nil
	}
	if result.Confidence < o.confidenceFloor {
		o.log.Info("orchestrator: confidence below handoff floor",
			"leadId", leadID,
			"confidence", result.Confidence,
			"floor", o.confidenceFloor)
		o.reject(ctx, leadID, fromBot, toBot, RejectLowConfidence)
		return nil, nil
	}

	bundle := sourceBot.ExportContext(source, result)

	// The target opens before the source closes: a failure here leaves
	// the source session untouched and the handoff rejected.
	target, err := o.sessions.OpenSession(ctx, leadID, toBot, &bundle)
	if err != nil {
		o.log.Error("orchestrator: failed to open target session", "leadId", leadID, "error", err)
		o.reject(ctx, leadID, fromBot, toBot, RejectTargetUnavailable)
		return nil, nil
	}

	handoff := &domain.HandoffRecord{
		ID:            uuid.New(),
		LeadID:        leadID,
		FromSessionID: source.ID,
		ToSessionID:   target.ID,
		FromBot:       fromBot,
		ToBot:         toBot,
		Context:       bundle,
		CreatedAt:     time.Now(),
	}
	// Closing the source, recording the transfer, and moving ownership
	// commit together. If that fails the source stays open, the lead
	// keeps its bot, and only the idle target session is left behind.
	if err := o.sessions.CloseForHandoff(ctx, source, handoff); err != nil {
		return nil, err
	}

	o.log.Info("orchestrator: handoff completed",
		"leadId", leadID,
		"fromBot", fromBot,
		"toBot", toBot,
		"confidence", result.Confidence)

	o.eventBus.Publish(ctx, events.HandoffCompleted{
		BaseEvent:     events.NewBaseEvent(),
		HandoffID:     handoff.ID,
		LeadID:        leadID,
		FromBot:       fromBot,
		ToBot:         toBot,
		FromSessionID: source.ID,
		ToSessionID:   target.ID,
		Confidence:    result.Confidence,
	})

	return handoff, nil
}

func (o *Orchestrator) reject(ctx context.Context, leadID uuid.UUID, fromBot, toBot domain.BotType, reason string) {
	o.log.Warn("orchestrator: handoff rejected",
		"leadId", leadID,
		"fromBot", fromBot,
		"toBot", toBot,
		"reason", reason)

	o.eventBus.Publish(ctx, events.HandoffRejected{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    leadID,
		FromBot:   fromBot,
		ToBot:     toBot,
		Reason:    reason,
	})
}

// OnSessionQualified routes a freshly qualified intake lead toward the
// seller or buyer script based on the declared intent. Other bot types
// terminate with the qualified session; routing out of them is an
// explicit operator or rule action.
func (o *Orchestrator) OnSessionQualified(ctx context.Context, evt events.SessionQualified) {
	if evt.BotType != domain.BotIntake {
		return
	}

	session, err := o.store.GetActiveSession(ctx, evt.LeadID, evt.BotType)
	if err != nil {
		o.log.Error("orchestrator: failed to load intake session", "error", err)
		return
	}
	if session == nil {
		// Qualified sessions are terminal; load by id instead.
		s, err := o.loadSession(ctx, evt.SessionID)
		if err != nil {
			o.log.Error("orchestrator: failed to load qualified session", "error", err)
			return
		}
		session = s
	}

	target := intentTarget(session)
	if target == "" {
		o.log.Info("orchestrator: intake intent unclear, keeping intake ownership", "leadId", evt.LeadID)
		return
	}

	if _, err := o.Route(ctx, evt.LeadID, target); err != nil {
		o.log.Error("orchestrator: intake routing failed", "leadId", evt.LeadID, "error", err)
	}
}

// loadSession is a narrow indirection so OnSessionQualified can read a
// terminal session without widening OrchestratorStore for callers that
// never need it.
func (o *Orchestrator) loadSession(ctx context.Context, sessionID uuid.UUID) (*domain.ConversationSession, error) {
	loader, ok := o.store.(interface {
		GetSession(ctx context.Context, id uuid.UUID) (*domain.ConversationSession, error)
	})
	if !ok {
		return nil, nil
	}
	return loader.GetSession(ctx, sessionID)
}

// intentTarget maps the intake "intent" answer to a bot type. Mentions
// of selling win over buying; "both" goes to seller first since listing
// conversations gate the purchase side.
func intentTarget(session *domain.ConversationSession) domain.BotType {
	if session == nil {
		return ""
	}
	for _, ans := range session.Answers {
		if ans.Question != "intent" {
			continue
		}
		text := strings.ToLower(ans.Body)
		switch {
		case strings.Contains(text, "sell") || strings.Contains(text, "both"):
			return domain.BotSeller
		case strings.Contains(text, "buy"):
			return domain.BotBuyer
		}
	}
	return ""
}
