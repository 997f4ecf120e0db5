package conversation

import (
	"context"
	"sync"
	"time"

	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads/bots"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/leads/scoring"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
)

// SessionStore persists conversation sessions. Satisfied by the leads
// repository.
type SessionStore interface {
	GetActiveSession(ctx context.Context, leadID uuid.UUID, botType domain.BotType) (*domain.ConversationSession, error)
	CreateSession(ctx context.Context, session *domain.ConversationSession) error
	UpdateSession(ctx context.Context, session *domain.ConversationSession) error
	ListIdleSessions(ctx context.Context, cutoff time.Time) ([]domain.ConversationSession, error)
	CompleteHandoff(ctx context.Context, source *domain.ConversationSession, handoff *domain.HandoffRecord) error
}

// ContactGate is consulted before any outbound reply. Satisfied by the
// compliance validator.
type ContactGate interface {
	MayContactLead(ctx context.Context, leadID uuid.UUID, channel string) (allowed bool, reason string, err error)
	RecordSend(ctx context.Context, leadID uuid.UUID, channel string) error
}

// Replier drafts the outbound reply text from a prompt. Satisfied by the
// responder client; a nil Replier falls back to the prompt template.
type Replier interface {
	Draft(ctx context.Context, prompt bots.Prompt, session *domain.ConversationSession) (string, error)
}

// Reply is the outcome of handling one inbound message.
type Reply struct {
	Transition Transition
	Body       string // empty when compliance denied the outbound
	Suppressed bool   // true when the reply was blocked by compliance
}

// Service owns session lifecycle: inbound handling, idle timeout
// closure, and open/close operations used by the bot orchestrator.
// All mutations for one lead are serialized through a per-lead lock;
// distinct leads proceed in parallel. The lock is never held across
// the Replier's network call.
type Service struct {
	store       SessionStore
	registry    *bots.Registry
	scorer      *scoring.Service
	gate        ContactGate
	replier     Replier
	eventBus    events.Bus
	log         *logger.Logger
	idleTimeout time.Duration
	maxRecovery int

	leadLocks sync.Map // uuid.UUID -> *sync.Mutex
}

// New creates the conversation service.
func New(store SessionStore, registry *bots.Registry, scorer *scoring.Service, gate ContactGate, replier Replier, eventBus events.Bus, log *logger.Logger, idleTimeout time.Duration, maxRecovery int) *Service {
	return &Service{
		store:       store,
		registry:    registry,
		scorer:      scorer,
		gate:        gate,
		replier:     replier,
		eventBus:    eventBus,
		log:         log,
		idleTimeout: idleTimeout,
		maxRecovery: maxRecovery,
	}
}

func (s *Service) lockFor(leadID uuid.UUID) *sync.Mutex {
	mu, _ := s.leadLocks.LoadOrStore(leadID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// HandleInbound advances the lead's session for the owning bot type with
// an inbound message and produces the gated outbound reply.
func (s *Service) HandleInbound(ctx context.Context, leadID uuid.UUID, botType domain.BotType, body string) (Reply, error) {
	bot, err := s.registry.Lookup(botType)
	if err != nil {
		return Reply{}, err
	}

	mu := s.lockFor(leadID)
	mu.Lock()

	session, err := s.store.GetActiveSession(ctx, leadID, botType)
	if err != nil {
		mu.Unlock()
		return Reply{}, err
	}
	if session == nil {
		session = newSession(leadID, botType)
		if err := s.store.CreateSession(ctx, session); err != nil {
			mu.Unlock()
			return Reply{}, err
		}
	}

	machine := NewMachine(bot, s.scorer, s.maxRecovery)
	tr, err := machine.Advance(ctx, session, body, time.Now())
	if err != nil {
		mu.Unlock()
		return Reply{}, err
	}

	if err := s.store.UpdateSession(ctx, session); err != nil {
		mu.Unlock()
		return Reply{}, err
	}
	mu.Unlock()

	s.publishTransition(ctx, session, tr)

	return s.respond(ctx, session, tr)
}

// respond runs the compliance gate and drafts the reply. Called after
// the per-lead lock is released; drafting may block on network I/O.
func (s *Service) respond(ctx context.Context, session *domain.ConversationSession, tr Transition) (Reply, error) {
	reply := Reply{Transition: tr}
	if tr.Prompt.Text == "" {
		return reply, nil
	}

	allowed, reason, err := s.gate.MayContactLead(ctx, session.LeadID, "sms")
	if err != nil {
		return reply, err
	}
	if !allowed {
		s.log.Info("conversation: reply suppressed", "leadId", session.LeadID, "reason", reason)
		reply.Suppressed = true
		return reply, nil
	}

	text := tr.Prompt.Text
	if s.replier != nil {
		if drafted, err := s.replier.Draft(ctx, tr.Prompt, session); err == nil && drafted != "" {
			text = drafted
		} else if err != nil {
			// Drafting is best-effort; the template is always available.
			s.log.Warn("conversation: reply drafting failed, using template", "error", err)
		}
	}

	if err := s.gate.RecordSend(ctx, session.LeadID, "sms"); err != nil {
		return reply, err
	}

	reply.Body = text
	return reply, nil
}

func (s *Service) publishTransition(ctx context.Context, session *domain.ConversationSession, tr Transition) {
	if tr.Stalled && tr.To == domain.StateStalledRecovery && tr.From != domain.StateStalledRecovery {
		s.eventBus.Publish(ctx, events.SessionStalled{
			BaseEvent: events.NewBaseEvent(),
			LeadID:    session.LeadID,
			SessionID: session.ID,
			BotType:   session.BotType,
			Attempts:  session.RecoveryAttempts,
		})
	}

	if tr.To == domain.StateQualified && tr.From != domain.StateQualified && tr.Result != nil {
		s.eventBus.Publish(ctx, events.SessionQualified{
			BaseEvent:   events.NewBaseEvent(),
			LeadID:      session.LeadID,
			SessionID:   session.ID,
			BotType:     session.BotType,
			Temperature: tr.Result.Temperature,
			Confidence:  tr.Result.Confidence,
		})
	}
}

// OpenSession starts (or resumes) a session for the target bot type,
// seeding it from a handoff bundle when one is supplied. Used by the
// bot orchestrator; the caller holds no lock.
func (s *Service) OpenSession(ctx context.Context, leadID uuid.UUID, botType domain.BotType, bundle *domain.ContextBundle) (*domain.ConversationSession, error) {
	bot, err := s.registry.Lookup(botType)
	if err != nil {
		return nil, err
	}

	mu := s.lockFor(leadID)
	mu.Lock()
	defer mu.Unlock()

	if existing, err := s.store.GetActiveSession(ctx, leadID, botType); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	session := newSession(leadID, botType)
	if bundle != nil {
		session.State = domain.StateQuestion
		bot.ImportContext(session, *bundle)
	}

	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// CloseForHandoff closes the source session of a handoff. Session
// closure, the transfer record, and the ownership change commit as one
// store operation; on failure the session's in-memory fields are
// restored so the caller sees the same state the store kept.
func (s *Service) CloseForHandoff(ctx context.Context, session *domain.ConversationSession, handoff *domain.HandoffRecord) error {
	mu := s.lockFor(session.LeadID)
	mu.Lock()
	defer mu.Unlock()

	prevState := session.State
	prevClosedAt := session.ClosedAt
	now := time.Now()
	session.State = domain.StateClosed
	session.ClosedAt = &now
	if err := s.store.CompleteHandoff(ctx, session, handoff); err != nil {
		session.State = prevState
		session.ClosedAt = prevClosedAt
		return err
	}

	s.eventBus.Publish(ctx, events.SessionClosed{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    session.LeadID,
		SessionID: session.ID,
		BotType:   session.BotType,
		Reason:    "handoff",
	})
	return nil
}

// CloseIdleSessions closes every active session whose last inbound
// activity predates the idle timeout. Returns the number closed.
// Invoked by the scheduler's sweep task; the timeout is a deadline
// check, not a blocking wait.
func (s *Service) CloseIdleSessions(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.idleTimeout)
	idle, err := s.store.ListIdleSessions(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	closed := 0
	for i := range idle {
		listed := idle[i]

		mu := s.lockFor(listed.LeadID)
		mu.Lock()
		// Re-read under the lock: an inbound may have committed since the
		// list query, so the listed row can be stale. Deciding (and writing
		// back) a snapshot would close a live session and drop its transcript.
		session, err := s.store.GetActiveSession(ctx, listed.LeadID, listed.BotType)
		if err != nil {
			mu.Unlock()
			s.log.DatabaseError("re-read idle session", err)
			continue
		}
		if session == nil || session.ID != listed.ID || !session.IdleSince(now, s.idleTimeout) {
			mu.Unlock()
			continue
		}
		session.State = domain.StateClosed
		closedAt := now
		session.ClosedAt = &closedAt
		err = s.store.UpdateSession(ctx, session)
		mu.Unlock()

		if err != nil {
			s.log.DatabaseError("close idle session", err)
			continue
		}

		closed++
		s.eventBus.Publish(ctx, events.SessionClosed{
			BaseEvent: events.NewBaseEvent(),
			LeadID:    session.LeadID,
			SessionID: session.ID,
			BotType:   session.BotType,
			Reason:    "idle_timeout",
		})
	}

	return closed, nil
}

func newSession(leadID uuid.UUID, botType domain.BotType) *domain.ConversationSession {
	now := time.Now()
	return &domain.ConversationSession{
		ID:        uuid.New(),
		LeadID:    leadID,
		BotType:   botType,
		State:     domain.StateGreeting,
		StartedAt: now,
	}
}
