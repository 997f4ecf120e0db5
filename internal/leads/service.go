package leads

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"leadflow_backend/internal/conversation"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/ingest"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/phone"
)

// LeadStore is the lead persistence the service depends on.
type LeadStore interface {
	CreateLead(ctx context.Context, params repository.CreateLeadParams) (domain.Lead, error)
	GetLead(ctx context.Context, id uuid.UUID) (domain.Lead, error)
	GetLeadByExternalID(ctx context.Context, externalID string) (domain.Lead, error)
	GetLeadByPhone(ctx context.Context, phone string) (domain.Lead, error)
}

// InboundScreener applies opt-out and re-opt-in keywords before a
// message reaches a conversation.
type InboundScreener interface {
	ScreenInbound(ctx context.Context, leadID uuid.UUID, body string) (bool, error)
}

// OutboundSender delivers a drafted reply back to the lead's channel.
type OutboundSender interface {
	SendMessage(ctx context.Context, lead domain.Lead, body string) error
}

// Service resolves inbound source events to leads and feeds their
// messages into the owning bot's conversation.
type Service struct {
	store         LeadStore
	conversations *conversation.Service
	screener      InboundScreener
	outbound      OutboundSender
	eventBus      events.Bus
	log           *logger.Logger
}

func NewService(store LeadStore, conversations *conversation.Service, screener InboundScreener, outbound OutboundSender, eventBus events.Bus, log *logger.Logger) *Service {
	return &Service{
		store:         store,
		conversations: conversations,
		screener:      screener,
		outbound:      outbound,
		eventBus:      eventBus,
		log:           log,
	}
}

// ResolveLeadID finds a lead by source external ID, falling back to the
// normalized phone number.
func (s *Service) ResolveLeadID(ctx context.Context, externalID, phoneNumber string) (uuid.UUID, error) {
	if externalID != "" {
		lead, err := s.store.GetLeadByExternalID(ctx, externalID)
		if err == nil {
			return lead.ID, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return uuid.Nil, err
		}
	}

	if normalized := phone.NormalizeE164(phoneNumber); normalized != "" {
		lead, err := s.store.GetLeadByPhone(ctx, normalized)
		if err == nil {
			return lead.ID, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return uuid.Nil, err
		}
	}

	return uuid.Nil, repository.ErrNotFound
}

// HandleInbound processes one inbound message event: resolve or create
// the lead, screen the body for compliance keywords, then advance the
// owning bot's conversation and deliver the reply.
func (s *Service) HandleInbound(ctx context.Context, ev ingest.SourceEvent) error {
	body, _ := ev.Payload["body"].(string)
	if body == "" {
		return fmt.Errorf("inbound message event has no body")
	}

	lead, err := s.resolveOrCreateLead(ctx, ev)
	if err != nil {
		return fmt.Errorf("resolve lead: %w", err)
	}

	optedOut, err := s.screener.ScreenInbound(ctx, lead.ID, body)
	if err != nil {
		return fmt.Errorf("screen inbound: %w", err)
	}
	if optedOut {
		s.log.Info("inbound message from opted-out lead, conversation not advanced", "leadId", lead.ID)
		return nil
	}

	reply, err := s.conversations.HandleInbound(ctx, lead.ID, lead.OwningBot, body)
	if err != nil {
		return fmt.Errorf("advance conversation: %w", err)
	}

	if reply.Suppressed || reply.Body == "" || s.outbound == nil {
		return nil
	}
	if err := s.outbound.SendMessage(ctx, lead, reply.Body); err != nil {
		return fmt.Errorf("deliver reply: %w", err)
	}
	return nil
}

func (s *Service) resolveOrCreateLead(ctx context.Context, ev ingest.SourceEvent) (domain.Lead, error) {
	externalID := ev.ExternalID
	if externalID == "" {
		externalID, _ = ev.Payload["contact_id"].(string)
	}
	phoneRaw, _ := ev.Payload["phone"].(string)

	leadID, err := s.ResolveLeadID(ctx, externalID, phoneRaw)
	if err == nil {
		return s.store.GetLead(ctx, leadID)
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return domain.Lead{}, err
	}

	name, _ := ev.Payload["name"].(string)
	email, _ := ev.Payload["email"].(string)

	lead, err := s.store.CreateLead(ctx, repository.CreateLeadParams{
		ExternalID: externalID,
		Name:       name,
		Phone:      phone.NormalizeE164(phoneRaw),
		Email:      email,
		OwningBot:  domain.BotIntake,
		Source:     ev.Source,
	})
	if err != nil {
		return domain.Lead{}, fmt.Errorf("create lead: %w", err)
	}

	s.log.Info("lead created from first contact", "leadId", lead.ID, "source", lead.Source)
	s.eventBus.Publish(ctx, events.LeadCreated{
		BaseEvent:  events.NewBaseEvent(),
		LeadID:     lead.ID,
		ExternalID: lead.ExternalID,
		Source:     lead.Source,
		OwningBot:  lead.OwningBot,
	})
	return lead, nil
}
