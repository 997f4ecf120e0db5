package ingest

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"leadflow_backend/internal/leads/domain"
)

// Standard action names wired at startup. Rules reference these by name.
const (
	ActionBotRoute        = "bot-route"
	ActionCRMSync         = "crm-sync"
	ActionComplianceCheck = "compliance-check"
	ActionNotify          = "notify"
	ActionEmitEvent       = "emit-event"
)

// LeadResolver finds the lead an event refers to. Satisfied by the
// leads service.
type LeadResolver interface {
	ResolveLeadID(ctx context.Context, externalID, phone string) (uuid.UUID, error)
}

// Router hands a lead off between bot types. Satisfied by the
// orchestrator.
type Router interface {
	Route(ctx context.Context, leadID uuid.UUID, toBot domain.BotType) (*domain.HandoffRecord, error)
}

// LeadSyncer pushes a lead to the CRM. Satisfied by the crm syncer.
type LeadSyncer interface {
	SyncLead(ctx context.Context, leadID uuid.UUID) error
}

// Screener applies opt-out screening to an inbound body. Satisfied by
// the compliance validator.
type Screener interface {
	ScreenInbound(ctx context.Context, leadID uuid.UUID, body string) (bool, error)
}

// Notifier raises an operator notification. Satisfied by the
// notification sender.
type Notifier interface {
	NotifyOperator(ctx context.Context, subject, body string) error
}

func resolveLead(ctx context.Context, resolver LeadResolver, ev SourceEvent) (uuid.UUID, error) {
	phone, _ := ev.Payload["phone"].(string)
	id, err := resolver.ResolveLeadID(ctx, ev.ExternalID, phone)
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolve lead: %w", err)
	}
	return id, nil
}

// BotRouteAction hands the event's lead to the bot type named in the
// rule params ("target": "seller"|"buyer"|"intake").
func BotRouteAction(resolver LeadResolver, router Router) Action {
	return func(ctx context.Context, ev SourceEvent, params map[string]any) error {
		target, _ := params["target"].(string)
		botType := domain.BotType(target)
		if !botType.Valid() {
			return fmt.Errorf("invalid route target %q", target)
		}
		leadID, err := resolveLead(ctx, resolver, ev)
		if err != nil {
			return err
		}
		_, err = router.Route(ctx, leadID, botType)
		return err
	}
}

// CRMSyncAction pushes the event's lead to the CRM.
func CRMSyncAction(resolver LeadResolver, syncer LeadSyncer) Action {
	return func(ctx context.Context, ev SourceEvent, _ map[string]any) error {
		leadID, err := resolveLead(ctx, resolver, ev)
		if err != nil {
			return err
		}
		return syncer.SyncLead(ctx, leadID)
	}
}

// ComplianceCheckAction screens the event's message body for opt-out
// keywords.
func ComplianceCheckAction(resolver LeadResolver, screener Screener) Action {
	return func(ctx context.Context, ev SourceEvent, _ map[string]any) error {
		body, _ := ev.Payload["body"].(string)
		if body == "" {
			return nil
		}
		leadID, err := resolveLead(ctx, resolver, ev)
		if err != nil {
			return err
		}
		_, err = screener.ScreenInbound(ctx, leadID, body)
		return err
	}
}

// NotifyAction raises an operator notification with the rule's subject.
func NotifyAction(notifier Notifier) Action {
	return func(ctx context.Context, ev SourceEvent, params map[string]any) error {
		subject, _ := params["subject"].(string)
		if subject == "" {
			subject = "rule notification: " + ev.Type
		}
		body := fmt.Sprintf("event %s from %s (external id %s)", ev.Type, ev.Source, ev.ExternalID)
		return notifier.NotifyOperator(ctx, subject, body)
	}
}

// EmitEventAction cascades an internal event ("type" param) carrying
// the parent's payload. Depth tracking in Ingest bounds the chain.
func EmitEventAction(svc *Service) Action {
	return func(ctx context.Context, ev SourceEvent, params map[string]any) error {
		eventType, _ := params["type"].(string)
		if eventType == "" {
			return fmt.Errorf("emit-event: missing type param")
		}
		result, err := svc.Cascade(ctx, ev, eventType, ev.Payload)
		if err != nil {
			return err
		}
		if result.Status == StatusCascadeExceeded {
			return fmt.Errorf("emit-event: %s", result.Reason)
		}
		return nil
	}
}
