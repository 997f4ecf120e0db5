package notification

import (
	"context"
	"fmt"
	"strings"

	"leadflow_backend/internal/events"
	"leadflow_backend/platform/logger"
)

// Sender delivers one alert message. Satisfied by SMTPSender.
type Sender interface {
	Send(ctx context.Context, toEmail, subject, body string) error
}

// Module turns alert-worthy domain events into operator emails. With no
// sender or no recipients configured it logs and otherwise stays quiet;
// alerting never blocks the paths that raise it.
type Module struct {
	sender     Sender
	recipients []string
	log        *logger.Logger
}

func New(sender Sender, recipients []string, log *logger.Logger) *Module {
	return &Module{
		sender:     sender,
		recipients: recipients,
		log:        log,
	}
}

func (m *Module) enabled() bool {
	return m.sender != nil && len(m.recipients) > 0
}

// NotifyOperator sends a one-off alert. Used by the notify rule action.
func (m *Module) NotifyOperator(ctx context.Context, subject, body string) error {
	if !m.enabled() {
		m.log.Warn("operator alerting not configured, dropping alert", "subject", subject)
		return nil
	}

	var firstErr error
	for _, to := range m.recipients {
		if err := m.sender.Send(ctx, to, subject, body); err != nil {
			m.log.Error("failed to send operator alert", "to", to, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// RegisterHandlers subscribes the module to the events that warrant an
// operator alert.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.CRMSyncFailed{}.EventName(), m)
	bus.Subscribe(events.EventDeadLettered{}.EventName(), m)
	bus.Subscribe(events.CascadeExceeded{}.EventName(), m)
}

// Handle implements events.Handler.
func (m *Module) Handle(ctx context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.CRMSyncFailed:
		return m.NotifyOperator(ctx,
			"CRM sync failed for lead "+e.LeadID.String(),
			fmt.Sprintf("Syncing lead %s to the CRM failed after %d attempts.\nLast error: %s\n\nThe lead is flagged sync_failed; fix the cause and re-sync from the dashboard.",
				e.LeadID, e.Attempts, e.Error))
	case events.EventDeadLettered:
		return m.NotifyOperator(ctx,
			"Inbound event dead-lettered",
			fmt.Sprintf("An inbound event could not be processed and was parked.\n\nKey: %s\nSource: %s\nType: %s\nReason: %s",
				e.IdempotencyKey, e.Source, e.Type, e.Reason))
	case events.CascadeExceeded:
		return m.NotifyOperator(ctx,
			"Event cascade depth limit hit",
			fmt.Sprintf("A chain of internal events reached depth %d and was stopped.\nKey: %s\n\nCheck the orchestration rules for a loop between emit-event actions.",
				e.Depth, e.IdempotencyKey))
	default:
		m.log.Warn("notification: unhandled event", "event", event.EventName())
		return nil
	}
}

// FormatRecipients reports the configured alert targets for startup logs.
func (m *Module) FormatRecipients() string {
	if !m.enabled() {
		return "disabled"
	}
	return strings.Join(m.recipients, ", ")
}
