package notification

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"leadflow_backend/internal/events"
	"leadflow_backend/platform/logger"
)

type recordingSender struct {
	mu    sync.Mutex
	sent  []string // "to|subject"
	fails bool
}

func (r *recordingSender) Send(_ context.Context, to, subject, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fails {
		return context.DeadlineExceeded
	}
	r.sent = append(r.sent, to+"|"+subject)
	return nil
}

func TestSyncFailureAlertsEveryRecipient(t *testing.T) {
	log := logger.New("test")
	bus := events.NewInMemoryBus(log)
	sender := &recordingSender{}
	m := New(sender, []string{"ops@example.com", "lead-team@example.com"}, log)
	m.RegisterHandlers(bus)

	bus.Publish(context.Background(), events.CRMSyncFailed{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    uuid.New(),
		Attempts:  5,
		Error:     "crm status 503",
	})
	bus.Wait()

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.sent) != 2 {
		t.Fatalf("alerts sent = %d, want 2", len(sender.sent))
	}
	for _, entry := range sender.sent {
		if !strings.Contains(entry, "CRM sync failed") {
			t.Errorf("unexpected alert %q", entry)
		}
	}
}

func TestDeadLetterAlertCarriesKey(t *testing.T) {
	log := logger.New("test")
	sender := &recordingSender{}
	m := New(sender, []string{"ops@example.com"}, log)

	err := m.Handle(context.Background(), events.EventDeadLettered{
		BaseEvent:      events.NewBaseEvent(),
		IdempotencyKey: "ghl:contact.updated:abc:123",
		Source:         "ghl",
		Type:           "contact.updated",
		Reason:         "missing source or type",
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("alerts sent = %d, want 1", len(sender.sent))
	}
}

func TestAlertingDisabledWithoutRecipients(t *testing.T) {
	log := logger.New("test")
	sender := &recordingSender{}
	m := New(sender, nil, log)

	if err := m.NotifyOperator(context.Background(), "subject", "body"); err != nil {
		t.Fatalf("NotifyOperator: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Error("alert sent while disabled")
	}
}

func TestNotifyOperatorSurfacesSendFailure(t *testing.T) {
	log := logger.New("test")
	sender := &recordingSender{fails: true}
	m := New(sender, []string{"ops@example.com"}, log)

	if err := m.NotifyOperator(context.Background(), "subject", "body"); err == nil {
		t.Error("send failure swallowed")
	}
}
