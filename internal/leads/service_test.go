package leads

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"leadflow_backend/internal/conversation"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/ingest"
	"leadflow_backend/internal/leads/bots"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/internal/leads/scoring"
	"leadflow_backend/platform/logger"
)

func (m *memStore) CreateLead(_ context.Context, params repository.CreateLeadParams) (domain.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lead := domain.Lead{
		ID:         uuid.New(),
		ExternalID: params.ExternalID,
		Name:       params.Name,
		Phone:      params.Phone,
		Email:      params.Email,
		OwningBot:  params.OwningBot,
		Source:     params.Source,
		CreatedAt:  time.Now(),
	}
	m.leads[lead.ID] = lead
	return lead, nil
}

func (m *memStore) GetLeadByExternalID(_ context.Context, externalID string) (domain.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, lead := range m.leads {
		if externalID != "" && lead.ExternalID == externalID {
			return lead, nil
		}
	}
	return domain.Lead{}, repository.ErrNotFound
}

func (m *memStore) GetLeadByPhone(_ context.Context, phone string) (domain.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, lead := range m.leads {
		if phone != "" && lead.Phone == phone {
			return lead, nil
		}
	}
	return domain.Lead{}, repository.ErrNotFound
}

type memScreener struct {
	optedOut map[uuid.UUID]bool
	screened []string
}

func (s *memScreener) ScreenInbound(_ context.Context, leadID uuid.UUID, body string) (bool, error) {
	s.screened = append(s.screened, body)
	return s.optedOut[leadID], nil
}

type recordingOutbound struct {
	messages []string
}

func (r *recordingOutbound) SendMessage(_ context.Context, _ domain.Lead, body string) error {
	r.messages = append(r.messages, body)
	return nil
}

func testLeadsService(t *testing.T) (*Service, *memStore, *memScreener, *recordingOutbound) {
	t.Helper()
	log := logger.New("test")
	bus := events.NewInMemoryBus(log)
	store := newMemStore()
	thresholds := domain.Thresholds{
		HotQuestionsRequired: 4, HotQualityThreshold: 0.7,
		WarmQuestionsRequired: 3, WarmQualityThreshold: 0.5,
		StallWindow: 3, StallQualityFloor: 0.25,
	}
	scorer := scoring.New(store, thresholds, bus, log)
	sessions := conversation.New(store, bots.Default(), scorer, allowAllGate{}, nil, bus, log, 30*time.Minute, 2)
	screener := &memScreener{optedOut: make(map[uuid.UUID]bool)}
	outbound := &recordingOutbound{}
	return NewService(store, sessions, screener, outbound, bus, log), store, screener, outbound
}

func inboundMessage(externalID, phone, body string) ingest.SourceEvent {
	return ingest.SourceEvent{
		Source:     "ghl",
		Type:       ingest.EventTypeInboundMessage,
		ExternalID: externalID,
		Payload: map[string]any{
			"phone": phone,
			"name":  "Pat Doe",
			"body":  body,
		},
		Timestamp: time.Now(),
	}
}

func TestHandleInboundCreatesLeadOnFirstContact(t *testing.T) {
	svc, store, _, outbound := testLeadsService(t)
	ctx := context.Background()

	err := svc.HandleInbound(ctx, inboundMessage("contact-77", "+14805551234", "hi, what's my house worth?"))
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}

	lead, err := store.GetLeadByExternalID(ctx, "contact-77")
	if err != nil {
		t.Fatal("no lead created on first contact")
	}
	if lead.OwningBot != domain.BotIntake {
		t.Errorf("owning bot = %s, want intake", lead.OwningBot)
	}
	if lead.Source != "ghl" {
		t.Errorf("source = %q, want ghl", lead.Source)
	}

	session, err := store.GetActiveSession(ctx, lead.ID, domain.BotIntake)
	if err != nil {
		t.Fatal(err)
	}
	if session == nil {
		t.Fatal("no intake session opened for the new lead")
	}
	if len(outbound.messages) != 1 {
		t.Fatalf("outbound messages = %d, want 1", len(outbound.messages))
	}
}

func TestHandleInboundReusesLeadMatchedByPhone(t *testing.T) {
	svc, store, _, _ := testLeadsService(t)
	ctx := context.Background()

	existing, err := store.CreateLead(ctx, repository.CreateLeadParams{
		ExternalID: "contact-1",
		Phone:      "+14805551234",
		OwningBot:  domain.BotIntake,
		Source:     "ghl",
	})
	if err != nil {
		t.Fatal(err)
	}

	// Same phone arrives from another source without the known external id.
	ev := inboundMessage("", "+14805551234", "following up on my house")
	ev.Source = "facebook"
	if err := svc.HandleInbound(ctx, ev); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}

	if len(store.leads) != 1 {
		t.Fatalf("leads = %d, want 1 (matched by phone)", len(store.leads))
	}
	if session, _ := store.GetActiveSession(ctx, existing.ID, domain.BotIntake); session == nil {
		t.Error("message not routed to the existing lead's session")
	}
}

func TestHandleInboundStopsForOptedOutLead(t *testing.T) {
	svc, store, screener, outbound := testLeadsService(t)
	ctx := context.Background()

	lead, err := store.CreateLead(ctx, repository.CreateLeadParams{
		ExternalID: "contact-9",
		Phone:      "+14805559999",
		OwningBot:  domain.BotIntake,
	})
	if err != nil {
		t.Fatal(err)
	}
	screener.optedOut[lead.ID] = true

	if err := svc.HandleInbound(ctx, inboundMessage("contact-9", "+14805559999", "STOP")); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}

	if session, _ := store.GetActiveSession(ctx, lead.ID, domain.BotIntake); session != nil {
		t.Error("conversation advanced for an opted-out lead")
	}
	if len(outbound.messages) != 0 {
		t.Error("reply sent to an opted-out lead")
	}
}

func TestHandleInboundRejectsEmptyBody(t *testing.T) {
	svc, _, _, _ := testLeadsService(t)

	ev := inboundMessage("contact-5", "+14805551111", "")
	if err := svc.HandleInbound(context.Background(), ev); err == nil {
		t.Error("HandleInbound accepted an event without a body")
	}
}

func TestResolveLeadIDPrefersExternalID(t *testing.T) {
	svc, store, _, _ := testLeadsService(t)
	ctx := context.Background()

	byExternal, _ := store.CreateLead(ctx, repository.CreateLeadParams{
		ExternalID: "contact-a", Phone: "+14805550001", OwningBot: domain.BotIntake,
	})
	byPhone, _ := store.CreateLead(ctx, repository.CreateLeadParams{
		ExternalID: "contact-b", Phone: "+14805550002", OwningBot: domain.BotIntake,
	})

	// The external id wins even when the phone belongs to another lead.
	got, err := svc.ResolveLeadID(ctx, "contact-a", "+14805550002")
	if err != nil {
		t.Fatalf("ResolveLeadID: %v", err)
	}
	if got != byExternal.ID {
		t.Errorf("resolved %s, want the external-id match", got)
	}

	got, err = svc.ResolveLeadID(ctx, "contact-unknown", "+14805550002")
	if err != nil {
		t.Fatalf("ResolveLeadID: %v", err)
	}
	if got != byPhone.ID {
		t.Errorf("resolved %s, want the phone match", got)
	}

	if _, err := svc.ResolveLeadID(ctx, "", "+14805550099"); err == nil {
		t.Error("ResolveLeadID found a lead that does not exist")
	}
}
