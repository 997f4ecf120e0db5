package compliance

import (
	"context"
	"sync"
	"testing"
	"time"

	"leadflow_backend/internal/events"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
)

type memComplianceStore struct {
	mu     sync.Mutex
	states map[uuid.UUID]State
	sends  map[uuid.UUID][]time.Time
	audit  []AuditEntry
	phones map[uuid.UUID]string
}

func newMemComplianceStore() *memComplianceStore {
	return &memComplianceStore{
		states: make(map[uuid.UUID]State),
		sends:  make(map[uuid.UUID][]time.Time),
		phones: make(map[uuid.UUID]string),
	}
}

func (m *memComplianceStore) GetState(_ context.Context, leadID uuid.UUID) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[leadID]
	if !ok {
		return State{LeadID: leadID}, nil
	}
	return state, nil
}

func (m *memComplianceStore) SetOptOut(_ context.Context, leadID uuid.UUID, optedOut bool, keyword string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[leadID] = State{LeadID: leadID, OptedOut: optedOut, Keyword: keyword, UpdatedAt: time.Now()}
	return nil
}

func (m *memComplianceStore) CountSends(_ context.Context, leadID uuid.UUID, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, at := range m.sends[leadID] {
		if !at.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *memComplianceStore) RecordSend(_ context.Context, leadID uuid.UUID, _ string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends[leadID] = append(m.sends[leadID], at)
	return nil
}

func (m *memComplianceStore) AppendAudit(_ context.Context, entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, entry)
	return nil
}

func (m *memComplianceStore) GetLeadPhone(_ context.Context, leadID uuid.UUID) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phones[leadID], nil
}

func newTestValidator(t *testing.T) (*Validator, *memComplianceStore, *events.InMemoryBus) {
	t.Helper()
	log := logger.New("test")
	bus := events.NewInMemoryBus(log)
	store := newMemComplianceStore()
	return NewValidator(store, bus, log, 20, 200, nil, nil), store, bus
}

func TestScreenInboundOptOutAndReOptIn(t *testing.T) {
	v, store, bus := newTestValidator(t)
	leadID := uuid.New()
	ctx := context.Background()

	var mu sync.Mutex
	var optedOut []events.LeadOptedOut
	bus.Subscribe(events.LeadOptedOut{}.EventName(), events.HandlerFunc(func(_ context.Context, e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		optedOut = append(optedOut, e.(events.LeadOptedOut))
		return nil
	}))

	out, err := v.ScreenInbound(ctx, leadID, "please STOP texting me")
	if err != nil {
		t.Fatalf("ScreenInbound: %v", err)
	}
	if !out {
		t.Fatal("STOP keyword did not opt the lead out")
	}
	bus.Wait()

	decision, err := v.Check(ctx, leadID, "sms")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if decision.Allowed || decision.Reason != ReasonOptedOut {
		t.Errorf("decision = %+v, want denied opted_out", decision)
	}

	// Opt-out is monotonic: an ordinary message does not clear it.
	out, err = v.ScreenInbound(ctx, leadID, "actually what's my home worth")
	if err != nil {
		t.Fatalf("ScreenInbound: %v", err)
	}
	if !out {
		t.Error("opt-out cleared without an explicit re-opt-in")
	}

	out, err = v.ScreenInbound(ctx, leadID, "START")
	if err != nil {
		t.Fatalf("ScreenInbound: %v", err)
	}
	if out {
		t.Error("START did not re-enable contact")
	}

	decision, err = v.Check(ctx, leadID, "sms")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !decision.Allowed {
		t.Errorf("decision after re-opt-in = %+v, want allowed", decision)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(optedOut) != 1 || optedOut[0].Keyword != "STOP" {
		t.Errorf("LeadOptedOut events = %+v, want one with keyword STOP", optedOut)
	}

	if len(store.audit) == 0 {
		t.Fatal("no audit entries appended")
	}
}

func TestKeywordMatchingIsWordBounded(t *testing.T) {
	v, _, _ := newTestValidator(t)
	leadID := uuid.New()
	ctx := context.Background()

	cases := []struct {
		body string
		want bool
	}{
		{"STOP", true},
		{"stop", true},
		{"Please stop.", true},
		{"unsubscribe me now", true},
		{"we sell nonstop", false},
		{"cancelled the showing", false},
		{"I quit my job, need to relocate", true},
	}

	for _, tc := range cases {
		// Reset state between cases.
		if err := v.store.SetOptOut(ctx, leadID, false, ""); err != nil {
			t.Fatal(err)
		}
		out, err := v.ScreenInbound(ctx, leadID, tc.body)
		if err != nil {
			t.Fatalf("ScreenInbound(%q): %v", tc.body, err)
		}
		if out != tc.want {
			t.Errorf("ScreenInbound(%q) = %v, want %v", tc.body, out, tc.want)
		}
	}
}

func TestDailyCapBoundary(t *testing.T) {
	v, _, _ := newTestValidator(t)
	leadID := uuid.New()
	ctx := context.Background()

	// 19 sends: the 20th is still allowed.
	for i := 0; i < 19; i++ {
		if err := v.RecordSend(ctx, leadID, "sms"); err != nil {
			t.Fatal(err)
		}
	}
	decision, err := v.Check(ctx, leadID, "sms")
	if err != nil {
		t.Fatal(err)
	}
	if !decision.Allowed {
		t.Fatalf("20th message denied: %+v", decision)
	}

	if err := v.RecordSend(ctx, leadID, "sms"); err != nil {
		t.Fatal(err)
	}
	decision, err = v.Check(ctx, leadID, "sms")
	if err != nil {
		t.Fatal(err)
	}
	if decision.Allowed || decision.Reason != ReasonDailyCapExceeded {
		t.Errorf("21st message decision = %+v, want denied daily_cap_exceeded", decision)
	}
}

func TestDailyWindowRollsOff(t *testing.T) {
	v, store, _ := newTestValidator(t)
	leadID := uuid.New()
	ctx := context.Background()

	now := time.Now()
	v.now = func() time.Time { return now }

	// Cap reached yesterday; the window has rolled past all of it.
	for i := 0; i < 20; i++ {
		store.sends[leadID] = append(store.sends[leadID], now.Add(-25*time.Hour))
	}

	decision, err := v.Check(ctx, leadID, "sms")
	if err != nil {
		t.Fatal(err)
	}
	if !decision.Allowed {
		t.Errorf("decision = %+v, want allowed once the window rolled", decision)
	}
}

func TestMonthlyCapExceeded(t *testing.T) {
	v, store, _ := newTestValidator(t)
	leadID := uuid.New()
	ctx := context.Background()

	now := time.Now()
	v.now = func() time.Time { return now }

	// Spread under the daily cap but over the monthly cap.
	for day := 1; day <= 20; day++ {
		for i := 0; i < 10; i++ {
			store.sends[leadID] = append(store.sends[leadID], now.Add(-time.Duration(day)*25*time.Hour))
		}
	}

	decision, err := v.Check(ctx, leadID, "sms")
	if err != nil {
		t.Fatal(err)
	}
	if decision.Allowed || decision.Reason != ReasonMonthlyCapExceeded {
		t.Errorf("decision = %+v, want denied monthly_cap_exceeded", decision)
	}
}

func TestAuditMasksPhone(t *testing.T) {
	v, store, _ := newTestValidator(t)
	leadID := uuid.New()
	store.phones[leadID] = "+15551234567"

	if _, err := v.Check(context.Background(), leadID, "sms"); err != nil {
		t.Fatal(err)
	}

	if len(store.audit) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(store.audit))
	}
	entry := store.audit[0]
	if entry.MaskedPhone == "+15551234567" {
		t.Error("audit entry stored the raw phone number")
	}
	if entry.MaskedPhone == "" {
		t.Error("audit entry missing masked phone")
	}
}
