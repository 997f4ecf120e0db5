package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads/bots"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/leads/scoring"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
)

type memSessionStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*domain.ConversationSession
	handoffs []domain.HandoffRecord
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{sessions: make(map[uuid.UUID]*domain.ConversationSession)}
}

func (m *memSessionStore) GetActiveSession(_ context.Context, leadID uuid.UUID, botType domain.BotType) (*domain.ConversationSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.LeadID == leadID && s.BotType == botType && s.Active() {
			copied := *s
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memSessionStore) CreateSession(_ context.Context, session *domain.ConversationSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *session
	m.sessions[session.ID] = &copied
	return nil
}

func (m *memSessionStore) UpdateSession(_ context.Context, session *domain.ConversationSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *session
	m.sessions[session.ID] = &copied
	return nil
}

func (m *memSessionStore) ListIdleSessions(_ context.Context, cutoff time.Time) ([]domain.ConversationSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var idle []domain.ConversationSession
	for _, s := range m.sessions {
		if !s.Active() {
			continue
		}
		last := s.LastInboundAt
		if last.IsZero() {
			last = s.StartedAt
		}
		if !last.After(cutoff) {
			idle = append(idle, *s)
		}
	}
	return idle, nil
}

func (m *memSessionStore) CompleteHandoff(_ context.Context, source *domain.ConversationSession, handoff *domain.HandoffRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *source
	m.sessions[source.ID] = &copied
	m.handoffs = append(m.handoffs, *handoff)
	return nil
}

// racingSessionStore commits fresh inbound activity on a session right
// after the idle list query returns, like a message landing while the
// sweep is running.
type racingSessionStore struct {
	*memSessionStore
	sessionID uuid.UUID
	arrive    func(session *domain.ConversationSession)
}

func (s *racingSessionStore) ListIdleSessions(ctx context.Context, cutoff time.Time) ([]domain.ConversationSession, error) {
	idle, err := s.memSessionStore.ListIdleSessions(ctx, cutoff)
	if err != nil || s.arrive == nil {
		return idle, err
	}
	s.mu.Lock()
	if session, ok := s.sessions[s.sessionID]; ok {
		s.arrive(session)
	}
	s.mu.Unlock()
	s.arrive = nil
	return idle, nil
}

type fakeGate struct {
	allow  bool
	reason string
	sends  int
}

func (g *fakeGate) MayContactLead(_ context.Context, _ uuid.UUID, _ string) (bool, string, error) {
	return g.allow, g.reason, nil
}

func (g *fakeGate) RecordSend(_ context.Context, _ uuid.UUID, _ string) error {
	g.sends++
	return nil
}

func newTestService(t *testing.T, gate ContactGate) (*Service, *memSessionStore, *events.InMemoryBus) {
	t.Helper()
	log := logger.New("test")
	bus := events.NewInMemoryBus(log)
	store := newMemSessionStore()
	resultStore := &fakeResultStore{lead: domain.Lead{ID: uuid.New()}}
	scorer := scoring.New(resultStore, testThresholds(), bus, log)
	svc := New(store, bots.Default(), scorer, gate, nil, bus, log, 30*time.Minute, 2)
	return svc, store, bus
}

func TestHandleInboundCreatesSessionAndReplies(t *testing.T) {
	gate := &fakeGate{allow: true}
	svc, store, _ := newTestService(t, gate)
	leadID := uuid.New()

	reply, err := svc.HandleInbound(context.Background(), leadID, domain.BotSeller, "hi, saw your sign")
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}

	if reply.Body == "" {
		t.Error("allowed reply has empty body")
	}
	if reply.Suppressed {
		t.Error("reply suppressed despite gate allowing contact")
	}
	if gate.sends != 1 {
		t.Errorf("RecordSend calls = %d, want 1", gate.sends)
	}

	session, err := store.GetActiveSession(context.Background(), leadID, domain.BotSeller)
	if err != nil {
		t.Fatalf("GetActiveSession: %v", err)
	}
	if session == nil {
		t.Fatal("no session persisted for first inbound")
	}
	if session.State != domain.StateQuestion {
		t.Errorf("session state = %s, want question", session.State)
	}
}

func TestHandleInboundSuppressedWhenContactDenied(t *testing.T) {
	gate := &fakeGate{allow: false, reason: "opted_out"}
	svc, _, _ := newTestService(t, gate)

	reply, err := svc.HandleInbound(context.Background(), uuid.New(), domain.BotSeller, "hello")
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}

	if !reply.Suppressed {
		t.Error("reply not suppressed despite gate denial")
	}
	if reply.Body != "" {
		t.Errorf("suppressed reply has body %q", reply.Body)
	}
	if gate.sends != 0 {
		t.Errorf("RecordSend called %d times on a denied contact", gate.sends)
	}
}

func TestHandleInboundUnknownBotType(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeGate{allow: true})

	if _, err := svc.HandleInbound(context.Background(), uuid.New(), domain.BotType("concierge"), "hi"); err == nil {
		t.Fatal("expected error for unconfigured bot type")
	}
}

func TestCloseIdleSessions(t *testing.T) {
	svc, store, bus := newTestService(t, &fakeGate{allow: true})
	now := time.Now()

	var mu sync.Mutex
	var closed []events.SessionClosed
	bus.Subscribe(events.SessionClosed{}.EventName(), events.HandlerFunc(func(_ context.Context, e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		closed = append(closed, e.(events.SessionClosed))
		return nil
	}))

	stale := &domain.ConversationSession{
		ID:            uuid.New(),
		LeadID:        uuid.New(),
		BotType:       domain.BotSeller,
		State:         domain.StateQuestion,
		StartedAt:     now.Add(-2 * time.Hour),
		LastInboundAt: now.Add(-time.Hour),
	}
	fresh := &domain.ConversationSession{
		ID:            uuid.New(),
		LeadID:        uuid.New(),
		BotType:       domain.BotBuyer,
		State:         domain.StateQuestion,
		StartedAt:     now.Add(-time.Hour),
		LastInboundAt: now.Add(-time.Minute),
	}
	ctx := context.Background()
	if err := store.CreateSession(ctx, stale); err != nil {
		t.Fatal(err)
	}
	if err := store.CreateSession(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	n, err := svc.CloseIdleSessions(ctx, now)
	if err != nil {
		t.Fatalf("CloseIdleSessions: %v", err)
	}
	if n != 1 {
		t.Fatalf("closed %d sessions, want 1", n)
	}
	bus.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(closed) != 1 {
		t.Fatalf("SessionClosed events = %d, want 1", len(closed))
	}
	if closed[0].SessionID != stale.ID {
		t.Errorf("closed session %s, want %s", closed[0].SessionID, stale.ID)
	}
	if closed[0].Reason != "idle_timeout" {
		t.Errorf("close reason = %q, want idle_timeout", closed[0].Reason)
	}

	kept, err := store.GetActiveSession(ctx, fresh.LeadID, domain.BotBuyer)
	if err != nil {
		t.Fatal(err)
	}
	if kept == nil {
		t.Error("fresh session was closed by the idle sweep")
	}
}

func TestCloseIdleSessionsKeepsSessionActiveDuringSweep(t *testing.T) {
	log := logger.New("test")
	bus := events.NewInMemoryBus(log)
	inner := newMemSessionStore()
	now := time.Now()
	ctx := context.Background()

	session := &domain.ConversationSession{
		ID:            uuid.New(),
		LeadID:        uuid.New(),
		BotType:       domain.BotSeller,
		State:         domain.StateQuestion,
		StartedAt:     now.Add(-2 * time.Hour),
		LastInboundAt: now.Add(-time.Hour),
		Answers: []domain.Answer{
			{Question: "motivation", Body: "job relocation", Quality: 0.7},
		},
	}
	if err := inner.CreateSession(ctx, session); err != nil {
		t.Fatal(err)
	}

	// The lead replies between the list query and the sweep's re-read.
	store := &racingSessionStore{
		memSessionStore: inner,
		sessionID:       session.ID,
		arrive: func(s *domain.ConversationSession) {
			s.LastInboundAt = now.Add(-time.Minute)
			s.Answers = append(s.Answers, domain.Answer{
				Question: "timeline", Body: "next month", Quality: 0.8,
			})
		},
	}
	resultStore := &fakeResultStore{lead: domain.Lead{ID: uuid.New()}}
	scorer := scoring.New(resultStore, testThresholds(), bus, log)
	svc := New(store, bots.Default(), scorer, &fakeGate{allow: true}, nil, bus, log, 30*time.Minute, 2)

	n, err := svc.CloseIdleSessions(ctx, now)
	if err != nil {
		t.Fatalf("CloseIdleSessions: %v", err)
	}
	if n != 0 {
		t.Fatalf("closed %d sessions, want 0", n)
	}

	kept, err := store.GetActiveSession(ctx, session.LeadID, domain.BotSeller)
	if err != nil {
		t.Fatal(err)
	}
	if kept == nil {
		t.Fatal("session closed despite inbound activity during the sweep")
	}
	answered := false
	for _, ans := range kept.Answers {
		if ans.Question == "timeline" {
			answered = true
		}
	}
	if !answered {
		t.Error("answer recorded during the sweep was lost")
	}
}

func TestOpenSessionImportsBundle(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeGate{allow: true})
	leadID := uuid.New()

	bundle := &domain.ContextBundle{
		Facts: map[string]string{
			"motivation": "job relocation, need to move",
			"timeline":   "within 2 months",
		},
		Temperature: domain.TemperatureWarm,
		Confidence:  0.55,
	}

	session, err := svc.OpenSession(context.Background(), leadID, domain.BotSeller, bundle)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	if session.State != domain.StateQuestion {
		t.Errorf("state = %s, want question", session.State)
	}
	if session.QuestionIndex != 2 {
		t.Errorf("QuestionIndex = %d, want 2 (motivation and timeline already answered)", session.QuestionIndex)
	}
	if !session.TimelineOK {
		t.Error("imported near-term timeline did not set TimelineOK")
	}

	// A second open for the same lead and bot returns the existing session.
	again, err := svc.OpenSession(context.Background(), leadID, domain.BotSeller, nil)
	if err != nil {
		t.Fatalf("second OpenSession: %v", err)
	}
	if again.ID != session.ID {
		t.Errorf("second open created a new session %s, want %s", again.ID, session.ID)
	}
}
