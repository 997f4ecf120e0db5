package conversation

import (
	"context"
	"testing"
	"time"

	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads/bots"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/leads/scoring"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
)

type fakeResultStore struct {
	results []domain.QualificationResult
	lead    domain.Lead
}

func (f *fakeResultStore) SaveQualificationResult(_ context.Context, r domain.QualificationResult) (domain.QualificationResult, error) {
	r.ID = uuid.New()
	f.results = append(f.results, r)
	return r, nil
}

func (f *fakeResultStore) GetLead(_ context.Context, _ uuid.UUID) (domain.Lead, error) {
	return f.lead, nil
}

func (f *fakeResultStore) UpdateLeadTemperature(_ context.Context, _ uuid.UUID, temp domain.Temperature, confidence float64) error {
	f.lead.Temperature = temp
	f.lead.Confidence = confidence
	return nil
}

func testThresholds() domain.Thresholds {
	return domain.Thresholds{
		HotQuestionsRequired:  4,
		HotQualityThreshold:   0.7,
		WarmQuestionsRequired: 3,
		WarmQualityThreshold:  0.5,
		StallWindow:           3,
		StallQualityFloor:     0.25,
	}
}

func newTestMachine(t *testing.T, maxRecovery int) (*Machine, *fakeResultStore) {
	t.Helper()
	log := logger.New("test")
	store := &fakeResultStore{lead: domain.Lead{ID: uuid.New(), Temperature: domain.TemperatureCold}}
	scorer := scoring.New(store, testThresholds(), events.NewInMemoryBus(log), log)
	bot, err := bots.Default().Lookup(domain.BotSeller)
	if err != nil {
		t.Fatalf("lookup seller bot: %v", err)
	}
	return NewMachine(bot, scorer, maxRecovery), store
}

func newTestSession() *domain.ConversationSession {
	return &domain.ConversationSession{
		ID:        uuid.New(),
		LeadID:    uuid.New(),
		State:     domain.StateGreeting,
		StartedAt: time.Now(),
	}
}

func TestAdvanceGreetingOpensQuestions(t *testing.T) {
	m, store := newTestMachine(t, 2)
	session := newTestSession()

	tr, err := m.Advance(context.Background(), session, "hi there", time.Now())
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}

	if tr.From != domain.StateGreeting || tr.To != domain.StateQuestion {
		t.Errorf("transition = %s -> %s, want greeting -> question", tr.From, tr.To)
	}
	if tr.Prompt.Intent != "question" {
		t.Errorf("prompt intent = %q, want question", tr.Prompt.Intent)
	}
	if len(session.Answers) != 0 {
		t.Errorf("greeting reply recorded as answer: %d answers", len(session.Answers))
	}
	if len(store.results) != 0 {
		t.Errorf("greeting step ran scoring: %d results", len(store.results))
	}
}

func TestAdvanceFullQualification(t *testing.T) {
	m, store := newTestMachine(t, 2)
	session := newTestSession()
	ctx := context.Background()
	now := time.Now()

	if _, err := m.Advance(ctx, session, "hey", now); err != nil {
		t.Fatalf("greeting: %v", err)
	}

	answers := []string{
		"We already bought our next place and need to sell within 60 days",
		"We need to be out in 2 months, asap really",
		"We definitely need at least $450k to make it work",
		"Roof replaced in 2022, the rest is ready to go",
		"Owner-occupied, we already started packing, can be out in 30 days",
	}

	var last Transition
	for i, body := range answers {
		tr, err := m.Advance(ctx, session, body, now.Add(time.Duration(i)*time.Minute))
		if err != nil {
			t.Fatalf("answer %d: %v", i, err)
		}
		last = tr
	}

	if session.State != domain.StateQualified {
		t.Fatalf("state = %s, want qualified", session.State)
	}
	if session.ClosedAt == nil {
		t.Error("qualified session has no ClosedAt")
	}
	if !session.TimelineOK {
		t.Error("near-term timeline answer did not set TimelineOK")
	}
	if last.Prompt.Intent != "qualified" {
		t.Errorf("final prompt intent = %q, want qualified", last.Prompt.Intent)
	}
	if last.Result == nil {
		t.Fatal("final step produced no qualification result")
	}
	if last.Result.Temperature != domain.TemperatureHot {
		t.Errorf("temperature = %s, want hot", last.Result.Temperature)
	}
	if len(store.results) != len(answers) {
		t.Errorf("results persisted = %d, want %d (one per answer)", len(store.results), len(answers))
	}
}

func TestAdvanceStallThenRecovery(t *testing.T) {
	m, _ := newTestMachine(t, 2)
	session := newTestSession()
	ctx := context.Background()
	now := time.Now()

	if _, err := m.Advance(ctx, session, "hello", now); err != nil {
		t.Fatalf("greeting: %v", err)
	}

	evasive := []string{"maybe, not sure", "don't know, depends", "no idea, we'll see"}
	var tr Transition
	for i, body := range evasive {
		var err error
		tr, err = m.Advance(ctx, session, body, now)
		if err != nil {
			t.Fatalf("evasive answer %d: %v", i, err)
		}
	}

	if session.State != domain.StateStalledRecovery {
		t.Fatalf("state after stall window = %s, want stalled_recovery", session.State)
	}
	if !tr.Stalled {
		t.Error("transition not flagged stalled")
	}
	if session.RecoveryAttempts != 1 {
		t.Errorf("RecoveryAttempts = %d, want 1", session.RecoveryAttempts)
	}
	if tr.Prompt.Intent != "stall_recovery" {
		t.Errorf("prompt intent = %q, want stall_recovery", tr.Prompt.Intent)
	}

	indexBefore := session.QuestionIndex
	tr, err := m.Advance(ctx, session, "We need to sell within 3 months", now)
	if err != nil {
		t.Fatalf("concrete answer: %v", err)
	}
	if session.State != domain.StateQuestion {
		t.Errorf("state after concrete answer = %s, want question", session.State)
	}
	if session.QuestionIndex != indexBefore+1 {
		t.Errorf("QuestionIndex = %d, want %d", session.QuestionIndex, indexBefore+1)
	}
	if tr.Prompt.Intent != "question" {
		t.Errorf("prompt intent = %q, want question", tr.Prompt.Intent)
	}
}

func TestAdvanceTakeAwayAfterExhaustedRecovery(t *testing.T) {
	m, _ := newTestMachine(t, 2)
	session := newTestSession()
	ctx := context.Background()
	now := time.Now()

	if _, err := m.Advance(ctx, session, "hello", now); err != nil {
		t.Fatalf("greeting: %v", err)
	}

	evasive := []string{
		"maybe, not sure",
		"don't know, depends",
		"no idea, we'll see",  // stall fires here, attempt 1
		"maybe, not sure",     // attempt 2
		"don't know, depends", // attempt 3 exceeds the budget
	}
	var tr Transition
	for i, body := range evasive {
		var err error
		tr, err = m.Advance(ctx, session, body, now)
		if err != nil {
			t.Fatalf("answer %d: %v", i, err)
		}
	}

	if session.State != domain.StateStalledRecovery {
		t.Fatalf("state = %s, want stalled_recovery", session.State)
	}
	if !session.TakeAway {
		t.Error("TakeAway not set after recovery attempts exceeded the budget")
	}
	if session.RecoveryAttempts != 3 {
		t.Errorf("RecoveryAttempts = %d, want 3", session.RecoveryAttempts)
	}
	if tr.Prompt.Intent != "takeaway" {
		t.Errorf("prompt intent = %q, want takeaway", tr.Prompt.Intent)
	}
}

func TestAdvanceTerminalSessionNoOp(t *testing.T) {
	m, store := newTestMachine(t, 2)
	session := newTestSession()
	session.State = domain.StateQualified

	tr, err := m.Advance(context.Background(), session, "one more thing", time.Now())
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if tr.From != domain.StateQualified || tr.To != domain.StateQualified {
		t.Errorf("terminal session transitioned: %s -> %s", tr.From, tr.To)
	}
	if len(session.Answers) != 0 {
		t.Error("terminal session recorded an answer")
	}
	if len(store.results) != 0 {
		t.Error("terminal session ran scoring")
	}
}
