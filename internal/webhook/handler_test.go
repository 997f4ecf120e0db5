package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"leadflow_backend/internal/ingest"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/validator"
)

type stubIngestor struct {
	events   []ingest.SourceEvent
	replayed []ingest.SourceEvent
	rules    []ingest.Rule
	result   ingest.ProcessingResult
}

func (s *stubIngestor) Ingest(_ context.Context, ev ingest.SourceEvent) (ingest.ProcessingResult, error) {
	s.events = append(s.events, ev)
	return s.result, nil
}

func (s *stubIngestor) Replay(_ context.Context, ev ingest.SourceEvent) (ingest.ProcessingResult, error) {
	s.replayed = append(s.replayed, ev)
	return s.result, nil
}

func (s *stubIngestor) ReplaceRules(rules *ingest.RuleSet) { s.rules = rules.Rules() }

func (s *stubIngestor) ActiveRules() []ingest.Rule { return s.rules }

type stubRuleStore struct {
	saved       []ingest.Rule
	deleted     []string
	deadLetters map[int64]ingest.DeadLetterRecord
	cleared     []int64
}

func (s *stubRuleStore) SaveRule(_ context.Context, rule ingest.Rule) error {
	s.saved = append(s.saved, rule)
	return nil
}

func (s *stubRuleStore) DeleteRule(_ context.Context, name string) error {
	s.deleted = append(s.deleted, name)
	return nil
}

func (s *stubRuleStore) ListRules(context.Context) ([]ingest.Rule, error) { return s.saved, nil }

func (s *stubRuleStore) ListDeadLetters(context.Context, int) ([]ingest.DeadLetterRecord, error) {
	records := make([]ingest.DeadLetterRecord, 0, len(s.deadLetters))
	for _, rec := range s.deadLetters {
		records = append(records, rec)
	}
	return records, nil
}

func (s *stubRuleStore) GetDeadLetter(_ context.Context, id int64) (ingest.DeadLetterRecord, error) {
	rec, ok := s.deadLetters[id]
	if !ok {
		return ingest.DeadLetterRecord{}, ingest.ErrNotFound
	}
	return rec, nil
}

func (s *stubRuleStore) DeleteDeadLetter(_ context.Context, id int64) error {
	s.cleared = append(s.cleared, id)
	delete(s.deadLetters, id)
	return nil
}

type stubKeyStore struct {
	byHash  map[string]APIKey
	revoked []uuid.UUID
}

func (s *stubKeyStore) Create(_ context.Context, name, source, hash, prefix string) (APIKey, error) {
	key := APIKey{ID: uuid.New(), Name: name, Source: source, KeyHash: hash, KeyPrefix: prefix, IsActive: true}
	if s.byHash == nil {
		s.byHash = make(map[string]APIKey)
	}
	s.byHash[hash] = key
	return key, nil
}

func (s *stubKeyStore) GetByHash(_ context.Context, hash string) (APIKey, error) {
	key, ok := s.byHash[hash]
	if !ok {
		return APIKey{}, ErrAPIKeyNotFound
	}
	return key, nil
}

func (s *stubKeyStore) List(context.Context) ([]APIKey, error) {
	keys := make([]APIKey, 0, len(s.byHash))
	for _, key := range s.byHash {
		keys = append(keys, key)
	}
	return keys, nil
}

func (s *stubKeyStore) Revoke(_ context.Context, id uuid.UUID) error {
	s.revoked = append(s.revoked, id)
	return nil
}

func testRouter(t *testing.T, ingestor *stubIngestor, rules *stubRuleStore, keys *stubKeyStore) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.New("test")
	handler := NewHandler(ingestor, rules, keys, validator.New(), log)

	r := gin.New()
	events := r.Group("/api/v1/webhooks")
	events.Use(APIKeyAuth(keys, log))
	events.POST("/events", handler.HandleIngestEvent)

	admin := r.Group("/api/v1/admin")
	admin.GET("/ingest/rules", handler.HandleListRules)
	admin.PUT("/ingest/rules/:name", handler.HandleSaveRule)
	admin.DELETE("/ingest/rules/:name", handler.HandleDeleteRule)
	admin.GET("/ingest/dead-letters", handler.HandleListDeadLetters)
	admin.POST("/ingest/dead-letters/:id/replay", handler.HandleReplayDeadLetter)
	return r
}

func seedKey(t *testing.T, keys *stubKeyStore, source string) string {
	t.Helper()
	plaintext, hash, prefix, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if _, err := keys.Create(context.Background(), "test sender", source, hash, prefix); err != nil {
		t.Fatalf("create key: %v", err)
	}
	return plaintext
}

func postEvent(r *gin.Engine, apiKey string, body map[string]any) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/events", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-Webhook-API-Key", apiKey)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIngestEndpointRequiresAPIKey(t *testing.T) {
	ingestor := &stubIngestor{}
	r := testRouter(t, ingestor, &stubRuleStore{}, &stubKeyStore{})

	w := postEvent(r, "", map[string]any{"type": "contact.created"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", w.Code)
	}

	w = postEvent(r, "whk_bogus", map[string]any{"type": "contact.created"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown key, got %d", w.Code)
	}
	if len(ingestor.events) != 0 {
		t.Fatalf("unauthenticated events must not reach ingestion, got %d", len(ingestor.events))
	}
}

func TestIngestEndpointBindsSourceToKey(t *testing.T) {
	ingestor := &stubIngestor{result: ingest.ProcessingResult{Key: "k", Status: ingest.StatusProcessed}}
	keys := &stubKeyStore{}
	r := testRouter(t, ingestor, &stubRuleStore{}, keys)
	apiKey := seedKey(t, keys, "ghl")

	w := postEvent(r, apiKey, map[string]any{
		"type":       "contact.created",
		"source":     "spoofed",
		"externalId": "c-1",
		"payload":    map[string]any{"phone": "+15551234567"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(ingestor.events) != 1 {
		t.Fatalf("expected 1 ingested event, got %d", len(ingestor.events))
	}
	ev := ingestor.events[0]
	if ev.Source != "ghl" {
		t.Fatalf("source must come from the api key, got %q", ev.Source)
	}
	if ev.Type != "contact.created" || ev.ExternalID != "c-1" {
		t.Fatalf("unexpected envelope mapping: %+v", ev)
	}
	if ev.Timestamp.IsZero() {
		t.Fatal("missing timestamp must default to now")
	}
}

func TestIngestEndpointRejectsMissingType(t *testing.T) {
	ingestor := &stubIngestor{}
	keys := &stubKeyStore{}
	r := testRouter(t, ingestor, &stubRuleStore{}, keys)
	apiKey := seedKey(t, keys, "ghl")

	w := postEvent(r, apiKey, map[string]any{"externalId": "c-1"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing type, got %d", w.Code)
	}
}

func TestSaveRuleSwapsLiveRuleSet(t *testing.T) {
	ingestor := &stubIngestor{}
	store := &stubRuleStore{}
	r := testRouter(t, ingestor, store, &stubKeyStore{})

	body, _ := json.Marshal(ingest.Rule{
		Priority: 5,
		Enabled:  true,
		When:     ingest.Predicate{Field: "type", Op: ingest.OpEq, Value: "contact.created"},
		Actions:  []ingest.ActionSpec{{Name: "crm-sync"}},
	})
	req := httptest.NewRequest(http.MethodPut, "/api/v1/admin/ingest/rules/sync-new-contacts", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(store.saved) != 1 || store.saved[0].Name != "sync-new-contacts" {
		t.Fatalf("rule not persisted under path name: %+v", store.saved)
	}
	if len(ingestor.rules) != 1 || ingestor.rules[0].Name != "sync-new-contacts" {
		t.Fatalf("live rule set not updated: %+v", ingestor.rules)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/admin/ingest/rules/sync-new-contacts", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on delete, got %d", w.Code)
	}
	if len(ingestor.rules) != 0 {
		t.Fatalf("deleted rule still live: %+v", ingestor.rules)
	}
}

func TestReplayDeadLetterClearsOnSuccess(t *testing.T) {
	ingestor := &stubIngestor{result: ingest.ProcessingResult{Key: "dl-1", Status: ingest.StatusProcessed}}
	store := &stubRuleStore{deadLetters: map[int64]ingest.DeadLetterRecord{
		7: {ID: 7, Key: "dl-1", Source: "ghl", Type: "contact.created", ExternalID: "c-9"},
	}}
	r := testRouter(t, ingestor, store, &stubKeyStore{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/ingest/dead-letters/7/replay", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(ingestor.replayed) != 1 || ingestor.replayed[0].IdempotencyKey != "dl-1" {
		t.Fatalf("replay did not reuse the parked key: %+v", ingestor.replayed)
	}
	if len(store.cleared) != 1 || store.cleared[0] != 7 {
		t.Fatalf("clean replay must clear the park entry, cleared=%v", store.cleared)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/admin/ingest/dead-letters/7/replay", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for cleared entry, got %d", w.Code)
	}
}
