package crm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
)

type memSyncStore struct {
	mu         sync.Mutex
	leads      map[uuid.UUID]domain.Lead
	syncedAt   map[uuid.UUID]time.Time
	syncFailed map[uuid.UUID]bool
}

func newMemSyncStore() *memSyncStore {
	return &memSyncStore{
		leads:      make(map[uuid.UUID]domain.Lead),
		syncedAt:   make(map[uuid.UUID]time.Time),
		syncFailed: make(map[uuid.UUID]bool),
	}
}

func (m *memSyncStore) GetLead(_ context.Context, id uuid.UUID) (domain.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leads[id], nil
}

func (m *memSyncStore) TouchLeadSyncedAt(_ context.Context, leadID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncedAt[leadID] = at
	return nil
}

func (m *memSyncStore) SetLeadSyncFailed(_ context.Context, leadID uuid.UUID, failed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncFailed[leadID] = failed
	return nil
}

// crmStub fakes the contact API. failures controls how many requests
// return 500 before it starts succeeding.
func crmStub(failures *atomic.Int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failures.Add(-1) >= 0 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/v1/contacts/upsert" {
			w.Write([]byte(`{"contact":{"id":"crm-123"}}`))
			return
		}
		w.Write([]byte(`{}`))
	}))
}

func newTestSyncer(t *testing.T, serverURL string, maxRetries int) (*Syncer, *memSyncStore, *events.InMemoryBus) {
	t.Helper()
	log := logger.New("test")
	bus := events.NewInMemoryBus(log)
	store := newMemSyncStore()
	client := New(serverURL, "test-key", 100, 10, log)
	syncer := NewSyncer(client, store, bus, log, maxRetries)
	syncer.baseDelay = time.Millisecond
	return syncer, store, bus
}

func seedLead(store *memSyncStore, temp domain.Temperature) uuid.UUID {
	leadID := uuid.New()
	store.leads[leadID] = domain.Lead{
		ID:          leadID,
		ExternalID:  "ext-1",
		Name:        "Jordan Diaz",
		Phone:       "+15551234567",
		Temperature: temp,
	}
	return leadID
}

func TestSyncLeadSucceeds(t *testing.T) {
	var failures atomic.Int32
	server := crmStub(&failures)
	defer server.Close()

	syncer, store, bus := newTestSyncer(t, server.URL, 4)
	leadID := seedLead(store, domain.TemperatureHot)

	var mu sync.Mutex
	var completed []events.CRMSyncCompleted
	bus.Subscribe(events.CRMSyncCompleted{}.EventName(), events.HandlerFunc(func(_ context.Context, e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		completed = append(completed, e.(events.CRMSyncCompleted))
		return nil
	}))

	if err := syncer.SyncLead(context.Background(), leadID); err != nil {
		t.Fatalf("SyncLead: %v", err)
	}
	bus.Wait()

	if _, ok := store.syncedAt[leadID]; !ok {
		t.Error("synced_at not recorded after successful sync")
	}
	if store.syncFailed[leadID] {
		t.Error("lead marked sync-failed after success")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(completed) != 1 || completed[0].Attempts != 1 {
		t.Errorf("completed events = %+v, want one first-attempt completion", completed)
	}
}

func TestSyncLeadRetriesTransientErrors(t *testing.T) {
	var failures atomic.Int32
	failures.Store(2) // first two requests fail with 500
	server := crmStub(&failures)
	defer server.Close()

	syncer, store, _ := newTestSyncer(t, server.URL, 4)
	leadID := seedLead(store, domain.TemperatureWarm)

	if err := syncer.SyncLead(context.Background(), leadID); err != nil {
		t.Fatalf("SyncLead after transient failures: %v", err)
	}
	if _, ok := store.syncedAt[leadID]; !ok {
		t.Error("synced_at not recorded after recovered sync")
	}
}

func TestSyncLeadExhaustedRetries(t *testing.T) {
	var failures atomic.Int32
	failures.Store(1000) // never recovers
	server := crmStub(&failures)
	defer server.Close()

	syncer, store, bus := newTestSyncer(t, server.URL, 2)
	leadID := seedLead(store, domain.TemperatureCold)

	var mu sync.Mutex
	var failed []events.CRMSyncFailed
	bus.Subscribe(events.CRMSyncFailed{}.EventName(), events.HandlerFunc(func(_ context.Context, e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		failed = append(failed, e.(events.CRMSyncFailed))
		return nil
	}))

	if err := syncer.SyncLead(context.Background(), leadID); err == nil {
		t.Fatal("SyncLead succeeded against a permanently failing CRM")
	}
	bus.Wait()

	if !store.syncFailed[leadID] {
		t.Error("lead not marked sync-failed after exhausted retries")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(failed) != 1 {
		t.Fatalf("failed events = %d, want 1", len(failed))
	}
	if failed[0].Attempts != 3 {
		t.Errorf("attempts = %d, want 3 (initial + 2 retries)", failed[0].Attempts)
	}
}

func TestSyncLeadPushesUpdateArrivingMidSync(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	var mu sync.Mutex
	var upserts []Contact
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/v1/contacts/upsert" {
			var contact Contact
			if err := json.NewDecoder(r.Body).Decode(&contact); err != nil {
				t.Errorf("decode upsert: %v", err)
			}
			mu.Lock()
			upserts = append(upserts, contact)
			first := len(upserts) == 1
			mu.Unlock()
			if first {
				close(started)
				<-release
			}
			w.Write([]byte(`{"contact":{"id":"crm-123"}}`))
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	syncer, store, _ := newTestSyncer(t, server.URL, 0)
	leadID := seedLead(store, domain.TemperatureWarm)

	done := make(chan error, 1)
	go func() { done <- syncer.SyncLead(context.Background(), leadID) }()
	<-started

	// The lead warms up while the first push is on the wire.
	store.mu.Lock()
	lead := store.leads[leadID]
	lead.Temperature = domain.TemperatureHot
	store.leads[leadID] = lead
	store.mu.Unlock()

	if err := syncer.SyncLead(context.Background(), leadID); err != nil {
		t.Fatalf("queued SyncLead: %v", err)
	}
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("SyncLead: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(upserts) != 2 {
		t.Fatalf("upserts = %d, want the initial push plus a follow-up", len(upserts))
	}
	tags := upserts[1].Tags
	if len(tags) != 1 || tags[0] != "temp-hot" {
		t.Errorf("follow-up tags = %v, want [temp-hot]", tags)
	}
}

func TestTemperatureTag(t *testing.T) {
	if got := TemperatureTag(domain.TemperatureHot); got != "temp-hot" {
		t.Errorf("TemperatureTag(hot) = %q, want temp-hot", got)
	}
}
