package crm

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/platform/logger"
)

// SyncStore is the lead persistence surface the syncer needs.
type SyncStore interface {
	GetLead(ctx context.Context, id uuid.UUID) (domain.Lead, error)
	TouchLeadSyncedAt(ctx context.Context, leadID uuid.UUID, at time.Time) error
	SetLeadSyncFailed(ctx context.Context, leadID uuid.UUID, failed bool) error
}

// TemperatureTag maps a temperature bucket to its CRM tag.
func TemperatureTag(t domain.Temperature) string {
	return "temp-" + string(t)
}

var allTemperatureTags = []string{
	TemperatureTag(domain.TemperatureHot),
	TemperatureTag(domain.TemperatureWarm),
	TemperatureTag(domain.TemperatureCold),
}

// Syncer pushes lead state to the CRM. Syncs for one lead are
// serialized; a request landing while one is in flight queues a
// follow-up run, so the lead state that triggered it still reaches
// the CRM. Distinct leads sync in parallel under the client's shared
// rate limiter.
type Syncer struct {
	client     *Client
	store      SyncStore
	eventBus   events.Bus
	log        *logger.Logger
	maxRetries int
	baseDelay  time.Duration

	inFlight map[uuid.UUID]*syncRun
	mu       sync.Mutex
}

// syncRun tracks one lead's in-flight sync. queued is set when a new
// request arrives mid-run; the run re-reads and pushes again before
// releasing the lead.
type syncRun struct {
	queued bool
}

func NewSyncer(client *Client, store SyncStore, eventBus events.Bus, log *logger.Logger, maxRetries int) *Syncer {
	return &Syncer{
		client:     client,
		store:      store,
		eventBus:   eventBus,
		log:        log,
		maxRetries: maxRetries,
		baseDelay:  500 * time.Millisecond,
		inFlight:   make(map[uuid.UUID]*syncRun),
	}
}

// begin registers a sync for the lead. When one is already running it
// queues a follow-up and reports false.
func (s *Syncer) begin(leadID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.inFlight[leadID]; ok {
		run.queued = true
		return false
	}
	s.inFlight[leadID] = &syncRun{}
	return true
}

// finish reports whether a follow-up was queued during the run. When
// one was, the queue flag is consumed and the lead stays registered;
// otherwise the lead is released.
func (s *Syncer) finish(leadID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run := s.inFlight[leadID]; run != nil && run.queued {
		run.queued = false
		return true
	}
	delete(s.inFlight, leadID)
	return false
}

// SyncLead pushes the lead's current state to the CRM with bounded
// exponential backoff. Exhausted retries mark the lead sync-failed and
// emit crm.sync.failed; the scheduler picks those up for delayed retry.
// A call that finds a sync already in flight queues a follow-up run on
// it and returns; the running call re-reads the lead and pushes again,
// so an update landing mid-sync is never dropped.
func (s *Syncer) SyncLead(ctx context.Context, leadID uuid.UUID) error {
	if !s.begin(leadID) {
		s.log.Info("crm: sync already in flight for lead, queued follow-up", "leadId", leadID)
		return nil
	}

	for {
		err := s.syncOnce(ctx, leadID)
		if !s.finish(leadID) {
			return err
		}
		s.log.Info("crm: lead updated mid-sync, pushing again", "leadId", leadID)
	}
}

func (s *Syncer) syncOnce(ctx context.Context, leadID uuid.UUID) error {
	lead, err := s.store.GetLead(ctx, leadID)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxRetries+1; attempt++ {
		lastErr = s.push(ctx, lead)
		if lastErr == nil {
			if err := s.store.TouchLeadSyncedAt(ctx, leadID, time.Now()); err != nil {
				return err
			}
			s.eventBus.Publish(ctx, events.CRMSyncCompleted{
				BaseEvent: events.NewBaseEvent(),
				LeadID:    leadID,
				Fields:    []string{"name", "phone", "email", "temperature"},
				Attempts:  attempt,
			})
			return nil
		}

		if !Retryable(lastErr) || attempt > s.maxRetries {
			break
		}

		delay := s.baseDelay << (attempt - 1)
		s.log.Warn("crm: sync attempt failed, backing off",
			"leadId", leadID,
			"attempt", attempt,
			"delay", delay.String(),
			"error", lastErr)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.log.SyncFailure(leadID.String(), s.maxRetries+1, lastErr)
	if err := s.store.SetLeadSyncFailed(ctx, leadID, true); err != nil {
		s.log.DatabaseError("mark lead sync failed", err)
	}
	s.eventBus.Publish(ctx, events.CRMSyncFailed{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    leadID,
		Attempts:  s.maxRetries + 1,
		Error:     lastErr.Error(),
	})
	return lastErr
}

// push performs one full sync attempt: contact upsert plus temperature
// tag reconciliation.
func (s *Syncer) push(ctx context.Context, lead domain.Lead) error {
	tag := TemperatureTag(lead.Temperature)

	contactID, err := s.client.UpsertContact(ctx, Contact{
		ID:     lead.ExternalID,
		Name:   lead.Name,
		Phone:  lead.Phone,
		Email:  lead.Email,
		Source: lead.Source,
		Tags:   []string{tag},
	})
	if err != nil {
		return err
	}

	stale := make([]string, 0, len(allTemperatureTags)-1)
	for _, t := range allTemperatureTags {
		if t != tag {
			stale = append(stale, t)
		}
	}
	if err := s.client.RemoveTags(ctx, contactID, stale); err != nil {
		return err
	}

	return nil
}

// SyncLeads syncs a batch in parallel, bounded so a large retry sweep
// cannot starve the limiter for interactive syncs.
func (s *Syncer) SyncLeads(ctx context.Context, leadIDs []uuid.UUID) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for _, leadID := range leadIDs {
		g.Go(func() error {
			if err := s.SyncLead(ctx, leadID); err != nil {
				// Per-lead failures are recorded on the lead; keep the
				// batch going.
				s.log.Error("crm: batch sync lead failed", "leadId", leadID, "error", err)
			}
			return nil
		})
	}

	return g.Wait()
}
