package crm

import (
	"context"
	"time"

	"leadflow_backend/internal/events"
	"leadflow_backend/internal/scheduler"
	"leadflow_backend/platform/logger"
)

// retryDelay is how long a lead waits after exhausting inline retries
// before the scheduler takes another run at it.
const retryDelay = 10 * time.Minute

// Module subscribes the syncer to the events that change what the CRM
// should see, and hands exhausted syncs to the scheduler.
type Module struct {
	syncer  *Syncer
	client  *Client
	retries scheduler.SyncRetryScheduler
	log     *logger.Logger
}

func NewModule(client *Client, syncer *Syncer, retries scheduler.SyncRetryScheduler, log *logger.Logger) *Module {
	return &Module{
		syncer:  syncer,
		client:  client,
		retries: retries,
		log:     log,
	}
}

// Syncer returns the sync engine for rule actions and the worker.
func (m *Module) Syncer() *Syncer {
	return m.syncer
}

// Messenger returns an outbound SMS sender backed by the CRM channel.
func (m *Module) Messenger() *Messenger {
	return NewMessenger(m.client)
}

// RegisterHandlers subscribes to the events that require a CRM push.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.TemperatureChanged{}.EventName(), m)
	bus.Subscribe(events.SessionQualified{}.EventName(), m)
	bus.Subscribe(events.LeadOptedOut{}.EventName(), m)
	bus.Subscribe(events.CRMSyncFailed{}.EventName(), m)
}

// Handle implements events.Handler.
func (m *Module) Handle(ctx context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.TemperatureChanged:
		return m.syncer.SyncLead(ctx, e.LeadID)
	case events.SessionQualified:
		return m.syncer.SyncLead(ctx, e.LeadID)
	case events.LeadOptedOut:
		return m.syncer.SyncLead(ctx, e.LeadID)
	case events.CRMSyncFailed:
		if m.retries == nil {
			return nil
		}
		if err := m.retries.ScheduleLeadSyncRetry(ctx, e.LeadID, time.Now().Add(retryDelay)); err != nil {
			m.log.Error("failed to schedule crm sync retry", "leadId", e.LeadID, "error", err)
			return err
		}
		m.log.Info("crm sync retry scheduled", "leadId", e.LeadID, "delay", retryDelay)
		return nil
	default:
		return nil
	}
}
