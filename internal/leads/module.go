// Package leads is the lead lifecycle bounded context: lead identity,
// qualification scoring, bot conversations, and handoffs between bots.
package leads

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"leadflow_backend/internal/config"
	"leadflow_backend/internal/conversation"
	"leadflow_backend/internal/events"
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/internal/leads/bots"
	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/internal/leads/scoring"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/validator"
)

// Module wires the leads bounded context: repositories, the scoring and
// conversation services, the bot orchestrator, and the operator routes.
type Module struct {
	repo         *repository.Repository
	service      *Service
	sessions     *conversation.Service
	orchestrator *Orchestrator
	handler      *Handler
	log          *logger.Logger
}

// NewModule composes the leads context. The contact gate, inbound
// screener, replier, and outbound sender come from outside because they
// belong to the compliance, responder, and CRM contexts.
func NewModule(
	pool *pgxpool.Pool,
	cfg *config.Config,
	gate conversation.ContactGate,
	screener InboundScreener,
	replier conversation.Replier,
	outbound OutboundSender,
	eventBus events.Bus,
	val *validator.Validator,
	log *logger.Logger,
) *Module {
	repo := repository.New(pool)
	registry := bots.Default()
	scorer := scoring.New(repo, cfg.Thresholds, eventBus, log)
	sessions := conversation.New(repo, registry, scorer, gate, replier, eventBus, log,
		cfg.SessionIdleTimeout, cfg.StallRecoveryRetries)
	orchestrator := NewOrchestrator(registry, sessions, repo, eventBus, log, cfg.HandoffConfidenceFloor)
	service := NewService(repo, sessions, screener, outbound, eventBus, log)

	return &Module{
		repo:         repo,
		service:      service,
		sessions:     sessions,
		orchestrator: orchestrator,
		handler:      NewHandler(repo, orchestrator, val),
		log:          log,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "leads"
}

// RegisterRoutes mounts the operator endpoints. Everything in this
// context is operator-facing; lead traffic itself arrives through the
// webhook module.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.Admin.Group("/leads")
	group.GET("", m.handler.HandleListLeads)
	group.GET("/:leadId", m.handler.HandleGetLead)
	group.GET("/:leadId/results", m.handler.HandleListResults)
	group.GET("/:leadId/handoffs", m.handler.HandleListHandoffs)
	group.POST("/:leadId/route", m.handler.HandleRouteLead)
	group.POST("/:leadId/archive", m.handler.HandleArchiveLead)
}

// RegisterHandlers subscribes the orchestrator to qualification events
// so intake leads flow to the seller or buyer bot automatically.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.SessionQualified{}.EventName(), events.HandlerFunc(func(ctx context.Context, e events.Event) error {
		if evt, ok := e.(events.SessionQualified); ok {
			m.orchestrator.OnSessionQualified(ctx, evt)
		}
		return nil
	}))
}

// Service returns the lead resolution and inbound message service.
func (m *Module) Service() *Service {
	return m.service
}

// Sessions returns the conversation service for the scheduler's idle sweep.
func (m *Module) Sessions() *conversation.Service {
	return m.sessions
}

// Orchestrator returns the bot orchestrator for rule actions.
func (m *Module) Orchestrator() *Orchestrator {
	return m.orchestrator
}

// Repository returns the lead repository for sibling contexts.
func (m *Module) Repository() *repository.Repository {
	return m.repo
}
