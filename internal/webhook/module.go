package webhook

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"leadflow_backend/internal/config"
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/internal/ingest"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/validator"
)

// Module wires the webhook ingress and its operator surface.
type Module struct {
	repo    *Repository
	handler *Handler
	cfg     *config.Config
	log     *logger.Logger
}

func NewModule(pool *pgxpool.Pool, svc *ingest.Service, ingestRepo *ingest.Repository, cfg *config.Config, val *validator.Validator, log *logger.Logger) *Module {
	repo := NewRepository(pool)
	return &Module{
		repo:    repo,
		handler: NewHandler(svc, ingestRepo, repo, val, log),
		cfg:     cfg,
		log:     log,
	}
}

func (m *Module) Name() string { return "webhook" }

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	public := ctx.V1.Group("/webhooks")
	public.Use(APIKeyAuth(m.repo, m.log), SignedPayloadAuth(m.cfg.WebhookJWTSecret))
	public.POST("/events", m.handler.HandleIngestEvent)

	rules := ctx.Admin.Group("/ingest/rules")
	rules.GET("", m.handler.HandleListRules)
	rules.PUT("/:name", m.handler.HandleSaveRule)
	rules.DELETE("/:name", m.handler.HandleDeleteRule)

	deadLetters := ctx.Admin.Group("/ingest/dead-letters")
	deadLetters.GET("", m.handler.HandleListDeadLetters)
	deadLetters.POST("/:id/replay", m.handler.HandleReplayDeadLetter)

	keys := ctx.Admin.Group("/webhook-keys")
	keys.GET("", m.handler.HandleListAPIKeys)
	keys.POST("", m.handler.HandleCreateAPIKey)
	keys.DELETE("/:keyId", m.handler.HandleRevokeAPIKey)
}
