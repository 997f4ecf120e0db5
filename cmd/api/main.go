package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"leadflow_backend/internal/compliance"
	"leadflow_backend/internal/config"
	"leadflow_backend/internal/conversation"
	"leadflow_backend/internal/crm"
	"leadflow_backend/internal/events"
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/internal/http/router"
	"leadflow_backend/internal/ingest"
	"leadflow_backend/internal/leads"
	"leadflow_backend/internal/notification"
	"leadflow_backend/internal/responder"
	"leadflow_backend/internal/scheduler"
	"leadflow_backend/internal/webhook"
	"leadflow_backend/platform/db"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/validator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg.DatabaseURL, cfg.MigrationsDir)
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)

	redisOpt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Error("invalid redis url", "error", err)
		panic("invalid redis url: " + err.Error())
	}
	rdb := redis.NewClient(redisOpt)
	defer rdb.Close()

	// Shared validator instance for dependency injection
	val := validator.New()

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	ingestRepo := ingest.NewRepository(pool)
	ingestSvc := ingest.NewService(
		ingestRepo,
		ingest.NewDeduper(rdb, cfg.DedupTTL),
		ingest.NewRuleSet(loadRules(ctx, cfg, ingestRepo, log)),
		eventBus,
		log,
		cfg.CascadeDepthLimit,
	)

	complianceValidator := compliance.NewValidator(
		compliance.NewRepository(pool),
		eventBus,
		log,
		cfg.DailyMessageCap,
		cfg.MonthlyCap,
		cfg.OptOutKeywords,
		cfg.OptInKeywords,
	)

	crmClient := crm.New(cfg.CRMBaseURL, cfg.CRMAPIKey, cfg.CRMRatePerSec, cfg.CRMRateBurst, log)

	// Reply drafting is optional; without an API key the conversation
	// layer answers with bot templates.
	var replier conversation.Replier
	if cfg.GeminiAPIKey != "" {
		client, err := responder.New(ctx, cfg.GeminiAPIKey, "", log)
		if err != nil {
			log.Error("failed to initialize responder", "error", err)
			panic("failed to initialize responder: " + err.Error())
		}
		replier = client
		log.Info("responder initialized")
	} else {
		log.Warn("GEMINI_API_KEY not configured; replies use bot templates")
	}

	leadsModule := leads.NewModule(
		pool,
		cfg,
		complianceValidator,
		complianceValidator,
		replier,
		crm.NewMessenger(crmClient),
		eventBus,
		val,
		log,
	)
	leadsModule.RegisterHandlers(eventBus)

	syncer := crm.NewSyncer(crmClient, leadsModule.Repository(), eventBus, log, cfg.CRMMaxRetries)

	retryScheduler, closeScheduler := initRetryScheduler(cfg, log)
	if closeScheduler != nil {
		defer closeScheduler()
	}

	crmModule := crm.NewModule(crmClient, syncer, retryScheduler, log)
	crmModule.RegisterHandlers(eventBus)

	notificationModule := notification.New(buildAlertSender(cfg), cfg.AlertTo, log)
	notificationModule.RegisterHandlers(eventBus)

	// Inbound messages reach conversations before rule evaluation.
	ingestSvc.SetMessageSink(leadsModule.Service())
	ingestSvc.RegisterAction(ingest.ActionBotRoute, ingest.BotRouteAction(leadsModule.Service(), leadsModule.Orchestrator()))
	ingestSvc.RegisterAction(ingest.ActionCRMSync, ingest.CRMSyncAction(leadsModule.Service(), syncer))
	ingestSvc.RegisterAction(ingest.ActionComplianceCheck, ingest.ComplianceCheckAction(leadsModule.Service(), complianceValidator))
	ingestSvc.RegisterAction(ingest.ActionNotify, ingest.NotifyAction(notificationModule))
	ingestSvc.RegisterAction(ingest.ActionEmitEvent, ingest.EmitEventAction(ingestSvc))

	webhookModule := webhook.NewModule(pool, ingestSvc, ingestRepo, cfg, val, log)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   db.NewPoolAdapter(pool),
		EventBus: eventBus,
		Modules: []apphttp.Module{
			leadsModule,
			webhookModule,
		},
	}

	engine := router.New(app)

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- engine.Run(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		eventBus.Wait()
	case err := <-srvErr:
		if err != nil {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

// loadRules merges the rule file with the rules stored by the admin
// surface. Stored rules win on name collisions.
func loadRules(ctx context.Context, cfg *config.Config, repo *ingest.Repository, log *logger.Logger) []ingest.Rule {
	var rules []ingest.Rule
	if cfg.RulesFile != "" {
		fileRules, err := ingest.LoadRulesFile(cfg.RulesFile)
		if err != nil {
			log.Error("failed to load rules file", "path", cfg.RulesFile, "error", err)
			panic("failed to load rules file: " + err.Error())
		}
		rules = fileRules
		log.Info("rules file loaded", "path", cfg.RulesFile, "rules", len(fileRules))
	}

	stored, err := repo.ListRules(ctx)
	if err != nil {
		log.Error("failed to load stored rules", "error", err)
		panic("failed to load stored rules: " + err.Error())
	}

	byName := make(map[string]int, len(rules))
	for i, rule := range rules {
		byName[rule.Name] = i
	}
	for _, rule := range stored {
		if i, ok := byName[rule.Name]; ok {
			rules[i] = rule
			continue
		}
		rules = append(rules, rule)
	}

	log.Info("orchestration rules active", "rules", len(rules))
	return rules
}

func initRetryScheduler(cfg *config.Config, log *logger.Logger) (scheduler.SyncRetryScheduler, func()) {
	client, err := scheduler.NewClient(cfg.RedisURL, cfg.AsynqQueue)
	if err != nil {
		log.Warn("sync retry scheduling disabled", "error", err)
		return nil, nil
	}
	return client, func() {
		_ = client.Close()
	}
}

func buildAlertSender(cfg *config.Config) notification.Sender {
	if cfg.SMTPHost == "" {
		return nil
	}
	return notification.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.AlertFrom, "LeadFlow Alerts")
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
