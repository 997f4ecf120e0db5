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

	"leadflow_backend/internal/compliance"
	"leadflow_backend/internal/config"
	"leadflow_backend/internal/crm"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads"
	"leadflow_backend/internal/notification"
	"leadflow_backend/internal/scheduler"
	"leadflow_backend/platform/db"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/validator"
)

// The scheduler process owns the background work: the periodic idle
// session sweep and scheduled CRM sync retries. It shares the domain
// wiring with the API but serves no HTTP routes.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env, "queue", cfg.AsynqQueue)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	eventBus := events.NewInMemoryBus(log)
	val := validator.New()

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

	// No replier or outbound sender here; the sweep closes sessions and
	// never speaks to leads.
	leadsModule := leads.NewModule(pool, cfg, complianceValidator, complianceValidator, nil, nil, eventBus, val, log)
	leadsModule.RegisterHandlers(eventBus)

	syncer := crm.NewSyncer(crmClient, leadsModule.Repository(), eventBus, log, cfg.CRMMaxRetries)

	notificationModule := notification.New(buildAlertSender(cfg), cfg.AlertTo, log)
	notificationModule.RegisterHandlers(eventBus)

	worker, err := scheduler.NewWorker(
		cfg.RedisURL,
		cfg.AsynqQueue,
		cfg.AsynqWorkers,
		cfg.IdleSweepTick,
		leadsModule.Sessions(),
		syncer,
		log,
	)
	if err != nil {
		log.Error("failed to initialize worker", "error", err)
		panic("failed to initialize worker: " + err.Error())
	}

	worker.Run(ctx)
	eventBus.Wait()
	log.Info("scheduler stopped")
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
