package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"leadflow_backend/platform/logger"
)

// SessionSweeper closes idle conversation sessions. Satisfied by the
// conversation service.
type SessionSweeper interface {
	CloseIdleSessions(ctx context.Context, now time.Time) (int, error)
}

// LeadSyncer pushes one lead to the CRM. Satisfied by the crm syncer.
type LeadSyncer interface {
	SyncLead(ctx context.Context, leadID uuid.UUID) error
}

// Worker consumes scheduled tasks and drives the periodic idle sweep.
type Worker struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
	sweeper   SessionSweeper
	syncer    LeadSyncer
	log       *logger.Logger
}

func NewWorker(redisURL, queue string, concurrency int, sweepTick time.Duration, sweeper SessionSweeper, syncer LeadSyncer, log *logger.Logger) (*Worker, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL)
	if err != nil {
		return nil, err
	}

	if queue == "" {
		queue = "default"
	}
	if concurrency < 1 {
		concurrency = 10
	}
	if sweepTick < time.Second {
		sweepTick = time.Minute
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	periodic := asynq.NewScheduler(opt, nil)
	if _, err := periodic.Register(
		fmt.Sprintf("@every %s", sweepTick),
		NewIdleSweepTask(),
		asynq.Queue(queue),
	); err != nil {
		return nil, fmt.Errorf("register idle sweep: %w", err)
	}

	mux := asynq.NewServeMux()
	w := &Worker{
		server:    server,
		scheduler: periodic,
		mux:       mux,
		sweeper:   sweeper,
		syncer:    syncer,
		log:       log,
	}

	mux.HandleFunc(TaskIdleSweep, w.handleIdleSweep)
	mux.HandleFunc(TaskLeadSyncRetry, w.handleLeadSyncRetry)

	return w, nil
}

// Run blocks until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.scheduler.Shutdown()
		w.server.Shutdown()
	}()

	go func() {
		if err := w.scheduler.Run(); err != nil {
			w.log.Error("periodic scheduler stopped", "error", err)
		}
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handleIdleSweep(ctx context.Context, _ *asynq.Task) error {
	closed, err := w.sweeper.CloseIdleSessions(ctx, time.Now())
	if err != nil {
		return err
	}
	if closed > 0 {
		w.log.Info("idle sweep closed sessions", "count", closed)
	}
	return nil
}

func (w *Worker) handleLeadSyncRetry(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseLeadSyncRetryPayload(task)
	if err != nil {
		return err
	}

	leadID, err := uuid.Parse(payload.LeadID)
	if err != nil {
		return err
	}

	return w.syncer.SyncLead(ctx, leadID)
}
