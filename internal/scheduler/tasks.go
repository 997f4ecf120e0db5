package scheduler

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// TaskIdleSweep closes conversation sessions whose leads went quiet.
// Enqueued periodically; carries no payload.
const TaskIdleSweep = "sessions.idle_sweep"

// TaskLeadSyncRetry re-attempts a CRM sync for one lead after the
// inline retry budget was exhausted.
const TaskLeadSyncRetry = "crm.sync.retry"

type LeadSyncRetryPayload struct {
	LeadID string `json:"leadId"`
}

func NewIdleSweepTask() *asynq.Task {
	return asynq.NewTask(TaskIdleSweep, nil)
}

func NewLeadSyncRetryTask(payload LeadSyncRetryPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal lead sync retry payload: %w", err)
	}
	return asynq.NewTask(TaskLeadSyncRetry, data), nil
}

func ParseLeadSyncRetryPayload(task *asynq.Task) (LeadSyncRetryPayload, error) {
	var payload LeadSyncRetryPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return LeadSyncRetryPayload{}, fmt.Errorf("parse lead sync retry payload: %w", err)
	}
	if payload.LeadID == "" {
		return LeadSyncRetryPayload{}, fmt.Errorf("lead sync retry payload missing leadId")
	}
	return payload, nil
}
