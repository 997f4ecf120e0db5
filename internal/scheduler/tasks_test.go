package scheduler

import (
	"testing"

	"github.com/hibiken/asynq"
)

func TestLeadSyncRetryPayloadRoundTrip(t *testing.T) {
	task, err := NewLeadSyncRetryTask(LeadSyncRetryPayload{LeadID: "0d4cf08a-9f2b-4f5e-8a41-1a4cbdc7dbd6"})
	if err != nil {
		t.Fatalf("NewLeadSyncRetryTask: %v", err)
	}
	if task.Type() != TaskLeadSyncRetry {
		t.Errorf("task type = %q, want %q", task.Type(), TaskLeadSyncRetry)
	}

	payload, err := ParseLeadSyncRetryPayload(task)
	if err != nil {
		t.Fatalf("ParseLeadSyncRetryPayload: %v", err)
	}
	if payload.LeadID != "0d4cf08a-9f2b-4f5e-8a41-1a4cbdc7dbd6" {
		t.Errorf("leadId = %q", payload.LeadID)
	}
}

func TestLeadSyncRetryPayloadRejectsEmpty(t *testing.T) {
	if _, err := ParseLeadSyncRetryPayload(asynq.NewTask(TaskLeadSyncRetry, []byte(`{}`))); err == nil {
		t.Error("empty payload accepted")
	}
}
