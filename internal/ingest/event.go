// Package ingest is the event orchestrator: every external webhook and
// every cascading internal event enters through Ingest, which
// deduplicates it, evaluates the rule set, and fans out to actions.
package ingest

import (
	"fmt"
	"time"
)

// SourceEvent is the normalized inbound envelope. Internal cascade
// events use Source "internal" and carry a non-zero Depth.
type SourceEvent struct {
	Source         string         `json:"source"`
	Type           string         `json:"type"`
	ExternalID     string         `json:"externalId"`
	Payload        map[string]any `json:"payload"`
	Timestamp      time.Time      `json:"timestamp"`
	IdempotencyKey string         `json:"idempotencyKey,omitempty"`
	Depth          int            `json:"depth,omitempty"`
}

// Key returns the event's idempotency key, synthesizing one from
// source, type, external id, and a minute bucket when the sender did
// not supply it. The same logical event retried within the bucket
// dedupes; a genuine re-occurrence a minute later processes again.
func (e SourceEvent) Key() string {
	if e.IdempotencyKey != "" {
		return e.IdempotencyKey
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return fmt.Sprintf("%s:%s:%s:%d", e.Source, e.Type, e.ExternalID, ts.UTC().Truncate(time.Minute).Unix())
}

// Processing statuses.
const (
	StatusProcessed       = "processed"
	StatusDuplicate       = "duplicate"
	StatusDeadLettered    = "dead_lettered"
	StatusCascadeExceeded = "cascade_exceeded"
)

// ActionOutcome records one executed action. A failing action is
// recorded here and never stops its siblings.
type ActionOutcome struct {
	Rule   string `json:"rule"`
	Action string `json:"action"`
	Error  string `json:"error,omitempty"`
}

// ProcessingResult is what Ingest reports for an event. Duplicates
// report the outcome recorded for the first occurrence.
type ProcessingResult struct {
	Key     string          `json:"key"`
	Status  string          `json:"status"`
	Reason  string          `json:"reason,omitempty"`
	Actions []ActionOutcome `json:"actions,omitempty"`
}

// Failed reports whether any action recorded an error.
func (r ProcessingResult) Failed() bool {
	for _, a := range r.Actions {
		if a.Error != "" {
			return true
		}
	}
	return false
}
