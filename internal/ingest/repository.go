package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("record not found")

// Repository is the durable side of ingestion: the processed-event
// mirror, the dead-letter store, and the rule store.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// RecordProcessed mirrors a claimed key with its outcome. ON CONFLICT
// keeps the first outcome; the key's side effects happened exactly once.
func (r *Repository) RecordProcessed(ctx context.Context, key string, result ProcessingResult) error {
	outcome, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO processed_events (idempotency_key, status, outcome, processed_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (idempotency_key) DO NOTHING
	`, key, result.Status, outcome)
	return err
}

// GetProcessed returns the recorded outcome for a key.
func (r *Repository) GetProcessed(ctx context.Context, key string) (ProcessingResult, error) {
	var outcome []byte
	err := r.pool.QueryRow(ctx, `
		SELECT outcome FROM processed_events WHERE idempotency_key = $1
	`, key).Scan(&outcome)
	if errors.Is(err, pgx.ErrNoRows) {
		return ProcessingResult{}, ErrNotFound
	}
	if err != nil {
		return ProcessingResult{}, err
	}

	var result ProcessingResult
	if err := json.Unmarshal(outcome, &result); err != nil {
		return ProcessingResult{}, fmt.Errorf("unmarshal outcome: %w", err)
	}
	return result, nil
}

// DeleteProcessed removes the mirror row so a wholesale retry can rerun
// the event.
func (r *Repository) DeleteProcessed(ctx context.Context, key string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM processed_events WHERE idempotency_key = $1`, key)
	return err
}

// DeadLetter parks an unprocessable event with its reason. Nothing is
// silently dropped.
func (r *Repository) DeadLetter(ctx context.Context, ev SourceEvent, reason string) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		payload = []byte("{}")
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO dead_letters (idempotency_key, source, event_type, external_id, payload, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
	`, ev.Key(), ev.Source, ev.Type, ev.ExternalID, payload, reason)
	return err
}

// DeadLetterRecord is one parked event, for the operator surface.
type DeadLetterRecord struct {
	ID         int64          `json:"id"`
	Key        string         `json:"key"`
	Source     string         `json:"source"`
	Type       string         `json:"type"`
	ExternalID string         `json:"externalId"`
	Payload    map[string]any `json:"payload"`
	Reason     string         `json:"reason"`
	CreatedAt  time.Time      `json:"createdAt"`
}

func (r *Repository) ListDeadLetters(ctx context.Context, limit int) ([]DeadLetterRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, idempotency_key, source, event_type, external_id, payload, reason, created_at
		FROM dead_letters
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]DeadLetterRecord, 0)
	for rows.Next() {
		var (
			rec     DeadLetterRecord
			payload []byte
		)
		if err := rows.Scan(&rec.ID, &rec.Key, &rec.Source, &rec.Type, &rec.ExternalID, &payload, &rec.Reason, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &rec.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal dead letter payload: %w", err)
			}
		}
		records = append(records, rec)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return records, nil
}

// GetDeadLetter returns one parked event by id.
func (r *Repository) GetDeadLetter(ctx context.Context, id int64) (DeadLetterRecord, error) {
	var (
		rec     DeadLetterRecord
		payload []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, idempotency_key, source, event_type, external_id, payload, reason, created_at
		FROM dead_letters
		WHERE id = $1
	`, id).Scan(&rec.ID, &rec.Key, &rec.Source, &rec.Type, &rec.ExternalID, &payload, &rec.Reason, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return DeadLetterRecord{}, ErrNotFound
	}
	if err != nil {
		return DeadLetterRecord{}, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &rec.Payload); err != nil {
			return DeadLetterRecord{}, fmt.Errorf("unmarshal dead letter payload: %w", err)
		}
	}
	return rec, nil
}

// DeleteDeadLetter removes a parked event after a successful replay.
func (r *Repository) DeleteDeadLetter(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM dead_letters WHERE id = $1`, id)
	return err
}

// SaveRule upserts a rule definition by name.
func (r *Repository) SaveRule(ctx context.Context, rule Rule) error {
	definition, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("marshal rule: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO orchestration_rules (name, priority, enabled, definition, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (name) DO UPDATE SET
			priority = EXCLUDED.priority,
			enabled = EXCLUDED.enabled,
			definition = EXCLUDED.definition,
			updated_at = now()
	`, rule.Name, rule.Priority, rule.Enabled, definition)
	return err
}

func (r *Repository) DeleteRule(ctx context.Context, name string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM orchestration_rules WHERE name = $1`, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRules returns the stored rule definitions.
func (r *Repository) ListRules(ctx context.Context) ([]Rule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT definition FROM orchestration_rules ORDER BY priority DESC, name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := make([]Rule, 0)
	for rows.Next() {
		var definition []byte
		if err := rows.Scan(&definition); err != nil {
			return nil, err
		}
		var rule Rule
		if err := json.Unmarshal(definition, &rule); err != nil {
			return nil, fmt.Errorf("unmarshal rule: %w", err)
		}
		rules = append(rules, rule)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return rules, nil
}
