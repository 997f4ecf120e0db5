package compliance

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// State is the per-lead contact permission record. Absence of a row
// means the lead never opted out.
type State struct {
	LeadID     uuid.UUID
	OptedOut   bool
	Keyword    string // keyword that triggered the current state
	OptedOutAt *time.Time
	UpdatedAt  time.Time
}

// AuditEntry is one appended compliance decision. The log is immutable;
// rows are only ever inserted.
type AuditEntry struct {
	LeadID      uuid.UUID
	Channel     string
	Decision    string // "allowed", "denied", "opt_out", "opt_in"
	Reason      string
	MaskedPhone string
	CreatedAt   time.Time
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) GetState(ctx context.Context, leadID uuid.UUID) (State, error) {
	var state State
	err := r.pool.QueryRow(ctx, `
		SELECT lead_id, opted_out, keyword, opted_out_at, updated_at
		FROM compliance_state WHERE lead_id = $1
	`, leadID).Scan(&state.LeadID, &state.OptedOut, &state.Keyword, &state.OptedOutAt, &state.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return State{LeadID: leadID}, nil
	}
	return state, err
}

func (r *Repository) SetOptOut(ctx context.Context, leadID uuid.UUID, optedOut bool, keyword string) error {
	var optedOutAt *time.Time
	if optedOut {
		now := time.Now()
		optedOutAt = &now
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO compliance_state (lead_id, opted_out, keyword, opted_out_at, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (lead_id) DO UPDATE SET
			opted_out = EXCLUDED.opted_out,
			keyword = EXCLUDED.keyword,
			opted_out_at = EXCLUDED.opted_out_at,
			updated_at = now()
	`, leadID, optedOut, keyword, optedOutAt)
	return err
}

// CountSends returns the number of recorded sends to the lead since the
// given instant. Caps use rolling windows, not calendar boundaries.
func (r *Repository) CountSends(ctx context.Context, leadID uuid.UUID, since time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM compliance_sends
		WHERE lead_id = $1 AND sent_at >= $2
	`, leadID, since).Scan(&count)
	return count, err
}

func (r *Repository) RecordSend(ctx context.Context, leadID uuid.UUID, channel string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO compliance_sends (lead_id, channel, sent_at)
		VALUES ($1, $2, $3)
	`, leadID, channel, at)
	return err
}

func (r *Repository) AppendAudit(ctx context.Context, entry AuditEntry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO compliance_audit_log (lead_id, channel, decision, reason, masked_phone, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.LeadID, entry.Channel, entry.Decision, entry.Reason, entry.MaskedPhone, entry.CreatedAt)
	return err
}

// GetLeadPhone fetches the lead's normalized phone for audit masking.
func (r *Repository) GetLeadPhone(ctx context.Context, leadID uuid.UUID) (string, error) {
	var phone string
	err := r.pool.QueryRow(ctx, `SELECT phone FROM leads WHERE id = $1`, leadID).Scan(&phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return phone, err
}
