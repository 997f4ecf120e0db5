package repository

import (
	"context"
	"errors"
	"time"

	"leadflow_backend/internal/leads/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("lead not found")

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type CreateLeadParams struct {
	ExternalID string
	Name       string
	Phone      string
	Email      string
	OwningBot  domain.BotType
	Source     string
}

func (r *Repository) CreateLead(ctx context.Context, params CreateLeadParams) (domain.Lead, error) {
	var lead domain.Lead
	err := r.pool.QueryRow(ctx, `
		INSERT INTO leads (external_id, name, phone, email, temperature, confidence, owning_bot, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, external_id, name, phone, email, temperature, confidence, owning_bot, source,
			archived, sync_failed, synced_at, created_at, updated_at
	`,
		params.ExternalID, params.Name, params.Phone, params.Email,
		domain.TemperatureCold, 0.0, params.OwningBot, params.Source,
	).Scan(
		&lead.ID, &lead.ExternalID, &lead.Name, &lead.Phone, &lead.Email,
		&lead.Temperature, &lead.Confidence, &lead.OwningBot, &lead.Source,
		&lead.Archived, &lead.SyncFailed, &lead.SyncedAt, &lead.CreatedAt, &lead.UpdatedAt,
	)
	if err != nil {
		return domain.Lead{}, err
	}

	return lead, nil
}

func (r *Repository) GetLead(ctx context.Context, id uuid.UUID) (domain.Lead, error) {
	return r.getLeadWhere(ctx, "id = $1", id)
}

func (r *Repository) GetLeadByExternalID(ctx context.Context, externalID string) (domain.Lead, error) {
	return r.getLeadWhere(ctx, "external_id = $1", externalID)
}

// GetLeadByPhone matches on the normalized E.164 number.
func (r *Repository) GetLeadByPhone(ctx context.Context, phone string) (domain.Lead, error) {
	return r.getLeadWhere(ctx, "phone = $1", phone)
}

func (r *Repository) getLeadWhere(ctx context.Context, where string, arg any) (domain.Lead, error) {
	var lead domain.Lead
	err := r.pool.QueryRow(ctx, `
		SELECT id, external_id, name, phone, email, temperature, confidence, owning_bot, source,
			archived, sync_failed, synced_at, created_at, updated_at
		FROM leads WHERE `+where+`
		ORDER BY created_at DESC
		LIMIT 1
	`, arg).Scan(
		&lead.ID, &lead.ExternalID, &lead.Name, &lead.Phone, &lead.Email,
		&lead.Temperature, &lead.Confidence, &lead.OwningBot, &lead.Source,
		&lead.Archived, &lead.SyncFailed, &lead.SyncedAt, &lead.CreatedAt, &lead.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Lead{}, ErrNotFound
	}
	return lead, err
}

func (r *Repository) UpdateLeadTemperature(ctx context.Context, leadID uuid.UUID, temp domain.Temperature, confidence float64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads SET temperature = $2, confidence = $3, updated_at = now()
		WHERE id = $1
	`, leadID, temp, confidence)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) SetLeadSyncFailed(ctx context.Context, leadID uuid.UUID, failed bool) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE leads SET sync_failed = $2, updated_at = now()
		WHERE id = $1
	`, leadID, failed)
	return err
}

func (r *Repository) ArchiveLead(ctx context.Context, leadID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads SET archived = true, updated_at = now()
		WHERE id = $1
	`, leadID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type ListLeadsParams struct {
	Temperature *domain.Temperature
	OwningBot   *domain.BotType
	SyncFailed  *bool
	Limit       int
	Offset      int
}

// ListLeads supports the operator dashboard. Archived leads are excluded.
func (r *Repository) ListLeads(ctx context.Context, params ListLeadsParams) ([]domain.Lead, error) {
	limit := params.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, external_id, name, phone, email, temperature, confidence, owning_bot, source,
			archived, sync_failed, synced_at, created_at, updated_at
		FROM leads
		WHERE archived = false
			AND ($1::text IS NULL OR temperature = $1)
			AND ($2::text IS NULL OR owning_bot = $2)
			AND ($3::boolean IS NULL OR sync_failed = $3)
		ORDER BY updated_at DESC
		LIMIT $4 OFFSET $5
	`, params.Temperature, params.OwningBot, params.SyncFailed, limit, params.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	leads := make([]domain.Lead, 0)
	for rows.Next() {
		var lead domain.Lead
		if err := rows.Scan(
			&lead.ID, &lead.ExternalID, &lead.Name, &lead.Phone, &lead.Email,
			&lead.Temperature, &lead.Confidence, &lead.OwningBot, &lead.Source,
			&lead.Archived, &lead.SyncFailed, &lead.SyncedAt, &lead.CreatedAt, &lead.UpdatedAt,
		); err != nil {
			return nil, err
		}
		leads = append(leads, lead)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return leads, nil
}

// TouchLeadSyncedAt records the last successful CRM sync time.
func (r *Repository) TouchLeadSyncedAt(ctx context.Context, leadID uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE leads SET synced_at = $2, sync_failed = false, updated_at = now()
		WHERE id = $1
	`, leadID, at)
	return err
}
