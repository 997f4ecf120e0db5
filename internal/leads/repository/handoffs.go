package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"leadflow_backend/internal/leads/domain"

	"github.com/google/uuid"
)

// CompleteHandoff commits a handoff in one transaction: the source
// session closes, the transfer record is written, and lead ownership
// moves to the target bot. Either all three land or none do, so a
// mid-flight error never strands the lead between bots.
func (r *Repository) CompleteHandoff(ctx context.Context, source *domain.ConversationSession, handoff *domain.HandoffRecord) error {
	bundle, err := json.Marshal(handoff.Context)
	if err != nil {
		return fmt.Errorf("marshal context bundle: %w", err)
	}
	answers, err := json.Marshal(source.Answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, `
		UPDATE conversation_sessions SET
			state = $2, question_index = $3, answers = $4, timeline_ok = $5,
			recovery_attempts = $6, take_away = $7, last_inbound_at = $8, closed_at = $9
		WHERE id = $1
	`,
		source.ID, source.State, source.QuestionIndex, answers, source.TimelineOK,
		source.RecoveryAttempts, source.TakeAway, nullableTime(source.LastInboundAt), source.ClosedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		err = ErrNotFound
		return err
	}

	if _, err = tx.Exec(ctx, `
		INSERT INTO handoffs (id, lead_id, from_session_id, to_session_id, from_bot, to_bot, context, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		handoff.ID, handoff.LeadID, handoff.FromSessionID, handoff.ToSessionID,
		handoff.FromBot, handoff.ToBot, bundle, handoff.CreatedAt,
	); err != nil {
		return err
	}

	tag, err = tx.Exec(ctx, `
		UPDATE leads SET owning_bot = $2, updated_at = now()
		WHERE id = $1
	`, handoff.LeadID, handoff.ToBot)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		err = ErrNotFound
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return err
	}

	return nil
}

// ListHandoffs returns a lead's handoff chain, oldest first, so the
// routing history reads in order.
func (r *Repository) ListHandoffs(ctx context.Context, leadID uuid.UUID) ([]domain.HandoffRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, lead_id, from_session_id, to_session_id, from_bot, to_bot, context, created_at
		FROM handoffs
		WHERE lead_id = $1
		ORDER BY created_at ASC
	`, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	handoffs := make([]domain.HandoffRecord, 0)
	for rows.Next() {
		var (
			handoff domain.HandoffRecord
			bundle  []byte
		)
		if err := rows.Scan(
			&handoff.ID, &handoff.LeadID, &handoff.FromSessionID, &handoff.ToSessionID,
			&handoff.FromBot, &handoff.ToBot, &bundle, &handoff.CreatedAt,
		); err != nil {
			return nil, err
		}
		if len(bundle) > 0 {
			if err := json.Unmarshal(bundle, &handoff.Context); err != nil {
				return nil, fmt.Errorf("unmarshal context bundle: %w", err)
			}
		}
		handoffs = append(handoffs, handoff)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return handoffs, nil
}
