package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"leadflow_backend/internal/leads/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Conversation sessions store their answer transcript as jsonb; the
// scalar state columns are what queries filter on.

func (r *Repository) CreateSession(ctx context.Context, session *domain.ConversationSession) error {
	answers, err := json.Marshal(session.Answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO conversation_sessions (
			id, lead_id, bot_type, state, question_index, answers,
			timeline_ok, recovery_attempts, take_away, last_inbound_at, started_at, closed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		session.ID, session.LeadID, session.BotType, session.State, session.QuestionIndex, answers,
		session.TimelineOK, session.RecoveryAttempts, session.TakeAway,
		nullableTime(session.LastInboundAt), session.StartedAt, session.ClosedAt,
	)
	return err
}

func (r *Repository) UpdateSession(ctx context.Context, session *domain.ConversationSession) error {
	answers, err := json.Marshal(session.Answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE conversation_sessions SET
			state = $2, question_index = $3, answers = $4, timeline_ok = $5,
			recovery_attempts = $6, take_away = $7, last_inbound_at = $8, closed_at = $9
		WHERE id = $1
	`,
		session.ID, session.State, session.QuestionIndex, answers, session.TimelineOK,
		session.RecoveryAttempts, session.TakeAway, nullableTime(session.LastInboundAt), session.ClosedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) GetSession(ctx context.Context, id uuid.UUID) (*domain.ConversationSession, error) {
	row := r.pool.QueryRow(ctx, sessionSelect+` WHERE id = $1`, id)
	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// GetActiveSession returns the open session for (lead, bot type), or nil
// when none exists. At most one can be active per pair.
func (r *Repository) GetActiveSession(ctx context.Context, leadID uuid.UUID, botType domain.BotType) (*domain.ConversationSession, error) {
	row := r.pool.QueryRow(ctx, sessionSelect+`
		WHERE lead_id = $1 AND bot_type = $2 AND state NOT IN ('qualified', 'closed')
		ORDER BY started_at DESC
		LIMIT 1
	`, leadID, botType)
	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// ListIdleSessions returns open sessions whose last activity is at or
// before the cutoff. Sessions with no inbound yet fall back to their
// start time.
func (r *Repository) ListIdleSessions(ctx context.Context, cutoff time.Time) ([]domain.ConversationSession, error) {
	rows, err := r.pool.Query(ctx, sessionSelect+`
		WHERE state NOT IN ('qualified', 'closed')
			AND COALESCE(last_inbound_at, started_at) <= $1
		ORDER BY COALESCE(last_inbound_at, started_at) ASC
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]domain.ConversationSession, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return sessions, nil
}

const sessionSelect = `
	SELECT id, lead_id, bot_type, state, question_index, answers,
		timeline_ok, recovery_attempts, take_away, last_inbound_at, started_at, closed_at
	FROM conversation_sessions`

func scanSession(row pgx.Row) (*domain.ConversationSession, error) {
	var (
		session     domain.ConversationSession
		answers     []byte
		lastInbound *time.Time
	)
	if err := row.Scan(
		&session.ID, &session.LeadID, &session.BotType, &session.State, &session.QuestionIndex, &answers,
		&session.TimelineOK, &session.RecoveryAttempts, &session.TakeAway,
		&lastInbound, &session.StartedAt, &session.ClosedAt,
	); err != nil {
		return nil, err
	}
	if len(answers) > 0 {
		if err := json.Unmarshal(answers, &session.Answers); err != nil {
			return nil, fmt.Errorf("unmarshal answers: %w", err)
		}
	}
	if lastInbound != nil {
		session.LastInboundAt = *lastInbound
	}
	return &session, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
