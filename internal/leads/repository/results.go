package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"leadflow_backend/internal/leads/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Qualification results are append-only. Rows are never updated or
// deleted; re-evaluations insert a new row per session.

func (r *Repository) SaveQualificationResult(ctx context.Context, result domain.QualificationResult) (domain.QualificationResult, error) {
	scores, err := json.Marshal(result.QuestionScores)
	if err != nil {
		return domain.QualificationResult{}, fmt.Errorf("marshal question scores: %w", err)
	}
	thresholds, err := json.Marshal(result.Thresholds)
	if err != nil {
		return domain.QualificationResult{}, fmt.Errorf("marshal thresholds: %w", err)
	}

	err = r.pool.QueryRow(ctx, `
		INSERT INTO qualification_results (
			session_id, lead_id, temperature, confidence, questions_answered,
			average_quality, question_scores, thresholds, stalled, degraded, evaluated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`,
		result.SessionID, result.LeadID, result.Temperature, result.Confidence, result.QuestionsAnswered,
		result.AverageQuality, scores, thresholds, result.Stalled, result.Degraded, result.EvaluatedAt,
	).Scan(&result.ID)
	if err != nil {
		return domain.QualificationResult{}, err
	}

	return result, nil
}

// LatestQualificationResult returns the most recent evaluation for a
// session, or ErrNotFound when the session was never scored.
func (r *Repository) LatestQualificationResult(ctx context.Context, sessionID uuid.UUID) (domain.QualificationResult, error) {
	rows, err := r.pool.Query(ctx, resultSelect+`
		WHERE session_id = $1
		ORDER BY evaluated_at DESC, id DESC
		LIMIT 1
	`, sessionID)
	if err != nil {
		return domain.QualificationResult{}, err
	}
	defer rows.Close()

	results, err := collectResults(rows)
	if err != nil {
		return domain.QualificationResult{}, err
	}
	if len(results) == 0 {
		return domain.QualificationResult{}, ErrNotFound
	}
	return results[0], nil
}

// ListQualificationResults returns the full scoring history for a lead,
// newest first.
func (r *Repository) ListQualificationResults(ctx context.Context, leadID uuid.UUID) ([]domain.QualificationResult, error) {
	rows, err := r.pool.Query(ctx, resultSelect+`
		WHERE lead_id = $1
		ORDER BY evaluated_at DESC, id DESC
	`, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectResults(rows)
}

const resultSelect = `
	SELECT id, session_id, lead_id, temperature, confidence, questions_answered,
		average_quality, question_scores, thresholds, stalled, degraded, evaluated_at
	FROM qualification_results`

func collectResults(rows pgx.Rows) ([]domain.QualificationResult, error) {
	results := make([]domain.QualificationResult, 0)
	for rows.Next() {
		var (
			result     domain.QualificationResult
			scores     []byte
			thresholds []byte
		)
		if err := rows.Scan(
			&result.ID, &result.SessionID, &result.LeadID, &result.Temperature, &result.Confidence,
			&result.QuestionsAnswered, &result.AverageQuality, &scores, &thresholds,
			&result.Stalled, &result.Degraded, &result.EvaluatedAt,
		); err != nil {
			return nil, err
		}
		if len(scores) > 0 {
			if err := json.Unmarshal(scores, &result.QuestionScores); err != nil {
				return nil, fmt.Errorf("unmarshal question scores: %w", err)
			}
		}
		if len(thresholds) > 0 {
			if err := json.Unmarshal(thresholds, &result.Thresholds); err != nil {
				return nil, fmt.Errorf("unmarshal thresholds: %w", err)
			}
		}
		results = append(results, result)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return results, nil
}
