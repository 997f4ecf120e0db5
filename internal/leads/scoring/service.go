package scoring

import (
	"context"

	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
)

// ResultStore persists qualification results and temperature updates.
// Satisfied by the leads repository.
type ResultStore interface {
	SaveQualificationResult(ctx context.Context, result domain.QualificationResult) (domain.QualificationResult, error)
	GetLead(ctx context.Context, leadID uuid.UUID) (domain.Lead, error)
	UpdateLeadTemperature(ctx context.Context, leadID uuid.UUID, temp domain.Temperature, confidence float64) error
}

// Service runs the scoring engine against a session and records the
// outcome: an append-only QualificationResult plus the lead's current
// temperature. Publishes TemperatureChanged when the bucket moves.
type Service struct {
	store      ResultStore
	thresholds domain.Thresholds
	eventBus   events.Bus
	log        *logger.Logger
}

// New creates a scoring service with the deployment's threshold configuration.
func New(store ResultStore, thresholds domain.Thresholds, eventBus events.Bus, log *logger.Logger) *Service {
	return &Service{
		store:      store,
		thresholds: thresholds,
		eventBus:   eventBus,
		log:        log,
	}
}

// Thresholds returns the threshold configuration in force.
func (s *Service) Thresholds() domain.Thresholds {
	return s.thresholds
}

// Score evaluates the session's accumulated answers and persists the
// result. The stored result carries the exact thresholds used.
func (s *Service) Score(ctx context.Context, session *domain.ConversationSession) (domain.QualificationResult, error) {
	scores := make([]float64, 0, len(session.Answers))
	for _, a := range session.Answers {
		scores = append(scores, a.Quality)
	}

	result := Evaluate(Inputs{
		QuestionScores: scores,
		TimelineOK:     session.TimelineOK,
		Thresholds:     s.thresholds,
	})
	result.SessionID = session.ID
	result.LeadID = session.LeadID

	saved, err := s.store.SaveQualificationResult(ctx, result)
	if err != nil {
		return domain.QualificationResult{}, err
	}

	oldTemp := domain.TemperatureCold
	if lead, err := s.store.GetLead(ctx, session.LeadID); err == nil {
		oldTemp = lead.Temperature
	}

	if err := s.store.UpdateLeadTemperature(ctx, session.LeadID, saved.Temperature, saved.Confidence); err != nil {
		s.log.DatabaseError("update lead temperature", err)
		return saved, err
	}

	if oldTemp != saved.Temperature {
		s.log.Info("scoring: temperature changed",
			"leadId", session.LeadID,
			"old", oldTemp,
			"new", saved.Temperature,
			"confidence", saved.Confidence,
			"model", scoreVersion,
		)
		s.eventBus.Publish(ctx, events.TemperatureChanged{
			BaseEvent:      events.NewBaseEvent(),
			LeadID:         session.LeadID,
			SessionID:      session.ID,
			OldTemperature: oldTemp,
			NewTemperature: saved.Temperature,
			Confidence:     saved.Confidence,
		})
	}

	return saved, nil
}
