// Package conversation drives the per-(lead, bot type) qualification
// state machine: greeting -> question_k -> stalled_recovery (optional)
// -> qualified | closed.
package conversation

import (
	"context"
	"time"

	"leadflow_backend/internal/leads/bots"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/leads/scoring"
)

// Transition describes one state machine step taken for an inbound message.
type Transition struct {
	From    domain.SessionState
	To      domain.SessionState
	Prompt  bots.Prompt
	Result  *domain.QualificationResult // set when scoring ran on this step
	Stalled bool
}

// Machine advances sessions for one bot variant. It mutates the session
// in memory only; persistence is the Service's concern.
type Machine struct {
	bot         bots.Bot
	scorer      *scoring.Service
	maxRecovery int
}

// NewMachine builds a machine for the given variant.
func NewMachine(bot bots.Bot, scorer *scoring.Service, maxRecovery int) *Machine {
	return &Machine{bot: bot, scorer: scorer, maxRecovery: maxRecovery}
}

// Advance processes one inbound message. Terminal sessions are left
// untouched and reported as a no-op transition.
func (m *Machine) Advance(ctx context.Context, session *domain.ConversationSession, body string, now time.Time) (Transition, error) {
	tr := Transition{From: session.State, To: session.State}

	if !session.Active() {
		tr.Prompt = m.bot.Transition(session)
		return tr, nil
	}

	session.LastInboundAt = now

	switch session.State {
	case domain.StateGreeting:
		// The first inbound message opens the question sequence; the
		// greeting itself collects no facts.
		session.State = domain.StateQuestion
		session.QuestionIndex = 0

	case domain.StateQuestion:
		if err := m.recordAnswer(ctx, session, body, now, &tr); err != nil {
			return tr, err
		}

	case domain.StateStalledRecovery:
		if err := m.recordAnswer(ctx, session, body, now, &tr); err != nil {
			return tr, err
		}
		if session.State == domain.StateStalledRecovery {
			// Still no concrete answer; count the attempt and escalate
			// to the take-away variant once attempts are exhausted.
			session.RecoveryAttempts++
			if session.RecoveryAttempts > m.maxRecovery {
				session.TakeAway = true
			}
		}
	}

	tr.To = session.State
	tr.Prompt = m.bot.Transition(session)
	return tr, nil
}

// recordAnswer stores the answer for the current question, re-scores
// the session, and applies the resulting state change.
func (m *Machine) recordAnswer(ctx context.Context, session *domain.ConversationSession, body string, now time.Time, tr *Transition) error {
	questions := m.bot.Questions()
	idx := session.QuestionIndex
	if idx >= len(questions) {
		idx = len(questions) - 1
	}
	q := questions[idx]

	assessment := m.bot.Evaluate(q, body)
	session.Answers = append(session.Answers, domain.Answer{
		Question:   q.Key,
		Body:       body,
		Quality:    assessment.Quality,
		AnsweredAt: now,
	})
	if assessment.TimelineOK != nil {
		session.TimelineOK = *assessment.TimelineOK
	}

	result, err := m.scorer.Score(ctx, session)
	if err != nil {
		return err
	}
	tr.Result = &result
	tr.Stalled = result.Stalled

	wasRecovering := session.State == domain.StateStalledRecovery
	concrete := assessment.Quality >= result.Thresholds.StallQualityFloor

	switch {
	case wasRecovering && concrete:
		// A concrete answer resumes the question sequence.
		session.State = domain.StateQuestion
		session.QuestionIndex = nextUnanswered(session, questions, idx+1)

	case !wasRecovering && result.Stalled:
		session.State = domain.StateStalledRecovery
		session.RecoveryAttempts++
		if session.RecoveryAttempts > m.maxRecovery {
			session.TakeAway = true
		}

	case !wasRecovering:
		session.QuestionIndex = nextUnanswered(session, questions, idx+1)
	}

	if session.State == domain.StateQuestion && session.QuestionIndex >= len(questions) {
		session.State = domain.StateQualified
		closed := now
		session.ClosedAt = &closed
	}

	return nil
}

// nextUnanswered returns the first question index at or after from whose
// key has no recorded answer. Items answered before a handoff are
// skipped, never re-asked.
func nextUnanswered(session *domain.ConversationSession, questions []bots.Question, from int) int {
	answered := make(map[string]bool, len(session.Answers))
	for _, a := range session.Answers {
		answered[a.Question] = true
	}
	for i := from; i < len(questions); i++ {
		if !answered[questions[i].Key] {
			return i
		}
	}
	return len(questions)
}
