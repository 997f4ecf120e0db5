// Package bots defines the closed set of qualification bot variants.
// Each variant supplies its question script and context semantics; the
// conversation state machine drives all of them through the Bot
// interface, never through runtime type inspection.
package bots

import (
	"fmt"

	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/leads/scoring"
)

// Question is one qualification item in a bot's script.
type Question struct {
	Key      string // stable fact key, shared across bot types where meanings align
	Text     string
	Timeline bool // answers to this question carry the timeline signal
}

// Assessment is a bot's read of one inbound answer.
type Assessment struct {
	Quality    float64
	TimelineOK *bool // set only when the question carries the timeline signal
}

// Prompt is the next outbound message intent for a session.
type Prompt struct {
	Intent string // "greeting", "question", "stall_recovery", "takeaway", "qualified", "closed"
	Text   string
}

// Bot is the capability interface every variant implements.
type Bot interface {
	Type() domain.BotType
	Questions() []Question

	// Evaluate scores an inbound answer to the given question and
	// extracts the facts the variant cares about.
	Evaluate(q Question, answer string) Assessment

	// Transition produces the outbound prompt for the session's current
	// state. It never mutates the session.
	Transition(session *domain.ConversationSession) Prompt

	// ExportContext builds the handoff bundle from a finished session.
	ExportContext(session *domain.ConversationSession, result domain.QualificationResult) domain.ContextBundle

	// ImportContext seeds a fresh session from a received bundle so
	// already-answered items are never re-asked.
	ImportContext(session *domain.ConversationSession, bundle domain.ContextBundle)
}

// Registry resolves bot types to variants. The set is fixed at startup.
type Registry struct {
	bots map[domain.BotType]Bot
}

// NewRegistry builds a registry from the given variants.
func NewRegistry(variants ...Bot) *Registry {
	bots := make(map[domain.BotType]Bot, len(variants))
	for _, b := range variants {
		bots[b.Type()] = b
	}
	return &Registry{bots: bots}
}

// Lookup returns the variant for a bot type, or an error when the type
// is unknown or not configured. Callers must fail closed on error.
func (r *Registry) Lookup(botType domain.BotType) (Bot, error) {
	b, ok := r.bots[botType]
	if !ok {
		return nil, fmt.Errorf("bot type %q not configured", botType)
	}
	return b, nil
}

// Default returns the standard registry with all three variants.
func Default() *Registry {
	return NewRegistry(NewIntakeBot(), NewSellerBot(), NewBuyerBot())
}

// script is the shared implementation all variants embed.
type script struct {
	botType   domain.BotType
	questions []Question
	greeting  string
	recovery  string
	takeaway  string
}

func (s *script) Type() domain.BotType  { return s.botType }
func (s *script) Questions() []Question { return s.questions }

func (s *script) Evaluate(q Question, answer string) Assessment {
	a := Assessment{Quality: scoring.ScoreAnswer(answer)}
	if q.Timeline {
		ok := timelineAcceptable(answer)
		a.TimelineOK = &ok
	}
	return a
}

func (s *script) Transition(session *domain.ConversationSession) Prompt {
	switch session.State {
	case domain.StateGreeting:
		return Prompt{Intent: "greeting", Text: s.greeting}
	case domain.StateQuestion:
		idx := session.QuestionIndex
		if idx >= len(s.questions) {
			idx = len(s.questions) - 1
		}
		return Prompt{Intent: "question", Text: s.questions[idx].Text}
	case domain.StateStalledRecovery:
		if session.TakeAway {
			return Prompt{Intent: "takeaway", Text: s.takeaway}
		}
		return Prompt{Intent: "stall_recovery", Text: s.recovery}
	case domain.StateQualified:
		return Prompt{Intent: "qualified", Text: "Great, I have everything I need. Someone from the team will reach out shortly."}
	default:
		return Prompt{Intent: "closed", Text: ""}
	}
}

func (s *script) ExportContext(session *domain.ConversationSession, result domain.QualificationResult) domain.ContextBundle {
	facts := make(map[string]string, len(session.Answers))
	for _, ans := range session.Answers {
		facts[ans.Question] = ans.Body
	}
	return domain.ContextBundle{
		Facts:       facts,
		Temperature: result.Temperature,
		Confidence:  result.Confidence,
		StallCount:  session.RecoveryAttempts,
		Summary:     fmt.Sprintf("%s qualification: %d answers, %s at %.2f confidence", s.botType, len(session.Answers), result.Temperature, result.Confidence),
	}
}

func (s *script) ImportContext(session *domain.ConversationSession, bundle domain.ContextBundle) {
	next := -1
	for i, q := range s.questions {
		body, ok := bundle.Facts[q.Key]
		if !ok {
			// First unanswered item is where the conversation resumes;
			// answered items past it are skipped, not re-asked.
			if next == -1 {
				next = i
			}
			continue
		}
		session.Answers = append(session.Answers, domain.Answer{
			Question: q.Key,
			Body:     body,
			Quality:  scoring.ScoreAnswer(body),
		})
		if q.Timeline {
			session.TimelineOK = timelineAcceptable(body)
		}
	}
	if next == -1 {
		next = len(s.questions)
	}
	session.QuestionIndex = next
}
