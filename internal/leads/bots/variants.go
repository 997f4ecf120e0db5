package bots

import (
	"regexp"
	"strings"

	"leadflow_backend/internal/leads/domain"
)

// SellerBot qualifies homeowners considering a sale. Question keys are
// shared with the buyer script where the meaning is identical, so a
// handoff bundle satisfies them without re-asking.
type SellerBot struct{ script }

func NewSellerBot() *SellerBot {
	return &SellerBot{script{
		botType: domain.BotSeller,
		questions: []Question{
			{Key: "motivation", Text: "What's got you thinking about selling?"},
			{Key: "timeline", Text: "If everything lined up, when would you want to be moved out?", Timeline: true},
			{Key: "price_expectation", Text: "What number would make a sale worth it for you?"},
			{Key: "condition", Text: "How's the condition of the place, anything that needs work?"},
			{Key: "occupancy", Text: "Is the home owner-occupied, rented, or vacant?"},
		},
		greeting: "Hey, thanks for reaching out about your property. Mind if I ask a few quick questions?",
		recovery: "No pressure at all. Even a rough idea helps me point you the right way.",
		takeaway: "Honestly, it sounds like now may not be the right time to sell. Should we close this out?",
	}}
}

// BuyerBot qualifies purchase leads.
type BuyerBot struct{ script }

func NewBuyerBot() *BuyerBot {
	return &BuyerBot{script{
		botType: domain.BotBuyer,
		questions: []Question{
			{Key: "financing", Text: "Are you pre-approved, or still sorting out financing?"},
			{Key: "timeline", Text: "When are you hoping to be in a new place?", Timeline: true},
			{Key: "budget", Text: "What price range are you shopping in?"},
			{Key: "area", Text: "Which neighborhoods are you focused on?"},
			{Key: "must_haves", Text: "Any must-haves, like bed/bath count or a yard?"},
		},
		greeting: "Hi! Happy to help with your home search. A few quick questions so I can match you up properly.",
		recovery: "Totally fine if you're early in the process. A ballpark answer is plenty.",
		takeaway: "It sounds like you might still be browsing. Want me to check back in a few months instead?",
	}}
}

// IntakeBot handles first contact before a lead declares intent, then
// feeds the orchestrator enough to route toward seller or buyer.
type IntakeBot struct{ script }

func NewIntakeBot() *IntakeBot {
	return &IntakeBot{script{
		botType: domain.BotIntake,
		questions: []Question{
			{Key: "intent", Text: "Are you looking to buy, sell, or both?"},
			{Key: "timeline", Text: "What's your rough timeline?", Timeline: true},
			{Key: "contact_preference", Text: "Best way to reach you, text or call?"},
		},
		greeting: "Hi, thanks for getting in touch! Quick question to get started:",
		recovery: "No rush. Whenever you're ready, just let me know what you're looking to do.",
		takeaway: "I'll stop bugging you for now. Text back anytime you want to pick this up.",
	}}
}

var timelinePattern = regexp.MustCompile(`(?i)\b(\d+\s*(day|week|month)s?|asap|now|immediately|this (week|month|spring|summer|fall|winter)|next (week|month)|january|february|march|april|may|june|july|august|september|october|november|december)\b`)

var distantPattern = regexp.MustCompile(`(?i)\b(next year|years?|someday|eventually|no rush|not sure|maybe|just looking|browsing)\b`)

// timelineAcceptable reports whether an answer describes a concrete,
// near-term timeline. Distant or evasive answers fail the signal.
func timelineAcceptable(answer string) bool {
	text := strings.TrimSpace(answer)
	if text == "" {
		return false
	}
	if distantPattern.MatchString(text) {
		return false
	}
	return timelinePattern.MatchString(text)
}
