package scoring

import (
	"regexp"
	"strings"
)

// Answer quality is the average of two sub-signals, mirroring the
// FRS/PCS split used in qualification analysis:
//   - specificity: concrete numbers, dates, and named details indicate a
//     financially grounded answer
//   - commitment: decisive language versus hedging indicates psychological
//     readiness
//
// The result is clamped to [0,1] and is deliberately cheap to compute;
// it runs on every inbound message.

var (
	numberPattern = regexp.MustCompile(`\d`)
	moneyPattern  = regexp.MustCompile(`(?i)\$\s?\d|(\d+\s?(k|grand))\b`)
	datePattern   = regexp.MustCompile(`(?i)\b(january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sept?|oct|nov|dec|week|month|day|tomorrow|today|asap)\b`)
)

var evasivePhrases = []string{
	"maybe", "not sure", "don't know", "dont know", "idk", "whenever",
	"no idea", "we'll see", "just looking", "just browsing", "depends",
	"someday", "eventually", "thinking about",
}

var committedPhrases = []string{
	"need to", "have to", "must", "ready", "asap", "definitely",
	"as soon as", "already", "yes", "for sure", "absolutely",
}

// ScoreAnswer rates the specificity and commitment of a free-text answer
// in [0,1]. Empty or whitespace-only answers score 0.
func ScoreAnswer(body string) float64 {
	text := strings.ToLower(strings.TrimSpace(body))
	if text == "" {
		return 0
	}

	specificity := scoreSpecificity(text)
	commitment := scoreCommitment(text)

	return clamp01((specificity + commitment) / 2)
}

func scoreSpecificity(text string) float64 {
	score := 0.3 // any answer at all carries some signal

	if numberPattern.MatchString(text) {
		score += 0.3
	}
	if moneyPattern.MatchString(text) || datePattern.MatchString(text) {
		score += 0.2
	}
	if len(strings.Fields(text)) >= 5 {
		score += 0.2
	}

	return clamp01(score)
}

func scoreCommitment(text string) float64 {
	score := 0.5

	for _, phrase := range evasivePhrases {
		if strings.Contains(text, phrase) {
			score -= 0.25
		}
	}
	for _, phrase := range committedPhrases {
		if strings.Contains(text, phrase) {
			score += 0.2
			break
		}
	}

	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
