package scoring

import (
	"math"
	"time"

	"leadflow_backend/internal/leads/domain"
)

const (
	// scoreVersion tracks the scoring model for debugging and analysis.
	// Bump this when changing classification logic significantly.
	scoreVersion = "2026-v1"

	// substantiveFloor is the minimum quality for an answer to count as a
	// substantively answered question.
	substantiveFloor = 0.3

	// Confidence bases per matched bucket. The margin above the bucket's
	// thresholds is added on top, so confidence is monotonic in both
	// quality and question count and capped at 1.0.
	hotConfidenceBase  = 0.7
	warmConfidenceBase = 0.4
	coldConfidenceBase = 0.3

	// questionMarginWeight converts excess answered questions into
	// confidence.
	questionMarginWeight = 0.05
)

// Inputs are the accumulated conversation facts the engine classifies.
type Inputs struct {
	QuestionScores []float64 // per-answer quality in [0,1]
	TimelineOK     bool
	Thresholds     domain.Thresholds
}

// Evaluate classifies the inputs into a temperature with confidence.
// It is a pure function: the same inputs and thresholds always produce
// the same result. Malformed input never causes an error or panic:
// unusable thresholds degrade the result to cold with zero confidence
// and Degraded set, and a missing or NaN answer score is treated as 0,
// failing toward cold rather than being skipped.
func Evaluate(in Inputs) domain.QualificationResult {
	res := domain.QualificationResult{
		Temperature: domain.TemperatureCold,
		Thresholds:  in.Thresholds,
		EvaluatedAt: time.Now(),
	}

	scores := make([]float64, 0, len(in.QuestionScores))
	for _, s := range in.QuestionScores {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			s = 0
		}
		scores = append(scores, clamp01(s))
	}
	res.QuestionScores = scores

	answered := 0
	total := 0.0
	for _, s := range scores {
		total += s
		if s >= substantiveFloor {
			answered++
		}
	}
	res.QuestionsAnswered = answered

	quality := 0.0
	if len(scores) > 0 {
		quality = total / float64(len(scores))
	}
	res.AverageQuality = quality

	res.Stalled = detectStall(scores, in.Thresholds)

	if !validThresholds(in.Thresholds) {
		res.Degraded = true
		res.Confidence = 0
		return res
	}

	t := in.Thresholds
	switch {
	case answered >= t.HotQuestionsRequired && in.TimelineOK && quality >= t.HotQualityThreshold:
		res.Temperature = domain.TemperatureHot
		res.Confidence = confidence(hotConfidenceBase,
			quality-t.HotQualityThreshold,
			answered-t.HotQuestionsRequired)

	case answered >= t.WarmQuestionsRequired && quality >= t.WarmQualityThreshold:
		res.Temperature = domain.TemperatureWarm
		res.Confidence = confidence(warmConfidenceBase,
			quality-t.WarmQualityThreshold,
			answered-t.WarmQuestionsRequired)

	default:
		res.Temperature = domain.TemperatureCold
		// For cold, the margin is how far below the warm bar the lead
		// sits: the further below, the surer the classification.
		res.Confidence = confidence(coldConfidenceBase,
			math.Max(0, t.WarmQualityThreshold-quality), 0)
	}

	return res
}

// validThresholds rejects configurations the classifier cannot honor.
func validThresholds(t domain.Thresholds) bool {
	for _, v := range []float64{t.HotQualityThreshold, t.WarmQualityThreshold} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return false
		}
	}
	return t.HotQuestionsRequired > 0 && t.WarmQuestionsRequired > 0 &&
		t.HotQuestionsRequired >= t.WarmQuestionsRequired
}

// detectStall reports whether the last StallWindow answers all scored
// under the stall quality floor. Fewer answers than the window never
// counts as a stall.
func detectStall(scores []float64, t domain.Thresholds) bool {
	window := t.StallWindow
	if window <= 0 || len(scores) < window {
		return false
	}
	for _, s := range scores[len(scores)-window:] {
		if s >= t.StallQualityFloor {
			return false
		}
	}
	return true
}

func confidence(base, qualityMargin float64, questionMargin int) float64 {
	c := base + qualityMargin + questionMarginWeight*float64(questionMargin)
	return clamp01(c)
}
