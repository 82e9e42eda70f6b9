// Package evaluate scores a transcribed spoken response against its prompt.
//
// Three strategies are available, selected by category: phrase reaction for
// time-critical short answers, structural scoring for extended answers and
// fuzzy similarity for everything else. Evaluation never fails; degenerate
// input produces a zero score with explanatory feedback.
package evaluate

import (
	"time"

	"github.com/oszuidwest/zwfm-speaktrainer/internal/types"
)

// DefaultMaxLatency is the reaction time allowed for on-pitch answers
// when neither the input nor the Evaluator specifies one.
const DefaultMaxLatency = 1500 * time.Millisecond

// Feedback messages shared by all strategies.
const (
	FeedbackNoSpeech  = "No speech detected."
	FeedbackNoTargets = "No targets defined."
)

// Input describes one attempt to evaluate.
type Input struct {
	Category        types.Category
	TargetText      string
	ExpectedPhrases []string // acceptable on-pitch answers, falls back to TargetText
	Variations      []string // alternative targets for fuzzy scoring
	Transcript      string
	LatencyMs       int64
	MaxLatencyMs    int64 // 0 uses the Evaluator default
	Keyword         string
	DurationSec     float64
}

// Result is the outcome of an evaluation.
type Result struct {
	Score          int
	Feedback       string
	MatchedText    string
	SentenceCount  *int
	StructureScore *int
}

// Evaluator holds tunables shared across evaluations.
type Evaluator struct {
	MaxLatency time.Duration
}

// New returns an Evaluator. A non-positive maxLatency uses DefaultMaxLatency.
func New(maxLatency time.Duration) Evaluator {
	if maxLatency <= 0 {
		maxLatency = DefaultMaxLatency
	}
	return Evaluator{MaxLatency: maxLatency}
}

// Evaluate scores in with the default settings.
func Evaluate(in Input) Result {
	return New(0).Evaluate(in)
}

// Evaluate scores in using the strategy for its category.
func (e Evaluator) Evaluate(in Input) Result {
	if Normalize(in.Transcript) == "" {
		return Result{Score: 0, Feedback: FeedbackNoSpeech}
	}

	switch in.Category {
	case types.CategoryOnPitch:
		maxLatency := in.MaxLatencyMs
		if maxLatency <= 0 {
			maxLatency = e.maxLatencyMs()
		}
		return phraseReaction(in.Transcript, candidates(in.ExpectedPhrases, in.TargetText), in.LatencyMs, maxLatency)
	case types.CategoryInterview:
		return structural(in.Transcript, in.DurationSec)
	default:
		targets := append([]string{in.TargetText}, in.Variations...)
		return fuzzy(in.Transcript, targets, in.Keyword)
	}
}

func (e Evaluator) maxLatencyMs() int64 {
	if e.MaxLatency <= 0 {
		return DefaultMaxLatency.Milliseconds()
	}
	return e.MaxLatency.Milliseconds()
}

// candidates returns the expected phrases, or target alone when none are given.
func candidates(expected []string, target string) []string {
	for _, p := range expected {
		if Normalize(p) != "" {
			return expected
		}
	}
	return []string{target}
}
