package evaluate

import (
	"fmt"
	"strings"
)

// phraseReaction rewards a correct answer, and a fast one more.
// Latency is only checked once a candidate matched.
func phraseReaction(transcript string, phrases []string, latencyMs, maxLatencyMs int64) Result {
	norm := Normalize(transcript)

	var usable []string
	for _, p := range phrases {
		np := Normalize(p)
		if np == "" {
			continue
		}
		usable = append(usable, strings.TrimSpace(p))
		if strings.Contains(norm, np) {
			if latencyMs <= maxLatencyMs {
				return Result{Score: 100, Feedback: "Great reaction!", MatchedText: p}
			}
			return Result{
				Score:       70,
				Feedback:    fmt.Sprintf("Correct, but too slow: %dms (max %dms).", latencyMs, maxLatencyMs),
				MatchedText: p,
			}
		}
	}

	if len(usable) == 0 {
		return Result{Score: 0, Feedback: FeedbackNoTargets}
	}
	return Result{Score: 30, Feedback: "Expected one of: " + strings.Join(usable, ", ")}
}
