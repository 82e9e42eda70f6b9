package evaluate

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const keywordMissingNote = " (keyword missing)"

// Distance is the Levenshtein edit distance between a and b in runes.
func Distance(a, b string) int {
	return matchr.Levenshtein(a, b)
}

// Similarity returns 0-100 for two normalized strings.
func Similarity(a, b string) int {
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 100
	}
	sim := 100 * (1 - float64(Distance(a, b))/float64(longest))
	return max(0, int(math.Round(sim)))
}

func fuzzy(transcript string, targets []string, keyword string) Result {
	norm := Normalize(transcript)

	best, matched, found := 0, "", false
	for _, t := range targets {
		nt := Normalize(t)
		if nt == "" {
			continue
		}
		if s := Similarity(nt, norm); !found || s > best {
			best, matched, found = s, t, true
		}
	}
	if !found {
		return Result{Score: 0, Feedback: FeedbackNoTargets}
	}

	score, note := best, ""
	if kw := Normalize(keyword); kw != "" {
		if strings.Contains(norm, kw) {
			if score < 90 {
				score += 5
			}
		} else {
			if score > 80 {
				score -= 10
			}
			note = keywordMissingNote
		}
	}
	score = min(max(score, 0), 100)

	return Result{Score: score, Feedback: tier(score) + note, MatchedText: matched}
}

func tier(score int) string {
	switch {
	case score >= 80:
		return "Excellent!"
	case score >= 50:
		return "Good, can be better."
	default:
		return "Try again."
	}
}
