package evaluate

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var sentenceEnd = regexp.MustCompile(`[.!?]+`)

// minSentenceRunes is the shortest fragment counted as a sentence.
const minSentenceRunes = 4

// CountSentences returns the number of sentence fragments of at least
// minSentenceRunes characters.
func CountSentences(transcript string) int {
	n := 0
	for _, frag := range sentenceEnd.Split(transcript, -1) {
		if utf8.RuneCountInString(strings.TrimSpace(frag)) >= minSentenceRunes {
			n++
		}
	}
	return n
}

func structural(transcript string, durationSec float64) Result {
	n := CountSentences(transcript)

	structure := 30 * n
	if durationSec > 10 {
		structure += 10
	}
	structure = min(structure, 100)

	res := Result{SentenceCount: &n, StructureScore: &structure}
	if n >= 2 {
		res.Score = 80
		res.Feedback = "Good structure!"
	} else {
		res.Score = 40
		res.Feedback = "Expand your answer with more sentences."
	}
	return res
}
