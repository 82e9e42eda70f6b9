package evaluate

import (
	"strings"
	"testing"
	"time"

	"github.com/oszuidwest/zwfm-speaktrainer/internal/types"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Hello, World!", "hello world"},
		{"  spaced\tout \n text ", "spaced out text"},
		{"snake_case_word", "snake case word"},
		{"It's $5 — OK?", "it s 5 ok"},
		{"", ""},
		{"...", ""},
		{"Ünïcode Ärger", "ünïcode ärger"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"I am READY to go!!",
		"__a__b__",
		"  multiple   spaces\t\ttabs ",
		"émigré, café; naïve?",
		"123 + 456 = 579",
		"",
	}
	for _, s := range inputs {
		once := Normalize(s)
		if twice := Normalize(once); twice != once {
			t.Errorf("Normalize not idempotent for %q: %q then %q", s, once, twice)
		}
	}
}

func TestDistance(t *testing.T) {
	pairs := [][2]string{
		{"kitten", "sitting"},
		{"", "abc"},
		{"flaw", "lawn"},
		{"same", "same"},
		{"café", "cafe"},
	}
	for _, p := range pairs {
		ab, ba := Distance(p[0], p[1]), Distance(p[1], p[0])
		if ab != ba {
			t.Errorf("Distance(%q, %q) = %d, reverse = %d", p[0], p[1], ab, ba)
		}
		if (ab == 0) != (p[0] == p[1]) {
			t.Errorf("Distance(%q, %q) = %d, zero iff equal violated", p[0], p[1], ab)
		}
	}
	if got := Distance("kitten", "sitting"); got != 3 {
		t.Errorf("Distance(kitten, sitting) = %d, want 3", got)
	}
}

func TestSimilarityRange(t *testing.T) {
	inputs := []string{"a", "hello world", "completely different text", "xyz", "the quick brown fox"}
	for _, a := range inputs {
		for _, b := range inputs {
			s := Similarity(a, b)
			if s < 0 || s > 100 {
				t.Errorf("Similarity(%q, %q) = %d, out of range", a, b, s)
			}
		}
	}
}

func TestPhraseReaction(t *testing.T) {
	tests := []struct {
		name       string
		transcript string
		latency    int64
		wantScore  int
		wantIn     string
	}{
		{"fast match", "I am ready to go", 1000, 100, "Great reaction"},
		{"slow match", "I am ready to go", 2000, 70, "2000ms (max 1500ms)"},
		{"boundary latency", "Ready to go!", 1500, 100, "Great reaction"},
		{"no match", "no idea", 1000, 30, "ready to go"},
		{"no match ignores latency", "no idea", 99999, 30, "Expected one of"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Evaluate(Input{
				Category:        types.CategoryOnPitch,
				ExpectedPhrases: []string{"ready to go"},
				Transcript:      tt.transcript,
				LatencyMs:       tt.latency,
				MaxLatencyMs:    1500,
			})
			if res.Score != tt.wantScore {
				t.Errorf("Score = %d, want %d", res.Score, tt.wantScore)
			}
			if !strings.Contains(res.Feedback, tt.wantIn) {
				t.Errorf("Feedback = %q, want it to contain %q", res.Feedback, tt.wantIn)
			}
		})
	}
}

func TestPhraseReactionFallsBackToTarget(t *testing.T) {
	res := Evaluate(Input{
		Category:        types.CategoryOnPitch,
		TargetText:      "Stand by!",
		ExpectedPhrases: []string{"", "  "},
		Transcript:      "okay stand by",
		LatencyMs:       400,
	})
	if res.Score != 100 || res.MatchedText != "Stand by!" {
		t.Errorf("Evaluate() = %+v, want 100 matching target", res)
	}
}

func TestPhraseReactionDefaultMaxLatency(t *testing.T) {
	in := Input{
		Category:        types.CategoryOnPitch,
		ExpectedPhrases: []string{"go"},
		Transcript:      "go",
		LatencyMs:       2000,
	}
	if res := Evaluate(in); res.Score != 70 {
		t.Errorf("default Score = %d, want 70", res.Score)
	}
	if res := New(3 * time.Second).Evaluate(in); res.Score != 100 {
		t.Errorf("Score with 3s default = %d, want 100", res.Score)
	}
}

func TestStructural(t *testing.T) {
	tests := []struct {
		name          string
		transcript    string
		duration      float64
		wantScore     int
		wantSentences int
		wantStructure int
	}{
		{"three sentences", "I like football. It is fun. I play every day.", 8, 80, 3, 90},
		{"one sentence", "I like football", 8, 40, 1, 30},
		{"long answer bonus", "I like football. It is fun.", 12, 80, 2, 70},
		{"short fragments dropped", "Yes. No. Ok. I really do think so!", 5, 40, 1, 30},
		{"capped at 100", "One two. Three four. Five six. Seven eight.", 20, 80, 4, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Evaluate(Input{
				Category:    types.CategoryInterview,
				Transcript:  tt.transcript,
				DurationSec: tt.duration,
			})
			if res.Score != tt.wantScore {
				t.Errorf("Score = %d, want %d", res.Score, tt.wantScore)
			}
			if res.SentenceCount == nil || *res.SentenceCount != tt.wantSentences {
				t.Errorf("SentenceCount = %v, want %d", res.SentenceCount, tt.wantSentences)
			}
			if res.StructureScore == nil || *res.StructureScore != tt.wantStructure {
				t.Errorf("StructureScore = %v, want %d", res.StructureScore, tt.wantStructure)
			}
		})
	}
}

func TestFuzzy(t *testing.T) {
	tests := []struct {
		name        string
		in          Input
		wantScore   int
		wantMatched string
		wantIn      string
	}{
		{
			name:        "exact",
			in:          Input{TargetText: "The weather is nice today.", Transcript: "the weather is nice today"},
			wantScore:   100,
			wantMatched: "The weather is nice today.",
			wantIn:      "Excellent",
		},
		{
			name:      "unrelated",
			in:        Input{TargetText: "abcdefgh", Transcript: "zzzz"},
			wantScore: 0,
			wantIn:    "Try again",
		},
		{
			name:        "best variation wins",
			in:          Input{TargetText: "good morning", Variations: []string{"good evening"}, Transcript: "good evening"},
			wantScore:   100,
			wantMatched: "good evening",
		},
		{
			name:      "keyword missing penalty",
			in:        Input{TargetText: "hello there", Transcript: "hello there", Keyword: "friend"},
			wantScore: 90,
			wantIn:    "(keyword missing)",
		},
		{
			name:      "keyword present bonus",
			in:        Input{TargetText: "abcdefghij", Transcript: "abcdefgxyz abcdefghij", Keyword: "abcdefghij"},
			wantScore: 53,
			wantIn:    "Good, can be better",
		},
		{
			name:      "keyword present at 100 stays clamped",
			in:        Input{TargetText: "hello there", Transcript: "hello there", Keyword: "hello"},
			wantScore: 100,
		},
		{
			name:      "unknown category uses fuzzy",
			in:        Input{Category: "dictation", TargetText: "one two", Transcript: "one two"},
			wantScore: 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Evaluate(tt.in)
			if res.Score != tt.wantScore {
				t.Errorf("Score = %d, want %d", res.Score, tt.wantScore)
			}
			if tt.wantMatched != "" && res.MatchedText != tt.wantMatched {
				t.Errorf("MatchedText = %q, want %q", res.MatchedText, tt.wantMatched)
			}
			if !strings.Contains(res.Feedback, tt.wantIn) {
				t.Errorf("Feedback = %q, want it to contain %q", res.Feedback, tt.wantIn)
			}
		})
	}
}

func TestDegenerateInput(t *testing.T) {
	categories := []types.Category{types.CategoryOnPitch, types.CategoryInterview, types.CategoryShadowing}
	for _, c := range categories {
		res := Evaluate(Input{Category: c, TargetText: "hello", Transcript: " ?! "})
		if res.Score != 0 || res.Feedback != FeedbackNoSpeech {
			t.Errorf("%s empty transcript = %+v, want 0 %q", c, res, FeedbackNoSpeech)
		}
	}

	for _, c := range []types.Category{types.CategoryOnPitch, types.CategoryShadowing} {
		res := Evaluate(Input{Category: c, Transcript: "something"})
		if res.Score != 0 || res.Feedback != FeedbackNoTargets {
			t.Errorf("%s no targets = %+v, want 0 %q", c, res, FeedbackNoTargets)
		}
	}
}
