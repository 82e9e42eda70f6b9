// Package transcribe converts recorded speech to text through an external service.
package transcribe

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Providers.
const (
	ProviderOpenAI  = "openai"
	ProviderWhisper = "whisper"
)

// DefaultTimeout bounds a single transcription request.
const DefaultTimeout = 60 * time.Second

// Transcriber turns an audio file into text. languageHint may be empty.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, contentType, languageHint string) (string, error)
}

// Options selects and configures a Transcriber.
type Options struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string // API base for openai, server URL for whisper
	Timeout  time.Duration
}

// New returns the Transcriber selected by opts.Provider.
func New(opts Options) (Transcriber, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	switch opts.Provider {
	case ProviderOpenAI, "":
		return NewOpenAI(opts.APIKey, opts.Model, opts.BaseURL, opts.Timeout)
	case ProviderWhisper:
		return NewWhisper(opts.BaseURL, opts.Model, opts.Timeout)
	default:
		return nil, fmt.Errorf("unknown transcription provider %q", opts.Provider)
	}
}

// filename returns an upload file name whose extension matches contentType.
func filename(contentType string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "wav"):
		return "audio.wav"
	case strings.Contains(ct, "webm"):
		return "audio.webm"
	case strings.Contains(ct, "ogg"):
		return "audio.ogg"
	case strings.Contains(ct, "mpeg"), strings.Contains(ct, "mp3"):
		return "audio.mp3"
	case strings.Contains(ct, "mp4"), strings.Contains(ct, "m4a"), strings.Contains(ct, "aac"):
		return "audio.m4a"
	default:
		return "audio.wav"
	}
}
