package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = oai.AudioModelWhisper1

// OpenAI transcribes through the OpenAI audio transcription API.
type OpenAI struct {
	client oai.Client
	model  string
}

var _ Transcriber = (*OpenAI)(nil)

// NewOpenAI creates an OpenAI transcriber. baseURL may point at any
// compatible server.
func NewOpenAI(apiKey, model, baseURL string, timeout time.Duration) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai transcription: api key must not be empty")
	}
	if model == "" {
		model = DefaultOpenAIModel
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(1),
	}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	if timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: timeout}))
	}

	return &OpenAI{client: oai.NewClient(reqOpts...), model: model}, nil
}

func (o *OpenAI) Transcribe(ctx context.Context, audio []byte, contentType, languageHint string) (string, error) {
	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(audio), filename(contentType), contentType),
		Model: o.model,
	}
	if languageHint != "" {
		params.Language = param.NewOpt(languageHint)
	}

	resp, err := o.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai transcription: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
