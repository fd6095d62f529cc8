package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/snarg/stt-engine/internal/transcript"
)

const deepInfraBaseURL = "https://api.deepinfra.com/v1/inference/"

// DeepInfraClient calls DeepInfra's native inference API for Whisper models.
type DeepInfraClient struct {
	apiKey  string
	model   string // e.g. "openai/whisper-large-v3-turbo"
	baseURL string
	client  *http.Client
}

type deepInfraResponse struct {
	Text     string             `json:"text"`
	Language string             `json:"language"`
	Duration float64            `json:"duration"`
	Words    []deepInfraWord    `json:"words"`
	Segments []deepInfraSegment `json:"segments"`
}

// deepInfraWord uses "text" for the word, not "word" like OpenAI.
type deepInfraWord struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type deepInfraSegment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// NewDeepInfraClient creates a new DeepInfra inference client.
func NewDeepInfraClient(apiKey, model string, timeout time.Duration) *DeepInfraClient {
	return &DeepInfraClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: deepInfraBaseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Name returns the provider name.
func (di *DeepInfraClient) Name() string { return "deepinfra" }

// Model returns the configured model identifier.
func (di *DeepInfraClient) Model() string { return di.model }

// Transcribe posts the audio under DeepInfra's "audio" field to
// {base}/{model}. Segment timestamps are used when present; otherwise the
// word list is grouped into segments.
func (di *DeepInfraClient) Transcribe(ctx context.Context, audioPath string, opts Options) (*transcript.Transcript, error) {
	body, contentType, err := audioForm(audioPath, "audio", [][2]string{
		{"language", opts.Language},
		{"initial_prompt", opts.Prompt},
	})
	if err != nil {
		return nil, fail(di.Name(), err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+di.apiKey)
	data, err := post(ctx, di.client, di.baseURL+di.model, body, contentType, header)
	if err != nil {
		return nil, fail(di.Name(), err)
	}

	var result deepInfraResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fail(di.Name(), fmt.Errorf("decode response: %w", err))
	}

	tr := &transcript.Transcript{Language: result.Language}
	switch {
	case len(result.Segments) > 0:
		for _, s := range result.Segments {
			text := strings.TrimSpace(s.Text)
			if text == "" {
				continue
			}
			tr.Segments = append(tr.Segments, transcript.Segment{Start: s.Start, End: s.End, Text: text})
		}
	case len(result.Words) > 0:
		words := make([]transcript.Word, len(result.Words))
		for i, dw := range result.Words {
			words[i] = transcript.Word{Word: dw.Text, Start: dw.Start, End: dw.End}
		}
		tr.Segments = groupWords(words)
	}
	return finish(di.Name(), tr, opts.Language)
}
