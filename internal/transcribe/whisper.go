package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/snarg/stt-engine/internal/transcript"
)

// WhisperClient calls an OpenAI-compatible /v1/audio/transcriptions endpoint
// (faster-whisper server, speaches, whisper.cpp server).
type WhisperClient struct {
	url     string
	model   string
	timeout time.Duration
	client  *http.Client
}

// whisperResponse is the verbose_json response body.
type whisperResponse struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Duration float64          `json:"duration"`
	Segments []whisperSegment `json:"segments"`
}

type whisperSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// NewWhisperClient creates a new Whisper HTTP client.
func NewWhisperClient(url, model string, timeout time.Duration) *WhisperClient {
	return &WhisperClient{
		url:     url,
		model:   model,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

// Name returns the provider name.
func (wc *WhisperClient) Name() string { return "whisper" }

// Model returns the configured model identifier.
func (wc *WhisperClient) Model() string { return wc.model }

// Transcribe sends an audio file to the Whisper API and returns its segments.
// Only non-default parameters are sent so any OpenAI-compatible server works.
func (wc *WhisperClient) Transcribe(ctx context.Context, audioPath string, opts Options) (*transcript.Transcript, error) {
	var temperature string
	if opts.Temperature > 0 {
		temperature = strconv.FormatFloat(opts.Temperature, 'f', 2, 64)
	}
	body, contentType, err := audioForm(audioPath, "file", [][2]string{
		{"model", wc.model},
		{"language", opts.Language},
		{"prompt", opts.Prompt},
		{"temperature", temperature},
		{"response_format", "verbose_json"},
		{"timestamp_granularities[]", "segment"},
	})
	if err != nil {
		return nil, fail(wc.Name(), err)
	}

	data, err := post(ctx, wc.client, wc.url, body, contentType, nil)
	if err != nil {
		return nil, fail(wc.Name(), err)
	}

	var result whisperResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fail(wc.Name(), fmt.Errorf("decode response: %w", err))
	}

	tr := &transcript.Transcript{Language: result.Language}
	for _, s := range result.Segments {
		tr.Segments = append(tr.Segments, transcript.Segment{
			Start: s.Start,
			End:   s.End,
			Text:  strings.TrimSpace(s.Text),
		})
	}
	// Servers that ignore verbose_json still return text; keep it as one segment.
	if len(tr.Segments) == 0 && strings.TrimSpace(result.Text) != "" {
		tr.Segments = []transcript.Segment{{Start: 0, End: result.Duration, Text: strings.TrimSpace(result.Text)}}
	}
	return finish(wc.Name(), tr, opts.Language)
}
