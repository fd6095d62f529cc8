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

const elevenLabsSTTEndpoint = "https://api.elevenlabs.io/v1/speech-to-text"

// ElevenLabsClient calls the ElevenLabs Speech-to-Text API.
type ElevenLabsClient struct {
	apiKey   string
	model    string // "scribe_v1" or "scribe_v2"
	keyterms string // comma-separated boost terms
	endpoint string
	client   *http.Client
}

type elevenlabsResponse struct {
	LanguageCode string           `json:"language_code"`
	Text         string           `json:"text"`
	Words        []elevenlabsWord `json:"words"`
}

// elevenlabsWord is a word or spacing entry.
type elevenlabsWord struct {
	Text        string  `json:"text"`
	Type        string  `json:"type"` // "word" or "spacing"
	StartTimeMs float64 `json:"start_time_ms"`
	EndTimeMs   float64 `json:"end_time_ms"`
}

// NewElevenLabsClient creates a new ElevenLabs STT client.
func NewElevenLabsClient(apiKey, model, keyterms string, timeout time.Duration) *ElevenLabsClient {
	return &ElevenLabsClient{
		apiKey:   apiKey,
		model:    model,
		keyterms: keyterms,
		endpoint: elevenLabsSTTEndpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Name returns the provider name.
func (el *ElevenLabsClient) Name() string { return "elevenlabs" }

// Model returns the configured model identifier.
func (el *ElevenLabsClient) Model() string { return el.model }

// Transcribe sends an audio file to the ElevenLabs STT API. The API only
// returns words, so they are grouped into segments on pauses and sentence
// ends.
func (el *ElevenLabsClient) Transcribe(ctx context.Context, audioPath string, opts Options) (*transcript.Transcript, error) {
	lang := opts.Language
	if lang == "" {
		lang = transcript.DefaultLanguage
	}
	body, contentType, err := audioForm(audioPath, "file", [][2]string{
		{"model_id", el.model},
		{"language_code", lang},
		{"timestamps_granularity", "word"},
		{"keyterms", el.buildKeyterms(opts.Prompt)},
	})
	if err != nil {
		return nil, fail(el.Name(), err)
	}

	header := http.Header{}
	header.Set("xi-api-key", el.apiKey)
	data, err := post(ctx, el.client, el.endpoint, body, contentType, header)
	if err != nil {
		return nil, fail(el.Name(), err)
	}

	var result elevenlabsResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fail(el.Name(), fmt.Errorf("decode response: %w", err))
	}

	var words []transcript.Word
	for _, ew := range result.Words {
		if ew.Type != "word" {
			continue
		}
		words = append(words, transcript.Word{
			Word:  ew.Text,
			Start: ew.StartTimeMs / 1000.0,
			End:   ew.EndTimeMs / 1000.0,
		})
	}

	tr := &transcript.Transcript{Language: result.LanguageCode, Segments: groupWords(words)}
	return finish(el.Name(), tr, opts.Language)
}

// buildKeyterms merges config-level keyterms with per-request terms into a
// JSON array of {"text": "term"} objects.
func (el *ElevenLabsClient) buildKeyterms(extra string) string {
	var terms []string
	for _, src := range []string{el.keyterms, extra} {
		for _, t := range strings.Split(src, ",") {
			t = strings.TrimSpace(t)
			if t != "" {
				terms = append(terms, t)
			}
		}
	}
	if len(terms) == 0 {
		return ""
	}

	type keyterm struct {
		Text string `json:"text"`
	}
	arr := make([]keyterm, len(terms))
	for i, t := range terms {
		arr[i] = keyterm{Text: t}
	}
	b, _ := json.Marshal(arr)
	return string(b)
}
