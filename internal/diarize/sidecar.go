package diarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/snarg/stt-engine/internal/transcript"
)

// SidecarClient talks to a WhisperX-style HTTP sidecar exposing
// /transcribe, /align, /diarize and /health. Audio is posted as multipart
// under the "audio" field.
type SidecarClient struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewSidecarClient creates a client for the sidecar at baseURL.
func NewSidecarClient(baseURL, model string, timeout time.Duration) *SidecarClient {
	return &SidecarClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

// Name returns the backend name.
func (c *SidecarClient) Name() string { return "whisperx" }

// Model returns the transcription model the sidecar is asked to use.
func (c *SidecarClient) Model() string { return c.model }

// IsAvailable checks if the sidecar is reachable.
func (c *SidecarClient) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type sidecarTranscript struct {
	Language string           `json:"language"`
	Segments []sidecarSegment `json:"segments"`
	Error    string           `json:"error,omitempty"`
}

type sidecarSegment struct {
	Start   float64       `json:"start"`
	End     float64       `json:"end"`
	Text    string        `json:"text"`
	Speaker string        `json:"speaker,omitempty"`
	Words   []sidecarWord `json:"words,omitempty"`
}

// sidecarWord may lack timings when the aligner could not place it.
type sidecarWord struct {
	Word  string   `json:"word"`
	Start *float64 `json:"start"`
	End   *float64 `json:"end"`
}

type sidecarTurns struct {
	Segments []Turn `json:"segments"`
	Error    string `json:"error,omitempty"`
}

// Transcribe runs the sidecar's own transcription model.
func (c *SidecarClient) Transcribe(ctx context.Context, audioPath, language string) (*transcript.Transcript, error) {
	var out sidecarTranscript
	err := c.call(ctx, "/transcribe", audioPath, map[string]string{
		"model":    c.model,
		"language": language,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.Error != "" {
		return nil, fmt.Errorf("sidecar: %s", out.Error)
	}
	return out.toTranscript(), nil
}

// Align refines segment timings to word level.
func (c *SidecarClient) Align(ctx context.Context, audioPath string, tr *transcript.Transcript) (*transcript.Transcript, error) {
	payload, err := json.Marshal(tr)
	if err != nil {
		return nil, fmt.Errorf("encode transcript: %w", err)
	}
	var out sidecarTranscript
	err = c.call(ctx, "/align", audioPath, map[string]string{
		"language":   tr.Language,
		"transcript": string(payload),
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.Error != "" {
		return nil, fmt.Errorf("sidecar: %s", out.Error)
	}
	aligned := out.toTranscript()
	if aligned.Language == "" {
		aligned.Language = tr.Language
	}
	return aligned, nil
}

// Diarize returns speaker turns.
func (c *SidecarClient) Diarize(ctx context.Context, audioPath string, hints Hints) ([]Turn, error) {
	fields := map[string]string{}
	if hints.MinSpeakers > 0 {
		fields["min_speakers"] = strconv.Itoa(hints.MinSpeakers)
	}
	if hints.MaxSpeakers > 0 {
		fields["max_speakers"] = strconv.Itoa(hints.MaxSpeakers)
	}
	var out sidecarTurns
	if err := c.call(ctx, "/diarize", audioPath, fields, &out); err != nil {
		return nil, err
	}
	if out.Error != "" {
		return nil, fmt.Errorf("sidecar: %s", out.Error)
	}
	return out.Segments, nil
}

func (c *SidecarClient) call(ctx context.Context, path, audioPath string, fields map[string]string, out any) error {
	f, err := os.Open(audioPath)
	if err != nil {
		return fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("audio", filepath.Base(audioPath))
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("copy audio data: %w", err)
	}
	for k, v := range fields {
		if v != "" {
			_ = w.WriteField(k, v)
		}
	}
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sidecar %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("sidecar %s error (status %d): %s", path, resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (s *sidecarTranscript) toTranscript() *transcript.Transcript {
	tr := &transcript.Transcript{Language: s.Language, Segments: make([]transcript.Segment, 0, len(s.Segments))}
	for _, seg := range s.Segments {
		out := transcript.Segment{
			Start: seg.Start,
			End:   seg.End,
			Text:  strings.TrimSpace(seg.Text),
		}
		for _, w := range seg.Words {
			if w.Start == nil || w.End == nil {
				continue
			}
			out.Words = append(out.Words, transcript.Word{Word: strings.TrimSpace(w.Word), Start: *w.Start, End: *w.End})
		}
		tr.Segments = append(tr.Segments, out)
	}
	return tr
}
