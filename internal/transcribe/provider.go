package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/snarg/stt-engine/internal/audio"
	"github.com/snarg/stt-engine/internal/transcript"
)

// ErrTranscriptionFailed is wrapped by every *Error.
var ErrTranscriptionFailed = errors.New("transcription failed")

// Engine is the acoustic transcription contract: audio in, timed segments
// out, no speaker labels.
type Engine interface {
	Transcribe(ctx context.Context, audioPath string, opts Options) (*transcript.Transcript, error)
	Name() string  // "whisper", "deepinfra", "elevenlabs"
	Model() string // model identifier for logs and responses
}

// Options are per-request decoding options.
type Options struct {
	Language    string  // ISO code hint; empty lets the model detect
	Prompt      string  // biases decoding
	Temperature float64 // 0 = greedy
}

// Error is a TranscriptionFailure from a specific provider.
type Error struct {
	Provider string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() []error { return []error{ErrTranscriptionFailed, e.Err} }

func fail(provider string, err error) error {
	return &Error{Provider: provider, Err: err}
}

// finish validates the model output at the engine boundary and fills in the
// language.
func finish(provider string, tr *transcript.Transcript, requested string) (*transcript.Transcript, error) {
	if tr.Segments == nil {
		tr.Segments = []transcript.Segment{}
	}
	if err := tr.Validate(); err != nil {
		return nil, fail(provider, err)
	}
	if tr.Language == "" {
		tr.Language = requested
	}
	if tr.Language == "" {
		tr.Language = transcript.DefaultLanguage
	}
	return tr, nil
}

// audioForm builds a multipart body holding the audio file under fileField
// plus the given non-empty fields. The extension is checked before anything
// is read.
func audioForm(audioPath, fileField string, fields [][2]string) (*bytes.Buffer, string, error) {
	if err := audio.CheckFormat(audioPath); err != nil {
		return nil, "", err
	}

	f, err := os.Open(audioPath)
	if err != nil {
		return nil, "", fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile(fileField, filepath.Base(audioPath))
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("copy audio data: %w", err)
	}
	for _, kv := range fields {
		if kv[1] == "" {
			continue
		}
		w.WriteField(kv[0], kv[1])
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// post sends a prepared body and returns the response bytes, treating any
// non-200 status as an error.
func post(ctx context.Context, client *http.Client, url string, body io.Reader, contentType string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(data))
	}
	return data, nil
}
