package transcribe

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/snarg/stt-engine/internal/audio"
	"github.com/snarg/stt-engine/internal/transcript"
)

var (
	soxOnce      sync.Once
	soxAvailable bool
)

// CheckSox reports whether sox is in PATH. The lookup happens once.
func CheckSox() bool {
	soxOnce.Do(func() {
		_, err := exec.LookPath("sox")
		soxAvailable = err == nil
	})
	return soxAvailable
}

// Preprocess resamples to 16kHz mono and normalizes volume with sox. The
// output is written next to the input (inside the request's scratch dir) so
// it is removed with it.
func Preprocess(ctx context.Context, inputPath string) (string, error) {
	if err := audio.CheckFormat(inputPath); err != nil {
		return "", err
	}
	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	outPath := filepath.Join(filepath.Dir(inputPath), base+".16k.wav")

	cmd := exec.CommandContext(ctx, "sox",
		inputPath, outPath,
		"rate", "16000",
		"channels", "1",
		"norm",
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		os.Remove(outPath)
		return "", fmt.Errorf("sox preprocess: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return outPath, nil
}

// Preprocessed runs Preprocess before handing audio to the wrapped engine.
// When sox is missing or fails the original audio is used.
type Preprocessed struct {
	Engine
	log zerolog.Logger
	run func(ctx context.Context, path string) (string, error)
}

// WithPreprocessing wraps e so every file is cleaned up by sox first.
// Without sox in PATH the wrapper passes audio through unchanged.
func WithPreprocessing(e Engine, log zerolog.Logger) *Preprocessed {
	p := &Preprocessed{Engine: e, log: log}
	if CheckSox() {
		p.run = Preprocess
	} else {
		log.Warn().Msg("sox not found in PATH, audio preprocessing disabled")
	}
	return p
}

func (p *Preprocessed) Transcribe(ctx context.Context, audioPath string, opts Options) (*transcript.Transcript, error) {
	if err := audio.CheckFormat(audioPath); err != nil {
		return nil, fail(p.Name(), err)
	}
	path := audioPath
	if p.run != nil {
		out, err := p.run(ctx, audioPath)
		if err != nil {
			p.log.Warn().Err(err).Str("path", audioPath).Msg("preprocess failed, using original audio")
		} else {
			path = out
		}
	}
	return p.Engine.Transcribe(ctx, path, opts)
}
