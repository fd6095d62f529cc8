package diarize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/stt-engine/internal/audio"
	"github.com/snarg/stt-engine/internal/metrics"
	"github.com/snarg/stt-engine/internal/transcript"
)

// ErrDiarizationFailed is wrapped by every *Error and *StageError.
var ErrDiarizationFailed = errors.New("diarization failed")

// Stage names used in errors, logs and metrics.
const (
	StageTranscribe = "transcribe"
	StageAlign      = "align"
	StageDiarize    = "diarize"
)

// Turn is one speaker's span of speech.
type Turn struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// Hints bound the number of speakers the diarizer may find. Zero means
// unbounded.
type Hints struct {
	MinSpeakers int
	MaxSpeakers int
}

// Backend runs the three inference stages. Each stage can fail on its own.
type Backend interface {
	Transcribe(ctx context.Context, audioPath, language string) (*transcript.Transcript, error)
	Align(ctx context.Context, audioPath string, tr *transcript.Transcript) (*transcript.Transcript, error)
	Diarize(ctx context.Context, audioPath string, hints Hints) ([]Turn, error)
	Name() string
}

// Error is a DiarizationFailure that is not tied to one stage, such as
// unreadable input.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("diarize %s: %v", e.Path, e.Err) }

func (e *Error) Unwrap() []error { return []error{ErrDiarizationFailed, e.Err} }

// StageError is a failed stage that the engine does not absorb.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s stage: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() []error { return []error{ErrDiarizationFailed, e.Err} }

// Engine produces speaker-labeled transcripts. Alignment and diarization
// failures degrade the result instead of failing it; only a failed
// transcription stage or unreadable audio is returned as an error.
type Engine struct {
	backend Backend
	hints   Hints
	log     zerolog.Logger
}

// NewEngine wraps a backend.
func NewEngine(backend Backend, hints Hints, log zerolog.Logger) *Engine {
	return &Engine{
		backend: backend,
		hints:   hints,
		log:     log.With().Str("component", "diarize").Str("backend", backend.Name()).Logger(),
	}
}

// Name returns the backend name.
func (e *Engine) Name() string { return e.backend.Name() }

// Diarize labels every segment of the audio with a speaker. language is a
// hint for the transcription stage and may be empty. When existing is
// non-nil its segments are used instead of running the transcription stage;
// existing itself is never modified.
func (e *Engine) Diarize(ctx context.Context, audioPath, language string, existing *transcript.Transcript) (*transcript.Transcript, error) {
	if err := audio.CheckReadable(audioPath); err != nil {
		return nil, &Error{Path: audioPath, Err: err}
	}

	var tr *transcript.Transcript
	if existing != nil {
		tr = existing.Clone()
	} else {
		var err error
		tr, err = stage(e, StageTranscribe, func() (*transcript.Transcript, error) {
			return e.backend.Transcribe(ctx, audioPath, language)
		})
		if err == nil && tr == nil {
			err = errors.New("backend returned no transcript")
		}
		if err == nil {
			err = tr.Validate()
		}
		if err != nil {
			return nil, &StageError{Stage: StageTranscribe, Err: err}
		}
		if tr.Segments == nil {
			tr.Segments = []transcript.Segment{}
		}
	}
	if tr.Language == "" {
		tr.Language = transcript.DefaultLanguage
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	aligned, err := stage(e, StageAlign, func() (*transcript.Transcript, error) {
		return e.backend.Align(ctx, audioPath, tr.Clone())
	})
	if err == nil && aligned != nil {
		err = aligned.Validate()
	}
	switch {
	case err != nil:
		e.degraded(StageAlign, err)
	case aligned != nil:
		if aligned.Language == "" {
			aligned.Language = tr.Language
		}
		tr = aligned
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	turns, err := stage(e, StageDiarize, func() ([]Turn, error) {
		return e.backend.Diarize(ctx, audioPath, e.hints)
	})
	turns = usableTurns(turns)
	if err == nil && len(turns) == 0 && len(tr.Segments) > 0 {
		err = errors.New("no speaker turns found")
	}
	if err != nil {
		e.degraded(StageDiarize, err)
		transcript.AssignAlternating(tr.Segments)
	} else {
		AssignSpeakers(tr.Segments, turns)
	}
	return tr, nil
}

func (e *Engine) degraded(stage string, err error) {
	metrics.StageDegradationsTotal.WithLabelValues(stage).Inc()
	ev := "AlignmentDegraded"
	if stage == StageDiarize {
		ev = "DiarizationDegraded"
	}
	e.log.Warn().Err(err).Str("stage", stage).Str("event", ev).Msg("stage failed, continuing without it")
}

// stage runs one backend call, timing it and turning a panic into an error.
func stage[T any](e *Engine, name string, fn func() (T, error)) (out T, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		metrics.ObserveInference(e.backend.Name(), name, start, err)
	}()
	return fn()
}

// usableTurns drops turns without a speaker or with inverted bounds.
func usableTurns(turns []Turn) []Turn {
	out := turns[:0:0]
	for _, t := range turns {
		if t.Speaker != "" && t.End >= t.Start {
			out = append(out, t)
		}
	}
	return out
}
