package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/stt-engine/internal/audio"
	"github.com/snarg/stt-engine/internal/metrics"
	"github.com/snarg/stt-engine/internal/transcribe"
	"github.com/snarg/stt-engine/internal/transcript"
)

// ErrUnreadableAudio is the only failure Produce returns besides context
// cancellation.
var ErrUnreadableAudio = errors.New("unreadable audio")

// errNoDiarizer fails the diarizing states when diarization is disabled.
var errNoDiarizer = errors.New("diarization not configured")

// Diarizer labels segments with speakers. See diarize.Engine.
type Diarizer interface {
	Diarize(ctx context.Context, audioPath, language string, existing *transcript.Transcript) (*transcript.Transcript, error)
	Name() string
}

// Orchestrator runs the fallback chain. It holds no per-request state.
type Orchestrator struct {
	asr      transcribe.Engine
	diarizer Diarizer
	asrLimit *Limiter
	diaLimit *Limiter
	log      zerolog.Logger
	inFlight atomic.Int64
}

// New creates an orchestrator. diarizer may be nil, in which case every
// diarizing strategy degrades immediately. concurrency bounds in-flight
// calls per engine.
func New(asr transcribe.Engine, diarizer Diarizer, concurrency int, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		asr:      asr,
		diarizer: diarizer,
		asrLimit: NewLimiter(concurrency),
		diaLimit: NewLimiter(concurrency),
		log:      log.With().Str("component", "pipeline").Logger(),
	}
}

// InFlight returns the number of pipelines currently running.
func (o *Orchestrator) InFlight() int {
	return int(o.inFlight.Load())
}

// Produce returns a speaker-labeled transcript for the audio, degrading
// through the fallback chain as strategies fail. It only returns an error
// for unreadable audio (wrapping ErrUnreadableAudio) or a cancelled ctx.
// When existing is non-nil it is used instead of transcribing and is never
// modified. events may be nil; the caller owns and closes it.
func (o *Orchestrator) Produce(ctx context.Context, audioPath string, existing *transcript.Transcript, opts transcribe.Options, events chan<- Event) (*transcript.Result, error) {
	o.inFlight.Add(1)
	defer o.inFlight.Add(-1)

	if err := audio.CheckReadable(audioPath); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreadableAudio, err)
	}

	log := o.log.With().Str("path", audioPath).Logger()
	state := initialState(existing != nil)
	var base *transcript.Transcript
	if existing != nil {
		base = existing.Clone()
	}

	emitProgress(ctx, events, 0)

	var (
		res     *transcript.Result
		lastErr error
		step    int
	)
	for state != StateDone {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if state == StateEmpty {
			msg := "no transcription strategy succeeded"
			if lastErr != nil {
				msg = lastErr.Error()
			}
			res = &transcript.Result{Transcript: *transcript.Empty(), Error: msg}
			break
		}

		tr, err := o.run(ctx, state, audioPath, base, opts)
		if err == nil {
			res = &transcript.Result{Transcript: *tr}
			break
		}
		if errors.Is(err, audio.ErrUnreadable) {
			return nil, fmt.Errorf("%w: %w", ErrUnreadableAudio, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		next := Next(state)
		log.Warn().Err(err).Stringer("from", state).Stringer("to", next).Msg("strategy failed, degrading")
		metrics.PipelineTransitionsTotal.WithLabelValues(state.String(), next.String()).Inc()
		lastErr = err
		state = next
		step++
		emitProgress(ctx, events, 1-1/float64(int(1)<<step))
	}

	if res.Language == "" {
		res.Language = transcript.DefaultLanguage
	}
	if res.Segments == nil {
		res.Segments = []transcript.Segment{}
	}
	metrics.PipelineOutcomesTotal.WithLabelValues(state.String()).Inc()
	log.Debug().Stringer("state", state).Int("segments", len(res.Segments)).Msg("pipeline complete")

	emitProgress(ctx, events, 1)
	emitSegments(ctx, events, res.Segments)
	return res, nil
}

// run executes one strategy. Panics are recovered and reported as that
// strategy's failure.
func (o *Orchestrator) run(ctx context.Context, state State, audioPath string, base *transcript.Transcript, opts transcribe.Options) (tr *transcript.Transcript, err error) {
	defer func() {
		if r := recover(); r != nil {
			tr, err = nil, fmt.Errorf("panic in %s: %v", state, r)
		}
	}()

	switch state {
	case StateFull, StateDiarizeExisting:
		var existing *transcript.Transcript
		if state == StateDiarizeExisting {
			existing = base
		}
		tr, err = o.diarize(ctx, audioPath, opts.Language, existing)
	case StatePlainHeuristic:
		tr, err = o.transcribe(ctx, audioPath, opts)
		if err == nil {
			transcript.AssignAlternating(tr.Segments)
		}
	case StateHeuristicOnExisting:
		tr = base.Clone()
		transcript.AssignAlternating(tr.Segments)
	default:
		err = fmt.Errorf("no strategy for state %s", state)
	}
	if err == nil && !tr.Labeled() {
		err = fmt.Errorf("%s produced unlabeled segments", state)
	}
	return tr, err
}

func (o *Orchestrator) diarize(ctx context.Context, audioPath, language string, existing *transcript.Transcript) (*transcript.Transcript, error) {
	if o.diarizer == nil {
		return nil, errNoDiarizer
	}
	if err := o.diaLimit.Acquire(ctx); err != nil {
		return nil, err
	}
	defer o.diaLimit.Release()
	tr, err := o.diarizer.Diarize(ctx, audioPath, language, existing)
	if err == nil && tr == nil {
		err = errors.New("diarizer returned no transcript")
	}
	return tr, err
}

func (o *Orchestrator) transcribe(ctx context.Context, audioPath string, opts transcribe.Options) (*transcript.Transcript, error) {
	if err := o.asrLimit.Acquire(ctx); err != nil {
		return nil, err
	}
	defer o.asrLimit.Release()

	start := time.Now()
	tr, err := o.asr.Transcribe(ctx, audioPath, opts)
	metrics.ObserveInference(o.asr.Name(), "transcribe", start, err)
	if err == nil && tr == nil {
		err = errors.New("engine returned no transcript")
	}
	return tr, err
}

// Transcribe runs the acoustic engine alone. Segments carry no speakers.
// Unlike Produce, an engine failure is returned to the caller.
func (o *Orchestrator) Transcribe(ctx context.Context, audioPath string, opts transcribe.Options, events chan<- Event) (*transcript.Transcript, error) {
	o.inFlight.Add(1)
	defer o.inFlight.Add(-1)

	if err := audio.CheckReadable(audioPath); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreadableAudio, err)
	}
	emitProgress(ctx, events, 0)

	tr, err := o.transcribe(ctx, audioPath, opts)
	if err != nil {
		return nil, err
	}
	if tr.Language == "" {
		tr.Language = transcript.DefaultLanguage
	}
	if tr.Segments == nil {
		tr.Segments = []transcript.Segment{}
	}

	emitProgress(ctx, events, 1)
	emitSegments(ctx, events, tr.Segments)
	return tr, nil
}
