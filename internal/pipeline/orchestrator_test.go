package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/stt-engine/internal/transcribe"
	"github.com/snarg/stt-engine/internal/transcript"
)

type stubASR struct {
	tr    *transcript.Transcript
	err   error
	calls int
	mu    sync.Mutex
}

func (s *stubASR) Transcribe(context.Context, string, transcribe.Options) (*transcript.Transcript, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.tr.Clone(), nil
}
func (s *stubASR) Name() string  { return "stub-asr" }
func (s *stubASR) Model() string { return "tiny" }

type stubDiarizer struct {
	fn    func(existing *transcript.Transcript) (*transcript.Transcript, error)
	calls int
}

func (s *stubDiarizer) Diarize(_ context.Context, _, _ string, existing *transcript.Transcript) (*transcript.Transcript, error) {
	s.calls++
	return s.fn(existing)
}
func (s *stubDiarizer) Name() string { return "stub-diarizer" }

func failingDiarizer(err error) *stubDiarizer {
	return &stubDiarizer{fn: func(*transcript.Transcript) (*transcript.Transcript, error) { return nil, err }}
}

func fixedDiarizer(tr *transcript.Transcript) *stubDiarizer {
	return &stubDiarizer{fn: func(*transcript.Transcript) (*transcript.Transcript, error) { return tr.Clone(), nil }}
}

func sampleAudio(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "sample.mp3")
	if err := os.WriteFile(p, []byte("fake mp3"), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func twoSegments() *transcript.Transcript {
	return &transcript.Transcript{Language: "en", Segments: []transcript.Segment{
		{Start: 0, End: 1.5, Text: "hello"},
		{Start: 1.5, End: 3, Text: "world"},
	}}
}

func speakers(segs []transcript.Segment) []string {
	out := make([]string, len(segs))
	for i, s := range segs {
		out[i] = s.Speaker
	}
	return out
}

func TestProduceFullSuccess(t *testing.T) {
	labeled := twoSegments()
	labeled.Segments[0].Speaker = "A"
	labeled.Segments[1].Speaker = "B"
	asr := &stubASR{tr: twoSegments()}
	o := New(asr, fixedDiarizer(labeled), 1, zerolog.Nop())

	res, err := o.Produce(context.Background(), sampleAudio(t), nil, transcribe.Options{}, nil)
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if got := speakers(res.Segments); !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Errorf("speakers = %v", got)
	}
	if res.Error != "" {
		t.Errorf("Error = %q, want empty", res.Error)
	}
	if asr.calls != 0 {
		t.Errorf("acoustic engine called %d times on success path", asr.calls)
	}
}

func TestProduceDiarizerFailsFallsBackToPlain(t *testing.T) {
	asr := &stubASR{tr: twoSegments()}
	o := New(asr, failingDiarizer(errors.New("whisperx crashed")), 1, zerolog.Nop())

	res, err := o.Produce(context.Background(), sampleAudio(t), nil, transcribe.Options{}, nil)
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if got := speakers(res.Segments); !reflect.DeepEqual(got, []string{"SPEAKER_1", "SPEAKER_2"}) {
		t.Errorf("speakers = %v", got)
	}
	if asr.calls != 1 {
		t.Errorf("acoustic engine calls = %d, want 1", asr.calls)
	}
}

func TestProduceDiarizerPanics(t *testing.T) {
	asr := &stubASR{tr: twoSegments()}
	d := &stubDiarizer{fn: func(*transcript.Transcript) (*transcript.Transcript, error) { panic("segfault") }}
	o := New(asr, d, 1, zerolog.Nop())

	res, err := o.Produce(context.Background(), sampleAudio(t), nil, transcribe.Options{}, nil)
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if !res.Labeled() || len(res.Segments) != 2 {
		t.Errorf("segments = %+v", res.Segments)
	}
}

func TestProduceNoDiarizer(t *testing.T) {
	asr := &stubASR{tr: twoSegments()}
	o := New(asr, nil, 1, zerolog.Nop())

	res, err := o.Produce(context.Background(), sampleAudio(t), nil, transcribe.Options{}, nil)
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if got := speakers(res.Segments); !reflect.DeepEqual(got, []string{"SPEAKER_1", "SPEAKER_2"}) {
		t.Errorf("speakers = %v", got)
	}
}

func TestProduceEverythingFails(t *testing.T) {
	asr := &stubASR{err: errors.New("whisper down")}
	o := New(asr, failingDiarizer(errors.New("whisperx down")), 1, zerolog.Nop())

	res, err := o.Produce(context.Background(), sampleAudio(t), nil, transcribe.Options{}, nil)
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if res.Language != "en" {
		t.Errorf("Language = %q, want en", res.Language)
	}
	if res.Segments == nil || len(res.Segments) != 0 {
		t.Errorf("Segments = %#v, want empty", res.Segments)
	}
	if res.Error == "" {
		t.Error("Error should describe the failure")
	}
}

func TestProduceExistingDiarizeFails(t *testing.T) {
	existing := &transcript.Transcript{Language: "en", Segments: []transcript.Segment{
		{Start: 0, End: 1, Text: "a"},
		{Start: 1.25, End: 2, Text: "b"},
		{Start: 2.5, End: 4, Text: "c"},
	}}
	asr := &stubASR{tr: twoSegments()}
	o := New(asr, failingDiarizer(errors.New("diarize step failed")), 1, zerolog.Nop())

	res, err := o.Produce(context.Background(), sampleAudio(t), existing, transcribe.Options{}, nil)
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if got := speakers(res.Segments); !reflect.DeepEqual(got, []string{"SPEAKER_1", "SPEAKER_2", "SPEAKER_1"}) {
		t.Errorf("speakers = %v", got)
	}
	for i, s := range res.Segments {
		if s.Start != existing.Segments[i].Start || s.End != existing.Segments[i].End {
			t.Errorf("segment %d timing changed: %+v", i, s)
		}
	}
	if existing.Segments[0].Speaker != "" {
		t.Error("caller's transcript was mutated")
	}
	if asr.calls != 0 {
		t.Errorf("acoustic engine called %d times, want 0", asr.calls)
	}
}

func TestProduceExistingPassedToDiarizer(t *testing.T) {
	existing := twoSegments()
	var got *transcript.Transcript
	d := &stubDiarizer{fn: func(ex *transcript.Transcript) (*transcript.Transcript, error) {
		got = ex
		out := ex.Clone()
		transcript.AssignAlternating(out.Segments)
		return out, nil
	}}
	o := New(&stubASR{}, d, 1, zerolog.Nop())

	if _, err := o.Produce(context.Background(), sampleAudio(t), existing, transcribe.Options{}, nil); err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if got == nil || len(got.Segments) != 2 {
		t.Fatalf("diarizer received %+v", got)
	}
	if got == existing {
		t.Error("diarizer received the caller's pointer, want a copy")
	}
}

func TestProduceUnreadableAudio(t *testing.T) {
	asr := &stubASR{tr: twoSegments()}
	d := fixedDiarizer(twoSegments())
	o := New(asr, d, 1, zerolog.Nop())

	res, err := o.Produce(context.Background(), filepath.Join(t.TempDir(), "gone.wav"), nil, transcribe.Options{}, nil)
	if !errors.Is(err, ErrUnreadableAudio) {
		t.Fatalf("err = %v, want ErrUnreadableAudio", err)
	}
	if res != nil {
		t.Errorf("res = %+v, want nil", res)
	}
	if asr.calls != 0 || d.calls != 0 {
		t.Error("engines should not run for unreadable audio")
	}
}

func TestProduceIdempotent(t *testing.T) {
	labeled := twoSegments()
	labeled.Segments[0].Speaker = "A"
	labeled.Segments[1].Speaker = "B"
	o := New(&stubASR{tr: twoSegments()}, fixedDiarizer(labeled), 1, zerolog.Nop())
	path := sampleAudio(t)

	first, err := o.Produce(context.Background(), path, nil, transcribe.Options{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	second, err := o.Produce(context.Background(), path, nil, transcribe.Options{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("results differ:\n%+v\n%+v", first, second)
	}
}

func TestProduceCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := &stubDiarizer{}
	d.fn = func(*transcript.Transcript) (*transcript.Transcript, error) {
		cancel()
		return nil, errors.New("interrupted")
	}
	asr := &stubASR{tr: twoSegments()}
	o := New(asr, d, 1, zerolog.Nop())

	_, err := o.Produce(ctx, sampleAudio(t), nil, transcribe.Options{}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if asr.calls != 0 {
		t.Error("no further stage should run after cancellation")
	}
}

func TestProduceEvents(t *testing.T) {
	o := New(&stubASR{tr: twoSegments()}, failingDiarizer(errors.New("x")), 1, zerolog.Nop())

	events := make(chan Event, 16)
	if _, err := o.Produce(context.Background(), sampleAudio(t), nil, transcribe.Options{}, events); err != nil {
		t.Fatal(err)
	}
	close(events)

	var progress []float64
	var segs int
	for ev := range events {
		switch ev.Type {
		case EventProgress:
			if segs > 0 {
				t.Error("progress after segment events")
			}
			progress = append(progress, ev.Progress)
		case EventSegment:
			segs++
			if ev.Segment == nil || ev.Segment.Speaker == "" {
				t.Errorf("segment event %+v", ev.Segment)
			}
		}
	}
	if want := []float64{0, 0.5, 1}; !reflect.DeepEqual(progress, want) {
		t.Errorf("progress = %v, want %v", progress, want)
	}
	if segs != 2 {
		t.Errorf("segment events = %d, want 2", segs)
	}
}

func TestTranscribePlain(t *testing.T) {
	o := New(&stubASR{tr: twoSegments()}, nil, 1, zerolog.Nop())
	events := make(chan Event, 8)
	tr, err := o.Transcribe(context.Background(), sampleAudio(t), transcribe.Options{}, events)
	if err != nil {
		t.Fatal(err)
	}
	close(events)
	if len(tr.Segments) != 2 || tr.Segments[0].Speaker != "" {
		t.Errorf("segments = %+v", tr.Segments)
	}
	if n := len(events); n != 4 {
		t.Errorf("events = %d, want 4", n)
	}

	failing := New(&stubASR{err: errors.New("down")}, nil, 1, zerolog.Nop())
	if _, err := failing.Transcribe(context.Background(), sampleAudio(t), transcribe.Options{}, nil); err == nil {
		t.Error("expected engine error")
	}
}

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from, want State
	}{
		{StateFull, StatePlainHeuristic},
		{StatePlainHeuristic, StateEmpty},
		{StateDiarizeExisting, StateHeuristicOnExisting},
		{StateHeuristicOnExisting, StateEmpty},
		{StateEmpty, StateEmpty},
	}
	for _, tt := range tests {
		if got := Next(tt.from); got != tt.want {
			t.Errorf("Next(%s) = %s, want %s", tt.from, got, tt.want)
		}
	}
	if initialState(false) != StateFull || initialState(true) != StateDiarizeExisting {
		t.Error("unexpected initial states")
	}
}

func TestLimiter(t *testing.T) {
	l := NewLimiter(1)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("second Acquire = %v, want DeadlineExceeded", err)
	}

	l.Release()
	if err := l.Acquire(context.Background()); err != nil {
		t.Errorf("Acquire after Release: %v", err)
	}
	if l.InUse() != 1 {
		t.Errorf("InUse = %d, want 1", l.InUse())
	}
}
