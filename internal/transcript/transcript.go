package transcript

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultLanguage is reported when neither the caller nor the engine supplied one.
const DefaultLanguage = "en"

// ErrInvalidSegment is returned by Validate for segments that break the
// timing invariants.
var ErrInvalidSegment = errors.New("invalid segment")

// Word is a word-level timing produced by the alignment stage.
type Word struct {
	Word    string  `json:"word"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker,omitempty"`
}

// Segment is a contiguous span of audio with its text and timing in seconds.
// Speaker is empty until a diarizer or the heuristic assigner labels it.
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker,omitempty"`
	Words   []Word  `json:"words,omitempty"`
}

// Transcript is the detected language plus segments in chronological order.
// Segments may overlap.
type Transcript struct {
	Language string    `json:"language"`
	Segments []Segment `json:"segments"`
}

// Result is what the orchestrator hands back. Error is only set when no
// strategy could produce segments.
type Result struct {
	Transcript
	Error string `json:"error,omitempty"`
}

// Validate checks 0 <= start <= end for every segment and that starts never
// go backwards.
func (t *Transcript) Validate() error {
	prev := 0.0
	for i, s := range t.Segments {
		if s.Start < 0 || s.End < s.Start {
			return fmt.Errorf("%w: segment %d has start=%.3f end=%.3f", ErrInvalidSegment, i, s.Start, s.End)
		}
		if s.Start < prev {
			return fmt.Errorf("%w: segment %d starts at %.3f before previous start %.3f", ErrInvalidSegment, i, s.Start, prev)
		}
		prev = s.Start
	}
	return nil
}

// Text joins the trimmed segment texts with single spaces.
func (t *Transcript) Text() string {
	parts := make([]string, 0, len(t.Segments))
	for _, s := range t.Segments {
		if txt := strings.TrimSpace(s.Text); txt != "" {
			parts = append(parts, txt)
		}
	}
	return strings.Join(parts, " ")
}

// Labeled reports whether every segment carries a speaker.
func (t *Transcript) Labeled() bool {
	for _, s := range t.Segments {
		if s.Speaker == "" {
			return false
		}
	}
	return true
}

// Clone returns a deep copy so callers can mutate speakers without touching
// the original.
func (t *Transcript) Clone() *Transcript {
	if t == nil {
		return nil
	}
	out := &Transcript{
		Language: t.Language,
		Segments: make([]Segment, len(t.Segments)),
	}
	for i, s := range t.Segments {
		out.Segments[i] = s
		if s.Words != nil {
			out.Segments[i].Words = append([]Word(nil), s.Words...)
		}
	}
	return out
}

// Empty returns a transcript with no segments in the default language.
func Empty() *Transcript {
	return &Transcript{Language: DefaultLanguage, Segments: []Segment{}}
}
