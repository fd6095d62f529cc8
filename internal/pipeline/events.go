package pipeline

import (
	"context"

	"github.com/snarg/stt-engine/internal/transcript"
)

// EventType names an event on the progress stream.
type EventType string

const (
	EventProgress EventType = "progress"
	EventSegment  EventType = "segment"
)

// Event is written to the caller's channel while a pipeline runs.
type Event struct {
	Type     EventType
	Progress float64             // 0..1, set for EventProgress
	Segment  *transcript.Segment // set for EventSegment
}

// emit sends ev unless the channel is nil or ctx is done first.
func emit(ctx context.Context, ch chan<- Event, ev Event) {
	if ch == nil {
		return
	}
	select {
	case ch <- ev:
	case <-ctx.Done():
	}
}

func emitProgress(ctx context.Context, ch chan<- Event, p float64) {
	emit(ctx, ch, Event{Type: EventProgress, Progress: p})
}

// emitSegments sends one event per segment. Each event carries its own copy.
func emitSegments(ctx context.Context, ch chan<- Event, segs []transcript.Segment) {
	for i := range segs {
		if ctx.Err() != nil {
			return
		}
		s := segs[i]
		emit(ctx, ch, Event{Type: EventSegment, Segment: &s})
	}
}
