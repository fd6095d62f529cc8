package diarize

import (
	"math"

	"github.com/snarg/stt-engine/internal/transcript"
)

// AssignSpeakers labels segments in place from diarizer turns. A segment
// takes the speaker of the turn it overlaps most; with no overlap it takes
// the turn nearest its midpoint. Words are attributed by midpoint
// containment with the same nearest-turn fallback.
func AssignSpeakers(segments []transcript.Segment, turns []Turn) {
	if len(turns) == 0 {
		return
	}
	for i := range segments {
		s := &segments[i]
		s.Speaker = speakerFor(s.Start, s.End, turns)
		for j := range s.Words {
			w := &s.Words[j]
			w.Speaker = speakerAt((w.Start+w.End)/2, turns)
		}
	}
}

func speakerFor(start, end float64, turns []Turn) string {
	best, bestOverlap := -1, 0.0
	for i, t := range turns {
		ov := math.Min(end, t.End) - math.Max(start, t.Start)
		if ov > bestOverlap {
			best, bestOverlap = i, ov
		}
	}
	if best >= 0 {
		return turns[best].Speaker
	}
	return nearest((start+end)/2, turns).Speaker
}

// speakerAt finds which turn a timestamp falls within, falling back to the
// nearest turn.
func speakerAt(t float64, turns []Turn) string {
	for _, tr := range turns {
		if t >= tr.Start && t < tr.End {
			return tr.Speaker
		}
	}
	return nearest(t, turns).Speaker
}

// nearest returns the turn whose span is closest to t. Ties go to the
// earlier turn.
func nearest(t float64, turns []Turn) Turn {
	bestIdx := 0
	bestDist := distance(t, turns[0])
	for i := 1; i < len(turns); i++ {
		if d := distance(t, turns[i]); d < bestDist {
			bestDist = d
			bestIdx = i
		}
	}
	return turns[bestIdx]
}

func distance(t float64, tr Turn) float64 {
	switch {
	case t < tr.Start:
		return tr.Start - t
	case t > tr.End:
		return t - tr.End
	}
	return 0
}
