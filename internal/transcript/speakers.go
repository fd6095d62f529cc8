package transcript

import "strconv"

// SpeakerLabel returns the synthetic label for the segment at index i:
// SPEAKER_1 for even indices, SPEAKER_2 for odd ones.
func SpeakerLabel(i int) string {
	return "SPEAKER_" + strconv.Itoa(i%2+1)
}

// AssignAlternating labels segments in place by position only, alternating
// between two synthetic speakers. Word-level speakers follow their segment.
//
// This is a last-resort placeholder used when real diarization is
// unavailable. It never infers the number of speakers and ignores both
// content and timing, so any recording with one speaker or more than two
// will be labeled wrongly.
func AssignAlternating(segments []Segment) {
	for i := range segments {
		label := SpeakerLabel(i)
		segments[i].Speaker = label
		for j := range segments[i].Words {
			segments[i].Words[j].Speaker = label
		}
	}
}
