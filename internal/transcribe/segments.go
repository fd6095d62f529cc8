package transcribe

import (
	"strings"

	"github.com/snarg/stt-engine/internal/transcript"
)

// segmentPause is the silence between words that starts a new segment.
const segmentPause = 0.8

// groupWords builds segments from word timings for providers that only
// return words. A segment closes on a pause of segmentPause seconds or after
// a word ending in sentence punctuation. Words are kept on their segment.
func groupWords(words []transcript.Word) []transcript.Segment {
	var (
		segs []transcript.Segment
		cur  []transcript.Word
	)
	flush := func() {
		if len(cur) == 0 {
			return
		}
		texts := make([]string, len(cur))
		for i, w := range cur {
			texts[i] = strings.TrimSpace(w.Word)
		}
		segs = append(segs, transcript.Segment{
			Start: cur[0].Start,
			End:   cur[len(cur)-1].End,
			Text:  strings.Join(texts, " "),
			Words: cur,
		})
		cur = nil
	}

	for _, w := range words {
		if strings.TrimSpace(w.Word) == "" {
			continue
		}
		if len(cur) > 0 && w.Start-cur[len(cur)-1].End >= segmentPause {
			flush()
		}
		cur = append(cur, w)
		if endsSentence(w.Word) {
			flush()
		}
	}
	flush()
	return segs
}

func endsSentence(w string) bool {
	w = strings.TrimSpace(w)
	return strings.HasSuffix(w, ".") || strings.HasSuffix(w, "?") || strings.HasSuffix(w, "!")
}
