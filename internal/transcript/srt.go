package transcript

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// UnknownSpeaker labels unassigned segments when speaker labels are requested.
const UnknownSpeaker = "UNKNOWN"

// FormatTimestamp renders seconds as HH:MM:SS,mmm.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	whole := math.Floor(seconds)
	ms := int(math.Round((seconds - whole) * 1000))
	total := int64(whole)
	if ms >= 1000 {
		// rounding carried into the next second
		total++
		ms -= 1000
	}
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// FormatSRT renders segments as SubRip blocks: index, timing line, text
// (optionally prefixed "[speaker] ") and a blank separator line. No segments
// yields an empty string.
func FormatSRT(segments []Segment, withSpeakers bool) string {
	var b strings.Builder
	for i, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if withSpeakers {
			speaker := seg.Speaker
			if speaker == "" {
				speaker = UnknownSpeaker
			}
			text = "[" + speaker + "] " + text
		}
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1, FormatTimestamp(seg.Start), FormatTimestamp(seg.End), text)
	}
	return b.String()
}

// ParseSRT reads SubRip blocks back into segments. With withSpeakers set, a
// leading "[speaker] " on the text is split into Speaker, mirroring
// FormatSRT; otherwise the text is kept verbatim.
func ParseSRT(s string, withSpeakers bool) ([]Segment, error) {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	var segments []Segment
	for n, block := range strings.Split(s, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		lines := strings.Split(block, "\n")
		if len(lines) < 2 {
			return nil, fmt.Errorf("block %d: expected index and timing lines", n+1)
		}
		if _, err := strconv.Atoi(strings.TrimSpace(lines[0])); err != nil {
			return nil, fmt.Errorf("block %d: invalid index %q", n+1, lines[0])
		}
		startRaw, endRaw, ok := strings.Cut(lines[1], "-->")
		if !ok {
			return nil, fmt.Errorf("block %d: invalid timing line %q", n+1, lines[1])
		}
		start, err := parseTimestamp(startRaw)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", n+1, err)
		}
		end, err := parseTimestamp(endRaw)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", n+1, err)
		}

		seg := Segment{Start: start, End: end, Text: strings.Join(lines[2:], "\n")}
		if withSpeakers && strings.HasPrefix(seg.Text, "[") {
			if i := strings.Index(seg.Text, "] "); i > 0 {
				seg.Speaker = seg.Text[1:i]
				seg.Text = seg.Text[i+2:]
			}
		}
		segments = append(segments, seg)
	}
	return segments, nil
}

func parseTimestamp(v string) (float64, error) {
	v = strings.TrimSpace(v)
	hms, msRaw, ok := strings.Cut(v, ",")
	if !ok {
		return 0, fmt.Errorf("invalid timestamp %q", v)
	}
	parts := strings.Split(hms, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid timestamp %q", v)
	}
	var total int
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("invalid timestamp %q", v)
		}
		total = total*60 + n
	}
	if len(msRaw) != 3 {
		return 0, fmt.Errorf("invalid timestamp %q: milliseconds must be three digits", v)
	}
	ms, err := strconv.Atoi(msRaw)
	if err != nil || ms < 0 {
		return 0, fmt.Errorf("invalid timestamp %q", v)
	}
	return float64(total) + float64(ms)/1000, nil
}
