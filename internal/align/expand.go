package align

import "strings"

// ExpandWords flattens word-level timing into per-rune timing by dividing
// each word's duration evenly across its runes, preserving order. Word text
// is trimmed of surrounding whitespace first; words that trim to empty are
// skipped. A zero-duration word yields zero-width intervals at its start.
func ExpandWords(words []Word) []CharTiming {
	var out []CharTiming
	for _, w := range words {
		text := []rune(strings.TrimSpace(w.Text))
		if len(text) == 0 {
			continue
		}
		charDur := (w.End - w.Start) / float64(len(text))
		for i, r := range text {
			out = append(out, CharTiming{
				Char:  r,
				Start: w.Start + float64(i)*charDur,
				End:   w.Start + float64(i+1)*charDur,
			})
		}
	}
	return out
}

// ExpandSegments flattens hypothesis segments into one per-rune timeline.
// Segments that carry word-level timing expand word by word; a segment with
// no word breakdown is treated as a single word spanning the whole segment.
func ExpandSegments(segs []Segment) []CharTiming {
	var out []CharTiming
	for _, s := range segs {
		if len(s.Words) > 0 {
			out = append(out, ExpandWords(s.Words)...)
			continue
		}
		out = append(out, ExpandWords([]Word{{Text: s.Text, Start: s.Start, End: s.End}})...)
	}
	return out
}
