package align

import "unicode"

// Linearize collapses a scrolling caption track into a single canonical text
// stream with per-rune provenance.
//
// Live-stream captions typically repeat the tail of the previous cue as each
// new line scrolls in ("A", "A B", "B C"). For each cue in order, the longest
// suffix of the text accumulated so far that exactly equals a prefix of the
// cue's text is treated as already seen; only the remainder — trimmed of
// surrounding whitespace — is appended. A cue whose text is fully repeated
// contributes nothing. Every appended rune records the cue's index and the
// cue's own declared bounds as its provenance.
//
// The returned provenance slice has exactly one entry per rune of the
// returned text. Empty input yields ("", nil).
func Linearize(cues []Cue) (string, []Provenance) {
	var merged []rune
	var prov []Provenance

	for i, cue := range cues {
		text := []rune(cue.Text)
		rest := trimSpaceRunes(text[overlapLen(merged, text):])
		for _, r := range rest {
			merged = append(merged, r)
			prov = append(prov, Provenance{
				CueIndex: i,
				CueStart: cue.Start,
				CueEnd:   cue.End,
			})
		}
	}

	return string(merged), prov
}

// overlapLen returns the length of the longest suffix of accum that equals a
// prefix of cur. Candidates are scanned from the longest possible length down
// to 1 so the first hit wins.
func overlapLen(accum, cur []rune) int {
	maxLen := min(len(accum), len(cur))
	for n := maxLen; n > 0; n-- {
		if runesEqual(accum[len(accum)-n:], cur[:n]) {
			return n
		}
	}
	return 0
}

func runesEqual(a, b []rune) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func trimSpaceRunes(rs []rune) []rune {
	start, end := 0, len(rs)
	for start < end && unicode.IsSpace(rs[start]) {
		start++
	}
	for end > start && unicode.IsSpace(rs[end-1]) {
		end--
	}
	return rs[start:end]
}
