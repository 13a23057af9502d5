package align

import "strings"

// Rebuild regroups the calibrated rune timeline back into output segments
// using the provenance record: one segment per source cue, in first-seen cue
// order, with Start/End taken from the group's first/last rune. Groups whose
// concatenated text is empty or whitespace-only are dropped.
//
// merged, prov, and cal must all have the same rune length.
func Rebuild(merged string, prov []Provenance, cal []CalibratedChar) []OutputSegment {
	ref := []rune(merged)
	var out []OutputSegment

	// Runes of one cue are contiguous by construction of Linearize, so
	// first-seen cue order is the order groups appear in.
	for i := 0; i < len(ref) && i < len(prov) && i < len(cal); {
		j := i
		for j < len(ref) && j < len(prov) && prov[j].CueIndex == prov[i].CueIndex {
			j++
		}

		text := string(ref[i:j])
		if strings.TrimSpace(text) != "" {
			out = append(out, OutputSegment{
				Text:  text,
				Start: cal[i].Start,
				End:   cal[j-1].End,
				Chars: cal[i:j],
			})
		}
		i = j
	}

	return out
}
