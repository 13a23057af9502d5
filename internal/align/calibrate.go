package align

import "unicode"

// Calibrate transfers timing from the hypothesis segments onto the
// linearized reference text, resolving every rune of merged to a time
// interval.
//
// The hypothesis is expanded to a per-rune timeline, both streams are
// stripped of whitespace for matching purposes (index maps preserve original
// positions), and equal runs of the diff between them carry timing across.
// Every transferred timestamp is clamped into the owning rune's provenance
// bounds; runs left unmatched are interpolated between their resolved
// neighbors, falling back to the run's own cue bounds at the edges.
//
// When the hypothesis contributes no characters at all, matching is skipped
// and each cue's duration is distributed evenly across that cue's runes.
//
// Callers must uphold the invariant that prov has one entry per rune of
// merged. The returned slice has the same length and satisfies, for every i:
// prov[i].CueStart <= out[i].Start <= out[i].End <= prov[i].CueEnd.
func Calibrate(merged string, prov []Provenance, hyp []Segment) []CalibratedChar {
	ref := []rune(merged)
	if len(ref) == 0 {
		return nil
	}

	hypChars := ExpandSegments(hyp)
	if len(hypChars) == 0 {
		return evenSplit(ref, prov)
	}

	// Strip whitespace (including ideographic space) from both streams for
	// matching only, keeping maps back to original indices.
	normRef, refMap := stripSpace(ref)
	hypRunes := make([]rune, len(hypChars))
	for i, c := range hypChars {
		hypRunes[i] = c.Char
	}
	normHyp, hypMap := stripSpace(hypRunes)

	resolved := make([]*Interval, len(ref))
	for _, op := range Opcodes(normRef, normHyp) {
		if op.Kind != OpEqual {
			continue
		}
		for k := range op.AEnd - op.AStart {
			ri := refMap[op.AStart+k]
			hi := hypMap[op.BStart+k]
			if ri >= len(prov) || hi >= len(hypChars) {
				continue
			}
			p := prov[ri]
			start := clamp(hypChars[hi].Start, p.CueStart, p.CueEnd)
			end := clamp(hypChars[hi].End, p.CueStart, p.CueEnd)
			if start > end {
				end = start
			}
			resolved[ri] = &Interval{Start: start, End: end}
		}
	}

	interpolateGaps(ref, prov, resolved)

	out := make([]CalibratedChar, len(ref))
	for i, r := range ref {
		out[i] = CalibratedChar{Char: r, Start: resolved[i].Start, End: resolved[i].End}
	}
	return out
}

// interpolateGaps resolves every maximal run of unresolved runes by linearly
// distributing the span between the preceding resolved end and the following
// resolved start. A run with no predecessor anchors on its first rune's cue
// start; a run with no successor anchors on its last rune's cue end. When
// clamping has pushed the anchors out of order, both collapse to their
// midpoint. Each interpolated value is clamped to its own rune's cue bounds.
func interpolateGaps(ref []rune, prov []Provenance, resolved []*Interval) {
	n := len(ref)
	for i := 0; i < n; {
		if resolved[i] != nil {
			i++
			continue
		}
		j := i
		for j < n && resolved[j] == nil {
			j++
		}

		prev := prov[i].CueStart
		if i > 0 {
			prev = resolved[i-1].End
		}
		next := prov[j-1].CueEnd
		if j < n {
			next = resolved[j].Start
		}
		if prev > next {
			mid := (prev + next) / 2
			prev, next = mid, mid
		}

		share := (next - prev) / float64(j-i)
		for k := i; k < j; k++ {
			p := prov[k]
			start := clamp(prev+float64(k-i)*share, p.CueStart, p.CueEnd)
			end := clamp(prev+float64(k-i+1)*share, p.CueStart, p.CueEnd)
			if start > end {
				end = start
			}
			resolved[k] = &Interval{Start: start, End: end}
		}
		i = j
	}
}

// evenSplit is the zero-hypothesis fallback: each cue's duration is divided
// evenly across that cue's own runes.
func evenSplit(ref []rune, prov []Provenance) []CalibratedChar {
	out := make([]CalibratedChar, len(ref))
	for i := 0; i < len(ref); {
		j := i
		for j < len(ref) && prov[j].CueIndex == prov[i].CueIndex {
			j++
		}
		p := prov[i]
		share := (p.CueEnd - p.CueStart) / float64(j-i)
		for k := i; k < j; k++ {
			out[k] = CalibratedChar{
				Char:  ref[k],
				Start: p.CueStart + float64(k-i)*share,
				End:   p.CueStart + float64(k-i+1)*share,
			}
		}
		i = j
	}
	return out
}

// stripSpace removes whitespace runes (unicode.IsSpace, which includes the
// ideographic space U+3000) and returns the remaining runes plus a map from
// stripped index to original index.
func stripSpace(rs []rune) ([]rune, []int) {
	out := make([]rune, 0, len(rs))
	idx := make([]int, 0, len(rs))
	for i, r := range rs {
		if unicode.IsSpace(r) {
			continue
		}
		out = append(out, r)
		idx = append(idx, i)
	}
	return out, idx
}
