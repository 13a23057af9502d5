package align

// tokenDefaultTail is the duration assigned to a trailing token whose end
// cannot be inferred from any later match.
const tokenDefaultTail = 0.1

// envelope accumulates the min-start/max-end union of all matched character
// timestamps belonging to one token.
type envelope struct {
	start    float64
	end      float64
	hasStart bool
	hasEnd   bool
}

func (e *envelope) widen(c CharTiming) {
	if !e.hasStart || c.Start < e.start {
		e.start = c.Start
		e.hasStart = true
	}
	if !e.hasEnd || c.End > e.end {
		e.end = c.End
		e.hasEnd = true
	}
}

// AlignTokens assigns start/end times to linguistic tokens by aligning their
// character stream against a timed character stream. Tokens are modified in
// place and the same slice is returned.
//
// Each token's interval is the envelope (min start, max end) over all of its
// matched characters — a token may match multiple disjoint runs. After
// matching, an unresolved start inherits a running cursor initialized to the
// first timed character's start; an unresolved end is filled from the next
// token with a matched start, or defaults to start + 0.1 s at the tail. The
// cursor advances to each token's resolved end. A final pass collapses any
// end < start to the start.
//
// When chars is empty: with a non-nil fallback span, the span's duration is
// distributed across tokens proportional to surface rune count (all tokens
// get the full span when the total is zero); without a fallback, every token
// gets start = end = 0. Token order is never changed.
func AlignTokens(tokens []Token, chars []CharTiming, fallback *Interval) []Token {
	if len(tokens) == 0 {
		return tokens
	}
	if len(chars) == 0 {
		return spreadTokens(tokens, fallback)
	}

	// Expand tokens to a rune stream tagged with the owning token index.
	var tokRunes []rune
	var owner []int
	for i, t := range tokens {
		for _, r := range t.Surface {
			tokRunes = append(tokRunes, r)
			owner = append(owner, i)
		}
	}

	timedRunes := make([]rune, len(chars))
	for i, c := range chars {
		timedRunes[i] = c.Char
	}

	envs := make([]envelope, len(tokens))
	for _, op := range Opcodes(tokRunes, timedRunes) {
		if op.Kind != OpEqual {
			continue
		}
		for k := range op.AEnd - op.AStart {
			ti := op.AStart + k
			ci := op.BStart + k
			if ti >= len(owner) || ci >= len(chars) {
				continue
			}
			envs[owner[ti]].widen(chars[ci])
		}
	}

	cursor := chars[0].Start
	for i := range tokens {
		start := cursor
		if envs[i].hasStart {
			start = envs[i].start
		}

		var end float64
		switch {
		case envs[i].hasEnd:
			end = envs[i].end
		default:
			end = start + tokenDefaultTail
			for j := i + 1; j < len(tokens); j++ {
				if envs[j].hasStart {
					end = envs[j].start
					break
				}
			}
		}

		if end < start {
			end = start
		}
		tokens[i].Start = start
		tokens[i].End = end
		cursor = end
	}

	return tokens
}

// spreadTokens handles the no-timing fallback: proportional distribution of
// the fallback span across tokens by surface rune count, or zeros when no
// span is available.
func spreadTokens(tokens []Token, fallback *Interval) []Token {
	if fallback == nil {
		for i := range tokens {
			tokens[i].Start = 0
			tokens[i].End = 0
		}
		return tokens
	}

	total := 0
	for _, t := range tokens {
		total += len([]rune(t.Surface))
	}
	if total == 0 {
		for i := range tokens {
			tokens[i].Start = fallback.Start
			tokens[i].End = fallback.End
		}
		return tokens
	}

	duration := fallback.End - fallback.Start
	cursor := fallback.Start
	for i := range tokens {
		share := float64(len([]rune(tokens[i].Surface))) / float64(total) * duration
		tokens[i].Start = cursor
		tokens[i].End = cursor + share
		cursor = tokens[i].End
	}
	return tokens
}
