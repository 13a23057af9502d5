// Package align implements the timing alignment and caption linearization
// engine at the heart of kikitori.
//
// The engine operates purely on in-memory sequences of characters, words, and
// time intervals. It takes two independently-timed streams — a timestamped
// machine transcript (the hypothesis) and a caption track whose timing may be
// coarse or unreliable (the reference) — and transfers timing from the former
// onto the latter:
//
//  1. [Linearize] collapses redundant, overlapping "scrolling" caption cues
//     into a single canonical text stream with per-rune provenance.
//  2. [Calibrate] cross-aligns the linearized reference against the
//     hypothesis character stream and resolves every rune to a time interval,
//     clamped to its source cue's declared bounds, interpolating gaps.
//  3. [Rebuild] regroups the calibrated runes back into output segments.
//  4. [AlignTokens] maps a separately-tokenized stream of linguistic tokens
//     onto a timed character stream, producing per-token start/end.
//  5. [CheckSimilarity] is a sampling-based quality gate between the two
//     streams.
//
// All functions are pure: no I/O, no shared mutable state, deterministic for
// identical inputs. They are safe to invoke concurrently on independent
// inputs; the hosting system is responsible for offloading calls onto worker
// goroutines since block matching is O(n·m) in the worst case.
//
// Times are seconds as float64 throughout, matching what STT providers and
// subtitle formats deliver.
package align

// Cue is one caption/subtitle entry with declared bounds. Cues are produced
// by an external caption source and treated as read-only input.
type Cue struct {
	Text  string
	Start float64
	End   float64
}

// Provenance maps one rune of a linearized text stream back to its
// originating cue and that cue's declared time bounds.
//
// Every producer of a (text, provenance) pair maintains the invariant that
// the provenance slice has exactly one entry per rune of the text.
type Provenance struct {
	// CueIndex is the index of the source cue in the input slice.
	CueIndex int

	// CueStart and CueEnd are the source cue's declared bounds. Calibrated
	// timestamps for this rune are clamped into this interval.
	CueStart float64
	CueEnd   float64
}

// Word is one recognized word from the timestamped hypothesis.
type Word struct {
	Text  string
	Start float64
	End   float64
}

// Segment is a hypothesis segment as delivered by a speech-to-text provider:
// segment-level bounds plus, when available, per-word timing.
type Segment struct {
	Text  string
	Start float64
	End   float64

	// Words carries word-level timing when the provider supports it. When
	// empty, the whole segment text is treated as a single word for timing
	// expansion purposes.
	Words []Word
}

// CharTiming is a single rune with a time interval, derived by uniformly
// subdividing a word's duration across its runes.
type CharTiming struct {
	Char  rune
	Start float64
	End   float64
}

// CalibratedChar is one rune of the reference stream after calibration.
// [Calibrate] guarantees Start <= End and that both lie within the rune's
// provenance bounds.
type CalibratedChar struct {
	Char  rune
	Start float64
	End   float64
}

// OutputSegment is a rebuilt grouping of calibrated runes sharing one source
// cue. Start is the first rune's start, End the last rune's end.
type OutputSegment struct {
	Text  string
	Start float64
	End   float64

	// Chars is the ordered calibrated rune timeline of this segment, kept so
	// that downstream token alignment can reuse the calibrated timing.
	Chars []CalibratedChar
}

// Token is a linguistic token from a morphological analyzer. Surface is the
// token text as it appears; Reading is its pronunciation (hiragana for
// Japanese). Start and End are zero until assigned by [AlignTokens].
type Token struct {
	Surface string
	Reading string
	Start   float64
	End     float64
}

// Interval is a resolved time span in seconds.
type Interval struct {
	Start float64
	End   float64
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
