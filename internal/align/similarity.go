package align

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	// similaritySampleRatio is the fraction of each segment list sampled per
	// window (head, middle, tail).
	similaritySampleRatio = 0.2

	// similarityMaxRunes caps each comparison string after normalization.
	similarityMaxRunes = 6000
)

// CheckSimilarity compares sampled text from the hypothesis and reference
// segment lists and reports whether they plausibly describe the same audio.
//
// Three windows are sampled from each list — the first, middle, and last
// ~20% of segments, index-clamped — their text concatenated, then stripped of
// whitespace and common CJK/Latin punctuation and lower-cased. The normalized
// strings are scored with the same block-matching ratio as [Opcodes].
//
// Returns ("", false) when either side is empty after sampling. When the
// ratio falls below threshold, returns a human-readable warning and true;
// otherwise ("", false). This is purely a quality signal: callers attach the
// warning to their response and proceed regardless.
func CheckSimilarity(hypTexts, refTexts []string, threshold float64) (string, bool) {
	hyp := sampleText(hypTexts)
	ref := sampleText(refTexts)
	if hyp == "" || ref == "" {
		return "", false
	}

	ratio := Ratio(hyp, ref)
	jw := matchr.JaroWinkler(hyp, ref, false)
	slog.Info("subtitle similarity computed",
		"ratio", ratio,
		"jaro_winkler", jw,
		"threshold", threshold,
	)

	if ratio < threshold {
		return fmt.Sprintf(
			"Low subtitle match detected (Similarity: %.0f%%, Jaro-Winkler: %.0f%%). Please check if you uploaded the correct subtitle file.",
			ratio*100, jw*100,
		), true
	}
	return "", false
}

// sampleText concatenates the head, middle, and tail windows of texts and
// normalizes the result for comparison.
func sampleText(texts []string) string {
	total := len(texts)
	if total == 0 {
		return ""
	}

	count := max(1, int(float64(total)*similaritySampleRatio))
	windows := [][2]int{
		{0, count},
		{total/2 - count/2, total/2 + count/2},
		{total - count, total},
	}

	var b strings.Builder
	for _, w := range windows {
		start := max(0, w[0])
		end := min(total, w[1])
		if start >= end {
			continue
		}
		for _, t := range texts[start:end] {
			b.WriteString(t)
		}
	}

	norm := normalizeForComparison(b.String())
	if len(norm) > similarityMaxRunes {
		norm = norm[:similarityMaxRunes]
	}
	return string(norm)
}

// normalizeForComparison drops whitespace (including U+3000) and common
// CJK/Latin punctuation, and lower-cases the rest.
func normalizeForComparison(s string) []rune {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if unicode.IsSpace(r) || isComparisonPunct(r) {
			continue
		}
		out = append(out, unicode.ToLower(r))
	}
	return out
}

func isComparisonPunct(r rune) bool {
	switch r {
	case '、', '。', '，', '．', '！', '？', ',', '.', '!', '?':
		return true
	}
	return false
}
