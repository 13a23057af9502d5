package align

import "github.com/pmezard/go-difflib/difflib"

// OpKind classifies one run of a diff decomposition.
type OpKind int

const (
	// OpEqual marks a run present identically in both sequences.
	OpEqual OpKind = iota

	// OpReplace marks a run where both sequences have content that differs.
	OpReplace

	// OpInsert marks content present only in the second sequence.
	OpInsert

	// OpDelete marks content present only in the first sequence.
	OpDelete
)

// Opcode describes one contiguous run of a diff between two rune sequences:
// a[AStart:AEnd] against b[BStart:BEnd]. The opcodes returned by [Opcodes]
// partition both sequences contiguously and in order.
type Opcode struct {
	Kind   OpKind
	AStart int
	AEnd   int
	BStart int
	BEnd   int
}

// Opcodes computes the diff decomposition of a against b into maximal
// matching and non-matching runs. It is a thin adapter over difflib's
// SequenceMatcher (the Go port of Python's difflib), operating on runes.
//
// No normalization is applied here; callers that want whitespace-insensitive
// matching must strip the inputs and keep their own index maps.
func Opcodes(a, b []rune) []Opcode {
	m := difflib.NewMatcher(runeStrings(a), runeStrings(b))
	codes := m.GetOpCodes()
	out := make([]Opcode, 0, len(codes))
	for _, c := range codes {
		out = append(out, Opcode{
			Kind:   opKind(c.Tag),
			AStart: c.I1,
			AEnd:   c.I2,
			BStart: c.J1,
			BEnd:   c.J2,
		})
	}
	return out
}

// Ratio returns the normalized similarity of two strings as computed by the
// same block-matching algorithm as [Opcodes]: 2×matched / total rune count,
// in [0, 1].
func Ratio(a, b string) float64 {
	return difflib.NewMatcher(runeStrings([]rune(a)), runeStrings([]rune(b))).Ratio()
}

func opKind(tag byte) OpKind {
	switch tag {
	case 'e':
		return OpEqual
	case 'r':
		return OpReplace
	case 'i':
		return OpInsert
	default:
		return OpDelete
	}
}

func runeStrings(rs []rune) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = string(r)
	}
	return out
}
