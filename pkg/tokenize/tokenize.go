// Package tokenize defines the Tokenizer interface for morphological
// analysis.
//
// A tokenizer splits a text string into surface tokens with readings — for
// Japanese, dictionary-based morphological analysis that also yields each
// token's pronunciation in hiragana. Tokens carry no timing; the alignment
// engine assigns start/end afterwards. Implementations must preserve surface
// order and must be safe for concurrent use.
package tokenize

// Token is one analyzed token: the surface form as it appears in the text
// and its reading (hiragana for Japanese; may equal the surface when no
// dictionary reading exists).
type Token struct {
	Surface string
	Reading string
}

// Tokenizer is the abstraction over any morphological analyzer backend.
type Tokenizer interface {
	// Analyze splits text into ordered tokens. Empty text yields an empty
	// slice. Concatenating the returned surfaces reproduces the input
	// (modulo tokens the dictionary drops, such as pure whitespace).
	Analyze(text string) []Token
}
