// Package kagome implements tokenize.Tokenizer with the pure-Go kagome
// morphological analyzer and its bundled IPA dictionary. No native
// dependencies are required, and the tokenizer is read-only after
// construction, so one instance can serve all goroutines.
package kagome

import (
	"fmt"
	"strings"

	"github.com/ikawaha/kagome-dict/ipa"
	kagomelib "github.com/ikawaha/kagome/v2/tokenizer"

	"github.com/kikitori/kikitori/pkg/tokenize"
)

// Compile-time assertion that Tokenizer satisfies tokenize.Tokenizer.
var _ tokenize.Tokenizer = (*Tokenizer)(nil)

// Tokenizer analyzes Japanese text with kagome's IPA dictionary.
type Tokenizer struct {
	tok *kagomelib.Tokenizer
}

// New loads the embedded IPA dictionary and returns a ready Tokenizer.
func New() (*Tokenizer, error) {
	tok, err := kagomelib.New(ipa.Dict(), kagomelib.OmitBosEos())
	if err != nil {
		return nil, fmt.Errorf("kagome: init tokenizer: %w", err)
	}
	return &Tokenizer{tok: tok}, nil
}

// Analyze implements tokenize.Tokenizer. Readings come from the dictionary
// in katakana and are converted to hiragana; tokens without a dictionary
// reading (unknown words, latin text) fall back to their surface form.
func (t *Tokenizer) Analyze(text string) []tokenize.Token {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var out []tokenize.Token
	for _, tok := range t.tok.Tokenize(text) {
		surface := tok.Surface
		if surface == "" {
			continue
		}

		reading := surface
		if r, ok := tok.Reading(); ok && r != "" && r != "*" {
			reading = katakanaToHiragana(r)
		}

		out = append(out, tokenize.Token{Surface: surface, Reading: reading})
	}
	return out
}

// katakanaToHiragana maps katakana runes into the hiragana block, leaving
// everything else (including the prolonged sound mark ー) untouched.
func katakanaToHiragana(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'ァ' && r <= 'ヶ' {
			return r - 0x60
		}
		return r
	}, s)
}
