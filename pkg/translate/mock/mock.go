// Package mock provides a scriptable translate.Translator for tests.
package mock

import (
	"context"
	"sync"

	"github.com/kikitori/kikitori/pkg/translate"
)

// Compile-time assertion that Translator satisfies translate.Translator.
var _ translate.Translator = (*Translator)(nil)

// Translator is a mock translate.Translator. Configure Translate or Err
// before use; Batches records every invocation in order. Safe for concurrent
// use.
type Translator struct {
	// Translate maps one input text to its translation. When nil, each
	// text is returned prefixed with "T:".
	Translate func(text string) string

	// Err, if non-nil, is returned by every TranslateBatch call.
	Err error

	mu      sync.Mutex
	batches [][]string
}

// TranslateBatch records the call and translates each text with Translate.
func (t *Translator) TranslateBatch(_ context.Context, texts []string) ([]string, error) {
	t.mu.Lock()
	batch := make([]string, len(texts))
	copy(batch, texts)
	t.batches = append(t.batches, batch)
	t.mu.Unlock()

	if t.Err != nil {
		return nil, t.Err
	}

	out := make([]string, len(texts))
	for i, text := range texts {
		if t.Translate != nil {
			out[i] = t.Translate(text)
		} else {
			out[i] = "T:" + text
		}
	}
	return out, nil
}

// Batches returns a copy of all recorded input batches.
func (t *Translator) Batches() [][]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]string, len(t.batches))
	copy(out, t.batches)
	return out
}
