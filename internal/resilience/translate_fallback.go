package resilience

import (
	"context"

	"github.com/kikitori/kikitori/pkg/translate"
)

// TranslateFallback implements [translate.Translator] with automatic failover
// across multiple LLM backends.
type TranslateFallback struct {
	group *FallbackGroup[translate.Translator]
}

// Compile-time interface assertion.
var _ translate.Translator = (*TranslateFallback)(nil)

// NewTranslateFallback creates a [TranslateFallback] with primary as the
// preferred backend.
func NewTranslateFallback(primary translate.Translator, primaryName string, cfg FallbackConfig) *TranslateFallback {
	return &TranslateFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional translation backend as a fallback.
func (f *TranslateFallback) AddFallback(name string, t translate.Translator) {
	f.group.AddFallback(name, t)
}

// TranslateBatch translates via the first healthy backend, failing over on
// error.
func (f *TranslateFallback) TranslateBatch(ctx context.Context, texts []string) ([]string, error) {
	return ExecuteWithResult(f.group, func(t translate.Translator) ([]string, error) {
		return t.TranslateBatch(ctx, texts)
	})
}
