// Package translate provides batch text translation through an LLM backend.
//
// Translation happens in numbered-list chunks: each chunk of segment texts is
// rendered into a single prompt asking for a numbered list back, the response
// is parsed by number, and unparseable or failed items degrade to empty
// strings rather than failing the whole batch. Chunks are translated
// concurrently with a bounded degree of parallelism.
//
// Backends only implement [Completer]; the chunking, prompting, and parsing
// live here so every backend behaves identically.
package translate

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
)

const (
	defaultChunkSize   = 50
	defaultConcurrency = 3
	defaultTarget      = "Simplified Chinese"
)

// Translator translates a batch of texts, preserving order and length.
type Translator interface {
	// TranslateBatch returns exactly len(texts) entries in input order.
	// Individual items may be empty when their chunk failed; a non-nil
	// error is returned only when the whole batch is unusable.
	TranslateBatch(ctx context.Context, texts []string) ([]string, error)
}

// Completer is the minimal single-prompt LLM surface a backend must provide.
type Completer interface {
	// Complete sends one prompt and returns the model's text response.
	Complete(ctx context.Context, prompt string) (string, error)
}

// Option is a functional option for [New].
type Option func(*BatchTranslator)

// WithTargetLanguage sets the translation target language as it should be
// named in the prompt. Default: "Simplified Chinese".
func WithTargetLanguage(lang string) Option {
	return func(t *BatchTranslator) { t.target = lang }
}

// WithChunkSize sets how many texts go into one prompt. Default: 50.
func WithChunkSize(n int) Option {
	return func(t *BatchTranslator) {
		if n > 0 {
			t.chunkSize = n
		}
	}
}

// WithConcurrency bounds how many chunks are translated in parallel.
// Default: 3.
func WithConcurrency(n int) Option {
	return func(t *BatchTranslator) {
		if n > 0 {
			t.concurrency = n
		}
	}
}

// BatchTranslator implements [Translator] on top of any [Completer].
type BatchTranslator struct {
	completer   Completer
	target      string
	chunkSize   int
	concurrency int
}

// New returns a BatchTranslator using completer as its backend.
func New(completer Completer, opts ...Option) *BatchTranslator {
	t := &BatchTranslator{
		completer:   completer,
		target:      defaultTarget,
		chunkSize:   defaultChunkSize,
		concurrency: defaultConcurrency,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// TranslateBatch implements [Translator].
func (t *BatchTranslator) TranslateBatch(ctx context.Context, texts []string) ([]string, error) {
	results := make([]string, len(texts))
	if len(texts) == 0 {
		return results, nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(t.concurrency)

	for offset := 0; offset < len(texts); offset += t.chunkSize {
		chunk := texts[offset:min(offset+t.chunkSize, len(texts))]
		g.Go(func() error {
			prompt := buildPrompt(chunk, t.target)
			resp, err := t.completer.Complete(ctx, prompt)
			if err != nil {
				// One failed chunk degrades to empty translations; the
				// rest of the batch is still useful.
				slog.Warn("translation chunk failed", "offset", offset, "size", len(chunk), "err", err)
				return nil
			}
			for i, s := range parseNumbered(resp, len(chunk)) {
				results[offset+i] = s
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, fmt.Errorf("translate: batch: %w", err)
	}
	return results, nil
}

// buildPrompt renders one chunk as a numbered list with strict formatting
// instructions so the response can be parsed back by number.
func buildPrompt(chunk []string, target string) string {
	var b strings.Builder
	fmt.Fprintf(&b,
		"Translate the following Japanese sentences to %s. "+
			"Output strictly as a numbered list corresponding to the input numbers (e.g., '1. translation'). "+
			"Do not merge sentences. Maintain the original tone.\n\n", target)
	for i, text := range chunk {
		fmt.Fprintf(&b, "%d. %s\n", i+1, text)
	}
	return b.String()
}

var numberedLine = regexp.MustCompile(`^\s*(\d+)[.)、．]\s*(.*)$`)

// parseNumbered extracts up to n numbered items from an LLM response.
// Continuation lines without a number are appended to the previous item;
// numbers outside [1, n] are ignored. Missing numbers stay empty.
func parseNumbered(resp string, n int) []string {
	out := make([]string, n)
	last := -1
	for line := range strings.Lines(resp) {
		line = strings.TrimRight(line, "\n")
		m := numberedLine.FindStringSubmatch(line)
		if m == nil {
			if last >= 0 && strings.TrimSpace(line) != "" {
				out[last] += " " + strings.TrimSpace(line)
			}
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx < 1 || idx > n {
			last = -1
			continue
		}
		out[idx-1] = strings.TrimSpace(m[2])
		last = idx - 1
	}
	return out
}
