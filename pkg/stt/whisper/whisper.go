// Package whisper provides a local speech-to-text provider backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.
//
// The model is loaded once at construction and shared across all Transcribe
// calls; each call creates its own whisper.cpp context, so concurrent
// transcriptions do not interfere (though they compete for CPU — callers
// should serialize, see internal/task).
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/kikitori/kikitori/pkg/stt"
)

const defaultLanguage = "ja"

// Compile-time assertion that Provider satisfies stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// DecodeFunc decodes a media file into 16 kHz mono float32 samples in
// [-1, 1], the input format whisper.cpp expects. See internal/media for the
// ffmpeg-backed implementation.
type DecodeFunc func(ctx context.Context, path string) ([]float32, error)

// Provider implements stt.Provider using whisper.cpp in-process.
type Provider struct {
	model    whisperlib.Model
	decode   DecodeFunc
	language string
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the default BCP-47 language code used when Transcribe is
// called with an empty language. Defaults to "ja".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// New creates a Provider that loads the whisper.cpp model from modelPath and
// uses decode to turn media files into samples. The caller must call Close
// when the provider is no longer needed.
func New(modelPath string, decode DecodeFunc, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	if decode == nil {
		return nil, errors.New("whisper: decode func must not be nil")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &Provider{
		model:    model,
		decode:   decode,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model. Must be called when the provider is no
// longer needed.
func (p *Provider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe implements stt.Provider. Token-level timestamps are enabled so
// that each segment carries per-word timing for the alignment engine.
func (p *Provider) Transcribe(ctx context.Context, audioPath string, language string) (*stt.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	samples, err := p.decode(ctx, audioPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: decode %q: %w", audioPath, err)
	}

	lang := language
	if lang == "" {
		lang = p.language
	}

	// Each context is NOT thread-safe, but the model can be shared across
	// goroutines, so a fresh context per call is the cheap way to stay safe.
	wctx, err := p.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
	}
	wctx.SetTokenTimestamps(true)

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}

	result := &stt.Result{Language: lang}
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}

		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		out := stt.Segment{
			Text:  text,
			Start: segment.Start.Seconds(),
			End:   segment.End.Seconds(),
		}
		for _, tok := range segment.Tokens {
			word := strings.TrimSpace(tok.Text)
			if word == "" || isSpecialToken(word) {
				continue
			}
			out.Words = append(out.Words, stt.Word{
				Text:  word,
				Start: tok.Start.Seconds(),
				End:   tok.End.Seconds(),
			})
		}
		result.Segments = append(result.Segments, out)
	}

	return result, nil
}

// isSpecialToken reports whether text is a whisper.cpp marker token such as
// "[_BEG_]" or "[_TT_500]" rather than transcribed speech.
func isSpecialToken(text string) bool {
	return strings.HasPrefix(text, "[_") && strings.HasSuffix(text, "]")
}
