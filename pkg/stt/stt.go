// Package stt defines the Provider interface for batch speech-to-text
// backends.
//
// Unlike a live captioning system, kikitori transcribes complete media files:
// a provider takes a path to an audio file and returns the full transcript in
// one call, with per-segment bounds and — when the backend supports it —
// per-word timing. Word timing is what makes downstream timestamp calibration
// and token alignment precise; providers that cannot supply it leave Words
// empty and the alignment engine falls back to distributing segment spans.
//
// Implementations must be safe for concurrent use. Transcription is CPU- or
// network-bound and potentially slow; callers are expected to serialize or
// pool calls themselves (see internal/task).
package stt

import "context"

// Word is a single recognized word with its time bounds in seconds from the
// start of the media.
type Word struct {
	Text  string
	Start float64
	End   float64
}

// Segment is one transcript segment: a sentence-sized span of speech.
type Segment struct {
	Text  string
	Start float64
	End   float64

	// Words carries word-level timing when the backend provides it.
	// Empty means only segment-level bounds are available.
	Words []Word
}

// Result is the full transcript of one media file.
type Result struct {
	// Segments in media order.
	Segments []Segment

	// Language is the BCP-47 language tag the backend transcribed in
	// (detected or requested). May be empty.
	Language string
}

// Provider is the abstraction over any batch speech-to-text backend.
type Provider interface {
	// Transcribe transcribes the audio file at audioPath. language is a
	// BCP-47 tag hint (e.g., "ja"); an empty string lets the backend
	// auto-detect if supported.
	//
	// Returns a non-nil *Result on success; Segments may be empty for
	// silent input.
	Transcribe(ctx context.Context, audioPath string, language string) (*Result, error)
}
