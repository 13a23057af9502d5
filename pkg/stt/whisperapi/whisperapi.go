// Package whisperapi provides a speech-to-text provider backed by an
// OpenAI-compatible audio transcription endpoint (POST
// /v1/audio/transcriptions): the hosted OpenAI API, a whisper-server
// instance, or LocalAI.
//
// The media file is uploaded as multipart/form-data with
// response_format=verbose_json and word-level timestamp granularity, so the
// returned transcript carries the per-word timing the alignment engine needs.
// Endpoints that ignore the granularity hint still work; their segments just
// come back without word timing and the engine falls back to segment spans.
package whisperapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/kikitori/kikitori/pkg/stt"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "whisper-1"
	defaultTimeout = 10 * time.Minute
)

// Compile-time assertion that Provider satisfies stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider against an OpenAI-compatible
// transcription endpoint.
type Provider struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBaseURL overrides the endpoint base URL (e.g.,
// "http://localhost:8080/v1" for a local whisper-server). Defaults to the
// hosted OpenAI API.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithModel sets the transcription model identifier. Defaults to "whisper-1".
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithHTTPClient replaces the default HTTP client. Useful for tests and for
// callers that need custom transport settings.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// New creates a Provider. apiKey may be empty when the endpoint does not
// require authentication (local whisper-server).
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		model:      defaultModel,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// verboseTranscription mirrors the verbose_json response shape. Word-level
// entries appear at the top level; segments carry sentence-sized spans.
type verboseTranscription struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Text  string  `json:"text"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"segments"`
	Words []struct {
		Word  string  `json:"word"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"words"`
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, audioPath string, language string) (*stt.Result, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("whisperapi: open %q: %w", audioPath, err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("whisperapi: create form file: %w", err)
	}
	if _, err := io.Copy(fw, f); err != nil {
		return nil, fmt.Errorf("whisperapi: copy media: %w", err)
	}

	fields := map[string]string{
		"model":           p.model,
		"response_format": "verbose_json",
	}
	if language != "" {
		fields["language"] = language
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("whisperapi: write field %q: %w", k, err)
		}
	}
	for _, g := range []string{"word", "segment"} {
		if err := mw.WriteField("timestamp_granularities[]", g); err != nil {
			return nil, fmt.Errorf("whisperapi: write granularity field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("whisperapi: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return nil, fmt.Errorf("whisperapi: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whisperapi: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("whisperapi: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("whisperapi: server returned HTTP %d: %s", resp.StatusCode, truncate(data, 200))
	}

	var vt verboseTranscription
	if err := json.Unmarshal(data, &vt); err != nil {
		return nil, fmt.Errorf("whisperapi: parse JSON response: %w", err)
	}

	return assembleResult(vt), nil
}

// assembleResult maps the verbose response to stt.Result, distributing
// top-level words into the segment whose span contains them.
func assembleResult(vt verboseTranscription) *stt.Result {
	result := &stt.Result{Language: vt.Language}

	for _, seg := range vt.Segments {
		result.Segments = append(result.Segments, stt.Segment{
			Text:  seg.Text,
			Start: seg.Start,
			End:   seg.End,
		})
	}

	// No segment list at all: synthesize one from the flat text so callers
	// always see a uniform shape.
	if len(result.Segments) == 0 && vt.Text != "" {
		end := 0.0
		if n := len(vt.Words); n > 0 {
			end = vt.Words[n-1].End
		}
		result.Segments = append(result.Segments, stt.Segment{Text: vt.Text, End: end})
	}

	if len(result.Segments) == 0 {
		return result
	}

	si := 0
	for _, w := range vt.Words {
		for si < len(result.Segments)-1 && w.Start >= result.Segments[si].End {
			si++
		}
		result.Segments[si].Words = append(result.Segments[si].Words, stt.Word{
			Text:  w.Word,
			Start: w.Start,
			End:   w.End,
		})
	}

	return result
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "…"
}
