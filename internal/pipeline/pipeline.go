// Package pipeline orchestrates the full processing flow for one video:
// acquire audio, transcribe it for a timing reference, align an optional
// user-provided subtitle against that reference, tokenize every segment,
// assign per-token timing, and batch-translate the segment texts.
//
// A [Processor] is long-lived and safe for concurrent use; each task runs on
// its own goroutine and reports progress through the task store. Whisper
// transcription is serialized with a weighted semaphore since the native
// backend pins a full model in memory.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kikitori/kikitori/internal/align"
	"github.com/kikitori/kikitori/internal/media"
	"github.com/kikitori/kikitori/internal/observe"
	"github.com/kikitori/kikitori/internal/subtitle"
	"github.com/kikitori/kikitori/internal/task"
	"github.com/kikitori/kikitori/pkg/stt"
	"github.com/kikitori/kikitori/pkg/tokenize"
	"github.com/kikitori/kikitori/pkg/translate"
)

// Word is one display token of a processed segment.
type Word struct {
	Text    string  `json:"text"`
	Reading string  `json:"reading,omitempty"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// Segment is one learning segment of the final response.
type Segment struct {
	Words       []Word  `json:"words"`
	Translation string  `json:"translation"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
}

// Metrics reports per-stage wall-clock times in seconds.
type Metrics struct {
	DownloadTime    float64 `json:"download_time"`
	TranscribeTime  float64 `json:"transcribe_time"`
	AnalysisTime    float64 `json:"analysis_time"`
	TranslationTime float64 `json:"translation_time"`
	TotalTime       float64 `json:"total_time"`
}

// VideoResponse is the final task result delivered to clients.
type VideoResponse struct {
	VideoID           string    `json:"video_id"`
	Title             string    `json:"title"`
	Segments          []Segment `json:"segments"`
	Metrics           *Metrics  `json:"metrics,omitempty"`
	HasWordTimestamps bool      `json:"has_word_timestamps"`
	Warnings          []string  `json:"warnings"`
}

// Config assembles a Processor's collaborators.
type Config struct {
	STT        stt.Provider
	Tokenizer  tokenize.Tokenizer
	Translator translate.Translator // nil disables translation
	Store      *task.Store
	Sessions   *task.Sessions // may be nil when uploads are disabled
	Downloader *media.Downloader
	Metrics    *observe.Metrics

	// Language is the transcription language hint (e.g., "ja").
	Language string

	// SimilarityThreshold is the minimum transcript/subtitle similarity
	// ratio before a mismatch warning is attached.
	SimilarityThreshold float64
}

// Processor runs processing tasks. Create with [New].
type Processor struct {
	stt        stt.Provider
	tokenizer  tokenize.Tokenizer
	store      *task.Store
	sessions   *task.Sessions
	downloader *media.Downloader
	metrics    *observe.Metrics
	language   string

	// sttSem serializes transcription across tasks.
	sttSem *semaphore.Weighted

	mu         sync.RWMutex
	translator translate.Translator
	threshold  float64
}

// New creates a Processor from cfg.
func New(cfg Config) *Processor {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Processor{
		stt:        cfg.STT,
		tokenizer:  cfg.Tokenizer,
		store:      cfg.Store,
		sessions:   cfg.Sessions,
		downloader: cfg.Downloader,
		metrics:    m,
		language:   cfg.Language,
		sttSem:     semaphore.NewWeighted(1),
		translator: cfg.Translator,
		threshold:  cfg.SimilarityThreshold,
	}
}

// SetTranslator swaps the translation backend. Used on config reload.
func (p *Processor) SetTranslator(t translate.Translator) {
	p.mu.Lock()
	p.translator = t
	p.mu.Unlock()
}

// SetSimilarityThreshold updates the mismatch warning threshold. Used on
// config reload.
func (p *Processor) SetSimilarityThreshold(v float64) {
	p.mu.Lock()
	p.threshold = v
	p.mu.Unlock()
}

// DownloadAndProcess fetches audio from url and runs the processing flow.
// It reports progress and the final result through the task store.
func (p *Processor) DownloadAndProcess(ctx context.Context, taskID string, url string) {
	p.store.Update(taskID, task.StatusProcessing, 5, "Downloading video...")
	slog.Info("downloading", "task_id", taskID, "url", url)

	dctx, span := observe.StartSpan(ctx, "pipeline.download")
	t0 := time.Now()
	audioPath, videoID, title, err := p.downloader.DownloadAudio(dctx, url)
	downloadTime := time.Since(t0).Seconds()
	p.metrics.DownloadDuration.Record(ctx, downloadTime)
	span.End()

	if err != nil {
		slog.Error("download failed", "task_id", taskID, "err", err)
		p.store.Fail(taskID, "Download failed", err.Error())
		p.metrics.RecordTask(ctx, "failed")
		return
	}

	p.ProcessFile(ctx, taskID, audioPath, videoID, title, downloadTime, "")
}

// ProcessFile runs the processing flow on a local media file. subtitlePath
// may be empty; when set, the subtitle is aligned against the transcript and
// used as the segment source. The media file and subtitle are removed when
// processing finishes, and any upload session for taskID is released.
func (p *Processor) ProcessFile(ctx context.Context, taskID string, audioPath, videoID, title string, downloadTime float64, subtitlePath string) {
	start := time.Now()

	ctx, span := observe.StartSpan(ctx, "pipeline.process")
	defer span.End()

	p.metrics.ActiveTasks.Add(ctx, 1)
	defer p.metrics.ActiveTasks.Add(ctx, -1)
	defer p.cleanup(taskID, audioPath, subtitlePath)

	resp, metrics, err := p.process(ctx, taskID, audioPath, videoID, title, subtitlePath)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Warn("task cancelled", "task_id", taskID)
			p.store.Fail(taskID, "Processing cancelled", "Processing cancelled")
		} else {
			slog.Error("task failed", "task_id", taskID, "err", err)
			p.store.Fail(taskID, "Processing failed", err.Error())
		}
		p.metrics.RecordTask(ctx, "failed")
		return
	}

	metrics.DownloadTime = downloadTime
	metrics.TotalTime = time.Since(start).Seconds() + downloadTime
	resp.Metrics = metrics

	source := "url"
	if media.IsUpload(videoID) {
		source = "upload"
	}
	slog.Info("task completed",
		"task_id", taskID,
		"source", source,
		"segments", len(resp.Segments),
		"transcribe_s", metrics.TranscribeTime,
		"analysis_s", metrics.AnalysisTime,
		"translation_s", metrics.TranslationTime,
		"total_s", metrics.TotalTime,
	)

	p.store.Complete(taskID, resp)
	p.metrics.RecordTask(ctx, "completed")
}

// timedSegment is an intermediate segment with a calibrated character
// timeline, the common shape of both the transcript and subtitle paths.
type timedSegment struct {
	text  string
	start float64
	end   float64
	chars []align.CharTiming
}

func (p *Processor) process(ctx context.Context, taskID, audioPath, videoID, title, subtitlePath string) (*VideoResponse, *Metrics, error) {
	metrics := &Metrics{}
	var warnings []string

	// Transcribe. Always runs, even with a user subtitle: the transcript
	// is the timing reference the subtitle is calibrated against.
	p.store.Update(taskID, task.StatusProcessing, 5, "Waiting for transcription slot...")
	if err := p.sttSem.Acquire(ctx, 1); err != nil {
		return nil, nil, err
	}

	if dur := media.Duration(ctx, audioPath); dur > 0 {
		slog.Info("audio probed", "task_id", taskID, "duration_s", dur)
	}

	p.store.Update(taskID, task.StatusProcessing, 10, "Transcribing audio (Generating Timing Reference)...")
	tctx, span := observe.StartSpan(ctx, "pipeline.transcribe")
	t0 := time.Now()
	result, err := p.stt.Transcribe(tctx, audioPath, p.language)
	p.sttSem.Release(1)
	metrics.TranscribeTime = time.Since(t0).Seconds()
	p.metrics.TranscribeDuration.Record(ctx, metrics.TranscribeTime)
	span.End()

	if err != nil {
		p.metrics.RecordProviderRequest(ctx, "stt", "transcribe", "error")
		return nil, nil, fmt.Errorf("transcribe: %w", err)
	}
	p.metrics.RecordProviderRequest(ctx, "stt", "transcribe", "ok")
	slog.Info("transcription completed", "task_id", taskID, "segments", len(result.Segments), "seconds", metrics.TranscribeTime)

	// Segment source: calibrated subtitle when provided, transcript
	// otherwise.
	var segments []timedSegment
	if subtitlePath != "" {
		p.store.Update(taskID, task.StatusProcessing, 30, "Loading and Calibrating User Subtitle...")
		cctx, span := observe.StartSpan(ctx, "pipeline.calibrate")
		segments, warnings, err = p.calibrateSubtitle(cctx, taskID, subtitlePath, result)
		span.End()
		if err != nil {
			return nil, nil, err
		}
	} else {
		segments = transcriptSegments(result)
	}

	// Tokenize and assign per-token timing.
	p.store.Update(taskID, task.StatusProcessing, 40, "Analyzing Japanese text...")
	_, span = observe.StartSpan(ctx, "pipeline.analyze")
	t0 = time.Now()
	finalSegments, texts := p.analyzeSegments(segments)
	metrics.AnalysisTime = time.Since(t0).Seconds()
	p.metrics.AnalyzeDuration.Record(ctx, metrics.AnalysisTime)
	span.End()

	// Translate.
	p.store.Update(taskID, task.StatusProcessing, 70, "Translating segments...")
	trctx, span := observe.StartSpan(ctx, "pipeline.translate")
	t0 = time.Now()
	p.translateSegments(trctx, taskID, finalSegments, texts)
	metrics.TranslationTime = time.Since(t0).Seconds()
	p.metrics.TranslateDuration.Record(ctx, metrics.TranslationTime)
	span.End()

	return &VideoResponse{
		VideoID:           videoID,
		Title:             title,
		Segments:          finalSegments,
		HasWordTimestamps: true,
		Warnings:          warnings,
	}, metrics, nil
}

// calibrateSubtitle parses the user subtitle, linearizes scrolling cues,
// gates it against the transcript, and transfers transcript timing onto the
// subtitle text.
func (p *Processor) calibrateSubtitle(ctx context.Context, taskID, subtitlePath string, result *stt.Result) ([]timedSegment, []string, error) {
	data, err := os.ReadFile(subtitlePath)
	if err != nil {
		return nil, nil, fmt.Errorf("read subtitle: %w", err)
	}
	cues, err := subtitle.Parse(string(data))
	if err != nil {
		return nil, nil, err
	}
	slog.Info("subtitle loaded", "task_id", taskID, "cues", len(cues))

	merged, prov := align.Linearize(cues)
	slog.Info("subtitle linearized", "task_id", taskID, "runes", len([]rune(merged)))

	var warnings []string
	hypTexts := make([]string, 0, len(result.Segments))
	for _, seg := range result.Segments {
		hypTexts = append(hypTexts, seg.Text)
	}

	p.mu.RLock()
	threshold := p.threshold
	p.mu.RUnlock()

	if warning, mismatch := align.CheckSimilarity(hypTexts, []string{merged}, threshold); mismatch {
		warnings = append(warnings, warning)
		p.metrics.SubtitleMismatches.Add(ctx, 1)
	}

	t0 := time.Now()
	hyp := make([]align.Segment, 0, len(result.Segments))
	for _, seg := range result.Segments {
		hyp = append(hyp, toAlignSegment(seg))
	}
	cal := align.Calibrate(merged, prov, hyp)
	rebuilt := align.Rebuild(merged, prov, cal)
	p.metrics.CalibrateDuration.Record(ctx, time.Since(t0).Seconds())
	slog.Info("subtitle calibrated", "task_id", taskID, "segments", len(rebuilt))

	segments := make([]timedSegment, 0, len(rebuilt))
	for _, out := range rebuilt {
		chars := make([]align.CharTiming, len(out.Chars))
		for i, c := range out.Chars {
			chars[i] = align.CharTiming{Char: c.Char, Start: c.Start, End: c.End}
		}
		segments = append(segments, timedSegment{
			text:  out.Text,
			start: out.Start,
			end:   out.End,
			chars: chars,
		})
	}
	return segments, warnings, nil
}

// transcriptSegments expands each transcript segment into a character
// timeline, using word timing when the provider supplied it.
func transcriptSegments(result *stt.Result) []timedSegment {
	segments := make([]timedSegment, 0, len(result.Segments))
	for _, seg := range result.Segments {
		segments = append(segments, timedSegment{
			text:  seg.Text,
			start: seg.Start,
			end:   seg.End,
			chars: align.ExpandSegments([]align.Segment{toAlignSegment(seg)}),
		})
	}
	return segments
}

func toAlignSegment(seg stt.Segment) align.Segment {
	words := make([]align.Word, len(seg.Words))
	for i, w := range seg.Words {
		words[i] = align.Word{Text: w.Text, Start: w.Start, End: w.End}
	}
	return align.Segment{Text: seg.Text, Start: seg.Start, End: seg.End, Words: words}
}

// analyzeSegments tokenizes each segment and maps the tokens onto its
// character timeline. Whitespace-only segments are dropped.
func (p *Processor) analyzeSegments(segments []timedSegment) ([]Segment, []string) {
	finalSegments := make([]Segment, 0, len(segments))
	texts := make([]string, 0, len(segments))

	for _, seg := range segments {
		tokens := p.tokenizer.Analyze(seg.text)
		if len(tokens) == 0 {
			continue
		}

		alignTokens := make([]align.Token, len(tokens))
		for i, tok := range tokens {
			alignTokens[i] = align.Token{Surface: tok.Surface, Reading: tok.Reading}
		}
		aligned := align.AlignTokens(alignTokens, seg.chars, &align.Interval{Start: seg.start, End: seg.end})

		words := make([]Word, len(aligned))
		for i, tok := range aligned {
			words[i] = Word{
				Text:    tok.Surface,
				Reading: tok.Reading,
				Start:   tok.Start,
				End:     tok.End,
			}
		}

		finalSegments = append(finalSegments, Segment{
			Words: words,
			Start: seg.start,
			End:   seg.end,
		})
		texts = append(texts, seg.text)
	}
	return finalSegments, texts
}

// translateSegments fills in translations in place. Translation errors
// degrade to untranslated segments rather than failing the task.
func (p *Processor) translateSegments(ctx context.Context, taskID string, segments []Segment, texts []string) {
	p.mu.RLock()
	translator := p.translator
	p.mu.RUnlock()

	if translator == nil || len(texts) == 0 {
		return
	}

	translations, err := translator.TranslateBatch(ctx, texts)
	if err != nil {
		slog.Warn("translation failed; continuing without translations", "task_id", taskID, "err", err)
		p.metrics.RecordProviderRequest(ctx, "llm", "translate", "error")
		return
	}
	p.metrics.RecordProviderRequest(ctx, "llm", "translate", "ok")

	for i, tr := range translations {
		if i < len(segments) {
			segments[i].Translation = tr
		}
	}
}

// cleanup removes the task's working files and drops its upload session.
func (p *Processor) cleanup(taskID, audioPath, subtitlePath string) {
	for _, path := range []string{audioPath, subtitlePath} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to clean up file", "task_id", taskID, "path", path, "err", err)
		}
	}
	if p.sessions != nil {
		p.sessions.Release(taskID)
	}
}
