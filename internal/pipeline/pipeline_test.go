package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/kikitori/kikitori/internal/pipeline"
	"github.com/kikitori/kikitori/internal/task"
	"github.com/kikitori/kikitori/pkg/stt"
	sttmock "github.com/kikitori/kikitori/pkg/stt/mock"
	"github.com/kikitori/kikitori/pkg/tokenize"
	translatemock "github.com/kikitori/kikitori/pkg/translate/mock"
)

// fakeTokenizer returns the trimmed text as a single token.
type fakeTokenizer struct{}

func (fakeTokenizer) Analyze(text string) []tokenize.Token {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	return []tokenize.Token{{Surface: trimmed, Reading: trimmed}}
}

// tempAudioFile creates a throwaway file standing in for downloaded audio.
func tempAudioFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audio.mp3")
	if err := os.WriteFile(path, []byte("not real audio"), 0o644); err != nil {
		t.Fatalf("write audio file: %v", err)
	}
	return path
}

func newProcessor(sttProv stt.Provider, translator *translatemock.Translator, store *task.Store) *pipeline.Processor {
	cfg := pipeline.Config{
		STT:                 sttProv,
		Tokenizer:           fakeTokenizer{},
		Store:               store,
		Language:            "ja",
		SimilarityThreshold: 0.1,
	}
	if translator != nil {
		cfg.Translator = translator
	}
	return pipeline.New(cfg)
}

func TestProcessFile_TranscriptPath(t *testing.T) {
	t.Parallel()

	sttProv := &sttmock.Provider{
		Result: &stt.Result{
			Segments: []stt.Segment{
				{
					Text: "こんにちは", Start: 0, End: 1,
					Words: []stt.Word{{Text: "こんにちは", Start: 0, End: 1}},
				},
				{
					Text: "世界です", Start: 1.5, End: 3,
					Words: []stt.Word{{Text: "世界です", Start: 1.5, End: 3}},
				},
			},
			Language: "ja",
		},
	}
	translator := &translatemock.Translator{}
	store := task.NewStore()
	p := newProcessor(sttProv, translator, store)

	taskID := store.Create()
	audioPath := tempAudioFile(t)
	p.ProcessFile(context.Background(), taskID, audioPath, "vid123", "Test Video", 1.5, "")

	info, ok := store.Get(taskID)
	if !ok {
		t.Fatal("task not found after processing")
	}
	if info.Status != task.StatusCompleted {
		t.Fatalf("status = %q (message %q), want completed", info.Status, info.Message)
	}
	if info.Progress != 100 {
		t.Errorf("progress = %d, want 100", info.Progress)
	}

	resp, ok := info.Result.(*pipeline.VideoResponse)
	if !ok {
		t.Fatalf("result type = %T, want *pipeline.VideoResponse", info.Result)
	}
	if resp.VideoID != "vid123" || resp.Title != "Test Video" {
		t.Errorf("video identity = (%q, %q), want (vid123, Test Video)", resp.VideoID, resp.Title)
	}
	if len(resp.Segments) != 2 {
		t.Fatalf("segments = %d, want 2", len(resp.Segments))
	}
	if got := resp.Segments[0].Translation; got != "T:こんにちは" {
		t.Errorf("first translation = %q, want %q", got, "T:こんにちは")
	}
	if got := resp.Segments[1].Words[0].Text; got != "世界です" {
		t.Errorf("second segment word = %q, want %q", got, "世界です")
	}

	// Token timing comes from the word-level expansion.
	w := resp.Segments[0].Words[0]
	if w.Start != 0 || w.End != 1 {
		t.Errorf("word timing = [%v, %v], want [0, 1]", w.Start, w.End)
	}

	if resp.Metrics == nil {
		t.Fatal("metrics missing from response")
	}
	if resp.Metrics.DownloadTime != 1.5 {
		t.Errorf("download_time = %v, want 1.5", resp.Metrics.DownloadTime)
	}
	if len(resp.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", resp.Warnings)
	}

	// Audio is cleaned up when processing finishes.
	if _, err := os.Stat(audioPath); !os.IsNotExist(err) {
		t.Errorf("audio file not removed: stat err = %v", err)
	}

	calls := sttProv.Calls()
	if len(calls) != 1 || calls[0].Language != "ja" {
		t.Errorf("stt calls = %+v, want one call with language ja", calls)
	}
}

func TestProcessFile_SubtitlePath(t *testing.T) {
	t.Parallel()

	sttProv := &sttmock.Provider{
		Result: &stt.Result{
			Segments: []stt.Segment{
				{Text: "こんにちは世界", Start: 0, End: 2},
			},
		},
	}
	translator := &translatemock.Translator{}
	store := task.NewStore()
	p := newProcessor(sttProv, translator, store)

	subtitlePath := filepath.Join(t.TempDir(), "subtitle.srt")
	srt := "1\n00:00:00,000 --> 00:00:02,000\nこんにちは世界\n"
	if err := os.WriteFile(subtitlePath, []byte(srt), 0o644); err != nil {
		t.Fatalf("write subtitle: %v", err)
	}

	taskID := store.Create()
	audioPath := tempAudioFile(t)
	p.ProcessFile(context.Background(), taskID, audioPath, "upload_abc", "Uploaded", 0, subtitlePath)

	info, _ := store.Get(taskID)
	if info.Status != task.StatusCompleted {
		t.Fatalf("status = %q (message %q, error %q), want completed", info.Status, info.Message, info.Error)
	}

	resp := info.Result.(*pipeline.VideoResponse)
	if len(resp.Segments) != 1 {
		t.Fatalf("segments = %d, want 1", len(resp.Segments))
	}
	if got := resp.Segments[0].Words[0].Text; got != "こんにちは世界" {
		t.Errorf("segment word = %q, want subtitle text", got)
	}
	if len(resp.Warnings) != 0 {
		t.Errorf("matching subtitle produced warnings: %v", resp.Warnings)
	}

	// Both working files are cleaned up.
	if _, err := os.Stat(subtitlePath); !os.IsNotExist(err) {
		t.Errorf("subtitle file not removed: stat err = %v", err)
	}
	if _, err := os.Stat(audioPath); !os.IsNotExist(err) {
		t.Errorf("audio file not removed: stat err = %v", err)
	}
}

func TestProcessFile_SubtitleMismatchWarning(t *testing.T) {
	t.Parallel()

	sttProv := &sttmock.Provider{
		Result: &stt.Result{
			Segments: []stt.Segment{
				{Text: "こんにちは世界", Start: 0, End: 2},
			},
		},
	}
	store := task.NewStore()
	p := newProcessor(sttProv, nil, store)

	subtitlePath := filepath.Join(t.TempDir(), "subtitle.srt")
	srt := "1\n00:00:00,000 --> 00:00:02,000\n全然違うテキストです\n"
	if err := os.WriteFile(subtitlePath, []byte(srt), 0o644); err != nil {
		t.Fatalf("write subtitle: %v", err)
	}

	taskID := store.Create()
	p.ProcessFile(context.Background(), taskID, tempAudioFile(t), "vid", "Mismatch", 0, subtitlePath)

	info, _ := store.Get(taskID)
	if info.Status != task.StatusCompleted {
		t.Fatalf("status = %q, want completed", info.Status)
	}
	resp := info.Result.(*pipeline.VideoResponse)
	if len(resp.Warnings) == 0 {
		t.Error("mismatched subtitle produced no warning")
	}
}

func TestProcessFile_TranscribeErrorFailsTask(t *testing.T) {
	t.Parallel()

	sttProv := &sttmock.Provider{Err: errors.New("model exploded")}
	store := task.NewStore()
	p := newProcessor(sttProv, nil, store)

	taskID := store.Create()
	audioPath := tempAudioFile(t)
	p.ProcessFile(context.Background(), taskID, audioPath, "vid", "Broken", 0, "")

	info, _ := store.Get(taskID)
	if info.Status != task.StatusFailed {
		t.Fatalf("status = %q, want failed", info.Status)
	}
	if info.Message != "Processing failed" {
		t.Errorf("message = %q, want %q", info.Message, "Processing failed")
	}
	if info.Progress != 0 {
		t.Errorf("progress = %d, want 0", info.Progress)
	}
	if !strings.Contains(info.Error, "model exploded") {
		t.Errorf("error detail %q does not mention the cause", info.Error)
	}

	// Failure still cleans up the working files.
	if _, err := os.Stat(audioPath); !os.IsNotExist(err) {
		t.Errorf("audio file not removed after failure: stat err = %v", err)
	}
}

func TestProcessFile_TranslationErrorDegrades(t *testing.T) {
	t.Parallel()

	sttProv := &sttmock.Provider{
		Result: &stt.Result{
			Segments: []stt.Segment{{Text: "おはよう", Start: 0, End: 1}},
		},
	}
	translator := &translatemock.Translator{Err: errors.New("quota exceeded")}
	store := task.NewStore()
	p := newProcessor(sttProv, translator, store)

	taskID := store.Create()
	p.ProcessFile(context.Background(), taskID, tempAudioFile(t), "vid", "Degraded", 0, "")

	info, _ := store.Get(taskID)
	if info.Status != task.StatusCompleted {
		t.Fatalf("status = %q, want completed despite translation error", info.Status)
	}
	resp := info.Result.(*pipeline.VideoResponse)
	if got := resp.Segments[0].Translation; got != "" {
		t.Errorf("translation = %q, want empty after translator error", got)
	}
}

func TestProcessFile_NilTranslator(t *testing.T) {
	t.Parallel()

	sttProv := &sttmock.Provider{
		Result: &stt.Result{
			Segments: []stt.Segment{{Text: "おはよう", Start: 0, End: 1}},
		},
	}
	store := task.NewStore()
	p := newProcessor(sttProv, nil, store)

	taskID := store.Create()
	p.ProcessFile(context.Background(), taskID, tempAudioFile(t), "vid", "NoTranslate", 0, "")

	info, _ := store.Get(taskID)
	if info.Status != task.StatusCompleted {
		t.Fatalf("status = %q, want completed", info.Status)
	}
	resp := info.Result.(*pipeline.VideoResponse)
	if got := resp.Segments[0].Translation; got != "" {
		t.Errorf("translation = %q, want empty with nil translator", got)
	}
}

func TestProcessFile_SetTranslatorTakesEffect(t *testing.T) {
	t.Parallel()

	sttProv := &sttmock.Provider{
		Result: &stt.Result{
			Segments: []stt.Segment{{Text: "テスト", Start: 0, End: 1}},
		},
	}
	store := task.NewStore()
	p := newProcessor(sttProv, nil, store)

	swapped := &translatemock.Translator{
		Translate: func(text string) string { return "NEW:" + text },
	}
	p.SetTranslator(swapped)

	taskID := store.Create()
	p.ProcessFile(context.Background(), taskID, tempAudioFile(t), "vid", "Swap", 0, "")

	info, _ := store.Get(taskID)
	resp := info.Result.(*pipeline.VideoResponse)
	if got := resp.Segments[0].Translation; got != "NEW:テスト" {
		t.Errorf("translation = %q, want %q", got, "NEW:テスト")
	}
	if len(swapped.Batches()) != 1 {
		t.Errorf("swapped translator batches = %d, want 1", len(swapped.Batches()))
	}
}

// Not parallel: swaps the global tracer provider.
func TestProcessFile_EmitsStageSpans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	sttProv := &sttmock.Provider{
		Result: &stt.Result{
			Segments: []stt.Segment{{Text: "こんにちは世界", Start: 0, End: 2}},
		},
	}
	translator := &translatemock.Translator{}
	store := task.NewStore()
	p := newProcessor(sttProv, translator, store)

	subtitlePath := filepath.Join(t.TempDir(), "subtitle.srt")
	srt := "1\n00:00:00,000 --> 00:00:02,000\nこんにちは世界\n"
	if err := os.WriteFile(subtitlePath, []byte(srt), 0o644); err != nil {
		t.Fatalf("write subtitle: %v", err)
	}

	taskID := store.Create()
	p.ProcessFile(context.Background(), taskID, tempAudioFile(t), "vid", "Traced", 0, subtitlePath)

	got := make(map[string]bool)
	for _, s := range exp.GetSpans() {
		got[s.Name] = true
	}
	for _, want := range []string{
		"pipeline.process",
		"pipeline.transcribe",
		"pipeline.calibrate",
		"pipeline.analyze",
		"pipeline.translate",
	} {
		if !got[want] {
			t.Errorf("span %q not recorded; got %v", want, got)
		}
	}
}

// Not parallel: captures the default slog output.
func TestProcessFile_CompletionLogNamesSource(t *testing.T) {
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(orig) })

	sttProv := &sttmock.Provider{
		Result: &stt.Result{
			Segments: []stt.Segment{{Text: "テスト", Start: 0, End: 1}},
		},
	}
	store := task.NewStore()
	p := newProcessor(sttProv, nil, store)

	taskID := store.Create()
	p.ProcessFile(context.Background(), taskID, tempAudioFile(t), "upload_deadbeef00112233", "Uploaded", 0, "")

	if !strings.Contains(buf.String(), "source=upload") {
		t.Errorf("completion log missing source=upload, got:\n%s", buf.String())
	}
}

func TestProcessFile_EmptyTranscript(t *testing.T) {
	t.Parallel()

	sttProv := &sttmock.Provider{Result: &stt.Result{}}
	store := task.NewStore()
	p := newProcessor(sttProv, &translatemock.Translator{}, store)

	taskID := store.Create()
	p.ProcessFile(context.Background(), taskID, tempAudioFile(t), "vid", "Silent", 0, "")

	info, _ := store.Get(taskID)
	if info.Status != task.StatusCompleted {
		t.Fatalf("status = %q, want completed for silent input", info.Status)
	}
	resp := info.Result.(*pipeline.VideoResponse)
	if len(resp.Segments) != 0 {
		t.Errorf("segments = %d, want 0", len(resp.Segments))
	}
}
