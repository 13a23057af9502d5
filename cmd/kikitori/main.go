// Command kikitori is the Japanese listening-practice transcription server.
//
// It downloads or accepts uploaded videos, transcribes them with whisper,
// optionally calibrates a user-provided subtitle against the transcript,
// tokenizes every segment with per-token timing, and translates the segments
// with an LLM backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/kikitori/kikitori/internal/config"
	"github.com/kikitori/kikitori/internal/health"
	"github.com/kikitori/kikitori/internal/media"
	"github.com/kikitori/kikitori/internal/observe"
	"github.com/kikitori/kikitori/internal/pipeline"
	"github.com/kikitori/kikitori/internal/resilience"
	"github.com/kikitori/kikitori/internal/server"
	"github.com/kikitori/kikitori/internal/task"
	"github.com/kikitori/kikitori/pkg/stt"
	whisperstt "github.com/kikitori/kikitori/pkg/stt/whisper"
	"github.com/kikitori/kikitori/pkg/stt/whisperapi"
	"github.com/kikitori/kikitori/pkg/tokenize/kagome"
	"github.com/kikitori/kikitori/pkg/translate"
	translateanyllm "github.com/kikitori/kikitori/pkg/translate/anyllm"
	translateopenai "github.com/kikitori/kikitori/pkg/translate/openai"
)

func main() {
	os.Exit(run())
}

// logLevel is mutable at runtime so a config reload can change verbosity
// without restarting.
var logLevel = new(slog.LevelVar)

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "kikitori: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "kikitori: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("kikitori starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	shutdownObserve, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "kikitori",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownObserve(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	sttProvider, err := buildSTT(cfg)
	if err != nil {
		slog.Error("failed to create stt provider", "name", cfg.STT.Name, "err", err)
		return 1
	}
	slog.Info("provider created", "kind", "stt", "name", cfg.STT.Name)

	tokenizer, err := kagome.New()
	if err != nil {
		slog.Error("failed to create tokenizer", "err", err)
		return 1
	}

	translator, err := buildTranslator(cfg.Translate)
	if err != nil {
		slog.Error("failed to create translator", "provider", cfg.Translate.Provider, "err", err)
		return 1
	}
	if translator != nil {
		slog.Info("provider created", "kind", "translate", "name", cfg.Translate.Provider, "model", cfg.Translate.Model)
	} else {
		slog.Info("translation disabled")
	}

	// ── Tasks, uploads, downloads ─────────────────────────────────────────────
	store := task.NewStore()
	sessions, err := task.NewSessions(cfg.Upload.Dir, cfg.Upload.SessionTTL, cfg.Upload.SweepInterval, store)
	if err != nil {
		slog.Error("failed to initialise upload sessions", "err", err)
		return 1
	}
	sessions.OnExpire = func(string) { metrics.ActiveUploads.Add(context.Background(), -1) }
	go sessions.Run(ctx)

	downloader, err := media.NewDownloader(cfg.Media.DownloadDir)
	if err != nil {
		slog.Error("failed to initialise downloader", "err", err)
		return 1
	}

	// ── Pipeline ──────────────────────────────────────────────────────────────
	processor := pipeline.New(pipeline.Config{
		STT:                 sttProvider,
		Tokenizer:           tokenizer,
		Translator:          translator,
		Store:               store,
		Sessions:            sessions,
		Downloader:          downloader,
		Metrics:             metrics,
		Language:            cfg.STT.Language,
		SimilarityThreshold: cfg.Align.SimilarityThreshold,
	})

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyReload(processor, config.Diff(old, new))
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	srv := server.New(server.Config{
		Store:     store,
		Sessions:  sessions,
		Processor: processor,
		Metrics:   metrics,
		HealthCheckers: []health.Checker{
			health.BinaryChecker("ffmpeg"),
			health.BinaryChecker("yt-dlp"),
		},
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server ready — press Ctrl+C to shut down", "addr", cfg.Server.ListenAddr)
		if cfg.Server.TLS != nil {
			errCh <- httpServer.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			errCh <- httpServer.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			return 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildSTT constructs the configured speech-to-text backend.
func buildSTT(cfg *config.Config) (stt.Provider, error) {
	switch cfg.STT.Name {
	case "whisper-native":
		var opts []whisperstt.Option
		if cfg.STT.Language != "" {
			opts = append(opts, whisperstt.WithLanguage(cfg.STT.Language))
		}
		return whisperstt.New(cfg.STT.ModelPath, media.DecodeSamples, opts...)
	case "whisper-api":
		var opts []whisperapi.Option
		if cfg.STT.BaseURL != "" {
			opts = append(opts, whisperapi.WithBaseURL(cfg.STT.BaseURL))
		}
		if cfg.STT.Model != "" {
			opts = append(opts, whisperapi.WithModel(cfg.STT.Model))
		}
		api := whisperapi.New(cfg.STT.APIKey, opts...)

		// A model_path alongside whisper-api configures a local failover:
		// the hosted API is preferred, the local model takes over when its
		// circuit breaker trips.
		if cfg.STT.ModelPath == "" {
			return api, nil
		}
		var nativeOpts []whisperstt.Option
		if cfg.STT.Language != "" {
			nativeOpts = append(nativeOpts, whisperstt.WithLanguage(cfg.STT.Language))
		}
		native, err := whisperstt.New(cfg.STT.ModelPath, media.DecodeSamples, nativeOpts...)
		if err != nil {
			return nil, fmt.Errorf("local failover model: %w", err)
		}
		fallback := resilience.NewSTTFallback(api, "whisper-api", resilience.FallbackConfig{})
		fallback.AddFallback("whisper-native", native)
		slog.Info("stt failover enabled", "primary", "whisper-api", "fallback", "whisper-native")
		return fallback, nil
	default:
		return nil, fmt.Errorf("unknown stt provider %q", cfg.STT.Name)
	}
}

// buildTranslator constructs the configured translation backend, or nil when
// translation is disabled. A fallback_provider in the config chains a second
// LLM backend behind the primary, the same way whisper-api fails over to a
// local model.
func buildTranslator(tc config.TranslateConfig) (translate.Translator, error) {
	if tc.Provider == "" {
		return nil, nil
	}

	var opts []translate.Option
	if tc.TargetLanguage != "" {
		opts = append(opts, translate.WithTargetLanguage(tc.TargetLanguage))
	}
	if tc.ChunkSize > 0 {
		opts = append(opts, translate.WithChunkSize(tc.ChunkSize))
	}
	if tc.Concurrency > 0 {
		opts = append(opts, translate.WithConcurrency(tc.Concurrency))
	}

	primary, err := buildLLMTranslator(tc.Provider, tc.Model, tc.APIKey, opts)
	if err != nil {
		return nil, err
	}
	if tc.FallbackProvider == "" {
		return primary, nil
	}

	secondary, err := buildLLMTranslator(tc.FallbackProvider, tc.FallbackModel, tc.FallbackAPIKey, opts)
	if err != nil {
		return nil, fmt.Errorf("fallback translator: %w", err)
	}
	fallback := resilience.NewTranslateFallback(primary, tc.Provider, resilience.FallbackConfig{})
	fallback.AddFallback(tc.FallbackProvider, secondary)
	slog.Info("translate failover enabled", "primary", tc.Provider, "fallback", tc.FallbackProvider)
	return fallback, nil
}

// buildLLMTranslator wires one LLM completion backend into a batch translator.
func buildLLMTranslator(provider, model, apiKey string, opts []translate.Option) (translate.Translator, error) {
	var (
		completer translate.Completer
		err       error
	)
	switch provider {
	case "openai":
		completer, err = translateopenai.New(apiKey, model)
	default:
		var llmOpts []anyllmlib.Option
		if apiKey != "" {
			llmOpts = append(llmOpts, anyllmlib.WithAPIKey(apiKey))
		}
		completer, err = translateanyllm.New(provider, model, llmOpts...)
	}
	if err != nil {
		return nil, err
	}
	return translate.New(completer, opts...), nil
}

// applyReload pushes a config diff into the running system.
func applyReload(processor *pipeline.Processor, d config.ConfigDiff) {
	if !d.Any() {
		return
	}
	if d.LogLevelChanged {
		logLevel.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.SimilarityThresholdChanged {
		processor.SetSimilarityThreshold(d.NewSimilarityThreshold)
		slog.Info("similarity threshold changed", "threshold", d.NewSimilarityThreshold)
	}
	if d.TranslateChanged {
		translator, err := buildTranslator(d.NewTranslate)
		if err != nil {
			slog.Error("translator reload failed; keeping previous backend", "err", err)
			return
		}
		processor.SetTranslator(translator)
		slog.Info("translator reloaded", "provider", d.NewTranslate.Provider, "model", d.NewTranslate.Model)
	}
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
