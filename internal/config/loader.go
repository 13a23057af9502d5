package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":       {"whisper-native", "whisper-api"},
	"translate": {"gemini", "openai", "anthropic", "ollama", "deepseek", "mistral", "groq"},
}

// Defaults applied by [Validate] for unset fields.
const (
	DefaultListenAddr          = ":8000"
	DefaultLanguage            = "ja"
	DefaultTranslateModel      = "gemini-3-flash-preview"
	DefaultTargetLanguage      = "Simplified Chinese"
	DefaultChunkSize           = 50
	DefaultConcurrency         = 3
	DefaultSimilarityThreshold = 0.1
	DefaultUploadDir           = "temp"
	DefaultDownloadDir         = "temp"
	DefaultSessionTTL          = 10 * time.Minute
	DefaultSweepInterval       = time.Minute
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values and fills in
// defaults for unset fields. It returns a joined error listing all
// validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	validateProviderName("stt", cfg.STT.Name)
	validateProviderName("translate", cfg.Translate.Provider)
	validateProviderName("translate", cfg.Translate.FallbackProvider)

	if cfg.Translate.FallbackProvider != "" {
		if cfg.Translate.Provider == "" {
			errs = append(errs, errors.New("translate.fallback_provider requires translate.provider"))
		}
		if cfg.Translate.FallbackModel == "" {
			errs = append(errs, errors.New("translate.fallback_model is required when translate.fallback_provider is set"))
		}
	}

	if cfg.STT.Name == "whisper-native" && cfg.STT.ModelPath == "" {
		errs = append(errs, errors.New("stt.model_path is required when stt.name is whisper-native"))
	}

	if cfg.Translate.Provider == "" {
		slog.Warn("translate.provider is empty; segments will be returned without translations")
	}

	if cfg.Align.SimilarityThreshold < 0 || cfg.Align.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("align.similarity_threshold %.2f is out of range [0, 1]", cfg.Align.SimilarityThreshold))
	}
	if cfg.Upload.SessionTTL < 0 {
		errs = append(errs, errors.New("upload.session_ttl must not be negative"))
	}
	if cfg.Upload.SweepInterval < 0 {
		errs = append(errs, errors.New("upload.sweep_interval must not be negative"))
	}
	if cfg.Translate.ChunkSize < 0 {
		errs = append(errs, errors.New("translate.chunk_size must not be negative"))
	}
	if cfg.Translate.Concurrency < 0 {
		errs = append(errs, errors.New("translate.concurrency must not be negative"))
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}

	applyDefaults(cfg)
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.STT.Language == "" {
		cfg.STT.Language = DefaultLanguage
	}
	if cfg.Translate.Model == "" {
		cfg.Translate.Model = DefaultTranslateModel
	}
	if cfg.Translate.TargetLanguage == "" {
		cfg.Translate.TargetLanguage = DefaultTargetLanguage
	}
	if cfg.Translate.ChunkSize == 0 {
		cfg.Translate.ChunkSize = DefaultChunkSize
	}
	if cfg.Translate.Concurrency == 0 {
		cfg.Translate.Concurrency = DefaultConcurrency
	}
	if cfg.Align.SimilarityThreshold == 0 {
		cfg.Align.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if cfg.Upload.Dir == "" {
		cfg.Upload.Dir = DefaultUploadDir
	}
	if cfg.Upload.SessionTTL == 0 {
		cfg.Upload.SessionTTL = DefaultSessionTTL
	}
	if cfg.Upload.SweepInterval == 0 {
		cfg.Upload.SweepInterval = DefaultSweepInterval
	}
	if cfg.Media.DownloadDir == "" {
		cfg.Media.DownloadDir = DefaultDownloadDir
	}
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
