// Package config provides the configuration schema and loader for the
// kikitori transcription server.
package config

import "time"

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	STT       STTConfig       `yaml:"stt"`
	Translate TranslateConfig `yaml:"translate"`
	Align     AlignConfig     `yaml:"align"`
	Upload    UploadConfig    `yaml:"upload"`
	Media     MediaConfig     `yaml:"media"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8000").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// STTConfig selects and configures the speech-to-text backend.
type STTConfig struct {
	// Name selects the backend: "whisper-native" runs a local whisper.cpp
	// model, "whisper-api" calls an OpenAI-compatible transcription endpoint.
	Name string `yaml:"name"`

	// ModelPath is the GGML model file for whisper-native.
	ModelPath string `yaml:"model_path"`

	// APIKey authenticates against the whisper-api endpoint.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the whisper-api endpoint. Leave empty for the
	// OpenAI default.
	BaseURL string `yaml:"base_url"`

	// Model is the model name sent to the whisper-api endpoint.
	Model string `yaml:"model"`

	// Language is the transcription language hint. Defaults to "ja".
	Language string `yaml:"language"`
}

// TranslateConfig configures the LLM translation backend.
type TranslateConfig struct {
	// Provider selects the LLM backend (e.g., "gemini", "openai",
	// "anthropic", "ollama"). Empty disables translation; segments are
	// returned without translations.
	Provider string `yaml:"provider"`

	// Model is the model identifier (e.g., "gemini-3-flash-preview").
	Model string `yaml:"model"`

	// APIKey authenticates against the provider. When empty, the
	// provider's usual environment variable is used.
	APIKey string `yaml:"api_key"`

	// TargetLanguage is the translation target as named in the prompt.
	TargetLanguage string `yaml:"target_language"`

	// ChunkSize is the number of segment texts per translation request.
	ChunkSize int `yaml:"chunk_size"`

	// Concurrency bounds parallel translation requests.
	Concurrency int `yaml:"concurrency"`

	// FallbackProvider optionally names a second LLM backend that takes
	// over when the primary fails or its circuit breaker is open. Empty
	// disables translation failover.
	FallbackProvider string `yaml:"fallback_provider"`

	// FallbackModel is the model identifier for the fallback provider.
	FallbackModel string `yaml:"fallback_model"`

	// FallbackAPIKey authenticates against the fallback provider. When
	// empty, the provider's usual environment variable is used.
	FallbackAPIKey string `yaml:"fallback_api_key"`
}

// AlignConfig tunes the subtitle alignment engine.
type AlignConfig struct {
	// SimilarityThreshold is the minimum transcript/subtitle similarity
	// ratio below which a mismatch warning is attached to the result.
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
}

// UploadConfig tunes chunked file uploads.
type UploadConfig struct {
	// Dir is where uploaded files are assembled.
	Dir string `yaml:"dir"`

	// SessionTTL is how long an idle upload session survives.
	SessionTTL time.Duration `yaml:"session_ttl"`

	// SweepInterval is how often expired sessions are collected.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// MediaConfig configures audio acquisition.
type MediaConfig struct {
	// DownloadDir is where yt-dlp writes downloaded audio.
	DownloadDir string `yaml:"download_dir"`
}
