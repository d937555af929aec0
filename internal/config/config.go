// Package config provides the configuration schema, loader, provider
// registry and hot-reload watcher for the dictaphone server.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
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

// SlogLevel maps l to the slog level. Unknown values map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr               = ":8765"
	DefaultTranscriptionWaitTimeout = 800 * time.Millisecond
	DefaultSampleRate               = 16000
	DefaultChannels                 = 1
	DefaultFrameSizeMs              = 20
	DefaultHistoryMaxEntries        = 500
	DefaultFormatTimeout            = 10 * time.Second
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Turn      TurnConfig      `yaml:"turn"`
	Audio     AudioConfig     `yaml:"audio"`
	Format    FormatConfig    `yaml:"format"`
	History   HistoryConfig   `yaml:"history"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on. Default ":8765".
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// AllowedOrigins lists host patterns accepted for websocket upgrades
	// from browsers. Empty allows same-origin requests only; "*" allows any.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig selects the backends for each pipeline stage. Names are
// looked up in the [Registry].
type ProvidersConfig struct {
	STT          ProviderEntry   `yaml:"stt"`
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
	LLM          ProviderEntry   `yaml:"llm"`
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
	VAD          ProviderEntry   `yaml:"vad"`
}

// ProviderEntry is the common configuration block shared by all provider types.
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey authenticates against the provider's API, if it needs one.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider (e.g., "gpt-4o-mini", "nova-3").
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// TurnConfig tunes turn-boundary detection. Both fields are hot-reloadable.
type TurnConfig struct {
	// TranscriptionWaitTimeout bounds the wait for VAD to report the end of
	// speech after the user stops recording. Default 800ms.
	TranscriptionWaitTimeout time.Duration `yaml:"transcription_wait_timeout"`

	// DrainQuietPeriod is how long STT must stay quiet after speech ended
	// before the turn is emitted. Zero reuses TranscriptionWaitTimeout.
	DrainQuietPeriod time.Duration `yaml:"drain_quiet_period"`
}

// AudioConfig describes the PCM stream clients send.
type AudioConfig struct {
	SampleRate  int `yaml:"sample_rate"`
	Channels    int `yaml:"channels"`
	FrameSizeMs int `yaml:"frame_size_ms"`
}

// FormatConfig controls LLM post-processing of dictations. Prompt fields are
// hot-reloadable.
type FormatConfig struct {
	// Enabled turns formatting on. Defaults to true when an LLM is configured.
	Enabled *bool `yaml:"enabled"`

	// SystemPrompt replaces the built-in main prompt.
	SystemPrompt string `yaml:"system_prompt"`

	// DisableAdvanced drops the correction and list rules from the prompt.
	DisableAdvanced bool `yaml:"disable_advanced"`

	// Dictionary lists personal vocabulary entries.
	Dictionary []string `yaml:"dictionary"`

	// DictionaryCorrection rewrites sound-alike words to dictionary entries
	// before formatting. Applies even when the LLM is disabled.
	DictionaryCorrection bool `yaml:"dictionary_correction"`

	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// IsEnabled reports whether formatting should run.
func (f FormatConfig) IsEnabled() bool {
	return f.Enabled == nil || *f.Enabled
}

// HistoryConfig configures the dictation history store.
type HistoryConfig struct {
	// Path is the SQLite database file. Empty disables history.
	Path string `yaml:"path"`

	// MaxEntries caps retained entries. Default 500.
	MaxEntries int `yaml:"max_entries"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	ServiceName      string  `yaml:"service_name"`
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// ApplyDefaults fills unset fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Turn.TranscriptionWaitTimeout == 0 {
		cfg.Turn.TranscriptionWaitTimeout = DefaultTranscriptionWaitTimeout
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = DefaultSampleRate
	}
	if cfg.Audio.Channels == 0 {
		cfg.Audio.Channels = DefaultChannels
	}
	if cfg.Audio.FrameSizeMs == 0 {
		cfg.Audio.FrameSizeMs = DefaultFrameSizeMs
	}
	if cfg.Format.Timeout == 0 {
		cfg.Format.Timeout = DefaultFormatTimeout
	}
	if cfg.History.MaxEntries == 0 {
		cfg.History.MaxEntries = DefaultHistoryMaxEntries
	}
	if cfg.Providers.VAD.Name == "" {
		cfg.Providers.VAD.Name = "energy"
	}
}
