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
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"deepgram"},
	"vad": {"energy"},
}

// Bounds for turn timeouts, matching what clients may set at runtime.
const (
	MinTranscriptionWaitTimeout = 100 * time.Millisecond
	MaxTranscriptionWaitTimeout = 10 * time.Second
)

// Load reads the YAML configuration file at path and returns a validated [Config].
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

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	validateProviderName("stt", cfg.Providers.STT.Name)
	for i, fb := range cfg.Providers.STTFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
		}
		validateProviderName("stt", fb.Name)
	}
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
		validateProviderName("llm", fb.Name)
	}
	if len(cfg.Providers.LLMFallbacks) > 0 && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm_fallbacks requires providers.llm"))
	}
	validateProviderName("vad", cfg.Providers.VAD.Name)

	// Turn
	if d := cfg.Turn.TranscriptionWaitTimeout; d < MinTranscriptionWaitTimeout || d > MaxTranscriptionWaitTimeout {
		errs = append(errs, fmt.Errorf("turn.transcription_wait_timeout %v is out of range [%v, %v]",
			d, MinTranscriptionWaitTimeout, MaxTranscriptionWaitTimeout))
	}
	if d := cfg.Turn.DrainQuietPeriod; d < 0 || d > MaxTranscriptionWaitTimeout {
		errs = append(errs, fmt.Errorf("turn.drain_quiet_period %v is out of range [0, %v]", d, MaxTranscriptionWaitTimeout))
	}

	// Audio
	switch cfg.Audio.SampleRate {
	case 8000, 16000, 24000, 44100, 48000:
	default:
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is unsupported; valid values: 8000, 16000, 24000, 44100, 48000", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels != 1 && cfg.Audio.Channels != 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is invalid; valid values: 1, 2", cfg.Audio.Channels))
	}
	switch cfg.Audio.FrameSizeMs {
	case 10, 20, 30:
	default:
		errs = append(errs, fmt.Errorf("audio.frame_size_ms %d is invalid; valid values: 10, 20, 30", cfg.Audio.FrameSizeMs))
	}

	// Format
	if t := cfg.Format.Temperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("format.temperature %.2f is out of range [0, 2]", t))
	}
	if cfg.Format.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("format.max_tokens %d must not be negative", cfg.Format.MaxTokens))
	}
	if cfg.Format.Timeout < 0 {
		errs = append(errs, fmt.Errorf("format.timeout %v must not be negative", cfg.Format.Timeout))
	}
	if cfg.Format.Enabled != nil && *cfg.Format.Enabled && cfg.Providers.LLM.Name == "" {
		slog.Warn("format.enabled is set but providers.llm is not configured; dictations will not be formatted")
	}

	// History
	if cfg.History.MaxEntries < 0 {
		errs = append(errs, fmt.Errorf("history.max_entries %d must not be negative", cfg.History.MaxEntries))
	}
	if cfg.History.Path == "" {
		slog.Warn("history.path is empty; dictation history will not be stored")
	}

	// Telemetry
	if r := cfg.Telemetry.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_ratio %.2f is out of range [0, 1]", r))
	}

	return errors.Join(errs...)
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
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
