package config_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/dictaphone/internal/config"
	"github.com/MrWong99/dictaphone/pkg/provider/llm"
	"github.com/MrWong99/dictaphone/pkg/provider/stt"
	"github.com/MrWong99/dictaphone/pkg/provider/vad"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9000"
  log_level: debug
  allowed_origins: ["localhost:*", "app.example.com"]

providers:
  stt:
    name: deepgram
    api_key: dg-test
    model: nova-3
    options:
      language: multi
  stt_fallbacks:
    - name: deepgram
      api_key: dg-backup
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o-mini

turn:
  transcription_wait_timeout: 1.5s
  drain_quiet_period: 300ms

audio:
  sample_rate: 48000
  channels: 2
  frame_size_ms: 30

format:
  system_prompt: "Clean it up."
  disable_advanced: true
  dictionary:
    - Kubernetes
    - gRPC
  temperature: 0.2
  max_tokens: 512
  timeout: 5s

history:
  path: /var/lib/dictaphone/history.db
  max_entries: 50

telemetry:
  service_name: dictaphone-test
  trace_sample_ratio: 0.5
`

const minimalYAML = `
providers:
  stt:
    name: deepgram
`

func mustLoad(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, sampleYAML)

	if cfg.Server.ListenAddr != ":9000" {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level: got %q", cfg.Server.LogLevel)
	}
	if len(cfg.Server.AllowedOrigins) != 2 {
		t.Errorf("allowed_origins: got %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Providers.STT.Name != "deepgram" || cfg.Providers.STT.Model != "nova-3" {
		t.Errorf("stt: got %+v", cfg.Providers.STT)
	}
	if got := cfg.Providers.STT.Options["language"]; got != "multi" {
		t.Errorf("stt.options.language: got %v", got)
	}
	if len(cfg.Providers.STTFallbacks) != 1 || cfg.Providers.STTFallbacks[0].APIKey != "dg-backup" {
		t.Errorf("stt_fallbacks: got %+v", cfg.Providers.STTFallbacks)
	}
	if cfg.Providers.LLM.Name != "openai" {
		t.Errorf("llm.name: got %q", cfg.Providers.LLM.Name)
	}
	if cfg.Providers.VAD.Name != "energy" {
		t.Errorf("vad.name default: got %q, want energy", cfg.Providers.VAD.Name)
	}
	if cfg.Turn.TranscriptionWaitTimeout != 1500*time.Millisecond {
		t.Errorf("transcription_wait_timeout: got %v", cfg.Turn.TranscriptionWaitTimeout)
	}
	if cfg.Turn.DrainQuietPeriod != 300*time.Millisecond {
		t.Errorf("drain_quiet_period: got %v", cfg.Turn.DrainQuietPeriod)
	}
	if cfg.Audio != (config.AudioConfig{SampleRate: 48000, Channels: 2, FrameSizeMs: 30}) {
		t.Errorf("audio: got %+v", cfg.Audio)
	}
	if !cfg.Format.IsEnabled() {
		t.Error("format should be enabled when not set")
	}
	if cfg.Format.SystemPrompt != "Clean it up." || !cfg.Format.DisableAdvanced {
		t.Errorf("format: got %+v", cfg.Format)
	}
	if len(cfg.Format.Dictionary) != 2 || cfg.Format.Dictionary[1] != "gRPC" {
		t.Errorf("format.dictionary: got %v", cfg.Format.Dictionary)
	}
	if cfg.Format.Timeout != 5*time.Second || cfg.Format.MaxTokens != 512 {
		t.Errorf("format timeout/max_tokens: got %v/%d", cfg.Format.Timeout, cfg.Format.MaxTokens)
	}
	if cfg.History.Path != "/var/lib/dictaphone/history.db" || cfg.History.MaxEntries != 50 {
		t.Errorf("history: got %+v", cfg.History)
	}
	if cfg.Telemetry.ServiceName != "dictaphone-test" || cfg.Telemetry.TraceSampleRatio != 0.5 {
		t.Errorf("telemetry: got %+v", cfg.Telemetry)
	}
}

func TestLoadFromReader_AppliesDefaults(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, minimalYAML)

	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q", cfg.Server.LogLevel)
	}
	if cfg.Turn.TranscriptionWaitTimeout != 800*time.Millisecond {
		t.Errorf("transcription_wait_timeout: got %v", cfg.Turn.TranscriptionWaitTimeout)
	}
	if cfg.Turn.DrainQuietPeriod != 0 {
		t.Errorf("drain_quiet_period: got %v, want 0", cfg.Turn.DrainQuietPeriod)
	}
	if cfg.Audio.SampleRate != 16000 || cfg.Audio.Channels != 1 || cfg.Audio.FrameSizeMs != 20 {
		t.Errorf("audio: got %+v", cfg.Audio)
	}
	if cfg.Format.Timeout != config.DefaultFormatTimeout {
		t.Errorf("format.timeout: got %v", cfg.Format.Timeout)
	}
	if cfg.History.MaxEntries != config.DefaultHistoryMaxEntries {
		t.Errorf("history.max_entries: got %d", cfg.History.MaxEntries)
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Parallel()
	cfg, err := config.Load("../../configs/example.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.STT.Name != "deepgram" || cfg.Providers.VAD.Name != "energy" {
		t.Errorf("providers: got %+v", cfg.Providers)
	}
	if !cfg.Format.DictionaryCorrection || len(cfg.Format.Dictionary) != 2 {
		t.Errorf("format: got %+v", cfg.Format)
	}
}

func TestLoadFromReader_EmptyRequiresSTT(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(""))
	if err == nil {
		t.Fatal("expected error for empty config, got nil")
	}
	if !strings.Contains(err.Error(), "providers.stt.name") {
		t.Errorf("error should mention providers.stt.name, got: %v", err)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	yaml := minimalYAML + "\nnpcs: []\n"
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown top-level key, got nil")
	}
}

func TestFormatConfig_IsEnabled(t *testing.T) {
	t.Parallel()
	yes, no := true, false
	tests := []struct {
		name    string
		enabled *bool
		want    bool
	}{
		{"unset", nil, true},
		{"true", &yes, true},
		{"false", &no, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := (config.FormatConfig{Enabled: tt.enabled}).IsEnabled(); got != tt.want {
				t.Errorf("IsEnabled() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if config.LogLevel("verbose").IsValid() {
		t.Error(`"verbose" should be invalid`)
	}
}

func TestLogLevel_SlogLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		level config.LogLevel
		want  slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := tt.level.SlogLevel(); got != tt.want {
			t.Errorf("%q.SlogLevel() = %v, want %v", tt.level, got, tt.want)
		}
	}
}

// ── Registry ──────────────────────────────────────────────────────────────────

func TestRegistry_Unknown(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	entry := config.ProviderEntry{Name: "nope"}

	if _, err := reg.CreateLLM(entry); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateLLM: want ErrProviderNotRegistered, got %v", err)
	}
	if _, err := reg.CreateSTT(entry); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateSTT: want ErrProviderNotRegistered, got %v", err)
	}
	if _, err := reg.CreateVAD(entry); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateVAD: want ErrProviderNotRegistered, got %v", err)
	}
}

func TestRegistry_Registered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	var gotEntry config.ProviderEntry
	reg.RegisterLLM("stub", func(e config.ProviderEntry) (llm.Provider, error) {
		gotEntry = e
		return &stubLLM{}, nil
	})
	reg.RegisterSTT("stub", func(config.ProviderEntry) (stt.Provider, error) { return &stubSTT{}, nil })
	reg.RegisterVAD("stub", func(config.ProviderEntry) (vad.Engine, error) { return &stubVAD{}, nil })

	p, err := reg.CreateLLM(config.ProviderEntry{Name: "stub", Model: "m1"})
	if err != nil {
		t.Fatalf("CreateLLM: %v", err)
	}
	if p == nil {
		t.Fatal("CreateLLM returned nil provider")
	}
	if gotEntry.Model != "m1" {
		t.Errorf("factory received model %q, want m1", gotEntry.Model)
	}
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "stub"}); err != nil {
		t.Errorf("CreateSTT: %v", err)
	}
	if _, err := reg.CreateVAD(config.ProviderEntry{Name: "stub"}); err != nil {
		t.Errorf("CreateVAD: %v", err)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	want := errors.New("bad key")
	reg.RegisterSTT("broken", func(config.ProviderEntry) (stt.Provider, error) { return nil, want })

	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "broken"}); !errors.Is(err, want) {
		t.Errorf("want factory error, got %v", err)
	}
}

func TestRegistry_Names(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	for _, n := range []string{"openai", "anthropic", "ollama"} {
		reg.RegisterLLM(n, func(config.ProviderEntry) (llm.Provider, error) { return &stubLLM{}, nil })
	}

	got := reg.Names("llm")
	want := []string{"anthropic", "ollama", "openai"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Names(llm) = %v, want %v", got, want)
	}
	if got := reg.Names("stt"); len(got) != 0 {
		t.Errorf("Names(stt) = %v, want empty", got)
	}
	if got := reg.Names("tts"); len(got) != 0 {
		t.Errorf("Names(tts) = %v, want empty", got)
	}
}

// ── stubs ─────────────────────────────────────────────────────────────────────

type stubLLM struct{}

func (s *stubLLM) Complete(_ context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{}, nil
}

type stubSTT struct{}

func (s *stubSTT) StartStream(_ context.Context, _ stt.StreamConfig) (stt.SessionHandle, error) {
	return nil, nil
}

type stubVAD struct{}

func (s *stubVAD) NewSession(_ vad.Config) (vad.SessionHandle, error) { return nil, nil }
