package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/dictaphone/internal/config"
)

func TestProviderEntry_Options(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(`
providers:
  stt:
    name: deepgram
    options:
      language: de
      diarize: true
  vad:
    name: energy
    options:
      threshold: 0.02
      silence_threshold: 0
      hangover_ms: 300
      gain: 12.5
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	stt, vad := cfg.Providers.STT, cfg.Providers.VAD

	if got := stt.StringOption("language", "en"); got != "de" {
		t.Errorf("StringOption(language) = %q, want de", got)
	}
	if got := stt.StringOption("missing", "en"); got != "en" {
		t.Errorf("StringOption(missing) = %q, want default", got)
	}
	if !stt.BoolOption("diarize", false) {
		t.Error("BoolOption(diarize) = false, want true")
	}
	if got := stt.BoolOption("language", false); got {
		t.Error("BoolOption on a string value should return the default")
	}

	tests := []struct {
		key  string
		want float64
	}{
		{key: "threshold", want: 0.02},
		{key: "silence_threshold", want: 0},
		{key: "hangover_ms", want: 300},
		{key: "gain", want: 12.5},
		{key: "missing", want: -1},
	}
	for _, tt := range tests {
		if got := vad.FloatOption(tt.key, -1); got != tt.want {
			t.Errorf("FloatOption(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}

	if got := vad.IntOption("hangover_ms", 0); got != 300 {
		t.Errorf("IntOption(hangover_ms) = %d, want 300", got)
	}
	if got := vad.IntOption("gain", 0); got != 12 {
		t.Errorf("IntOption(gain) = %d, want 12", got)
	}

	var empty config.ProviderEntry
	if got := empty.IntOption("x", 7); got != 7 {
		t.Errorf("IntOption on nil options = %d, want 7", got)
	}
}
