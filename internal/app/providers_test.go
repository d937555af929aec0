package app_test

import (
	"errors"
	"io"
	"log/slog"
	"slices"
	"testing"

	"github.com/MrWong99/dictaphone/internal/app"
	"github.com/MrWong99/dictaphone/internal/config"
	"github.com/MrWong99/dictaphone/internal/resilience"
	"github.com/MrWong99/dictaphone/pkg/provider/llm"
	llmmock "github.com/MrWong99/dictaphone/pkg/provider/llm/mock"
	"github.com/MrWong99/dictaphone/pkg/provider/stt"
	sttmock "github.com/MrWong99/dictaphone/pkg/provider/stt/mock"
	"github.com/MrWong99/dictaphone/pkg/provider/vad"
	vadmock "github.com/MrWong99/dictaphone/pkg/provider/vad/mock"
)

func mockRegistry() *config.Registry {
	reg := config.NewRegistry()
	reg.RegisterSTT("mock", func(config.ProviderEntry) (stt.Provider, error) { return &sttmock.Provider{}, nil })
	reg.RegisterSTT("broken", func(config.ProviderEntry) (stt.Provider, error) { return nil, errors.New("bad key") })
	reg.RegisterLLM("mock", func(config.ProviderEntry) (llm.Provider, error) { return &llmmock.Provider{}, nil })
	reg.RegisterVAD("mock", func(config.ProviderEntry) (vad.Engine, error) { return &vadmock.Engine{}, nil })
	return reg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildProviders_Single(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Providers: config.ProvidersConfig{
		STT: config.ProviderEntry{Name: "mock"},
		LLM: config.ProviderEntry{Name: "mock"},
		VAD: config.ProviderEntry{Name: "mock"},
	}}

	ps, err := app.BuildProviders(cfg, mockRegistry(), nil, quietLogger())
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}
	if _, ok := ps.STT.(*sttmock.Provider); !ok {
		t.Errorf("STT = %T, want the unwrapped mock", ps.STT)
	}
	if _, ok := ps.LLM.(*llmmock.Provider); !ok {
		t.Errorf("LLM = %T, want the unwrapped mock", ps.LLM)
	}
	if ps.VAD == nil {
		t.Error("VAD is nil")
	}
	if !slices.Equal(ps.STTNames, []string{"mock"}) || ps.LLMName != "mock" {
		t.Errorf("names = %v / %q", ps.STTNames, ps.LLMName)
	}
}

func TestBuildProviders_Fallbacks(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Providers: config.ProvidersConfig{
		STT:          config.ProviderEntry{Name: "mock"},
		STTFallbacks: []config.ProviderEntry{{Name: "mock"}},
		LLM:          config.ProviderEntry{Name: "mock"},
		LLMFallbacks: []config.ProviderEntry{{Name: "mock"}},
	}}

	ps, err := app.BuildProviders(cfg, mockRegistry(), nil, quietLogger())
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}
	if _, ok := ps.STT.(*resilience.STTFallback); !ok {
		t.Errorf("STT = %T, want *resilience.STTFallback", ps.STT)
	}
	if _, ok := ps.LLM.(*resilience.LLMFallback); !ok {
		t.Errorf("LLM = %T, want *resilience.LLMFallback", ps.LLM)
	}
	if want := []string{"mock", "mock#1"}; !slices.Equal(ps.STTNames, want) {
		t.Errorf("STTNames = %v, want %v", ps.STTNames, want)
	}
}

func TestBuildProviders_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		providers config.ProvidersConfig
		wantErr   bool
	}{
		{
			name:      "unknown stt",
			providers: config.ProvidersConfig{STT: config.ProviderEntry{Name: "nope"}},
			wantErr:   true,
		},
		{
			name:      "stt factory error",
			providers: config.ProvidersConfig{STT: config.ProviderEntry{Name: "broken"}},
			wantErr:   true,
		},
		{
			name: "broken fallback",
			providers: config.ProvidersConfig{
				STT:          config.ProviderEntry{Name: "mock"},
				STTFallbacks: []config.ProviderEntry{{Name: "broken"}},
			},
			wantErr: true,
		},
		{
			name: "unknown llm",
			providers: config.ProvidersConfig{
				STT: config.ProviderEntry{Name: "mock"},
				LLM: config.ProviderEntry{Name: "nope"},
			},
			wantErr: true,
		},
		{
			name: "unknown vad is tolerated",
			providers: config.ProvidersConfig{
				STT: config.ProviderEntry{Name: "mock"},
				VAD: config.ProviderEntry{Name: "nope"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ps, err := app.BuildProviders(&config.Config{Providers: tt.providers}, mockRegistry(), nil, quietLogger())
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && ps.VAD != nil {
				t.Error("VAD should be nil for an unregistered engine")
			}
		})
	}
}

func TestProviders_Catalog(t *testing.T) {
	t.Parallel()
	reg := mockRegistry()
	reg.RegisterSTT("other", func(config.ProviderEntry) (stt.Provider, error) { return &sttmock.Provider{}, nil })
	reg.RegisterLLM("ollama", func(config.ProviderEntry) (llm.Provider, error) { return &llmmock.Provider{}, nil })
	cfg := &config.Config{Providers: config.ProvidersConfig{
		STT:          config.ProviderEntry{Name: "mock", Model: "nova-3"},
		STTFallbacks: []config.ProviderEntry{{Name: "other"}, {Name: "mock"}},
		LLM:          config.ProviderEntry{Name: "ollama", Model: "llama3"},
	}}

	ps, err := app.BuildProviders(cfg, reg, nil, quietLogger())
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}

	if p, err := ps.LookupSTT("mock"); err != nil || p != ps.STT {
		t.Errorf("LookupSTT(mock) = %T, %v; want the failover group", p, err)
	}
	if p, err := ps.LookupSTT("other"); err != nil {
		t.Errorf("LookupSTT(other): %v", err)
	} else if _, ok := p.(*sttmock.Provider); !ok {
		t.Errorf("LookupSTT(other) = %T, want the fallback itself", p)
	}
	if _, err := ps.LookupSTT("broken"); err == nil || err.Error() != "Provider 'broken' not available (not configured)" {
		t.Errorf("LookupSTT(broken) error = %v", err)
	}
	if _, err := ps.LookupSTT("nope"); err == nil || err.Error() != "Unknown provider: nope" {
		t.Errorf("LookupSTT(nope) error = %v", err)
	}
	if p, err := ps.LookupLLM("ollama"); err != nil || p != ps.LLM {
		t.Errorf("LookupLLM(ollama) = %T, %v", p, err)
	}

	sttInfo := ps.AvailableSTT()
	if len(sttInfo) != 2 || sttInfo[0].Value != "mock" || sttInfo[1].Value != "other" {
		t.Fatalf("AvailableSTT = %+v", sttInfo)
	}
	if sttInfo[0].Model != "nova-3" || sttInfo[0].Label != "mock" || sttInfo[0].IsLocal {
		t.Errorf("AvailableSTT[0] = %+v", sttInfo[0])
	}
	llmInfo := ps.AvailableLLM()
	if len(llmInfo) != 1 || llmInfo[0].Label != "Ollama" || !llmInfo[0].IsLocal || llmInfo[0].Model != "llama3" {
		t.Errorf("AvailableLLM = %+v", llmInfo)
	}
}

func TestProviders_CatalogWithoutLLM(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Providers: config.ProvidersConfig{STT: config.ProviderEntry{Name: "mock"}}}
	ps, err := app.BuildProviders(cfg, mockRegistry(), nil, quietLogger())
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}
	if got := ps.AvailableLLM(); len(got) != 0 {
		t.Errorf("AvailableLLM = %+v, want none", got)
	}
	if _, err := ps.LookupLLM("mock"); err == nil {
		t.Error("LookupLLM should fail when no model is configured")
	}
}
