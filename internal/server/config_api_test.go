package server

import (
	"net/http"
	"testing"

	"github.com/MrWong99/dictaphone/internal/control"
	"github.com/MrWong99/dictaphone/internal/format"
)

type staticProviders struct {
	stt, llm []control.ProviderInfo
}

func (p staticProviders) AvailableSTT() []control.ProviderInfo { return p.stt }
func (p staticProviders) AvailableLLM() []control.ProviderInfo { return p.llm }

func TestConfigAPI_DefaultPromptSections(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	resp := do(t, http.MethodGet, f.ts.URL+"/api/prompt/sections/default")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	got := decodeBody[defaultSections](t, resp)
	if got.Main != format.DefaultPrompt {
		t.Error("main section differs from the built-in prompt")
	}
	if got.Advanced != format.AdvancedPrompt || got.Dictionary != format.DictionaryPrompt {
		t.Errorf("sections = %+v", got)
	}
}

func TestConfigAPI_Providers(t *testing.T) {
	t.Parallel()

	t.Run("configured", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, func(c *Config) {
			c.Providers = staticProviders{
				stt: []control.ProviderInfo{{Value: "deepgram", Label: "Deepgram", Model: "nova-3"}},
				llm: []control.ProviderInfo{{Value: "ollama", Label: "Ollama", IsLocal: true}},
			}
		})
		got := decodeBody[providerList](t, do(t, http.MethodGet, f.ts.URL+"/api/providers"))
		if len(got.STT) != 1 || got.STT[0].Value != "deepgram" || got.STT[0].Model != "nova-3" {
			t.Errorf("stt = %+v", got.STT)
		}
		if len(got.LLM) != 1 || !got.LLM[0].IsLocal {
			t.Errorf("llm = %+v", got.LLM)
		}
	})

	t.Run("unset lists nothing", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, nil)
		resp := do(t, http.MethodGet, f.ts.URL+"/api/providers")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		got := decodeBody[map[string][]control.ProviderInfo](t, resp)
		stt, okSTT := got["stt"]
		llm, okLLM := got["llm"]
		if !okSTT || !okLLM || len(stt) != 0 || len(llm) != 0 {
			t.Errorf("body = %+v, want empty stt and llm lists", got)
		}
	})
}
