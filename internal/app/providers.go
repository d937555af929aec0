package app

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/MrWong99/dictaphone/internal/config"
	"github.com/MrWong99/dictaphone/internal/control"
	"github.com/MrWong99/dictaphone/internal/observe"
	"github.com/MrWong99/dictaphone/internal/resilience"
	"github.com/MrWong99/dictaphone/pkg/provider/llm"
	"github.com/MrWong99/dictaphone/pkg/provider/stt"
	"github.com/MrWong99/dictaphone/pkg/provider/vad"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured.
type Providers struct {
	// STT is required. With fallbacks configured it is a
	// *resilience.STTFallback.
	STT stt.Provider

	// STTNames lists the STT backends in failover order.
	STTNames []string

	// LLM may be nil, in which case dictation is delivered unformatted.
	LLM llm.Provider

	// LLMName names the primary LLM backend for get-config and metrics.
	LLMName string

	// VAD may be nil. Pipelines then treat client audio as speech.
	VAD vad.Engine

	// Choices clients may switch to, in config order. The primary entry
	// keeps its failover group.
	sttChoices []choice[stt.Provider]
	llmChoices []choice[llm.Provider]

	// Registered implementation names, to tell unknown providers from
	// unconfigured ones.
	sttKnown []string
	llmKnown []string
}

type choice[T any] struct {
	name     string
	model    string
	provider T
}

// providerLabels are display names for get-available-providers.
var providerLabels = map[string]string{
	"deepgram":  "Deepgram",
	"openai":    "OpenAI",
	"anthropic": "Anthropic",
	"gemini":    "Google Gemini",
	"deepseek":  "DeepSeek",
	"mistral":   "Mistral",
	"groq":      "Groq",
	"ollama":    "Ollama",
	"llamacpp":  "llama.cpp",
	"llamafile": "llamafile",
}

// localProviders run on the user's machine.
var localProviders = map[string]bool{
	"ollama":    true,
	"llamacpp":  true,
	"llamafile": true,
}

// BuildProviders instantiates every provider named in cfg through reg and
// wraps STT and LLM in failover groups when fallbacks are configured.
func BuildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics, log *slog.Logger) (*Providers, error) {
	if log == nil {
		log = slog.Default()
	}
	ps := &Providers{
		sttKnown: reg.Names("stt"),
		llmKnown: reg.Names("llm"),
	}
	fbCfg := func(kind string) resilience.FallbackConfig {
		return resilience.FallbackConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{
				OnStateChange: func(name string, from, to resilience.State) {
					log.Warn("provider circuit breaker changed state",
						"kind", kind, "name", name, "from", from.String(), "to", to.String())
				},
				Logger: log,
			},
			Kind:    kind,
			Metrics: metrics,
			Logger:  log,
		}
	}

	// ── STT ───────────────────────────────────────────────────────────────────
	primary, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, fmt.Errorf("app: create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	log.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)
	ps.STT = primary
	ps.STTNames = []string{cfg.Providers.STT.Name}
	var sttFallbacks []choice[stt.Provider]

	if len(cfg.Providers.STTFallbacks) > 0 {
		group := resilience.NewSTTFallback(primary, cfg.Providers.STT.Name, fbCfg("stt"))
		for i, entry := range cfg.Providers.STTFallbacks {
			p, err := reg.CreateSTT(entry)
			if err != nil {
				return nil, fmt.Errorf("app: create stt fallback %d (%q): %w", i, entry.Name, err)
			}
			group.AddFallback(fallbackName(entry.Name, i), p)
			sttFallbacks = append(sttFallbacks, choice[stt.Provider]{entry.Name, entry.Model, p})
			log.Info("provider created", "kind", "stt", "name", entry.Name, "fallback", i+1)
		}
		ps.STT = group
		ps.STTNames = group.Names()
	}
	ps.sttChoices = addChoices(
		[]choice[stt.Provider]{{cfg.Providers.STT.Name, cfg.Providers.STT.Model, ps.STT}},
		sttFallbacks)

	// ── LLM ───────────────────────────────────────────────────────────────────
	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if err != nil {
			return nil, fmt.Errorf("app: create llm provider %q: %w", name, err)
		}
		log.Info("provider created", "kind", "llm", "name", name)
		ps.LLM, ps.LLMName = p, name
		var llmFallbacks []choice[llm.Provider]

		if len(cfg.Providers.LLMFallbacks) > 0 {
			group := resilience.NewLLMFallback(p, name, fbCfg("llm"))
			for i, entry := range cfg.Providers.LLMFallbacks {
				fp, err := reg.CreateLLM(entry)
				if err != nil {
					return nil, fmt.Errorf("app: create llm fallback %d (%q): %w", i, entry.Name, err)
				}
				group.AddFallback(fallbackName(entry.Name, i), fp)
				llmFallbacks = append(llmFallbacks, choice[llm.Provider]{entry.Name, entry.Model, fp})
				log.Info("provider created", "kind", "llm", "name", entry.Name, "fallback", i+1)
			}
			ps.LLM = group
		}
		ps.llmChoices = addChoices(
			[]choice[llm.Provider]{{name, cfg.Providers.LLM.Model, ps.LLM}},
			llmFallbacks)
	}

	// ── VAD ───────────────────────────────────────────────────────────────────
	if name := cfg.Providers.VAD.Name; name != "" {
		p, err := reg.CreateVAD(cfg.Providers.VAD)
		switch {
		case errors.Is(err, config.ErrProviderNotRegistered):
			log.Warn("vad provider not available, treating client audio as speech", "name", name)
		case err != nil:
			return nil, fmt.Errorf("app: create vad provider %q: %w", name, err)
		default:
			ps.VAD = p
			log.Info("provider created", "kind", "vad", "name", name)
		}
	}

	return ps, nil
}

// LookupSTT implements pipeline.ProviderCatalog.
func (ps *Providers) LookupSTT(name string) (stt.Provider, error) {
	return lookupChoice(ps.sttChoices, ps.sttKnown, name)
}

// LookupLLM implements pipeline.ProviderCatalog.
func (ps *Providers) LookupLLM(name string) (llm.Provider, error) {
	return lookupChoice(ps.llmChoices, ps.llmKnown, name)
}

// AvailableSTT lists the STT backends a client may switch to.
func (ps *Providers) AvailableSTT() []control.ProviderInfo { return providerInfos(ps.sttChoices) }

// AvailableLLM lists the LLM backends a client may switch to.
func (ps *Providers) AvailableLLM() []control.ProviderInfo { return providerInfos(ps.llmChoices) }

// addChoices appends more to choices, skipping names already present.
func addChoices[T any](choices, more []choice[T]) []choice[T] {
	for _, c := range more {
		if !slices.ContainsFunc(choices, func(have choice[T]) bool { return have.name == c.name }) {
			choices = append(choices, c)
		}
	}
	return choices
}

func lookupChoice[T any](choices []choice[T], known []string, name string) (T, error) {
	for _, c := range choices {
		if c.name == name {
			return c.provider, nil
		}
	}
	var zero T
	if slices.Contains(known, name) {
		return zero, fmt.Errorf("Provider '%s' not available (not configured)", name)
	}
	return zero, fmt.Errorf("Unknown provider: %s", name)
}

func providerInfos[T any](choices []choice[T]) []control.ProviderInfo {
	out := make([]control.ProviderInfo, 0, len(choices))
	for _, c := range choices {
		label, ok := providerLabels[c.name]
		if !ok {
			label = c.name
		}
		out = append(out, control.ProviderInfo{
			Value:   c.name,
			Label:   label,
			IsLocal: localProviders[c.name],
			Model:   c.model,
		})
	}
	return out
}

// fallbackName keeps breaker names unique when the same backend is listed
// more than once, for example two Deepgram regions.
func fallbackName(name string, i int) string {
	return fmt.Sprintf("%s#%d", name, i+1)
}
