// Package format turns a consolidated dictation into finished text. An
// optional Dictionary pass fixes misheard vocabulary, then an LLM cleans up
// the result. Formatting is best effort: when no model is configured or the
// model fails, the (dictionary corrected) transcription is returned.
package format

import (
	"cmp"
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/dictaphone/internal/observe"
	"github.com/MrWong99/dictaphone/pkg/provider/llm"
)

// Config controls prompt assembly and sampling.
type Config struct {
	Enabled         bool
	SystemPrompt    string
	DisableAdvanced bool
	Dictionary      []string
	Temperature     float64
	MaxTokens       int

	// Timeout bounds one LLM call. Zero means no extra deadline.
	Timeout time.Duration

	// DictionaryCorrection rewrites sound-alike words to Dictionary entries
	// before the model sees the text.
	DictionaryCorrection bool
}

// Output is the result of formatting one dictation.
type Output struct {
	Text    string
	RawText string

	// Formatted reports whether Text came from the model.
	Formatted bool

	Corrections []Correction
}

// Override is one client's deviation from the shared configuration. The
// zero value changes nothing.
type Override struct {
	// Provider replaces the shared model when non-nil.
	Provider     llm.Provider
	ProviderName string

	// Sections replaces the prompt layout when non-nil.
	Sections *Sections
}

// Option configures a Formatter.
type Option func(*Formatter)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(f *Formatter) { f.log = l }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(f *Formatter) { f.metrics = m }
}

// WithProviderName labels provider metrics. Defaults to "llm".
func WithProviderName(name string) Option {
	return func(f *Formatter) { f.providerName = name }
}

// Formatter is safe for concurrent use. Its configuration can be replaced at
// runtime with SetConfig.
type Formatter struct {
	provider     llm.Provider
	providerName string
	log          *slog.Logger
	metrics      *observe.Metrics

	mu     sync.RWMutex
	cfg    Config
	prompt string
	dict   *Dictionary
}

// New creates a Formatter. provider may be nil, in which case every call is
// a pass-through.
func New(provider llm.Provider, cfg Config, opts ...Option) *Formatter {
	f := &Formatter{
		provider:     provider,
		providerName: "llm",
		log:          slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	if f.metrics == nil {
		f.metrics = observe.DefaultMetrics()
	}
	f.SetConfig(cfg)
	return f
}

// SetConfig replaces the configuration for subsequent calls.
func (f *Formatter) SetConfig(cfg Config) {
	prompt := BuildPrompt(cfg)
	var dict *Dictionary
	if cfg.DictionaryCorrection {
		dict = NewDictionary(cfg.Dictionary)
	}
	f.mu.Lock()
	f.cfg = cfg
	f.prompt = prompt
	f.dict = dict
	f.mu.Unlock()
}

// Enabled reports whether Format will consult the model.
func (f *Formatter) Enabled() bool {
	return f.EnabledWith(Override{})
}

// EnabledWith reports whether FormatWith(o) will consult a model.
func (f *Formatter) EnabledWith(o Override) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return (o.Provider != nil || f.provider != nil) && f.cfg.Enabled
}

// SystemPrompt returns the prompt currently sent to the model.
func (f *Formatter) SystemPrompt() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.prompt
}

// Format cleans up raw. It never fails: on any model error the dictionary
// corrected text is returned with Formatted=false.
func (f *Formatter) Format(ctx context.Context, raw string) Output {
	return f.FormatWith(ctx, raw, Override{})
}

// FormatWith is Format with one client's override applied. Settings the
// override leaves alone follow SetConfig.
func (f *Formatter) FormatWith(ctx context.Context, raw string, o Override) Output {
	raw = strings.TrimSpace(raw)
	out := Output{Text: raw, RawText: raw}
	if raw == "" {
		return out
	}

	f.mu.RLock()
	cfg, prompt, dict := f.cfg, f.prompt, f.dict
	provider, providerName := f.provider, f.providerName
	f.mu.RUnlock()
	if o.Sections != nil {
		prompt = BuildSectionPrompt(cfg, *o.Sections)
	}
	if o.Provider != nil {
		provider, providerName = o.Provider, cmp.Or(o.ProviderName, "llm")
	}

	if dict != nil {
		out.Text, out.Corrections = dict.Correct(raw)
		if len(out.Corrections) > 0 {
			observe.LoggerFrom(ctx, f.log).Debug("dictionary corrections applied",
				"count", len(out.Corrections))
		}
	}
	if provider == nil || !cfg.Enabled {
		return out
	}

	ctx, span := observe.StartSpan(ctx, "format.Format")
	defer span.End()
	span.SetAttributes(
		attribute.Int("format.raw_chars", len(raw)),
		attribute.Int("format.corrections", len(out.Corrections)),
	)

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	log := observe.LoggerFrom(ctx, f.log)
	start := time.Now()
	resp, err := provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: prompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: out.Text}},
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxTokens,
	})
	elapsed := time.Since(start)
	f.metrics.LLMDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("provider", providerName)))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		f.metrics.RecordProviderRequest(ctx, providerName, "llm", "error")
		f.metrics.RecordProviderError(ctx, providerName, "llm")
		log.Warn("formatting failed, using unformatted transcription", "err", err, "elapsed", elapsed)
		return out
	}
	f.metrics.RecordProviderRequest(ctx, providerName, "llm", "ok")

	var text string
	if resp != nil {
		text = strings.TrimSpace(resp.Content)
	}
	if text == "" {
		log.Warn("model returned empty text, using unformatted transcription", "elapsed", elapsed)
		return out
	}
	log.Debug("dictation formatted",
		"raw_chars", len(raw),
		"chars", len(text),
		"elapsed", elapsed,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	out.Text = text
	out.Formatted = true
	return out
}
