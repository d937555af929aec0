// Package pipeline glues one dictation client to its providers and turn
// buffer.
//
// A Pipeline owns one STT session, one optional VAD session and one
// [turn.Buffer]. Client audio goes to STT unchanged and, split into frames,
// to the VAD, whose speech edges drive the buffer. Without a VAD the first
// audio of a recording counts as speech. STT results become transcription
// chunks. Terminal results are formatted, stored in history and reported
// back to the client through a [Sender], one at a time and in the order the
// buffer produced them. Live captions go through a small queue of their own
// and are dropped when the client cannot keep up.
//
// Clients may switch STT and LLM provider and replace the formatting prompt
// for their own connection. Those choices last until the connection ends.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/dictaphone/internal/control"
	"github.com/MrWong99/dictaphone/internal/format"
	"github.com/MrWong99/dictaphone/internal/history"
	"github.com/MrWong99/dictaphone/internal/observe"
	"github.com/MrWong99/dictaphone/internal/turn"
	"github.com/MrWong99/dictaphone/pkg/audio"
	"github.com/MrWong99/dictaphone/pkg/provider/llm"
	"github.com/MrWong99/dictaphone/pkg/provider/stt"
	"github.com/MrWong99/dictaphone/pkg/provider/vad"
)

// ErrClosed is returned by operations on a closed Pipeline.
var ErrClosed = errors.New("pipeline: closed")

// ErrSTTEnded is returned by Run when the STT session stops producing
// results before the pipeline is closed.
var ErrSTTEnded = errors.New("pipeline: stt session ended")

const (
	sendTimeout = 5 * time.Second

	// resultQueue bounds results waiting for formatting. Emit blocks when it
	// is full, which only happens if the model falls far behind the user.
	resultQueue = 32

	// interimQueue bounds captions waiting for a slow client. Newer captions
	// are dropped while it is full.
	interimQueue = 16
)

// Sender delivers server messages to the client. Implementations must be
// safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, msg control.ServerMessage) error
}

// ProviderCatalog resolves the providers a client may switch to. Lookup
// errors are shown to the client as they are.
type ProviderCatalog interface {
	LookupSTT(name string) (stt.Provider, error)
	LookupLLM(name string) (llm.Provider, error)
	AvailableSTT() []control.ProviderInfo
	AvailableLLM() []control.ProviderInfo
}

// HistoryStore persists completed dictations.
type HistoryStore interface {
	Add(ctx context.Context, e history.Entry) (history.Entry, error)
}

// Config describes one client's stream and the turn tuning to start with.
type Config struct {
	// ClientID names the connection in logs.
	ClientID string

	// Audio is the format of the PCM the client sends.
	Audio audio.Format

	// STT is passed to StartStream. SampleRate and Channels default to Audio.
	STT stt.StreamConfig

	// VAD configures the speech detector. SampleRate is taken from Audio.
	VAD vad.Config

	TranscriptionTimeout time.Duration
	DrainQuietPeriod     time.Duration

	// STTProviders and LLMProvider are reported by get-config.
	STTProviders []string
	LLMProvider  string
}

// Deps are the collaborators of a Pipeline. STT and Sender are required.
type Deps struct {
	STT stt.Provider

	// VAD may be nil. Audio then marks speech and recordings end by the
	// wait timeout.
	VAD vad.Engine

	// Formatter may be nil for pass-through.
	Formatter *format.Formatter

	// Catalog may be nil, in which case provider switching is refused.
	Catalog ProviderCatalog

	// History may be nil to skip persistence.
	History HistoryStore

	Sender  Sender
	Logger  *slog.Logger
	Metrics *observe.Metrics

	// TurnOptions are appended to the buffer's options, mainly for tests.
	TurnOptions []turn.Option
}

// Pipeline is safe for concurrent use, although HandleAudio calls must come
// from one goroutine at a time to keep audio in order.
type Pipeline struct {
	cfg       Config
	streamCfg stt.StreamConfig
	sender    Sender
	formatter *format.Formatter
	catalog   ProviderCatalog
	history   HistoryStore
	log       *slog.Logger
	metrics   *observe.Metrics

	buf *turn.Buffer
	vad vad.SessionHandle

	// mu guards the client's provider choices.
	mu       sync.Mutex
	stt      stt.SessionHandle
	sttNames []string
	override format.Override
	llmName  string

	audioMu sync.Mutex
	framer  *audio.Framer

	// speechMarked is set once the current recording has been marked as
	// containing speech. Only used without a VAD.
	speechMarked atomic.Bool

	// clientTimeout is set once the client picked its own wait timeout;
	// config reloads no longer override it.
	clientTimeout atomic.Bool

	// streamCtx bounds STT streams opened after a provider switch.
	streamCtx context.Context

	// ctx outlives the connection so results in flight still reach history.
	ctx      context.Context
	results  chan turn.Result
	interims chan string
	workers  errgroup.Group

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// New opens the STT and VAD sessions for one client. The caller must call
// Close, and should call Run to consume transcription results.
func New(ctx context.Context, cfg Config, deps Deps) (*Pipeline, error) {
	if deps.STT == nil {
		return nil, errors.New("pipeline: stt provider is required")
	}
	if deps.Sender == nil {
		return nil, errors.New("pipeline: sender is required")
	}

	p := &Pipeline{
		cfg:       cfg,
		sender:    deps.Sender,
		formatter: deps.Formatter,
		catalog:   deps.Catalog,
		history:   deps.History,
		log:       deps.Logger,
		metrics:   deps.Metrics,
		sttNames:  cfg.STTProviders,
		llmName:   cfg.LLMProvider,
		streamCtx: ctx,
		ctx:       context.WithoutCancel(ctx),
		results:   make(chan turn.Result, resultQueue),
		interims:  make(chan string, interimQueue),
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	p.log = p.log.With("client_id", cfg.ClientID)
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}

	streamCfg := cfg.STT
	if streamCfg.SampleRate == 0 {
		streamCfg.SampleRate = cfg.Audio.SampleRate
	}
	if streamCfg.Channels == 0 {
		streamCfg.Channels = cfg.Audio.Channels
	}
	p.streamCfg = streamCfg
	sess, err := deps.STT.StartStream(ctx, streamCfg)
	if err != nil {
		return nil, fmt.Errorf("pipeline: start stt stream: %w", err)
	}
	p.stt = sess

	if deps.VAD != nil {
		vadCfg := cfg.VAD
		vadCfg.SampleRate = cfg.Audio.SampleRate
		vs, err := deps.VAD.NewSession(vadCfg)
		if err != nil {
			_ = sess.Close()
			return nil, fmt.Errorf("pipeline: start vad session: %w", err)
		}
		p.vad = vs
		// Frames are cut from the interleaved stream, then downmixed.
		p.framer = audio.NewFramer(vadCfg.FrameBytes() * max(cfg.Audio.Channels, 1))
	}

	opts := []turn.Option{
		turn.WithLogger(p.log),
		turn.WithMetrics(p.metrics),
	}
	if cfg.TranscriptionTimeout > 0 {
		opts = append(opts, turn.WithTranscriptionTimeout(cfg.TranscriptionTimeout))
	}
	if cfg.DrainQuietPeriod > 0 {
		opts = append(opts, turn.WithDrainQuietPeriod(cfg.DrainQuietPeriod))
	}
	opts = append(opts, deps.TurnOptions...)
	p.buf = turn.New(sink{p}, opts...)

	p.workers.Go(p.deliver)
	p.workers.Go(p.relayInterims)

	p.log.Debug("pipeline started", "audio", cfg.Audio.String(), "vad", p.vad != nil)
	return p, nil
}

// Buffer exposes the turn buffer, mainly for status reporting.
func (p *Pipeline) Buffer() *turn.Buffer { return p.buf }

// HandleAudio forwards one chunk of client PCM.
func (p *Pipeline) HandleAudio(chunk []byte) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if err := p.session().SendAudio(chunk); err != nil {
		return fmt.Errorf("pipeline: send audio: %w", err)
	}
	if p.vad == nil {
		if len(chunk) > 0 {
			p.markSpeech()
		}
		return nil
	}

	p.audioMu.Lock()
	defer p.audioMu.Unlock()
	for _, frame := range p.framer.Write(chunk) {
		ev, err := p.vad.ProcessFrame(audio.Downmix(frame, p.cfg.Audio.Channels))
		if err != nil {
			p.log.Warn("vad frame rejected", "err", err)
			continue
		}
		switch ev.Type {
		case vad.VADSpeechStart:
			p.buf.SpeechStarted()
		case vad.VADSpeechEnd:
			p.buf.SpeechStopped()
		}
	}
	return nil
}

// HandleCommand applies one client command. Replies go through the Sender.
func (p *Pipeline) HandleCommand(ctx context.Context, cmd control.Command) error {
	if p.closed.Load() {
		return ErrClosed
	}
	switch cmd.Type {
	case control.TypeStartRecording:
		p.resetVAD()
		p.speechMarked.Store(false)
		p.buf.StartRecording()
		return nil

	case control.TypeStopRecording:
		p.buf.StopRecording()
		return nil

	case control.TypeSetSTTTimeout:
		if err := control.ValidateTimeout(cmd.TimeoutSeconds); err != nil {
			p.log.Debug("rejected stt timeout", "err", err)
			return p.send(ctx, control.ConfigError(control.SettingSTTTimeout, err.Error()))
		}
		p.clientTimeout.Store(true)
		p.buf.SetTranscriptionTimeoutSeconds(*cmd.TimeoutSeconds)
		p.log.Info("stt timeout updated", "seconds", *cmd.TimeoutSeconds)
		return p.send(ctx, control.ConfigUpdated(control.SettingSTTTimeout, *cmd.TimeoutSeconds))

	case control.TypeGetConfig:
		p.mu.Lock()
		data := control.ConfigData{
			STTTimeout:       p.buf.TranscriptionTimeout().Seconds(),
			DrainQuietPeriod: p.buf.DrainQuietPeriod().Seconds(),
			STTProviders:     p.sttNames,
			LLMProvider:      p.llmName,
			FormatEnabled:    p.formatter != nil && p.formatter.EnabledWith(p.override),
		}
		p.mu.Unlock()
		return p.send(ctx, control.Config(data))

	case control.TypeSetSTTProvider:
		return p.switchSTT(ctx, cmd.Provider)

	case control.TypeSetLLMProvider:
		return p.switchLLM(ctx, cmd.Provider)

	case control.TypeGetAvailableProviders:
		var sttInfo, llmInfo []control.ProviderInfo
		if p.catalog != nil {
			sttInfo, llmInfo = p.catalog.AvailableSTT(), p.catalog.AvailableLLM()
		}
		return p.send(ctx, control.AvailableProviders(sttInfo, llmInfo))

	case control.TypeSetPromptSections:
		return p.setPromptSections(ctx, cmd.Sections)

	default:
		return fmt.Errorf("%w: %q", control.ErrUnknownMessage, cmd.Type)
	}
}

// SetTurnConfig applies reloaded server defaults. The wait timeout is left
// alone once the client has chosen its own.
func (p *Pipeline) SetTurnConfig(timeout, quiet time.Duration) {
	if !p.clientTimeout.Load() && timeout > 0 {
		p.buf.SetTranscriptionTimeout(timeout)
	}
	p.buf.SetDrainQuietPeriod(quiet)
}

// Run feeds STT results into the turn buffer until ctx is done, the
// pipeline is closed, or the STT session ends. It returns ErrSTTEnded in the
// last case. After a provider switch it follows the new session.
func (p *Pipeline) Run(ctx context.Context) error {
	for {
		sess := p.session()
		if err := p.consume(ctx, sess); err != nil {
			return err
		}
		if p.closed.Load() {
			return nil
		}
		if p.session() == sess {
			return ErrSTTEnded
		}
	}
}

// consume reads sess until both of its channels close.
func (p *Pipeline) consume(ctx context.Context, sess stt.SessionHandle) error {
	partials, finals := sess.Partials(), sess.Finals()
	for partials != nil || finals != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			p.chunk(ctx, t)
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			p.chunk(ctx, t)
		}
	}
	return nil
}

func (p *Pipeline) chunk(ctx context.Context, t stt.Transcript) {
	p.metrics.TranscriptChunks.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("final", t.IsFinal),
	))
	if p.vad == nil && t.IsFinal && strings.TrimSpace(t.Text) != "" {
		p.markSpeech()
	}
	p.buf.TranscriptionChunk(turn.Chunk{
		Text:      t.Text,
		SpeakerID: t.SpeakerID,
		Language:  t.Language,
		IsFinal:   t.IsFinal,
	})
}

// Close shuts the buffer down, closes the provider sessions and waits for
// results already produced to be formatted, stored and sent. Safe to call
// more than once.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		p.buf.Shutdown()
		close(p.results)
		close(p.interims)

		var errs []error
		if p.vad != nil {
			if err := p.vad.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close vad: %w", err))
			}
		}
		// A provider switch that raced with closed being set has either
		// finished its swap or will close its own session.
		p.mu.Lock()
		sess := p.stt
		p.mu.Unlock()
		if err := sess.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close stt: %w", err))
		}
		_ = p.workers.Wait()

		if err := errors.Join(errs...); err != nil {
			p.closeErr = fmt.Errorf("pipeline: %w", err)
		}
		p.log.Debug("pipeline closed")
	})
	return p.closeErr
}

func (p *Pipeline) session() stt.SessionHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stt
}

// markSpeech stands in for a VAD onset, once per recording.
func (p *Pipeline) markSpeech() {
	if !p.speechMarked.Swap(true) {
		p.buf.SpeechStarted()
	}
}

func (p *Pipeline) resetVAD() {
	if p.vad == nil {
		return
	}
	p.audioMu.Lock()
	defer p.audioMu.Unlock()
	p.vad.Reset()
	p.framer.Reset()
}

func (p *Pipeline) send(ctx context.Context, msg control.ServerMessage) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := p.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("pipeline: send: %w", err)
	}
	return nil
}

// ── Results ───────────────────────────────────────────────────────────────────

// ── Provider choices ──────────────────────────────────────────────────────────

// switchSTT moves the connection to another STT backend. The old stream is
// closed, so transcription still in flight on it is lost.
func (p *Pipeline) switchSTT(ctx context.Context, name string) error {
	prov, err := lookup(p.catalog, name, ProviderCatalog.LookupSTT)
	if err != nil {
		return p.send(ctx, control.ConfigError(control.SettingSTTProvider, err.Error()))
	}
	sess, err := prov.StartStream(p.streamCtx, p.streamCfg)
	if err != nil {
		p.log.Warn("failed to start stt stream after switch", "provider", name, "err", err)
		return p.send(ctx, control.ConfigError(control.SettingSTTProvider,
			fmt.Sprintf("Provider '%s' failed to start", name)))
	}

	p.mu.Lock()
	if p.closed.Load() {
		p.mu.Unlock()
		_ = sess.Close()
		return ErrClosed
	}
	old := p.stt
	p.stt = sess
	p.sttNames = []string{name}
	p.mu.Unlock()

	// Run notices the swap once the old session's channels close.
	if err := old.Close(); err != nil {
		p.log.Debug("closing previous stt session", "err", err)
	}
	p.log.Info("stt provider switched", "provider", name)
	return p.send(ctx, control.ConfigUpdated(control.SettingSTTProvider, name))
}

func (p *Pipeline) switchLLM(ctx context.Context, name string) error {
	if p.formatter == nil {
		return p.send(ctx, control.ConfigError(control.SettingLLMProvider, "Formatting is not available"))
	}
	prov, err := lookup(p.catalog, name, ProviderCatalog.LookupLLM)
	if err != nil {
		return p.send(ctx, control.ConfigError(control.SettingLLMProvider, err.Error()))
	}
	p.mu.Lock()
	p.override.Provider, p.override.ProviderName = prov, name
	p.llmName = name
	p.mu.Unlock()
	p.log.Info("llm provider switched", "provider", name)
	return p.send(ctx, control.ConfigUpdated(control.SettingLLMProvider, name))
}

// lookup validates name and resolves it through c, which may be nil.
func lookup[T any](c ProviderCatalog, name string, find func(ProviderCatalog, string) (T, error)) (T, error) {
	var zero T
	if name == "" {
		return zero, errors.New("Provider value is required")
	}
	if c == nil {
		return zero, fmt.Errorf("Unknown provider: %s", name)
	}
	return find(c, name)
}

// setPromptSections replaces the client's prompt layout. Nil or empty
// sections restore the server's prompt.
func (p *Pipeline) setPromptSections(ctx context.Context, sections *control.PromptSections) error {
	if p.formatter == nil {
		return p.send(ctx, control.ConfigError(control.SettingPromptSections, "Formatting is not available"))
	}
	if sections.IsZero() {
		p.mu.Lock()
		p.override.Sections = nil
		p.mu.Unlock()
		p.log.Info("prompt sections reset to default")
		return p.send(ctx, control.ConfigUpdated(control.SettingPromptSections, "default"))
	}
	if err := sections.Validate(); err != nil {
		return p.send(ctx, control.ConfigError(control.SettingPromptSections, err.Error()))
	}
	s := format.Sections{
		Main:              sections.Main.CustomContent(),
		AdvancedEnabled:   sections.Advanced.IsEnabled(true),
		Advanced:          sections.Advanced.CustomContent(),
		DictionaryEnabled: sections.Dictionary.IsEnabled(false),
		Dictionary:        sections.Dictionary.CustomContent(),
	}
	p.mu.Lock()
	p.override.Sections = &s
	p.mu.Unlock()
	p.log.Info("prompt sections updated",
		"advanced", s.AdvancedEnabled, "dictionary", s.DictionaryEnabled)
	return p.send(ctx, control.ConfigUpdated(control.SettingPromptSections, "custom"))
}

// deliver completes queued results one at a time so clients see them in
// session order.
func (p *Pipeline) deliver() error {
	for r := range p.results {
		p.complete(r)
	}
	return nil
}

func (p *Pipeline) relayInterims() error {
	for text := range p.interims {
		if err := p.send(p.ctx, control.Interim(text)); err != nil {
			p.log.Debug("failed to deliver interim transcript", "err", err)
		}
	}
	return nil
}

func (p *Pipeline) complete(r turn.Result) {
	var msg control.ServerMessage
	switch r := r.(type) {
	case turn.Empty:
		p.log.Debug("recording produced no text", "generation", r.Generation, "reason", r.Reason)
		msg = control.RecordingEmpty()

	case turn.Consolidated:
		out := format.Output{Text: r.Text, RawText: r.Text}
		if p.formatter != nil {
			p.mu.Lock()
			o := p.override
			p.mu.Unlock()
			out = p.formatter.FormatWith(p.ctx, r.Text, o)
		}

		var id string
		if p.history != nil {
			e, err := p.history.Add(p.ctx, history.Entry{
				Timestamp: r.Timestamp,
				Text:      out.Text,
				RawText:   out.RawText,
				Language:  r.Language,
				SpeakerID: r.SpeakerID,
			})
			if err != nil {
				p.log.Warn("failed to store dictation", "generation", r.Generation, "err", err)
			} else {
				id = e.ID
			}
		}
		msg = control.RecordingComplete(id, out.Text, out.RawText, r.Language, r.SpeakerID)

	default:
		p.log.Error("unexpected turn result", "type", fmt.Sprintf("%T", r))
		return
	}

	if err := p.send(p.ctx, msg); err != nil {
		p.log.Warn("failed to deliver result", "generation", r.Session(), "err", err)
	}
}

// sink adapts the Pipeline to turn.Sink without widening its API.
type sink struct{ p *Pipeline }

func (s sink) Emit(r turn.Result) {
	s.p.results <- r
}

// Interim runs with the buffer's delivery lock held, so it only queues.
func (s sink) Interim(c turn.Chunk) {
	select {
	case s.p.interims <- c.Text:
	default:
		s.p.log.Debug("client behind, dropping interim transcript")
	}
}
