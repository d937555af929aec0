package app

import (
	"context"
	"log/slog"
	"sync"

	"github.com/MrWong99/dictaphone/internal/config"
	"github.com/MrWong99/dictaphone/internal/format"
	"github.com/MrWong99/dictaphone/internal/observe"
	"github.com/MrWong99/dictaphone/internal/pipeline"
	"github.com/MrWong99/dictaphone/internal/server"
	"github.com/MrWong99/dictaphone/pkg/audio"
	"github.com/MrWong99/dictaphone/pkg/provider/stt"
	"github.com/MrWong99/dictaphone/pkg/provider/vad"
)

// Defaults for the energy detector when the vad entry carries no options.
const (
	defaultSpeechThreshold  = 0.5
	defaultSilenceThreshold = 0.35
	defaultHangoverMs       = 300
)

// SessionManager opens one dictation pipeline per websocket connection. New
// pipelines start from the most recent configuration; pipelines that are
// already running are updated by the caller.
// All exported methods are safe for concurrent use.
type SessionManager struct {
	providers *Providers
	formatter *format.Formatter
	history   pipeline.HistoryStore
	log       *slog.Logger
	metrics   *observe.Metrics

	mu   sync.Mutex
	cfg  *config.Config
	open int
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Config    *config.Config
	Providers *Providers
	Formatter *format.Formatter

	// History may be nil to skip persistence.
	History pipeline.HistoryStore

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	sm := &SessionManager{
		cfg:       cfg.Config,
		providers: cfg.Providers,
		formatter: cfg.Formatter,
		history:   cfg.History,
		log:       cfg.Logger,
		metrics:   cfg.Metrics,
	}
	if sm.log == nil {
		sm.log = slog.Default()
	}
	if sm.metrics == nil {
		sm.metrics = observe.DefaultMetrics()
	}
	return sm
}

// SetConfig replaces the configuration used for new sessions.
func (sm *SessionManager) SetConfig(cfg *config.Config) {
	sm.mu.Lock()
	sm.cfg = cfg
	sm.mu.Unlock()
}

var _ pipeline.ProviderCatalog = (*Providers)(nil)

// Open implements [server.SessionFactory].
func (sm *SessionManager) Open(ctx context.Context, clientID string, sender pipeline.Sender) (server.Session, error) {
	sm.mu.Lock()
	cfg := sm.cfg
	sm.mu.Unlock()

	log := sm.log.With("client_id", clientID)
	p, err := pipeline.New(ctx, pipelineConfig(cfg, clientID, sm.providers), pipeline.Deps{
		STT:       sm.providers.STT,
		VAD:       sm.providers.VAD,
		Formatter: sm.formatter,
		Catalog:   sm.providers,
		History:   sm.history,
		Sender:    sender,
		Logger:    log,
		Metrics:   sm.metrics,
	})
	if err != nil {
		return nil, err
	}

	sm.mu.Lock()
	sm.open++
	n := sm.open
	sm.mu.Unlock()
	log.Debug("dictation session opened", "open_sessions", n)

	return &trackedSession{Pipeline: p, onClose: sm.closed}, nil
}

// OpenSessions returns the number of sessions opened and not yet closed.
func (sm *SessionManager) OpenSessions() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.open
}

func (sm *SessionManager) closed() {
	sm.mu.Lock()
	sm.open--
	sm.mu.Unlock()
}

// trackedSession decrements the open count exactly once.
type trackedSession struct {
	*pipeline.Pipeline
	once    sync.Once
	onClose func()
}

func (s *trackedSession) Close() error {
	err := s.Pipeline.Close()
	s.once.Do(s.onClose)
	return err
}

// pipelineConfig derives one connection's pipeline settings from cfg.
func pipelineConfig(cfg *config.Config, clientID string, ps *Providers) pipeline.Config {
	return pipeline.Config{
		ClientID: clientID,
		Audio: audio.Format{
			SampleRate: cfg.Audio.SampleRate,
			Channels:   cfg.Audio.Channels,
		},
		STT:                  streamConfig(cfg),
		VAD:                  vadConfig(cfg),
		TranscriptionTimeout: cfg.Turn.TranscriptionWaitTimeout,
		DrainQuietPeriod:     cfg.Turn.DrainQuietPeriod,
		STTProviders:         ps.STTNames,
		LLMProvider:          ps.LLMName,
	}
}

func streamConfig(cfg *config.Config) stt.StreamConfig {
	entry := cfg.Providers.STT
	sc := stt.StreamConfig{
		Language: entry.StringOption("language", ""),
		Diarize:  entry.BoolOption("diarize", false),
	}
	// The personal dictionary doubles as recognition hints.
	for _, word := range cfg.Format.Dictionary {
		sc.Keywords = append(sc.Keywords, stt.KeywordBoost{Keyword: word})
	}
	return sc
}

func vadConfig(cfg *config.Config) vad.Config {
	entry := cfg.Providers.VAD
	speech := entry.FloatOption("threshold", defaultSpeechThreshold)
	silence := entry.FloatOption("silence_threshold", min(defaultSilenceThreshold, speech))
	return vad.Config{
		SampleRate:       cfg.Audio.SampleRate,
		FrameSizeMs:      cfg.Audio.FrameSizeMs,
		SpeechThreshold:  speech,
		SilenceThreshold: silence,
		HangoverMs:       entry.IntOption("hangover_ms", defaultHangoverMs),
	}
}
