// Package app wires all dictaphone subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and watches the config file, and Shutdown
// tears everything down in order.
//
// For testing, inject collaborators via functional options (WithLogger,
// WithMetrics, etc.). When an option is not provided, New uses defaults
// derived from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/dictaphone/internal/config"
	"github.com/MrWong99/dictaphone/internal/format"
	"github.com/MrWong99/dictaphone/internal/health"
	"github.com/MrWong99/dictaphone/internal/history"
	"github.com/MrWong99/dictaphone/internal/observe"
	"github.com/MrWong99/dictaphone/internal/server"
)

// drainTimeout bounds how long Run waits for connections to close once its
// context is cancelled.
const drainTimeout = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	providers  *Providers
	log        *slog.Logger
	level      *slog.LevelVar
	metrics    *observe.Metrics
	version    string
	configPath string

	// Subsystems, initialised in New and torn down in Shutdown.
	history    *history.Store
	formatter  *format.Formatter
	health     *health.Handler
	sessions   *SessionManager
	server     *server.Server
	httpServer *http.Server

	mu      sync.Mutex
	cfg     *config.Config
	watcher *config.Watcher

	// closers are called in order during Shutdown.
	closers []func() error

	drainOnce sync.Once
	drainErr  error
	stopOnce  sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithLogger sets the application logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLevelVar lets config reloads change the level of the logger given to
// WithLogger.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithVersion sets the version reported by /healthz.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// WithConfigPath enables hot reload of the given config file during Run.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers come
// from [BuildProviders] or, in tests, from mocks.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.STT == nil {
		return nil, errors.New("app: an stt provider is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. History ────────────────────────────────────────────────────────
	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}

	// ── 2. Formatter ──────────────────────────────────────────────────────
	a.formatter = format.New(providers.LLM, formatConfig(cfg.Format),
		format.WithLogger(a.log),
		format.WithMetrics(a.metrics),
		format.WithProviderName(providers.LLMName),
	)

	// ── 3. Sessions ───────────────────────────────────────────────────────
	smCfg := SessionManagerConfig{
		Config:    cfg,
		Providers: providers,
		Formatter: a.formatter,
		Logger:    a.log,
		Metrics:   a.metrics,
	}
	if a.history != nil {
		smCfg.History = a.history
	}
	a.sessions = NewSessionManager(smCfg)

	// ── 4. HTTP ───────────────────────────────────────────────────────────
	a.initServer()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initHistory opens the dictation history. An empty path disables it.
func (a *App) initHistory(ctx context.Context) error {
	path := a.cfg.History.Path
	if path == "" {
		a.log.Info("dictation history disabled")
		return nil
	}
	store, err := history.Open(ctx, path,
		history.WithMaxEntries(a.cfg.History.MaxEntries),
		history.WithLogger(a.log),
	)
	if err != nil {
		return err
	}
	a.history = store
	a.closers = append(a.closers, store.Close)
	return nil
}

// initServer builds the health checks, the router and the HTTP server.
func (a *App) initServer() {
	checkers := []health.Checker{
		health.ConfiguredChecker("stt", "no stt provider configured", func() bool { return a.providers.STT != nil }),
	}
	if a.history != nil {
		checkers = append(checkers, health.PingChecker("history", a.history))
	}
	a.health = health.New(checkers,
		health.WithVersion(a.version),
		health.WithConnections(func() int64 { return a.server.ClientCount() }),
	)

	srvCfg := server.Config{
		NewSession:     a.sessions.Open,
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
		Health:         a.health,
		Providers:      a.providers,
		Metrics:        a.metrics,
		Logger:         a.log,
	}
	if a.history != nil {
		srvCfg.History = a.history
	}
	a.server = server.New(srvCfg)

	// Websocket connections are long-lived, so only the header read is
	// bounded.
	a.httpServer = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(a.log.Handler(), slog.LevelWarn),
	}
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Config returns the active configuration.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on the configured address and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Config().Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener. When ctx is done it drains client
// connections, stops the HTTP server and returns ctx.Err(). The listener is
// closed on return.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	tls := a.Config().Server.TLS
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tls != nil {
			err = a.httpServer.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpServer.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), drainTimeout)
		defer cancel()
		return a.drain(drainCtx)
	})

	if a.configPath != "" {
		g.Go(func() error {
			w, err := config.NewWatcher(a.configPath, a.ApplyConfig, config.WithWatcherLogger(a.log))
			if err != nil {
				// The server keeps running on the config it started with.
				a.log.Warn("config hot reload disabled", "path", a.configPath, "err", err)
				return nil
			}
			a.mu.Lock()
			a.watcher = w
			a.mu.Unlock()
			<-gctx.Done()
			w.Stop()
			return nil
		})
	}

	a.log.Info("listening", "addr", ln.Addr().String(), "tls", tls != nil)
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Reload re-reads the config file immediately. It reports whether a new
// configuration was applied.
func (a *App) Reload() bool {
	a.mu.Lock()
	w := a.watcher
	a.mu.Unlock()
	if w == nil {
		return false
	}
	return w.Reload()
}

// ApplyConfig applies the hot-reloadable parts of a changed configuration.
// Sections that are only read at startup keep their old values until the
// process restarts.
func (a *App) ApplyConfig(_, next *config.Config) {
	a.mu.Lock()
	cur := a.cfg
	d := config.Diff(cur, next)
	merged := *cur
	merged.Server.LogLevel = next.Server.LogLevel
	merged.Turn = next.Turn
	merged.Format = next.Format
	a.cfg = &merged
	a.mu.Unlock()

	if len(d.RestartRequired) > 0 {
		a.log.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
	if !d.Changed() {
		return
	}
	a.sessions.SetConfig(&merged)

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.SlogLevel())
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.FormatChanged {
		a.formatter.SetConfig(formatConfig(d.NewFormat))
		a.log.Info("formatter config updated", "enabled", d.NewFormat.IsEnabled())
	}
	if d.TurnChanged {
		live := a.server.Sessions()
		for _, s := range live {
			s.SetTurnConfig(d.NewTurn.TranscriptionWaitTimeout, d.NewTurn.DrainQuietPeriod)
		}
		a.log.Info("turn config updated",
			"transcription_wait_timeout", d.NewTurn.TranscriptionWaitTimeout,
			"drain_quiet_period", d.NewTurn.DrainQuietPeriod,
			"sessions", len(live),
		)
	}
}

// drain stops accepting work: readiness fails, clients are disconnected and
// the HTTP server shuts down. Only the first call has an effect.
func (a *App) drain(ctx context.Context) error {
	a.drainOnce.Do(func() {
		a.health.SetDraining(true)
		var errs []error
		if err := a.server.CloseAll(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close connections: %w", err))
		}
		if err := a.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		a.drainErr = errors.Join(errs...)
	})
	return a.drainErr
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems. It respects the context deadline: if
// ctx expires before all closers finish, remaining closers are skipped and
// the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		if err := a.drain(ctx); err != nil {
			a.log.Warn("drain error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// formatConfig converts config.FormatConfig to format.Config.
func formatConfig(fc config.FormatConfig) format.Config {
	return format.Config{
		Enabled:              fc.IsEnabled(),
		SystemPrompt:         fc.SystemPrompt,
		DisableAdvanced:      fc.DisableAdvanced,
		Dictionary:           fc.Dictionary,
		Temperature:          fc.Temperature,
		MaxTokens:            fc.MaxTokens,
		Timeout:              fc.Timeout,
		DictionaryCorrection: fc.DictionaryCorrection,
	}
}
