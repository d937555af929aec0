// Package server exposes the dictation service over HTTP.
//
// Routes:
//
//	GET    /ws?client_id=     websocket: binary frames are PCM audio, text frames are control JSON
//	GET    /api/history       recent dictations, newest first (?limit=&offset=)
//	GET    /api/history/{id}  one dictation
//	DELETE /api/history/{id}  remove one dictation
//	DELETE /api/history       remove all dictations
//	GET    /api/prompt/sections/default  built-in prompt section text
//	GET    /api/providers     backends clients may switch to
//	GET    /healthz, /readyz  probes
//	GET    /metrics           Prometheus scrape endpoint
//
// Each websocket connection gets its own [Session]. A client that
// reconnects with the same client_id replaces its previous connection.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/dictaphone/internal/control"
	"github.com/MrWong99/dictaphone/internal/health"
	"github.com/MrWong99/dictaphone/internal/observe"
	"github.com/MrWong99/dictaphone/internal/pipeline"
	"github.com/MrWong99/dictaphone/pkg/provider/stt"
)

// readLimit caps a single websocket message. One second of 48 kHz stereo
// PCM16 is 192 KiB.
const readLimit = 1 << 20

// errClientGone ends a connection's goroutines once the read side stops.
var errClientGone = errors.New("server: client disconnected")

// Session is the per-connection dictation pipeline. *pipeline.Pipeline
// implements it.
type Session interface {
	HandleAudio(chunk []byte) error
	HandleCommand(ctx context.Context, cmd control.Command) error
	Run(ctx context.Context) error
	SetTurnConfig(timeout, quiet time.Duration)
	Close() error
}

// SessionFactory opens a Session for a newly connected client. Messages for
// the client go through sender.
type SessionFactory func(ctx context.Context, clientID string, sender pipeline.Sender) (Session, error)

// Config holds the server's collaborators.
type Config struct {
	// NewSession is required.
	NewSession SessionFactory

	// AllowedOrigins are host patterns accepted for browser upgrades. "*"
	// disables the origin check.
	AllowedOrigins []string

	// History may be nil, in which case the history API answers 503.
	History HistoryStore

	// Health may be nil to skip the probe routes.
	Health *health.Handler

	// Providers may be nil, in which case /api/providers lists nothing.
	Providers ProviderLister

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// Server routes HTTP requests and tracks live connections.
type Server struct {
	cfg     Config
	log     *slog.Logger
	metrics *observe.Metrics
	handler http.Handler

	mu      sync.Mutex
	clients map[string]*client
	closing bool
	active  sync.WaitGroup
	count   atomic.Int64
}

// New builds the server and its routes.
func New(cfg Config) *Server {
	s := &Server{
		cfg:     cfg,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
		clients: make(map[string]*client),
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	s.registerHistory(mux)
	s.registerConfig(mux)
	if cfg.Health != nil {
		cfg.Health.Register(mux)
	}
	mux.Handle("GET /metrics", observe.MetricsHandler())

	s.handler = observe.Middleware(s.metrics)(mux)
	return s
}

// Handler returns the root handler, wrapped in the observability middleware.
func (s *Server) Handler() http.Handler { return s.handler }

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int64 { return s.count.Load() }

// Sessions returns a snapshot of the live sessions.
func (s *Server) Sessions() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Session, 0, len(s.clients))
	for _, c := range s.clients {
		if c.session != nil {
			out = append(out, c.session)
		}
	}
	return out
}

// CloseAll disconnects every client and waits for their sessions to finish,
// or for ctx to expire. New connections are refused afterwards.
func (s *Server) CloseAll(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	for _, c := range s.clients {
		c.stop(websocket.StatusGoingAway, "server shutting down")
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ── Websocket ─────────────────────────────────────────────────────────────────

func (s *Server) acceptOptions() *websocket.AcceptOptions {
	if slices.Contains(s.cfg.AllowedOrigins, "*") {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	return &websocket.AcceptOptions{OriginPatterns: s.cfg.AllowedOrigins}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}
	log := observe.LoggerFrom(r.Context(), s.log).With("client_id", clientID)

	conn, err := websocket.Accept(w, r, s.acceptOptions())
	if err != nil {
		// Accept has already written the HTTP error.
		log.Warn("websocket upgrade rejected", "err", err)
		return
	}
	conn.SetReadLimit(readLimit)

	ctx := r.Context()
	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c := &client{id: clientID, conn: conn, cancel: cancel, log: log}

	if !s.register(c) {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer s.unregister(c)

	s.count.Add(1)
	s.metrics.ActiveConnections.Add(ctx, 1)
	defer func() {
		s.count.Add(-1)
		s.metrics.ActiveConnections.Add(context.WithoutCancel(ctx), -1)
	}()

	log.Info("client connected", "remote", r.RemoteAddr)
	status, reason := s.serve(ctx, sessCtx, c)
	if _, _, stopped := c.stopped(); !stopped {
		conn.Close(status, reason)
	}
	log.Info("client disconnected", "status", status.String(), "reason", reason)
}

// serve runs one connection until either side ends it, and returns the
// close status that ended it.
//
// Reads use the request context: cancelling a pending read makes the
// websocket library close the connection itself, so ending a connection
// from this side always goes through client.stop.
func (s *Server) serve(ctx, sessCtx context.Context, c *client) (websocket.StatusCode, string) {
	sess, err := s.cfg.NewSession(sessCtx, c.id, c)
	if err != nil {
		c.log.Error("failed to start dictation session", "err", err)
		_ = c.Send(ctx, control.Error("failed to start transcription"))
		return websocket.StatusInternalError, "session unavailable"
	}
	s.mu.Lock()
	c.session = sess
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(sessCtx)
	g.Go(func() error {
		err := sess.Run(gctx)
		switch {
		case errors.Is(err, pipeline.ErrSTTEnded):
			c.log.Error("transcription stream ended unexpectedly")
			_ = c.Send(ctx, control.Error("transcription service disconnected"))
			c.stop(websocket.StatusInternalError, "transcription ended")
		case err != nil && gctx.Err() == nil:
			c.log.Error("dictation session failed", "err", err)
			c.stop(websocket.StatusInternalError, "internal error")
		}
		return err
	})
	g.Go(func() error {
		defer c.cancel()
		return c.readLoop(ctx, sess)
	})
	err = g.Wait()

	// Results still being formatted are stored in history even when they can
	// no longer be delivered.
	if cerr := sess.Close(); cerr != nil {
		c.log.Warn("session close error", "err", cerr)
	}

	if st, reason, ok := c.stopped(); ok {
		return st, reason
	}
	if errors.Is(err, errClientGone) {
		return websocket.StatusNormalClosure, ""
	}
	c.log.Debug("connection ended", "err", err)
	return websocket.StatusInternalError, "internal error"
}

// register adds c, replacing an older connection with the same id. It
// returns false once the server is closing.
func (s *Server) register(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	if old, ok := s.clients[c.id]; ok {
		old.log.Info("replacing connection for reconnecting client")
		old.stop(websocket.StatusNormalClosure, "replaced by a newer connection")
	}
	s.clients[c.id] = c
	s.active.Add(1)
	return true
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	if s.clients[c.id] == c {
		delete(s.clients, c.id)
	}
	s.mu.Unlock()
	s.active.Done()
}

// ── client ────────────────────────────────────────────────────────────────────

// client is one websocket connection. It implements pipeline.Sender.
type client struct {
	id      string
	conn    *websocket.Conn
	cancel  context.CancelFunc
	log     *slog.Logger
	session Session // guarded by Server.mu

	stopMu     sync.Mutex
	stopStatus websocket.StatusCode
	stopReason string
	isStopped  bool
}

// Send writes msg as one JSON text frame. Safe for concurrent use.
func (c *client) Send(ctx context.Context, msg control.ServerMessage) error {
	return wsjson.Write(ctx, c.conn, msg)
}

// stop ends the connection with the given close status. Only the first
// call has an effect. It does not wait for the close handshake.
func (c *client) stop(status websocket.StatusCode, reason string) {
	c.stopMu.Lock()
	defer c.stopMu.Unlock()
	if c.isStopped {
		return
	}
	c.isStopped = true
	c.stopStatus, c.stopReason = status, reason
	c.cancel()
	go c.conn.Close(status, reason)
}

func (c *client) stopped() (websocket.StatusCode, string, bool) {
	c.stopMu.Lock()
	defer c.stopMu.Unlock()
	return c.stopStatus, c.stopReason, c.isStopped
}

func (c *client) readLoop(ctx context.Context, sess Session) error {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				return errClientGone
			}
			return err
		}

		switch typ {
		case websocket.MessageBinary:
			if err := sess.HandleAudio(data); err != nil {
				if errors.Is(err, pipeline.ErrClosed) || errors.Is(err, stt.ErrSessionClosed) {
					return err
				}
				c.log.Warn("dropping audio", "err", err)
			}

		case websocket.MessageText:
			cmd, err := control.Decode(data)
			if err != nil {
				c.log.Debug("bad control message", "err", err)
				if err := c.Send(ctx, control.Error(err.Error())); err != nil {
					return err
				}
				continue
			}
			if err := sess.HandleCommand(ctx, cmd); err != nil {
				if errors.Is(err, pipeline.ErrClosed) {
					return err
				}
				c.log.Warn("control command failed", "type", cmd.Type, "err", err)
			}
		}
	}
}
