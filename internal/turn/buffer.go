// Package turn decides when a dictation utterance is complete.
//
// A [Buffer] follows one client's recording sessions through four states:
//
//	Idle ──start──▶ Recording ──stop (speech heard)──▶ WaitingForSpeechStop
//	                    │                                   │ speech stopped
//	                    └─stop (no speech)─▶ Idle           ▼
//	                                                    Draining
//
// Final transcription chunks are buffered from start to terminal result.
// After the user stops, the buffer keeps listening until VAD reports the end
// of speech (bounded by the transcription wait timeout) and then until STT
// has been quiet for a full quiet period, so late transcription is never
// lost. Every session ends in exactly one [Result].
//
// Timers run on their own goroutines. Each session carries a generation
// number and each drain arm a sequence number; a timer only acts if both
// still match when it fires, so cancellation races are harmless.
package turn

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/dictaphone/internal/observe"
)

const (
	// DefaultTranscriptionTimeout bounds how long the buffer waits for VAD to
	// report the end of speech after a stop.
	DefaultTranscriptionTimeout = 800 * time.Millisecond

	// DefaultSpeakerID is used until STT attributes a speaker.
	DefaultSpeakerID = "user"
)

// Option configures a Buffer.
type Option func(*Buffer)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *Buffer) { b.log = l }
}

// WithMetrics enables metric recording.
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Buffer) { b.metrics = m }
}

// WithClock replaces the wall clock. Used by tests.
func WithClock(c Clock) Option {
	return func(b *Buffer) { b.clock = c }
}

// WithTranscriptionTimeout sets the initial transcription wait timeout.
func WithTranscriptionTimeout(d time.Duration) Option {
	return func(b *Buffer) { b.timeout.Store(int64(d)) }
}

// WithDrainQuietPeriod sets a fixed drain quiet period. Zero (the default)
// reuses the transcription wait timeout.
func WithDrainQuietPeriod(d time.Duration) Option {
	return func(b *Buffer) { b.quiet.Store(int64(d)) }
}

// Buffer is the per-client turn-boundary state machine. All methods are safe
// for concurrent use and never block on I/O.
type Buffer struct {
	sink    Sink
	log     *slog.Logger
	metrics *observe.Metrics
	clock   Clock

	timeout atomic.Int64 // time.Duration
	quiet   atomic.Int64 // time.Duration, 0 = use timeout

	mu         sync.Mutex
	st         state
	generation uint64
	waitTimer  Timer
	drainTimer Timer
	drainSeq   uint64
	closed     bool

	// deliverMu is taken before mu is released whenever a transition
	// produces output, so sink calls keep production order.
	deliverMu sync.Mutex
}

// New returns an idle Buffer that reports to sink.
func New(sink Sink, opts ...Option) *Buffer {
	b := &Buffer{
		sink:  sink,
		log:   slog.Default(),
		clock: realClock{},
		st:    idle{},
	}
	b.timeout.Store(int64(DefaultTranscriptionTimeout))
	for _, o := range opts {
		o(b)
	}
	return b
}

// ── Public operations ─────────────────────────────────────────────────────────

// StartRecording begins a new session, discarding any session in progress.
func (b *Buffer) StartRecording() { b.handle(evStart{}) }

// StopRecording records the user's intent to end the session.
func (b *Buffer) StopRecording() { b.handle(evStop{}) }

// SpeechStarted reports a VAD speech onset.
func (b *Buffer) SpeechStarted() { b.handle(evSpeechStarted{}) }

// SpeechStopped reports a VAD end of speech.
func (b *Buffer) SpeechStopped() { b.handle(evSpeechStopped{}) }

// TranscriptionChunk delivers an STT result.
func (b *Buffer) TranscriptionChunk(c Chunk) { b.handle(evChunk{c}) }

// SetTranscriptionTimeout replaces the wait timeout used by future timer
// arms. Timers already armed keep their deadline. The value is not
// validated here.
func (b *Buffer) SetTranscriptionTimeout(d time.Duration) {
	b.timeout.Store(int64(d))
}

// SetTranscriptionTimeoutSeconds is SetTranscriptionTimeout for the control
// channel's float-seconds representation.
func (b *Buffer) SetTranscriptionTimeoutSeconds(s float64) {
	b.SetTranscriptionTimeout(time.Duration(s * float64(time.Second)))
}

// SetDrainQuietPeriod replaces the drain quiet period for future arms. Zero
// reuses the transcription wait timeout.
func (b *Buffer) SetDrainQuietPeriod(d time.Duration) {
	b.quiet.Store(int64(d))
}

// TranscriptionTimeout returns the current wait timeout.
func (b *Buffer) TranscriptionTimeout() time.Duration {
	return time.Duration(b.timeout.Load())
}

// DrainQuietPeriod returns the quiet period the next drain arm will use.
func (b *Buffer) DrainQuietPeriod() time.Duration {
	if q := time.Duration(b.quiet.Load()); q > 0 {
		return q
	}
	return b.TranscriptionTimeout()
}

// State returns the current state name.
func (b *Buffer) State() StateName {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st.name()
}

// Shutdown cancels both timers and turns every later call into a no-op. A
// session in progress is abandoned without a result. Once Shutdown returns
// the sink will not be called again. Safe to call more than once, but not
// from inside a Sink method.
func (b *Buffer) Shutdown() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.stopTimers()
	if _, ok := b.st.(idle); !ok {
		b.log.Debug("turn buffer shut down mid-session", "state", b.st.name(), "generation", b.generation)
		b.activeDelta(-1)
	}
	b.st = idle{}
	b.mu.Unlock()

	// Wait out a delivery that was handed off before closed was set.
	b.deliverMu.Lock()
	b.deliverMu.Unlock()
}

// ── Event dispatch ────────────────────────────────────────────────────────────

// output is what a transition hands to the sink.
type output struct {
	result  Result
	interim *Chunk
}

func (b *Buffer) handle(ev event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	out := b.transition(ev)
	if out.result == nil && out.interim == nil {
		b.mu.Unlock()
		return
	}
	b.deliverMu.Lock()
	b.mu.Unlock()
	defer b.deliverMu.Unlock()

	if out.interim != nil {
		b.sink.Interim(*out.interim)
	}
	if out.result != nil {
		b.sink.Emit(out.result)
	}
}

// transition applies ev to the current state. Callers hold b.mu.
func (b *Buffer) transition(ev event) output {
	switch ev := ev.(type) {
	case evStart:
		return b.onStart()
	case evStop:
		return b.onStop()
	case evSpeechStarted:
		return b.onSpeechStarted()
	case evSpeechStopped:
		return b.onSpeechStopped()
	case evChunk:
		return b.onChunk(ev.chunk)
	case evWaitExpired:
		return b.onWaitExpired(ev)
	case evDrainExpired:
		return b.onDrainExpired(ev)
	default:
		panic(fmt.Sprintf("turn: unhandled event %T", ev))
	}
}

func (b *Buffer) onStart() output {
	b.stopTimers()
	if _, ok := b.st.(idle); ok {
		b.activeDelta(1)
	} else {
		b.log.Info("recording restarted, discarding session in progress",
			"state", b.st.name(), "generation", b.generation)
	}
	b.generation++
	b.st = recording{s: &session{
		generation: b.generation,
		speakerID:  DefaultSpeakerID,
		startedAt:  b.clock.Now(),
	}}
	b.log.Debug("recording started", "generation", b.generation)
	return output{}
}

func (b *Buffer) onStop() output {
	switch st := b.st.(type) {
	case idle:
		b.log.Debug("stop while idle, reporting empty recording")
		return output{result: b.finish(0, nil, ReasonIdleStop, time.Time{})}
	case recording:
		now := b.clock.Now()
		if !st.speechDetected {
			b.log.Debug("stop without speech", "generation", st.s.generation)
			return output{result: b.finish(st.s.generation, nil, ReasonNoSpeech, time.Time{})}
		}
		st.s.stoppedAt = now
		b.armWait(st.s.generation)
		b.st = waiting{s: st.s}
		return output{}
	case waiting, draining:
		b.log.Warn("duplicate stop-recording ignored", "state", st.name(), "generation", b.generation)
		b.ignored("stop_recording")
		return output{}
	default:
		panic(fmt.Sprintf("turn: unhandled state %T", st))
	}
}

func (b *Buffer) onSpeechStarted() output {
	switch st := b.st.(type) {
	case recording:
		if !st.speechDetected {
			b.log.Debug("speech detected", "generation", st.s.generation)
		}
		st.speechDetected = true
		b.st = st
	case idle:
		b.log.Debug("speech started while idle")
		b.ignored("speech_started")
	default:
		b.ignored("speech_started")
	}
	return output{}
}

func (b *Buffer) onSpeechStopped() output {
	switch st := b.st.(type) {
	case waiting:
		b.cancelWait()
		b.armDrain(st.s.generation)
		b.st = draining{s: st.s}
	case idle:
		b.log.Debug("speech stopped while idle")
		b.ignored("speech_stopped")
	default:
		// Pauses during recording and repeats while draining change nothing.
		b.ignored("speech_stopped")
	}
	return output{}
}

func (b *Buffer) onChunk(c Chunk) output {
	if c.Text == "" {
		return output{}
	}
	if _, ok := b.st.(idle); ok {
		b.log.Debug("transcription while idle", "final", c.IsFinal)
		b.ignored("transcription")
		return output{}
	}
	if !c.IsFinal {
		return output{interim: &c}
	}

	switch st := b.st.(type) {
	case recording:
		st.s.append(c)
	case waiting:
		st.s.append(c)
	case draining:
		st.s.append(c)
		b.armDrain(st.s.generation)
	}
	return output{}
}

func (b *Buffer) onWaitExpired(ev evWaitExpired) output {
	st, ok := b.st.(waiting)
	if !ok || st.s.generation != ev.generation {
		b.stale("wait")
		return output{}
	}
	b.waitTimer = nil
	b.log.Debug("speech end not reported in time, emitting",
		"generation", ev.generation, "timeout", b.TranscriptionTimeout())
	return output{result: b.finish(st.s.generation, st.s, ReasonWaitTimeout, st.s.stoppedAt)}
}

func (b *Buffer) onDrainExpired(ev evDrainExpired) output {
	st, ok := b.st.(draining)
	if !ok || st.s.generation != ev.generation || ev.seq != b.drainSeq {
		b.stale("drain")
		return output{}
	}
	b.drainTimer = nil
	return output{result: b.finish(st.s.generation, st.s, ReasonDrained, st.s.stoppedAt)}
}

// ── Helpers (callers hold b.mu) ───────────────────────────────────────────────

// finish returns to Idle and builds the terminal result for session gen
// (0 when there was none). A nil s or whitespace-only text yields Empty.
func (b *Buffer) finish(gen uint64, s *session, reason Reason, stoppedAt time.Time) Result {
	b.stopTimers()
	wasActive := true
	if _, ok := b.st.(idle); ok {
		wasActive = false
	}
	b.st = idle{}
	if wasActive {
		b.activeDelta(-1)
	}

	now := b.clock.Now()
	finalize := time.Duration(-1)
	if !stoppedAt.IsZero() {
		finalize = now.Sub(stoppedAt)
	}

	var res Result
	text := ""
	if s != nil {
		text = strings.TrimSpace(s.text.String())
	}
	if text == "" {
		res = Empty{Timestamp: now, Generation: gen, Reason: reason}
		b.record("empty", reason, finalize)
	} else {
		res = Consolidated{
			Text:       text,
			SpeakerID:  s.speakerID,
			Language:   s.language,
			Timestamp:  now,
			Generation: gen,
			Reason:     reason,
		}
		b.record("consolidated", reason, finalize)
	}
	b.log.Info("turn complete",
		"generation", gen,
		"reason", reason,
		"chars", len(text),
		"finalize", max(finalize, 0),
	)
	return res
}

func (b *Buffer) armWait(gen uint64) {
	d := b.TranscriptionTimeout()
	b.waitTimer = b.clock.AfterFunc(d, func() {
		b.handle(evWaitExpired{generation: gen})
	})
}

func (b *Buffer) cancelWait() {
	if b.waitTimer != nil {
		b.waitTimer.Stop()
		b.waitTimer = nil
	}
}

// armDrain (re)starts the quiet-period clock. Each arm gets a fresh sequence
// number so a fire from an earlier arm is recognisably stale.
func (b *Buffer) armDrain(gen uint64) {
	if b.drainTimer != nil {
		b.drainTimer.Stop()
	}
	b.drainSeq++
	seq := b.drainSeq
	b.drainTimer = b.clock.AfterFunc(b.DrainQuietPeriod(), func() {
		b.handle(evDrainExpired{generation: gen, seq: seq})
	})
}

func (b *Buffer) stopTimers() {
	b.cancelWait()
	if b.drainTimer != nil {
		b.drainTimer.Stop()
		b.drainTimer = nil
	}
}

func (b *Buffer) ignored(event string) {
	if b.metrics != nil {
		b.metrics.RecordIgnoredEvent(context.Background(), event, string(b.st.name()))
	}
}

func (b *Buffer) stale(timer string) {
	if b.metrics != nil {
		b.metrics.RecordStaleTimer(context.Background(), timer)
	}
}

func (b *Buffer) record(kind string, reason Reason, finalize time.Duration) {
	if b.metrics != nil {
		b.metrics.RecordTurnResult(context.Background(), kind, string(reason), finalize)
	}
}

func (b *Buffer) activeDelta(n int64) {
	if b.metrics != nil {
		b.metrics.ActiveRecordings.Add(context.Background(), n)
	}
}
