// Package vad defines the Engine interface for Voice Activity Detection
// backends.
//
// A VAD engine turns fixed-size PCM frames into speech/silence decisions with
// per-stream state (smoothing, hangover). The dictation pipeline only reacts
// to the edges: SpeechStart and SpeechEnd become the turn buffer's
// speech-started and speech-stopped signals.
//
// ProcessFrame is synchronous and must not block. Engines are safe for
// concurrent NewSession calls; a single SessionHandle is not shared between
// goroutines.
package vad

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz of the frames passed to
	// ProcessFrame.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds.
	// ProcessFrame rejects frames of any other size.
	FrameSizeMs int

	// SpeechThreshold is the probability above which a frame counts as speech.
	// Range: [0.0, 1.0].
	SpeechThreshold float64

	// SilenceThreshold is the probability below which a frame counts as
	// silence. Must be <= SpeechThreshold.
	SilenceThreshold float64

	// HangoverMs is how long silence must persist before SpeechEnd is
	// reported. Zero ends speech on the first silent frame.
	HangoverMs int
}

// FrameBytes returns the size in bytes of one mono PCM16 frame for cfg.
func (c Config) FrameBytes() int {
	return c.SampleRate * c.FrameSizeMs / 1000 * 2
}

// SessionHandle represents an active VAD session for a single audio stream.
type SessionHandle interface {
	// ProcessFrame analyses one frame of little-endian PCM16 mono audio.
	ProcessFrame(frame []byte) (VADEvent, error)

	// Reset clears accumulated detection state without closing the session.
	Reset()

	// Close releases all resources. Safe to call more than once.
	Close() error
}

// Engine is the factory for VAD sessions.
type Engine interface {
	// NewSession creates a new VAD session. Returns an error if cfg is invalid.
	NewSession(cfg Config) (SessionHandle, error)
}
