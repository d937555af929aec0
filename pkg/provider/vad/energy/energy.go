// Package energy provides a dependency-free VAD engine that classifies frames
// by their RMS energy.
//
// The RMS of each PCM16 frame is normalised to [0, 1] against full scale,
// multiplied by a gain and clamped, yielding a pseudo-probability that is
// compared against the session's speech and silence thresholds. A hangover
// keeps short pauses between words from ending a speech segment.
package energy

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/MrWong99/dictaphone/pkg/provider/vad"
)

const defaultGain = 10.0

// Option configures an Engine.
type Option func(*Engine)

// WithGain sets the multiplier applied to the normalised RMS before
// thresholding. Higher values make the detector more sensitive.
func WithGain(g float64) Option {
	return func(e *Engine) {
		e.gain = g
	}
}

// Engine implements vad.Engine.
type Engine struct {
	gain float64
}

// New returns an energy-based VAD engine.
func New(opts ...Option) *Engine {
	e := &Engine{gain: defaultGain}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	var errs []error
	if cfg.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate must be positive, got %d", cfg.SampleRate))
	}
	if cfg.FrameSizeMs <= 0 {
		errs = append(errs, fmt.Errorf("frame size must be positive, got %d ms", cfg.FrameSizeMs))
	}
	if cfg.SpeechThreshold <= 0 || cfg.SpeechThreshold > 1 {
		errs = append(errs, fmt.Errorf("speech threshold %.2f out of range (0, 1]", cfg.SpeechThreshold))
	}
	if cfg.SilenceThreshold < 0 || cfg.SilenceThreshold > cfg.SpeechThreshold {
		errs = append(errs, fmt.Errorf("silence threshold %.2f must be within [0, speech threshold]", cfg.SilenceThreshold))
	}
	if cfg.HangoverMs < 0 {
		errs = append(errs, fmt.Errorf("hangover must not be negative, got %d ms", cfg.HangoverMs))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("energy: %w", err)
	}
	return &session{
		cfg:        cfg,
		gain:       e.gain,
		frameBytes: cfg.FrameBytes(),
	}, nil
}

var _ vad.Engine = (*Engine)(nil)

type session struct {
	mu         sync.Mutex
	cfg        vad.Config
	gain       float64
	frameBytes int

	inSpeech bool
	silentMs int
	closed   bool
}

var errClosed = errors.New("energy: session closed")

// ProcessFrame implements vad.SessionHandle.
func (s *session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.VADEvent{}, errClosed
	}
	if len(frame) != s.frameBytes {
		return vad.VADEvent{}, fmt.Errorf("energy: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}

	p := math.Min(1, rms(frame)*s.gain)
	ev := vad.VADEvent{Probability: p}

	switch {
	case !s.inSpeech && p >= s.cfg.SpeechThreshold:
		s.inSpeech = true
		s.silentMs = 0
		ev.Type = vad.VADSpeechStart
	case !s.inSpeech:
		ev.Type = vad.VADSilence
	case p < s.cfg.SilenceThreshold:
		s.silentMs += s.cfg.FrameSizeMs
		if s.silentMs >= s.cfg.HangoverMs {
			s.inSpeech = false
			s.silentMs = 0
			ev.Type = vad.VADSpeechEnd
		} else {
			ev.Type = vad.VADSpeechContinue
		}
	default:
		s.silentMs = 0
		ev.Type = vad.VADSpeechContinue
	}
	return ev, nil
}

// Reset implements vad.SessionHandle.
func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inSpeech = false
	s.silentMs = 0
}

// Close implements vad.SessionHandle.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// rms returns the root-mean-square amplitude of little-endian PCM16 samples,
// normalised to [0, 1].
func rms(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[2*i:]))) / math.MaxInt16
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
