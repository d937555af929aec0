// Package stt defines the Provider interface for streaming Speech-to-Text
// backends.
//
// A provider wraps a real-time transcription service and exposes one
// SessionHandle per dictation connection. Once opened, a session accepts raw
// PCM audio and emits two streams of Transcript values: interim partials used
// for live captions, and final, delta-encoded results that the turn buffer
// concatenates into a dictation.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrSessionClosed is returned by SendAudio after Close.
var ErrSessionClosed = errors.New("stt: session is closed")

// StreamConfig describes the audio format and recognition hints for a new
// STT session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz (16000 for dictation clients).
	SampleRate int

	// Channels is the number of interleaved audio channels.
	Channels int

	// Language is the BCP-47 language tag for recognition. Empty lets the
	// provider auto-detect when supported.
	Language string

	// Keywords are vocabulary hints, typically the user's personal dictionary.
	Keywords []KeywordBoost

	// Diarize asks the provider to attribute words to speakers.
	Diarize bool
}

// SessionHandle represents an open STT streaming session.
//
// Callers must call Close when the session is no longer needed. All methods
// must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of PCM16LE audio. Calling SendAudio after Close
	// returns ErrSessionClosed.
	SendAudio(chunk []byte) error

	// Partials emits interim transcripts. Closed when the session ends.
	Partials() <-chan Transcript

	// Finals emits committed transcripts, each carrying only the text recognised
	// since the previous final, including any separating space, so that
	// concatenating finals in order rebuilds the utterance. Closed when the
	// session ends.
	Finals() <-chan Transcript

	// Close flushes pending audio and releases all resources. After Close
	// returns, Partials and Finals are closed. Safe to call more than once.
	Close() error
}

// Provider is the abstraction over any streaming STT backend.
type Provider interface {
	// StartStream opens a new streaming transcription session. The caller owns
	// the returned SessionHandle.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
