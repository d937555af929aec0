package turn

import (
	"time"
)

// Chunk is one transcription result delivered by STT. Final chunks are
// delta-encoded: each carries only the text recognised since the previous
// final, so concatenation in arrival order rebuilds the utterance.
type Chunk struct {
	Text      string
	SpeakerID string
	Language  string
	IsFinal   bool
}

// Reason explains why a terminal result was produced.
type Reason string

const (
	// ReasonNoSpeech: stop arrived while recording and VAD never heard speech.
	ReasonNoSpeech Reason = "no_speech"

	// ReasonIdleStop: stop arrived with no recording in progress.
	ReasonIdleStop Reason = "idle_stop"

	// ReasonWaitTimeout: VAD never reported end of speech after the stop.
	ReasonWaitTimeout Reason = "wait_timeout"

	// ReasonDrained: no transcription arrived for a full quiet period after
	// speech ended.
	ReasonDrained Reason = "drained"
)

// Result is the terminal outcome of a recording session: either
// [Consolidated] or [Empty]. Exactly one is emitted per session.
type Result interface {
	// Session returns the generation of the session that produced the result.
	Session() uint64

	result()
}

// Consolidated carries the full dictated text of one session.
type Consolidated struct {
	// Text is the concatenated final transcription, surrounding whitespace
	// trimmed. Never empty.
	Text string

	// SpeakerID is the last speaker reported by STT, "user" by default.
	SpeakerID string

	// Language is the last language tag reported by STT, empty if none.
	Language string

	// Timestamp is when the result was produced.
	Timestamp time.Time

	// Generation identifies the session.
	Generation uint64

	Reason Reason
}

// Empty reports that a session ended without usable text.
type Empty struct {
	Timestamp time.Time

	// Generation is 0 for ReasonIdleStop, which belongs to no session.
	Generation uint64

	Reason Reason
}

// Session implements [Result].
func (c Consolidated) Session() uint64 { return c.Generation }

// Session implements [Result].
func (e Empty) Session() uint64 { return e.Generation }

func (Consolidated) result() {}
func (Empty) result()        {}

// Sink receives the buffer's outbound events.
//
// Methods are invoked outside the buffer's state lock but serialised with
// respect to each other, in the order the buffer produced them. A Sink must
// not block for long and must not call back into the Buffer synchronously.
type Sink interface {
	// Emit delivers the terminal result of a session.
	Emit(Result)

	// Interim delivers a non-final chunk for live captioning. Interim text is
	// never part of a Result.
	Interim(Chunk)
}

// StateName is the exported name of a buffer state.
type StateName string

const (
	StateIdle                 StateName = "idle"
	StateRecording            StateName = "recording"
	StateWaitingForSpeechStop StateName = "waiting_for_speech_stop"
	StateDraining             StateName = "draining"
)

// Timer is the subset of *time.Timer the buffer needs.
type Timer interface {
	Stop() bool
}

// Clock abstracts time for the buffer's timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
