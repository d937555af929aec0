package turn

import (
	"strings"
	"time"
)

// session is the data owned by one recording, from start to terminal result.
type session struct {
	generation uint64
	text       strings.Builder
	speakerID  string
	language   string
	startedAt  time.Time
	stoppedAt  time.Time
}

func (s *session) append(c Chunk) {
	s.text.WriteString(c.Text)
	if c.SpeakerID != "" {
		s.speakerID = c.SpeakerID
	}
	if c.Language != "" {
		s.language = c.Language
	}
}

// state is the sealed set of buffer states.
type state interface {
	name() StateName
}

type idle struct{}

type recording struct {
	s              *session
	speechDetected bool
}

type waiting struct{ s *session }

type draining struct{ s *session }

func (idle) name() StateName      { return StateIdle }
func (recording) name() StateName { return StateRecording }
func (waiting) name() StateName   { return StateWaitingForSpeechStop }
func (draining) name() StateName  { return StateDraining }

// event is the sealed set of inputs the buffer reacts to.
type event interface{ isEvent() }

type (
	evStart         struct{}
	evStop          struct{}
	evSpeechStarted struct{}
	evSpeechStopped struct{}
	evChunk         struct{ chunk Chunk }
	evWaitExpired   struct{ generation uint64 }
	evDrainExpired  struct {
		generation uint64
		seq        uint64
	}
)

func (evStart) isEvent()         {}
func (evStop) isEvent()          {}
func (evSpeechStarted) isEvent() {}
func (evSpeechStopped) isEvent() {}
func (evChunk) isEvent()         {}
func (evWaitExpired) isEvent()   {}
func (evDrainExpired) isEvent()  {}
