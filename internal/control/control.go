// Package control implements the JSON control channel spoken over the
// dictation websocket.
//
// Clients send commands either wrapped in an RTVI client-message envelope
//
//	{"type":"client-message","data":{"t":"set-stt-timeout","d":{"timeout_seconds":1.2}}}
//
// or flat
//
//	{"type":"set-stt-timeout","timeout_seconds":1.2}
//
// The server replies with RTVI server-message envelopes built by the
// constructors in this package.
package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownMessage is returned by Decode for well-formed messages of a type
// this server does not handle.
var ErrUnknownMessage = errors.New("control: unknown message type")

// Type names a client command.
type Type string

const (
	TypeStartRecording        Type = "start-recording"
	TypeStopRecording         Type = "stop-recording"
	TypeSetSTTTimeout         Type = "set-stt-timeout"
	TypeGetConfig             Type = "get-config"
	TypeSetSTTProvider        Type = "set-stt-provider"
	TypeSetLLMProvider        Type = "set-llm-provider"
	TypeGetAvailableProviders Type = "get-available-providers"
	TypeSetPromptSections     Type = "set-prompt-sections"
)

const envelopeClientMessage = "client-message"

// Bounds accepted for set-stt-timeout, in seconds.
const (
	MinTimeoutSeconds = 0.1
	MaxTimeoutSeconds = 10.0
)

// Command is a decoded client command.
type Command struct {
	Type Type

	// TimeoutSeconds is set for TypeSetSTTTimeout when the client supplied a
	// value. It is not validated by Decode; see ValidateTimeout.
	TimeoutSeconds *float64

	// Provider names the backend for TypeSetSTTProvider and
	// TypeSetLLMProvider. Empty when the client sent none.
	Provider string

	// Sections is the prompt layout for TypeSetPromptSections. Nil resets
	// the client to the server's prompt.
	Sections *PromptSections
}

// PromptSections is a client's formatting prompt layout. Each section is
// optional.
type PromptSections struct {
	Main       *PromptSection `json:"main,omitempty"`
	Advanced   *PromptSection `json:"advanced,omitempty"`
	Dictionary *PromptSection `json:"dictionary,omitempty"`
}

// Section modes. In auto mode the server's text is used and Content is
// ignored.
const (
	ModeAuto   = "auto"
	ModeManual = "manual"
)

// PromptSection toggles one prompt section and optionally replaces its text.
type PromptSection struct {
	Enabled *bool  `json:"enabled,omitempty"`
	Mode    string `json:"mode,omitempty"`
	Content string `json:"content,omitempty"`
}

// IsEnabled returns Enabled, or def when the client left it out.
func (s *PromptSection) IsEnabled(def bool) bool {
	if s == nil || s.Enabled == nil {
		return def
	}
	return *s.Enabled
}

// CustomContent returns the client's text, or "" to use the server's.
func (s *PromptSection) CustomContent() string {
	if s == nil || s.Mode == ModeAuto {
		return ""
	}
	return s.Content
}

// IsZero reports whether no section was given.
func (p *PromptSections) IsZero() bool {
	return p == nil || (p.Main == nil && p.Advanced == nil && p.Dictionary == nil)
}

// Validate checks section modes. The returned error text is meant for the
// client.
func (p *PromptSections) Validate() error {
	if p == nil {
		return nil
	}
	for _, sec := range []struct {
		name string
		s    *PromptSection
	}{{"main", p.Main}, {"advanced", p.Advanced}, {"dictionary", p.Dictionary}} {
		if sec.s == nil {
			continue
		}
		switch sec.s.Mode {
		case "", ModeAuto:
		case ModeManual:
			if strings.TrimSpace(sec.s.Content) == "" {
				return fmt.Errorf("Section %q needs content in manual mode", sec.name)
			}
		default:
			return fmt.Errorf("Section %q has unknown mode %q", sec.name, sec.s.Mode)
		}
	}
	return nil
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type clientMessage struct {
	T string          `json:"t"`
	D json.RawMessage `json:"d"`
}

type payload struct {
	TimeoutSeconds *float64        `json:"timeout_seconds"`
	Provider       string          `json:"provider"`
	Sections       *PromptSections `json:"sections"`
}

// Decode parses one text frame from the client.
func Decode(data []byte) (Command, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Command{}, fmt.Errorf("control: decode: %w", err)
	}

	typ, body := env.Type, json.RawMessage(data)
	if env.Type == envelopeClientMessage {
		var cm clientMessage
		if len(env.Data) == 0 {
			return Command{}, fmt.Errorf("control: decode: client-message without data")
		}
		if err := json.Unmarshal(env.Data, &cm); err != nil {
			return Command{}, fmt.Errorf("control: decode client-message: %w", err)
		}
		typ, body = cm.T, cm.D
	} else if len(env.Data) > 0 && string(env.Data) != "null" {
		body = env.Data
	}

	cmd := Command{Type: Type(typ)}
	switch cmd.Type {
	case TypeStartRecording, TypeStopRecording, TypeGetConfig, TypeGetAvailableProviders:
		return cmd, nil
	case TypeSetSTTTimeout, TypeSetSTTProvider, TypeSetLLMProvider, TypeSetPromptSections:
		var p payload
		if len(body) > 0 && string(body) != "null" {
			if err := json.Unmarshal(body, &p); err != nil {
				return Command{}, fmt.Errorf("control: decode %s: %w", cmd.Type, err)
			}
		}
		cmd.TimeoutSeconds = p.TimeoutSeconds
		cmd.Provider = p.Provider
		cmd.Sections = p.Sections
		return cmd, nil
	case "":
		return Command{}, fmt.Errorf("control: decode: missing message type")
	default:
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownMessage, typ)
	}
}

// ValidateTimeout checks a set-stt-timeout value. The returned error text is
// meant for the client.
func ValidateTimeout(seconds *float64) error {
	if seconds == nil {
		return errors.New("Timeout value is required")
	}
	if *seconds < MinTimeoutSeconds || *seconds > MaxTimeoutSeconds {
		return fmt.Errorf("Timeout must be between %g and %g seconds", MinTimeoutSeconds, MaxTimeoutSeconds)
	}
	return nil
}
