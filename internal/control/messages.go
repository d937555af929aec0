package control

// rtviLabel tags every server message for RTVI clients.
const rtviLabel = "rtvi-ai"

// Setting names reported in config-updated / config-error.
const (
	SettingSTTTimeout     = "stt-timeout"
	SettingSTTProvider    = "stt-provider"
	SettingLLMProvider    = "llm-provider"
	SettingPromptSections = "prompt-sections"
)

// ServerMessage is the envelope for everything the server pushes to a
// client. It is encoded as JSON.
type ServerMessage struct {
	Label string `json:"label"`
	Type  string `json:"type"`
	Data  any    `json:"data"`
}

func serverMessage(data any) ServerMessage {
	return ServerMessage{Label: rtviLabel, Type: "server-message", Data: data}
}

// RecordingCompleteData reports the outcome of one recording.
type RecordingCompleteData struct {
	Type       string `json:"type"`
	HasContent bool   `json:"hasContent"`
	Text       string `json:"text,omitempty"`
	RawText    string `json:"rawText,omitempty"`
	Language   string `json:"language,omitempty"`
	SpeakerID  string `json:"speakerId,omitempty"`
	ID         string `json:"id,omitempty"`
}

// RecordingComplete reports formatted text together with the raw
// transcription it came from. id is the history entry, if one was stored.
func RecordingComplete(id, text, rawText, language, speakerID string) ServerMessage {
	return serverMessage(RecordingCompleteData{
		Type:       "recording-complete",
		HasContent: text != "",
		Text:       text,
		RawText:    rawText,
		Language:   language,
		SpeakerID:  speakerID,
		ID:         id,
	})
}

// RecordingEmpty reports a recording that produced no text.
func RecordingEmpty() ServerMessage {
	return serverMessage(RecordingCompleteData{Type: "recording-complete"})
}

// InterimData carries a live caption.
type InterimData struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Interim builds a live-caption message.
func Interim(text string) ServerMessage {
	return serverMessage(InterimData{Type: "interim-transcript", Text: text})
}

// ConfigUpdatedData acknowledges a configuration change.
type ConfigUpdatedData struct {
	Type    string `json:"type"`
	Setting string `json:"setting"`
	Value   any    `json:"value"`
	Success bool   `json:"success"`
}

// ConfigUpdated acknowledges a successful configuration change.
func ConfigUpdated(setting string, value any) ServerMessage {
	return serverMessage(ConfigUpdatedData{Type: "config-updated", Setting: setting, Value: value, Success: true})
}

// ConfigErrorData rejects a configuration change.
type ConfigErrorData struct {
	Type    string `json:"type"`
	Setting string `json:"setting"`
	Error   string `json:"error"`
}

// ConfigError rejects a configuration change.
func ConfigError(setting, msg string) ServerMessage {
	return serverMessage(ConfigErrorData{Type: "config-error", Setting: setting, Error: msg})
}

// ConfigData answers get-config.
type ConfigData struct {
	Type             string   `json:"type"`
	STTTimeout       float64  `json:"sttTimeout"`
	DrainQuietPeriod float64  `json:"drainQuietPeriod"`
	STTProviders     []string `json:"sttProviders"`
	LLMProvider      string   `json:"llmProvider,omitempty"`
	FormatEnabled    bool     `json:"formatEnabled"`
}

// Config builds the get-config response. c.Type is filled in.
func Config(c ConfigData) ServerMessage {
	c.Type = "config"
	if c.STTProviders == nil {
		c.STTProviders = []string{}
	}
	return serverMessage(c)
}

// ProviderInfo describes one provider a client may switch to.
type ProviderInfo struct {
	Value   string `json:"value"`
	Label   string `json:"label"`
	IsLocal bool   `json:"is_local"`
	Model   string `json:"model,omitempty"`
}

// AvailableProvidersData answers get-available-providers.
type AvailableProvidersData struct {
	Type string         `json:"type"`
	STT  []ProviderInfo `json:"stt"`
	LLM  []ProviderInfo `json:"llm"`
}

// AvailableProviders lists the providers a client may switch to.
func AvailableProviders(sttProviders, llmProviders []ProviderInfo) ServerMessage {
	if sttProviders == nil {
		sttProviders = []ProviderInfo{}
	}
	if llmProviders == nil {
		llmProviders = []ProviderInfo{}
	}
	return serverMessage(AvailableProvidersData{Type: "available-providers", STT: sttProviders, LLM: llmProviders})
}

// ErrorData reports a protocol error.
type ErrorData struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Error reports a message the server could not process.
func Error(msg string) ServerMessage {
	return serverMessage(ErrorData{Type: "error", Message: msg})
}
