package control

import (
	"encoding/json"
	"errors"
	"testing"
)

func ptr(f float64) *float64 { return &f }

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Command
		wantErr bool
	}{
		{
			name: "rtvi start",
			in:   `{"type":"client-message","data":{"t":"start-recording","d":{}}}`,
			want: Command{Type: TypeStartRecording},
		},
		{
			name: "rtvi stop without payload",
			in:   `{"type":"client-message","id":"abc","data":{"t":"stop-recording"}}`,
			want: Command{Type: TypeStopRecording},
		},
		{
			name: "rtvi timeout",
			in:   `{"type":"client-message","data":{"t":"set-stt-timeout","d":{"timeout_seconds":1.25}}}`,
			want: Command{Type: TypeSetSTTTimeout, TimeoutSeconds: ptr(1.25)},
		},
		{
			name: "rtvi timeout missing value",
			in:   `{"type":"client-message","data":{"t":"set-stt-timeout","d":{}}}`,
			want: Command{Type: TypeSetSTTTimeout},
		},
		{
			name: "flat start",
			in:   `{"type":"start-recording"}`,
			want: Command{Type: TypeStartRecording},
		},
		{
			name: "flat timeout inline",
			in:   `{"type":"set-stt-timeout","timeout_seconds":0.5}`,
			want: Command{Type: TypeSetSTTTimeout, TimeoutSeconds: ptr(0.5)},
		},
		{
			name: "flat timeout in data",
			in:   `{"type":"set-stt-timeout","data":{"timeout_seconds":2}}`,
			want: Command{Type: TypeSetSTTTimeout, TimeoutSeconds: ptr(2)},
		},
		{
			name: "get config",
			in:   `{"type":"get-config"}`,
			want: Command{Type: TypeGetConfig},
		},
		{
			name: "rtvi stt provider",
			in:   `{"type":"client-message","data":{"t":"set-stt-provider","d":{"provider":"deepgram"}}}`,
			want: Command{Type: TypeSetSTTProvider, Provider: "deepgram"},
		},
		{
			name: "flat llm provider",
			in:   `{"type":"set-llm-provider","provider":"ollama"}`,
			want: Command{Type: TypeSetLLMProvider, Provider: "ollama"},
		},
		{
			name: "available providers",
			in:   `{"type":"client-message","data":{"t":"get-available-providers"}}`,
			want: Command{Type: TypeGetAvailableProviders},
		},
		{name: "invalid json", in: `{"type":`, wantErr: true},
		{name: "missing type", in: `{}`, wantErr: true},
		{name: "client-message without data", in: `{"type":"client-message"}`, wantErr: true},
		{name: "timeout wrong type", in: `{"type":"set-stt-timeout","timeout_seconds":"fast"}`, wantErr: true},
		{name: "provider wrong type", in: `{"type":"set-stt-provider","provider":3}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.in))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Decode(%s) = %+v, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode(%s): %v", tt.in, err)
			}
			if got.Type != tt.want.Type {
				t.Errorf("Type = %q, want %q", got.Type, tt.want.Type)
			}
			if got.Provider != tt.want.Provider {
				t.Errorf("Provider = %q, want %q", got.Provider, tt.want.Provider)
			}
			switch {
			case tt.want.TimeoutSeconds == nil && got.TimeoutSeconds != nil:
				t.Errorf("TimeoutSeconds = %v, want nil", *got.TimeoutSeconds)
			case tt.want.TimeoutSeconds != nil && got.TimeoutSeconds == nil:
				t.Errorf("TimeoutSeconds = nil, want %v", *tt.want.TimeoutSeconds)
			case tt.want.TimeoutSeconds != nil && *got.TimeoutSeconds != *tt.want.TimeoutSeconds:
				t.Errorf("TimeoutSeconds = %v, want %v", *got.TimeoutSeconds, *tt.want.TimeoutSeconds)
			}
		})
	}
}

func TestDecode_PromptSections(t *testing.T) {
	in := `{"type":"client-message","data":{"t":"set-prompt-sections","d":{"sections":{
		"main":{"enabled":true,"mode":"manual","content":"Fix typos only."},
		"advanced":{"enabled":false,"mode":"auto"}}}}}`
	cmd, err := Decode([]byte(in))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cmd.Type != TypeSetPromptSections || cmd.Sections.IsZero() {
		t.Fatalf("Decode = %+v", cmd)
	}
	s := cmd.Sections
	if got := s.Main.CustomContent(); got != "Fix typos only." {
		t.Errorf("main content = %q", got)
	}
	if s.Advanced.IsEnabled(true) {
		t.Error("advanced should be disabled")
	}
	if s.Advanced.CustomContent() != "" {
		t.Errorf("auto section content = %q, want empty", s.Advanced.CustomContent())
	}
	if s.Dictionary != nil || !s.Dictionary.IsEnabled(true) || s.Dictionary.IsEnabled(false) {
		t.Error("missing dictionary section should take the default")
	}
	if err := s.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}

	reset, err := Decode([]byte(`{"type":"set-prompt-sections"}`))
	if err != nil {
		t.Fatalf("Decode reset: %v", err)
	}
	if !reset.Sections.IsZero() {
		t.Errorf("reset sections = %+v, want zero", reset.Sections)
	}
}

func TestPromptSections_Validate(t *testing.T) {
	tests := []struct {
		name    string
		in      *PromptSections
		wantErr bool
	}{
		{"nil", nil, false},
		{"auto", &PromptSections{Main: &PromptSection{Mode: ModeAuto}}, false},
		{"manual with content", &PromptSections{Advanced: &PromptSection{Mode: ModeManual, Content: "x"}}, false},
		{"manual without content", &PromptSections{Dictionary: &PromptSection{Mode: ModeManual, Content: "  "}}, true},
		{"unknown mode", &PromptSections{Main: &PromptSection{Mode: "magic"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.in.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecode_UnknownType(t *testing.T) {
	for _, in := range []string{
		`{"type":"set-voice","voice":"alloy"}`,
		`{"type":"client-message","data":{"t":"dance","d":{}}}`,
	} {
		_, err := Decode([]byte(in))
		if !errors.Is(err, ErrUnknownMessage) {
			t.Errorf("Decode(%s) error = %v, want ErrUnknownMessage", in, err)
		}
	}
}

func TestValidateTimeout(t *testing.T) {
	tests := []struct {
		name    string
		in      *float64
		wantErr bool
	}{
		{"nil", nil, true},
		{"below minimum", ptr(0.05), true},
		{"minimum", ptr(0.1), false},
		{"typical", ptr(0.8), false},
		{"maximum", ptr(10), false},
		{"above maximum", ptr(10.5), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTimeout(tt.in)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTimeout = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestServerMessages_Encoding(t *testing.T) {
	tests := []struct {
		name string
		msg  ServerMessage
		want string
	}{
		{
			name: "empty recording",
			msg:  RecordingEmpty(),
			want: `{"label":"rtvi-ai","type":"server-message","data":{"type":"recording-complete","hasContent":false}}`,
		},
		{
			name: "recording complete",
			msg:  RecordingComplete("id-1", "Hello world.", "hello world", "en", "user"),
			want: `{"label":"rtvi-ai","type":"server-message","data":{"type":"recording-complete","hasContent":true,"text":"Hello world.","rawText":"hello world","language":"en","speakerId":"user","id":"id-1"}}`,
		},
		{
			name: "interim",
			msg:  Interim("hel"),
			want: `{"label":"rtvi-ai","type":"server-message","data":{"type":"interim-transcript","text":"hel"}}`,
		},
		{
			name: "config updated",
			msg:  ConfigUpdated(SettingSTTTimeout, 1.5),
			want: `{"label":"rtvi-ai","type":"server-message","data":{"type":"config-updated","setting":"stt-timeout","value":1.5,"success":true}}`,
		},
		{
			name: "config error",
			msg:  ConfigError(SettingSTTTimeout, "Timeout value is required"),
			want: `{"label":"rtvi-ai","type":"server-message","data":{"type":"config-error","setting":"stt-timeout","error":"Timeout value is required"}}`,
		},
		{
			name: "config",
			msg:  Config(ConfigData{STTTimeout: 0.8, DrainQuietPeriod: 0.8}),
			want: `{"label":"rtvi-ai","type":"server-message","data":{"type":"config","sttTimeout":0.8,"drainQuietPeriod":0.8,"sttProviders":[],"formatEnabled":false}}`,
		},
		{
			name: "available providers",
			msg: AvailableProviders(
				[]ProviderInfo{{Value: "deepgram", Label: "Deepgram", Model: "nova-3"}},
				nil,
			),
			want: `{"label":"rtvi-ai","type":"server-message","data":{"type":"available-providers","stt":[{"value":"deepgram","label":"Deepgram","is_local":false,"model":"nova-3"}],"llm":[]}}`,
		},
		{
			name: "error",
			msg:  Error("bad frame"),
			want: `{"label":"rtvi-ai","type":"server-message","data":{"type":"error","message":"bad frame"}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.msg)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got  %s\nwant %s", got, tt.want)
			}
		})
	}
}
