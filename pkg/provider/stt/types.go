package stt

import "time"

// Transcript is one recognition result. Partial and final results share the
// type; IsFinal tells them apart.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal reports whether the provider has committed to this result.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0), zero when unknown.
	Confidence float64

	// SpeakerID identifies the speaker when diarization is active. Empty
	// otherwise.
	SpeakerID string

	// Language is the detected or configured BCP-47 tag. Empty when unknown.
	Language string

	// Words holds per-word detail when the provider reports it.
	Words []WordDetail

	// Start is the offset of the utterance from session start.
	Start time.Duration

	// Duration is the length of the utterance.
	Duration time.Duration
}

// WordDetail holds per-word metadata.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
	Speaker    int
}

// KeywordBoost is a recognition hint for an uncommon word.
type KeywordBoost struct {
	// Keyword is the text to boost (e.g., "Kubernetes").
	Keyword string

	// Boost is the provider-specific intensity.
	Boost float64
}
