package protocol

import "time"

// TranscriptionResponse is the success body of POST /transcribe.
type TranscriptionResponse struct {
	Transcription string `json:"transcription"`
}

// ErrorResponse is the body of every non-2xx /transcribe reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Transcript is broadcast on the bus after each successful transcription so
// other local consumers can react to dictation output.
type Transcript struct {
	Text      string    `json:"text"`
	AudioMS   int64     `json:"audio_ms"`
	LatencyMS int64     `json:"latency_ms"`
	Model     string    `json:"model,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const SubjectTranscriptFinal = "stt.text.final"
