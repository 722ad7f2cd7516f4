package asr

import (
	"context"
	"fmt"

	"github.com/vitali87/LinuxWhisper/internal/config"
)

// Result captures recognizer output for one audio file.
type Result struct {
	Text string
}

// Recognizer abstracts speech-to-text backends. Implementations receive the
// path of a finished WAV capture and return its transcript.
type Recognizer interface {
	Transcribe(ctx context.Context, audioPath string) (Result, error)
}

// New builds the recognizer selected by cfg.Mode.
func New(cfg config.ServerConfig) (Recognizer, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockRecognizer(), nil
	case "exec":
		return NewExecRecognizer(cfg)
	default:
		return nil, fmt.Errorf("unknown recognizer mode %q", cfg.Mode)
	}
}
