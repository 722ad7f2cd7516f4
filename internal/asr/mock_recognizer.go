package asr

import (
	"context"
	"fmt"
	"os"
)

type mockRecognizer struct{}

// NewMockRecognizer returns a recognizer for wiring tests and demos without
// a whisper install.
func NewMockRecognizer() Recognizer {
	return &mockRecognizer{}
}

func (m *mockRecognizer) Transcribe(_ context.Context, audioPath string) (Result, error) {
	fi, err := os.Stat(audioPath)
	if err != nil {
		return Result{}, fmt.Errorf("stat audio file: %w", err)
	}
	return Result{Text: fmt.Sprintf("[mock transcript bytes=%d]", fi.Size())}, nil
}
