// Package state persists the recording state between independent toggle
// invocations. The store is a single JSON document at a fixed path; absence
// of the file means Idle.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"
)

type Status string

const (
	Idle      Status = "idle"
	Recording Status = "recording"
)

// RecordingState is the one coordination document shared by toggle
// invocations. PID, AudioPath and StartedAt are set iff Status is Recording.
type RecordingState struct {
	Status    Status    `json:"status"`
	PID       int       `json:"pid,omitempty"`
	AudioPath string    `json:"audio_path,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

type Store struct {
	path string
	log  *slog.Logger
}

func NewStore(path string, log *slog.Logger) *Store {
	return &Store{path: path, log: log}
}

// Load returns the persisted state. A missing, unreadable, corrupt, or
// internally inconsistent document is treated as Idle: a broken state file
// must never wedge the toggle, at worst it costs one recording.
func (s *Store) Load() RecordingState {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("state file unreadable, treating as idle",
				slog.String("path", s.path),
				slog.String("error", err.Error()))
		}
		return RecordingState{Status: Idle}
	}

	var st RecordingState
	if err := json.Unmarshal(data, &st); err != nil {
		s.log.Warn("state file corrupt, treating as idle",
			slog.String("path", s.path),
			slog.String("error", err.Error()))
		return RecordingState{Status: Idle}
	}
	if st.Status != Recording || st.PID <= 0 || st.AudioPath == "" {
		return RecordingState{Status: Idle}
	}
	return st
}

func (s *Store) Save(st RecordingState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal recording state: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write state file %s: %w", s.path, err)
	}
	return nil
}

// Clear removes the state document, returning the system to Idle. A missing
// file is not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove state file %s: %w", s.path, err)
	}
	return nil
}
