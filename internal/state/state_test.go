package state

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewStore(filepath.Join(t.TempDir(), "state.json"), log)
}

func TestLoadMissingFileIsIdle(t *testing.T) {
	s := newStore(t)
	st := s.Load()
	if st.Status != Idle {
		t.Fatalf("expected Idle for missing file, got %q", st.Status)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newStore(t)
	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	in := RecordingState{Status: Recording, PID: 4242, AudioPath: "/tmp/stt_1.wav", StartedAt: started}
	if err := s.Save(in); err != nil {
		t.Fatalf("save: %v", err)
	}

	out := s.Load()
	if out.Status != Recording {
		t.Fatalf("expected Recording, got %q", out.Status)
	}
	if out.PID != 4242 || out.AudioPath != "/tmp/stt_1.wav" {
		t.Fatalf("unexpected state round-trip: %+v", out)
	}
	if !out.StartedAt.Equal(started) {
		t.Fatalf("expected started_at %v, got %v", started, out.StartedAt)
	}
}

func TestLoadCorruptFileIsIdle(t *testing.T) {
	s := newStore(t)
	if err := os.WriteFile(s.path, []byte("{corrupt"), 0o644); err != nil {
		t.Fatalf("write corrupt state: %v", err)
	}
	if st := s.Load(); st.Status != Idle {
		t.Fatalf("expected Idle for corrupt file, got %q", st.Status)
	}
}

func TestLoadInconsistentRecordingIsIdle(t *testing.T) {
	s := newStore(t)
	// Recording status without a pid cannot be acted upon.
	if err := os.WriteFile(s.path, []byte(`{"status":"recording"}`), 0o644); err != nil {
		t.Fatalf("write state: %v", err)
	}
	if st := s.Load(); st.Status != Idle {
		t.Fatalf("expected Idle for inconsistent document, got %q", st.Status)
	}
}

func TestClear(t *testing.T) {
	s := newStore(t)
	if err := s.Save(RecordingState{Status: Recording, PID: 1, AudioPath: "/tmp/a.wav", StartedAt: time.Now()}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := os.Stat(s.path); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("expected state file removed")
	}
	// Clearing twice is fine.
	if err := s.Clear(); err != nil {
		t.Fatalf("second clear: %v", err)
	}
}
