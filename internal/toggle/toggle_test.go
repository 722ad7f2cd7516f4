package toggle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vitali87/LinuxWhisper/internal/lockfile"
	"github.com/vitali87/LinuxWhisper/internal/recorder"
	"github.com/vitali87/LinuxWhisper/internal/state"
)

type fakeCapture struct {
	nextPID  int
	startErr error
	stopErr  error
	started  []string
	stopped  []int
}

func (f *fakeCapture) Start(outputPath string) (int, error) {
	if f.startErr != nil {
		return 0, f.startErr
	}
	f.started = append(f.started, outputPath)
	// Simulate the capture tool writing audio as it runs.
	if err := os.WriteFile(outputPath, make([]byte, 2048), 0o644); err != nil {
		return 0, err
	}
	f.nextPID++
	return f.nextPID, nil
}

func (f *fakeCapture) Stop(pid int) error {
	f.stopped = append(f.stopped, pid)
	return f.stopErr
}

type fakeTranscriber struct {
	text  string
	err   error
	calls []string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, audioPath string) (string, error) {
	f.calls = append(f.calls, audioPath)
	return f.text, f.err
}

type fakeClipboard struct {
	err   error
	texts []string
}

func (f *fakeClipboard) Set(_ context.Context, text string) error {
	f.texts = append(f.texts, text)
	return f.err
}

type fixture struct {
	ctrl  *Controller
	store *state.Store
	cap   *fakeCapture
	stt   *fakeTranscriber
	clip  *fakeClipboard
	dir   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))

	store := state.NewStore(filepath.Join(dir, "state.json"), log)
	lock := lockfile.New(filepath.Join(dir, "toggle.lock"), log)
	cap := &fakeCapture{}
	stt := &fakeTranscriber{text: "hello from mic"}
	clip := &fakeClipboard{}

	ctrl := New(store, lock, cap, stt, clip, log)
	ctrl.alive = func(int) bool { return false }
	ctrl.probe = func(path string) (recorder.Info, error) {
		fi, err := os.Stat(path)
		if err != nil {
			return recorder.Info{}, err
		}
		return recorder.Info{SampleRate: 16000, Channels: 1, BitDepth: 16, DataBytes: fi.Size(), Duration: time.Second}, nil
	}
	seq := 0
	ctrl.outputPath = func() string {
		seq++
		return filepath.Join(dir, fmt.Sprintf("capture_%d.wav", seq))
	}

	return &fixture{ctrl: ctrl, store: store, cap: cap, stt: stt, clip: clip, dir: dir}
}

// markAlive makes the controller consider the fake capture pids live.
func (f *fixture) markAlive(pids ...int) {
	f.ctrl.alive = func(pid int) bool {
		for _, p := range pids {
			if p == pid {
				return true
			}
		}
		return false
	}
}

func TestToggleStartsRecordingOnFreshSystem(t *testing.T) {
	f := newFixture(t)

	if err := f.ctrl.Run(context.Background()); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	st := f.store.Load()
	if st.Status != state.Recording {
		t.Fatalf("expected Recording, got %q", st.Status)
	}
	if st.PID != 1 || st.AudioPath == "" {
		t.Fatalf("expected valid pid and path, got %+v", st)
	}
	if st.StartedAt.IsZero() {
		t.Fatal("expected started_at set")
	}
	if len(f.stt.calls) != 0 {
		t.Fatal("start toggle must not transcribe")
	}
}

func TestToggleStopsTranscribesAndCopies(t *testing.T) {
	f := newFixture(t)
	if err := f.ctrl.Run(context.Background()); err != nil {
		t.Fatalf("start toggle: %v", err)
	}
	audioPath := f.store.Load().AudioPath
	f.markAlive(1)

	if err := f.ctrl.Run(context.Background()); err != nil {
		t.Fatalf("stop toggle: %v", err)
	}

	if len(f.cap.stopped) != 1 || f.cap.stopped[0] != 1 {
		t.Fatalf("expected capture pid 1 stopped, got %v", f.cap.stopped)
	}
	if st := f.store.Load(); st.Status != state.Idle {
		t.Fatalf("expected Idle after stop, got %q", st.Status)
	}
	if len(f.stt.calls) != 1 || f.stt.calls[0] != audioPath {
		t.Fatalf("expected transcription of %s, got %v", audioPath, f.stt.calls)
	}
	if len(f.clip.texts) != 1 || f.clip.texts[0] != "hello from mic" {
		t.Fatalf("expected clipboard set with transcript, got %v", f.clip.texts)
	}
	if _, err := os.Stat(audioPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("expected temp audio file deleted")
	}
}

func TestToggleRecoversOrphanedState(t *testing.T) {
	f := newFixture(t)
	orphanAudio := filepath.Join(f.dir, "orphan.wav")
	if err := os.WriteFile(orphanAudio, make([]byte, 2048), 0o644); err != nil {
		t.Fatalf("write orphan audio: %v", err)
	}
	if err := f.store.Save(state.RecordingState{
		Status: state.Recording, PID: 999999, AudioPath: orphanAudio, StartedAt: time.Now(),
	}); err != nil {
		t.Fatalf("seed orphan state: %v", err)
	}

	if err := f.ctrl.Run(context.Background()); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	// Orphan handled: its audio was transcribed (file was usable) and
	// deleted, no stop signal was sent to the dead pid.
	if len(f.stt.calls) != 1 || f.stt.calls[0] != orphanAudio {
		t.Fatalf("expected orphan audio transcribed, got %v", f.stt.calls)
	}
	if _, err := os.Stat(orphanAudio); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("expected orphan audio deleted")
	}
	if len(f.cap.stopped) != 0 {
		t.Fatalf("must not signal a dead pid, got stops %v", f.cap.stopped)
	}
	// And a fresh recording is now in flight.
	st := f.store.Load()
	if st.Status != state.Recording || st.PID != 1 {
		t.Fatalf("expected fresh recording after recovery, got %+v", st)
	}
}

func TestToggleDiscardsUnusableOrphanAudio(t *testing.T) {
	f := newFixture(t)
	orphanAudio := filepath.Join(f.dir, "orphan.wav")
	if err := os.WriteFile(orphanAudio, []byte("x"), 0o644); err != nil {
		t.Fatalf("write orphan audio: %v", err)
	}
	if err := f.store.Save(state.RecordingState{
		Status: state.Recording, PID: 999999, AudioPath: orphanAudio, StartedAt: time.Now(),
	}); err != nil {
		t.Fatalf("seed orphan state: %v", err)
	}
	f.ctrl.probe = func(path string) (recorder.Info, error) {
		return recorder.Info{}, fmt.Errorf("capture file %s too small", path)
	}

	if err := f.ctrl.Run(context.Background()); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if len(f.stt.calls) != 0 {
		t.Fatalf("unusable orphan must not be transcribed, got %v", f.stt.calls)
	}
	if _, err := os.Stat(orphanAudio); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("expected unusable orphan audio deleted")
	}
	if st := f.store.Load(); st.Status != state.Recording {
		t.Fatalf("expected fresh recording after discard, got %+v", st)
	}
}

func TestToggleTranscriptionFailureStillCleansUp(t *testing.T) {
	f := newFixture(t)
	if err := f.ctrl.Run(context.Background()); err != nil {
		t.Fatalf("start toggle: %v", err)
	}
	audioPath := f.store.Load().AudioPath
	f.markAlive(1)
	f.stt.err = errors.New("server timeout")

	err := f.ctrl.Run(context.Background())
	if err == nil {
		t.Fatal("expected transcription failure to surface")
	}
	// The failure must leave the system ready for the next toggle.
	if st := f.store.Load(); st.Status != state.Idle {
		t.Fatalf("expected Idle despite failure, got %q", st.Status)
	}
	if _, statErr := os.Stat(audioPath); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatal("expected temp audio deleted despite failure")
	}
	if len(f.clip.texts) != 0 {
		t.Fatal("clipboard must not be set on failure")
	}

	if err := f.ctrl.Run(context.Background()); err != nil {
		t.Fatalf("next toggle after failure: %v", err)
	}
	if st := f.store.Load(); st.Status != state.Recording {
		t.Fatalf("expected next toggle to record, got %q", st.Status)
	}
}

func TestToggleClipboardFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	if err := f.ctrl.Run(context.Background()); err != nil {
		t.Fatalf("start toggle: %v", err)
	}
	f.markAlive(1)
	f.clip.err = errors.New("no display")

	if err := f.ctrl.Run(context.Background()); err != nil {
		t.Fatalf("clipboard failure must not fail the toggle, got %v", err)
	}
}

func TestToggleEmptyTranscriptIsError(t *testing.T) {
	f := newFixture(t)
	if err := f.ctrl.Run(context.Background()); err != nil {
		t.Fatalf("start toggle: %v", err)
	}
	f.markAlive(1)
	f.stt.text = ""

	if err := f.ctrl.Run(context.Background()); err == nil {
		t.Fatal("expected error for empty transcript")
	}
	if st := f.store.Load(); st.Status != state.Idle {
		t.Fatalf("expected Idle, got %q", st.Status)
	}
}

func TestToggleStartFailureLeavesIdle(t *testing.T) {
	f := newFixture(t)
	f.cap.startErr = errors.New("device busy")

	if err := f.ctrl.Run(context.Background()); err == nil {
		t.Fatal("expected start failure to surface")
	}
	if st := f.store.Load(); st.Status != state.Idle {
		t.Fatalf("expected Idle after start failure, got %q", st.Status)
	}
}

func TestConcurrentToggleIsNoOp(t *testing.T) {
	f := newFixture(t)
	// Another invocation currently holds the lock (this process is alive).
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	other := lockfile.New(filepath.Join(f.dir, "toggle.lock"), log)
	if err := other.Acquire(); err != nil {
		t.Fatalf("seed lock: %v", err)
	}

	err := f.ctrl.Run(context.Background())
	if !errors.Is(err, lockfile.ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}
	// Exactly zero transitions happened.
	if st := f.store.Load(); st.Status != state.Idle {
		t.Fatalf("contending toggle must not transition, got %q", st.Status)
	}
	if len(f.cap.started) != 0 || len(f.cap.stopped) != 0 {
		t.Fatal("contending toggle must not touch the recorder")
	}

	if err := other.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := f.ctrl.Run(context.Background()); err != nil {
		t.Fatalf("toggle after release: %v", err)
	}
}

func TestToggleSequenceIsDeterministic(t *testing.T) {
	f := newFixture(t)
	// Fake capture pids are assigned 1, 2, 3; track the live one.
	for i := 0; i < 3; i++ {
		if err := f.ctrl.Run(context.Background()); err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
		st := f.store.Load()
		if st.Status != state.Recording {
			t.Fatalf("iteration %d: expected Recording, got %q", i, st.Status)
		}
		f.markAlive(st.PID)

		if err := f.ctrl.Run(context.Background()); err != nil {
			t.Fatalf("stop %d: %v", i, err)
		}
		if st := f.store.Load(); st.Status != state.Idle {
			t.Fatalf("iteration %d: expected Idle, got %q", i, st.Status)
		}
	}
	if len(f.stt.calls) != 3 || len(f.clip.texts) != 3 {
		t.Fatalf("expected 3 transcriptions and copies, got %d/%d", len(f.stt.calls), len(f.clip.texts))
	}
}
