// Package toggle implements the start/stop state machine driven by the
// external keyboard shortcut. Each Run performs exactly one transition under
// the lock manager: the whole read-state, act, persist sequence holds the
// lock, including the transcription call and clipboard set.
package toggle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/vitali87/LinuxWhisper/internal/lockfile"
	"github.com/vitali87/LinuxWhisper/internal/proc"
	"github.com/vitali87/LinuxWhisper/internal/recorder"
	"github.com/vitali87/LinuxWhisper/internal/state"
)

// CaptureController starts and stops the external capture process.
type CaptureController interface {
	Start(outputPath string) (pid int, err error)
	Stop(pid int) error
}

// Transcriber turns a finished audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// ClipboardSetter copies the transcript out for pasting.
type ClipboardSetter interface {
	Set(ctx context.Context, text string) error
}

type Controller struct {
	store *state.Store
	lock  *lockfile.Manager
	rec   CaptureController
	stt   Transcriber
	clip  ClipboardSetter
	log   *slog.Logger

	// Seams for tests.
	alive      func(pid int) bool
	probe      func(path string) (recorder.Info, error)
	outputPath func() string
	now        func() time.Time
}

func New(store *state.Store, lock *lockfile.Manager, rec CaptureController, stt Transcriber, clip ClipboardSetter, log *slog.Logger) *Controller {
	return &Controller{
		store:      store,
		lock:       lock,
		rec:        rec,
		stt:        stt,
		clip:       clip,
		log:        log,
		alive:      proc.Alive,
		probe:      recorder.Probe,
		outputPath: recorder.NewOutputPath,
		now:        time.Now,
	}
}

// Run performs one toggle: start recording when idle, stop-and-transcribe
// when recording. lockfile.ErrLockHeld is returned unwrapped so callers can
// treat contention as an intentional no-op rather than a failure.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.lock.Acquire(); err != nil {
		return err
	}
	defer func() {
		if err := c.lock.Release(); err != nil {
			c.log.Error("release lock", slogError(err))
		}
	}()

	st := c.store.Load()
	if st.Status == state.Recording {
		if c.alive(st.PID) {
			return c.stop(ctx, st)
		}
		// The recorded pid is dead but state survived: a prior toggle
		// crashed between start and stop. Recover, then start fresh.
		c.log.Warn("orphaned recording state, recovering",
			slog.Int("pid", st.PID),
			slog.String("audio_path", st.AudioPath))
		c.recoverOrphan(ctx, st)
	}
	return c.start()
}

// start launches a fresh capture and persists the Recording state. State is
// saved only after the capture process is confirmed started, so a start
// failure leaves the system Idle.
func (c *Controller) start() error {
	path := c.outputPath()
	pid, err := c.rec.Start(path)
	if err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("start capture: %w", err)
	}

	st := state.RecordingState{
		Status:    state.Recording,
		PID:       pid,
		AudioPath: path,
		StartedAt: c.now().UTC(),
	}
	if err := c.store.Save(st); err != nil {
		// Without persisted state no future toggle could stop this
		// process, so kill it now rather than leak it.
		if stopErr := c.rec.Stop(pid); stopErr != nil {
			c.log.Error("stop stray capture process",
				slog.Int("pid", pid), slogError(stopErr))
		}
		_ = os.Remove(path)
		return fmt.Errorf("persist recording state: %w", err)
	}

	c.log.Info("recording started",
		slog.Int("pid", pid),
		slog.String("audio_path", path))
	return nil
}

func (c *Controller) stop(ctx context.Context, st state.RecordingState) error {
	c.log.Info("stopping recording",
		slog.Int("pid", st.PID),
		slog.Duration("elapsed", c.now().Sub(st.StartedAt)))

	stopErr := c.rec.Stop(st.PID)
	// Clear state before anything that can fail downstream: once the
	// capture process has been signalled, a second stop of the same
	// session must be impossible.
	if err := c.store.Clear(); err != nil {
		c.log.Error("clear state file", slogError(err))
	}
	if stopErr != nil {
		_ = os.Remove(st.AudioPath)
		return fmt.Errorf("stop capture: %w", stopErr)
	}
	return c.finish(ctx, st)
}

// finish transcribes the completed file and copies the text out. The audio
// file is deleted on every path, success or failure.
func (c *Controller) finish(ctx context.Context, st state.RecordingState) error {
	defer func() {
		if err := os.Remove(st.AudioPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.log.Warn("delete capture file",
				slog.String("audio_path", st.AudioPath), slogError(err))
		}
	}()

	info, err := c.probe(st.AudioPath)
	if err != nil {
		return fmt.Errorf("captured audio unusable: %w", err)
	}
	c.log.Info("capture complete",
		slog.Duration("audio", info.Duration),
		slog.Int64("bytes", info.DataBytes))

	text, err := c.stt.Transcribe(ctx, st.AudioPath)
	if err != nil {
		return fmt.Errorf("transcribe: %w", err)
	}
	if text == "" {
		return errors.New("transcription result is empty")
	}
	// The transcript lands in the log either way, so a clipboard failure
	// does not fail the toggle.
	if err := c.clip.Set(ctx, text); err != nil {
		c.log.Error("copy to clipboard", slogError(err))
	}
	c.log.Info("transcript ready", slog.String("text", text))
	return nil
}

// recoverOrphan disposes of a recording left behind by a crashed toggle. A
// file that still probes as usable audio is transcribed rather than thrown
// away; either way the state is cleared before the caller starts fresh.
func (c *Controller) recoverOrphan(ctx context.Context, st state.RecordingState) {
	if err := c.store.Clear(); err != nil {
		c.log.Error("clear orphaned state", slogError(err))
	}
	if _, err := c.probe(st.AudioPath); err != nil {
		c.log.Info("discarding orphaned capture",
			slog.String("audio_path", st.AudioPath), slogError(err))
		_ = os.Remove(st.AudioPath)
		return
	}
	if err := c.finish(ctx, st); err != nil {
		c.log.Warn("orphaned capture not recovered", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
