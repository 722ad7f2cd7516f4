// Package lockfile provides the mutual exclusion guarding toggle
// transitions. The lock is a file created with O_EXCL in a well-known
// location, carrying the holder's pid; a holder whose process is no longer
// alive is treated as a crash leftover and reclaimed.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/vitali87/LinuxWhisper/internal/proc"
)

// ErrLockHeld signals that another toggle is currently in flight. Callers
// treat it as a deliberate no-op, not a failure.
var ErrLockHeld = errors.New("another toggle is in flight")

type holder struct {
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

type Manager struct {
	path  string
	log   *slog.Logger
	alive func(pid int) bool
}

func New(path string, log *slog.Logger) *Manager {
	return &Manager{path: path, log: log, alive: proc.Alive}
}

// Acquire takes the lock for the calling process. It never blocks: a live
// holder fails the call with ErrLockHeld immediately, while a dead holder's
// lock is removed and re-acquired.
func (m *Manager) Acquire() error {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(m.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			return m.writeHolder(f)
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("create lock file %s: %w", m.path, err)
		}

		h, readErr := m.readHolder()
		if readErr == nil && h.PID > 0 && m.alive(h.PID) {
			return ErrLockHeld
		}
		// The recorded holder is dead, or the file is unreadable garbage
		// from an interrupted acquire. Either way the prior invocation
		// crashed; reclaim and retry once.
		m.log.Warn("reclaiming stale lock",
			slog.String("path", m.path),
			slog.Int("holder_pid", h.PID))
		if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove stale lock %s: %w", m.path, err)
		}
	}
	return ErrLockHeld
}

func (m *Manager) writeHolder(f *os.File) error {
	data, err := json.Marshal(holder{PID: os.Getpid(), AcquiredAt: time.Now().UTC()})
	if err == nil {
		_, err = f.Write(data)
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(m.path)
		return fmt.Errorf("write lock file %s: %w", m.path, err)
	}
	return nil
}

func (m *Manager) readHolder() (holder, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return holder{}, err
	}
	var h holder
	if err := json.Unmarshal(data, &h); err != nil {
		return holder{}, err
	}
	return h, nil
}

// Release clears the lock entry. An already-missing lock file is not an
// error so that release stays safe on every exit path.
func (m *Manager) Release() error {
	if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove lock file %s: %w", m.path, err)
	}
	return nil
}
