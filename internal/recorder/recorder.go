// Package recorder manages the external audio-capture process. Capture is
// open-ended: Start launches the tool detached and returns its pid, and a
// later invocation stops it through that pid alone.
package recorder

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/vitali87/LinuxWhisper/internal/config"
	"github.com/vitali87/LinuxWhisper/internal/proc"
)

type Recorder struct {
	cfg   config.CaptureConfig
	log   *slog.Logger
	alive func(pid int) bool
}

func New(cfg config.CaptureConfig, log *slog.Logger) *Recorder {
	return &Recorder{cfg: cfg, log: log, alive: proc.Alive}
}

// NewOutputPath returns a fresh timestamped capture path under the system
// temp directory.
func NewOutputPath() string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("stt_%d.wav", time.Now().UnixNano()))
}

// Start launches the capture tool writing mono signed 16-bit PCM at the
// configured sample rate to outputPath. It returns the capture pid without
// waiting for the recording to finish; the process is released so the
// short-lived toggle can exit while capture continues.
func (r *Recorder) Start(outputPath string) (int, error) {
	argv, err := r.argv(outputPath)
	if err != nil {
		return 0, err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start capture tool %s: %w", argv[0], err)
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		r.log.Warn("release capture process handle",
			slog.Int("pid", pid),
			slog.String("error", err.Error()))
	}
	r.log.Info("capture started",
		slog.Int("pid", pid),
		slog.String("tool", argv[0]),
		slog.String("output", outputPath))
	return pid, nil
}

func (r *Recorder) argv(outputPath string) ([]string, error) {
	if cmd := strings.TrimSpace(r.cfg.Command); cmd != "" {
		args, err := shellwords.NewParser().Parse(cmd)
		if err != nil {
			return nil, fmt.Errorf("parse capture command: %w", err)
		}
		if len(args) == 0 {
			return nil, errors.New("capture command is empty")
		}
		return append(args, outputPath), nil
	}
	return []string{
		"arecord", "-q",
		"-D", r.cfg.Device,
		"-f", "S16_LE",
		"-c", "1",
		"-r", strconv.Itoa(r.cfg.SampleRate),
		"-t", "wav",
		outputPath,
	}, nil
}

// Stop signals the capture process to terminate and waits up to the
// configured grace delay for it to flush and close its output file. An
// unresponsive process is escalated to SIGKILL and the file is treated as
// best-effort complete. A pid that is already gone is not an error.
func (r *Recorder) Stop(pid int) error {
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			r.log.Info("capture process already gone", slog.Int("pid", pid))
			return nil
		}
		return fmt.Errorf("signal capture process %d: %w", pid, err)
	}

	grace := time.Duration(r.cfg.StopGraceMS) * time.Millisecond
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !r.alive(pid) {
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}

	r.log.Warn("capture process unresponsive, killing",
		slog.Int("pid", pid),
		slog.Duration("grace", grace))
	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("kill capture process %d: %w", pid, err)
	}
	return nil
}
