package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/vitali87/LinuxWhisper/internal/clipboard"
	"github.com/vitali87/LinuxWhisper/internal/config"
	"github.com/vitali87/LinuxWhisper/internal/lockfile"
	"github.com/vitali87/LinuxWhisper/internal/recorder"
	"github.com/vitali87/LinuxWhisper/internal/state"
	"github.com/vitali87/LinuxWhisper/internal/toggle"
	"github.com/vitali87/LinuxWhisper/internal/transcribe"
)

var version = "0.1.0-dev"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file (optional)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return 0
	}

	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		return 1
	}

	logger, closeLog := newLogger(cfg.Client.LogFile)
	defer closeLog()

	store := state.NewStore(cfg.Client.StateFile, logger)
	lock := lockfile.New(cfg.Client.LockFile, logger)
	rec := recorder.New(cfg.Capture, logger)
	stt := transcribe.NewClient(cfg.Client.ServerURL,
		time.Duration(cfg.Client.RequestTimeoutMS)*time.Millisecond, logger)
	clip, err := clipboard.New(cfg.Client.ClipboardCommand,
		time.Duration(cfg.Client.ClipboardTimeoutMS)*time.Millisecond, logger)
	if err != nil {
		logger.Error("invalid clipboard command", slog.String("error", err.Error()))
		return 1
	}

	ctrl := toggle.New(store, lock, rec, stt, clip, logger)

	if err := ctrl.Run(context.Background()); err != nil {
		if errors.Is(err, lockfile.ErrLockHeld) {
			logger.Info("toggle already in flight, ignoring")
			return 0
		}
		logger.Error("toggle failed", slog.String("error", err.Error()))
		return 1
	}
	return 0
}

// newLogger writes to the configured debug log file. The binary is bound to
// a hotkey, so stderr usually goes nowhere; the file is how users debug a
// toggle that did nothing.
func newLogger(path string) (*slog.Logger, func()) {
	var w io.Writer = os.Stderr
	closeLog := func() {}
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			w = f
			closeLog = func() { f.Close() }
		}
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})), closeLog
}
