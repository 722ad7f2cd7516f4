package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/vitali87/LinuxWhisper/internal/asr"
	"github.com/vitali87/LinuxWhisper/internal/bus"
	"github.com/vitali87/LinuxWhisper/internal/config"
	"github.com/vitali87/LinuxWhisper/internal/history"
	"github.com/vitali87/LinuxWhisper/internal/natsserver"
	"github.com/vitali87/LinuxWhisper/internal/server"
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

	// Local overrides live in .env next to the binary's working dir.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		return 1
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))

	recognizer, err := asr.New(cfg.Server)
	if err != nil {
		logger.Error("failed to build recognizer", slog.String("error", err.Error()))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hist, err := history.Open(ctx, cfg.History, logger)
	if err != nil {
		logger.Error("failed to open history store", slog.String("error", err.Error()))
		return 1
	}
	defer hist.Close()

	var busClient *bus.Client
	if cfg.Bus.Enabled {
		embedded, err := natsserver.Start(cfg.Bus, logger)
		if err != nil {
			logger.Error("failed to start embedded bus", slog.String("error", err.Error()))
			return 1
		}
		defer embedded.Shutdown()

		busCfg := cfg.Bus
		if embedded != nil {
			busCfg.Servers = []string{embedded.ClientURL()}
		}
		busClient, err = bus.Connect(busCfg, logger)
		if err != nil {
			logger.Error("failed to connect to bus", slog.String("error", err.Error()))
			return 1
		}
		defer busClient.Close()
	}

	srv := server.New(cfg, recognizer, hist, busClient, logger)
	if err := srv.Start(ctx); err != nil {
		logger.Error("server exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("shutdown complete")
	return 0
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
