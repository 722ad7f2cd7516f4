package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type ClientConfig struct {
	ServerURL          string `yaml:"server_url"`
	StateFile          string `yaml:"state_file"`
	LockFile           string `yaml:"lock_file"`
	LogFile            string `yaml:"log_file"`
	RequestTimeoutMS   int    `yaml:"request_timeout_ms"`
	ClipboardCommand   string `yaml:"clipboard_command"`
	ClipboardTimeoutMS int    `yaml:"clipboard_timeout_ms"`
}

type CaptureConfig struct {
	Command     string `yaml:"command"`
	Device      string `yaml:"device"`
	SampleRate  int    `yaml:"sample_rate"`
	StopGraceMS int    `yaml:"stop_grace_ms"`
}

type ServerConfig struct {
	Bind                string `yaml:"bind"`
	Port                int    `yaml:"port"`
	LogLevel            string `yaml:"log_level"`
	Mode                string `yaml:"mode"` // mock, exec
	Command             string `yaml:"command"`
	Model               string `yaml:"model"`
	Language            string `yaml:"language"`
	FP16                bool   `yaml:"fp16"`
	TranscribeTimeoutMS int    `yaml:"transcribe_timeout_ms"`
}

type HistoryConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type Config struct {
	Client    ClientConfig    `yaml:"client"`
	Capture   CaptureConfig   `yaml:"capture"`
	Server    ServerConfig    `yaml:"server"`
	History   HistoryConfig   `yaml:"history"`
	Bus       BusConfig       `yaml:"bus"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

func Default() Config {
	return Config{
		Client: ClientConfig{
			ServerURL:          "http://127.0.0.1:8001",
			StateFile:          "/tmp/stt_recording_state.json",
			LockFile:           "/tmp/stt_copy_lock",
			LogFile:            "/tmp/stt_copy_debug.log",
			RequestTimeoutMS:   30000,
			ClipboardCommand:   "xclip -selection clipboard",
			ClipboardTimeoutMS: 5000,
		},
		Capture: CaptureConfig{
			Device:      "default",
			SampleRate:  16000,
			StopGraceMS: 300,
		},
		Server: ServerConfig{
			Bind:                "127.0.0.1",
			Port:                8001,
			LogLevel:            "info",
			Mode:                "mock",
			Model:               "tiny.en",
			Language:            "en",
			TranscribeTimeoutMS: 45000,
		},
		History: HistoryConfig{
			Path:          "./data/stt-history.db",
			RetentionMode: "persistent",
			RetentionDays: 30,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPInsecure: true,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// STT_* environment overrides, in that order of precedence. An empty path
// skips the file layer so the client can run on env vars alone.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.Client.ServerURL, "STT_SERVER_URL")
	overrideString(&cfg.Client.StateFile, "STT_STATE_FILE")
	overrideString(&cfg.Client.LockFile, "STT_LOCK_FILE")
	overrideString(&cfg.Client.LogFile, "STT_LOG_FILE")
	overrideInt(&cfg.Client.RequestTimeoutMS, "STT_REQUEST_TIMEOUT_MS")
	overrideString(&cfg.Client.ClipboardCommand, "STT_CLIPBOARD_COMMAND")
	overrideInt(&cfg.Client.ClipboardTimeoutMS, "STT_CLIPBOARD_TIMEOUT_MS")
	overrideString(&cfg.Capture.Command, "STT_CAPTURE_COMMAND")
	overrideString(&cfg.Capture.Device, "STT_CAPTURE_DEVICE")
	overrideInt(&cfg.Capture.SampleRate, "STT_SAMPLE_RATE")
	overrideInt(&cfg.Capture.StopGraceMS, "STT_STOP_GRACE_MS")
	overrideString(&cfg.Server.Bind, "STT_SERVER_HOST")
	overrideInt(&cfg.Server.Port, "STT_SERVER_PORT")
	overrideString(&cfg.Server.LogLevel, "STT_SERVER_LOG_LEVEL")
	overrideString(&cfg.Server.Mode, "STT_SERVER_MODE")
	overrideString(&cfg.Server.Command, "STT_SERVER_COMMAND")
	overrideString(&cfg.Server.Model, "STT_MODEL_NAME")
	overrideString(&cfg.Server.Language, "STT_LANGUAGE")
	overrideBool(&cfg.Server.FP16, "STT_USE_FP16")
	overrideInt(&cfg.Server.TranscribeTimeoutMS, "STT_TRANSCRIBE_TIMEOUT_MS")
	overrideString(&cfg.History.Path, "STT_HISTORY_PATH")
	overrideString(&cfg.History.RetentionMode, "STT_HISTORY_RETENTION_MODE")
	overrideInt(&cfg.History.RetentionDays, "STT_HISTORY_RETENTION_DAYS")
	overrideBool(&cfg.History.VacuumOnStart, "STT_HISTORY_VACUUM_ON_START")
	overrideBool(&cfg.Bus.Enabled, "STT_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "STT_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "STT_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "STT_BUS_SERVERS")
	overrideInt(&cfg.Bus.ConnectTimeout, "STT_BUS_CONNECT_TIMEOUT_MS")
	overrideBool(&cfg.Telemetry.Enabled, "STT_TELEMETRY_ENABLED")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "STT_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "STT_TELEMETRY_OTLP_INSECURE")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.Client.ServerURL == "" {
		return errors.New("client.server_url must not be empty")
	}
	if cfg.Client.StateFile == "" {
		return errors.New("client.state_file must not be empty")
	}
	if cfg.Client.LockFile == "" {
		return errors.New("client.lock_file must not be empty")
	}
	if cfg.Client.RequestTimeoutMS <= 0 {
		return errors.New("client.request_timeout_ms must be positive")
	}
	if cfg.Client.ClipboardCommand == "" {
		return errors.New("client.clipboard_command must not be empty")
	}
	if cfg.Capture.SampleRate <= 0 {
		return errors.New("capture.sample_rate must be positive")
	}
	if cfg.Capture.StopGraceMS <= 0 {
		return errors.New("capture.stop_grace_ms must be positive")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	switch cfg.Server.Mode {
	case "mock", "exec":
	default:
		return errors.New("server.mode must be one of mock|exec")
	}
	if cfg.Server.Mode == "exec" && cfg.Server.Command == "" {
		return errors.New("server.command must be set when mode=exec")
	}
	if cfg.Server.TranscribeTimeoutMS <= 0 {
		return errors.New("server.transcribe_timeout_ms must be positive")
	}
	switch cfg.History.RetentionMode {
	case "ephemeral", "persistent":
	default:
		return errors.New("history.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.History.RetentionMode == "persistent" && cfg.History.Path == "" {
		return errors.New("history.path must not be empty when retention is persistent")
	}
	if cfg.History.RetentionDays < 0 {
		return errors.New("history.retention_days must be >= 0")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	return nil
}
