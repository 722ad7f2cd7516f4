package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/vitali87/LinuxWhisper/internal/config"
)

// timestampPrefix matches segment markers some whisper builds print ahead of
// the text, e.g. "[00:00.000 --> 00:02.500]".
var timestampPrefix = regexp.MustCompile(`^\[\d{2}:\d{2}\.\d{3} --> \d{2}:\d{2}\.\d{3}\]\s*`)

type execRecognizer struct {
	cmd []string
	cfg config.ServerConfig
	mu  sync.Mutex
}

type execResult struct {
	Text string `json:"text"`
}

// NewExecRecognizer wraps an external transcription command. The command
// receives the capture path via --audio plus the configured model, language
// and precision flags, and must print a JSON object with a "text" field.
func NewExecRecognizer(cfg config.ServerConfig) (Recognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse recognizer command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("recognizer command is empty")
	}
	return &execRecognizer{cmd: args, cfg: cfg}, nil
}

func (r *execRecognizer) Transcribe(ctx context.Context, audioPath string) (Result, error) {
	// Whisper inference pins the model in memory; serialize invocations so
	// concurrent uploads do not stack model loads.
	r.mu.Lock()
	defer r.mu.Unlock()

	args := append([]string{}, r.cmd...)
	base := args[0]
	cmdArgs := args[1:]
	cmdArgs = append(cmdArgs, "--audio", audioPath)
	if r.cfg.Model != "" {
		cmdArgs = append(cmdArgs, "--model", r.cfg.Model)
	}
	if r.cfg.Language != "" {
		cmdArgs = append(cmdArgs, "--language", r.cfg.Language)
	}
	if !r.cfg.FP16 {
		cmdArgs = append(cmdArgs, "--fp16", "false")
	}

	command := exec.CommandContext(ctx, base, cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return Result{}, fmt.Errorf("recognizer command failed: %w: %s", err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Result{}, fmt.Errorf("decode recognizer output: %w", err)
	}
	return Result{Text: cleanTranscript(resp.Text)}, nil
}

func cleanTranscript(text string) string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = timestampPrefix.ReplaceAllString(strings.TrimSpace(line), "")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, " ")
}
