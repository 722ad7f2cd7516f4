// Package clipboard pipes text into an external clipboard tool. The command
// is configurable so xclip, xsel, and wl-copy all work unchanged.
package clipboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
)

type Setter struct {
	argv    []string
	timeout time.Duration
	log     *slog.Logger
}

func New(command string, timeout time.Duration, log *slog.Logger) (*Setter, error) {
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse clipboard command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("clipboard command is empty")
	}
	return &Setter{argv: args, timeout: timeout, log: log}, nil
}

// Set writes text to the clipboard by piping it to the tool's stdin. The
// call is bounded so an absent display server cannot hang the toggle.
func (s *Setter) Set(ctx context.Context, text string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.argv[0], s.argv[1:]...)
	cmd.Stdin = strings.NewReader(text)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("clipboard tool %s failed: %w: %s",
			s.argv[0], err, strings.TrimSpace(string(out)))
	}
	s.log.Debug("clipboard set", slog.Int("chars", len(text)))
	return nil
}
