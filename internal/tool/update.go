// Package tool runs the one-shot downloader tool update command. The
// update is not a queued job: it takes no gate reservation and its
// result goes straight back to the caller.
package tool

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Updater invokes an external update command with a deadline.
type Updater struct {
	command []string
	timeout time.Duration
	logger  *zap.Logger
}

// NewUpdater creates an Updater for the given command line. A zero
// timeout disables the deadline.
func NewUpdater(command []string, timeout time.Duration, logger *zap.Logger) *Updater {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Updater{
		command: command,
		timeout: timeout,
		logger:  logger,
	}
}

// Run executes the update command and waits for it to finish. On a
// non-zero exit the captured output is folded into the error.
func (u *Updater) Run(ctx context.Context) error {
	if len(u.command) == 0 {
		return fmt.Errorf("no update command configured")
	}

	if u.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}

	u.logger.Info("running tool update", zap.Strings("command", u.command))

	cmd := exec.CommandContext(ctx, u.command[0], u.command[1:]...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("tool update timed out after %s", u.timeout)
		}
		return fmt.Errorf("tool update failed: %w: %s", err, strings.TrimSpace(string(output)))
	}

	u.logger.Info("tool update finished")
	return nil
}
