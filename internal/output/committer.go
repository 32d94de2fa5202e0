// Package output applies transcript commit side effects (clipboard and
// typing into the focused window).
package output

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/sengokudaikon/echoes/internal/config"
)

// Committer delivers assembled transcript text. The clipboard write is
// authoritative; typing is best-effort on top of it.
type Committer struct {
	config config.OutputConfig
	logger *slog.Logger
}

// NewCommitter constructs a transcript committer from runtime config.
func NewCommitter(cfg config.OutputConfig, logger *slog.Logger) *Committer {
	return &Committer{config: cfg, logger: logger}
}

// Commit writes transcript text to the clipboard and then pipes it to the
// type command. A type failure leaves the clipboard set and is logged,
// not returned.
func (c *Committer) Commit(ctx context.Context, transcript string) error {
	if transcript == "" {
		return nil
	}

	if c.config.ClipboardCmd.Configured() {
		clipboardCtx, clipboardCancel := context.WithTimeout(ctx, 2*time.Second)
		defer clipboardCancel()
		if err := runCommandWithInput(clipboardCtx, c.config.ClipboardCmd.Argv, transcript); err != nil {
			return fmt.Errorf("set clipboard: %w", err)
		}
	}

	if !c.config.TypeCmd.Configured() {
		return nil
	}

	typeCtx, typeCancel := context.WithTimeout(ctx, 5*time.Second)
	defer typeCancel()
	if err := runCommandWithInput(typeCtx, c.config.TypeCmd.Argv, transcript); err != nil {
		c.logTypeFailure(err)
	}
	return nil
}

// runCommandWithInput executes argv and optionally writes input to stdin.
func runCommandWithInput(ctx context.Context, argv []string, input string) error {
	if len(argv) == 0 {
		return fmt.Errorf("command argv cannot be empty")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open stdin for %s: %w", argv[0], err)
	}

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return fmt.Errorf("start command %s: %w", argv[0], err)
	}

	if input != "" {
		if _, err := stdin.Write([]byte(input)); err != nil {
			_ = stdin.Close()
			_ = cmd.Wait()
			return fmt.Errorf("write stdin for %s: %w", argv[0], err)
		}
	}
	_ = stdin.Close()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("wait for %s: %w", argv[0], err)
	}
	return nil
}

// logTypeFailure records typing errors while preserving clipboard success
// semantics.
func (c *Committer) logTypeFailure(err error) {
	if c.logger == nil || err == nil {
		return
	}
	c.logger.Error("type dispatch failed; clipboard remains set", "error", err.Error())
}
