// Package notify surfaces recording state to the desktop.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/sengokudaikon/echoes/internal/config"
)

// Notifier is the session-facing notification contract. Implementations
// must never block the session loop on a slow desktop.
type Notifier interface {
	Recording(context.Context)
	Transcribing(context.Context)
	Done(ctx context.Context, transcript string)
	Cancelled(context.Context)
	Error(ctx context.Context, text string)
}

// New returns the configured notifier, or a no-op when disabled.
func New(cfg config.NotifyConfig, logger *slog.Logger) Notifier {
	if !cfg.Enable || strings.TrimSpace(cfg.Command) == "" {
		return Nop{}
	}
	return &Command{command: cfg.Command, logger: logger}
}

// Nop silently drops every notification.
type Nop struct{}

func (Nop) Recording(context.Context)     {}
func (Nop) Transcribing(context.Context)  {}
func (Nop) Done(context.Context, string)  {}
func (Nop) Cancelled(context.Context)     {}
func (Nop) Error(context.Context, string) {}

// Command shells out to a notify-send compatible binary.
type Command struct {
	command string
	logger  *slog.Logger
}

func (c *Command) Recording(ctx context.Context) {
	c.send(ctx, "Recording", "Listening...")
}

func (c *Command) Transcribing(ctx context.Context) {
	c.send(ctx, "Transcribing", "Processing speech...")
}

func (c *Command) Done(ctx context.Context, transcript string) {
	body := transcript
	if len(body) > 120 {
		body = body[:120] + "..."
	}
	c.send(ctx, "Transcript ready", body)
}

func (c *Command) Cancelled(ctx context.Context) {
	c.send(ctx, "Recording cancelled", "")
}

func (c *Command) Error(ctx context.Context, text string) {
	if text == "" {
		text = "transcription failed"
	}
	c.send(ctx, "Dictation error", text)
}

// send runs the notification command asynchronously; failures are logged
// and never propagate.
func (c *Command) send(ctx context.Context, summary, body string) {
	go func() {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()

		args := []string{"--app-name=echoes", summary}
		if body != "" {
			args = append(args, body)
		}
		out, err := exec.CommandContext(runCtx, c.command, args...).CombinedOutput()
		if err != nil && c.logger != nil {
			detail := strings.TrimSpace(string(out))
			if detail == "" {
				detail = err.Error()
			} else {
				detail = fmt.Sprintf("%v (%s)", err, detail)
			}
			c.logger.Warn("desktop notification failed", "summary", summary, "error", detail)
		}
	}()
}
