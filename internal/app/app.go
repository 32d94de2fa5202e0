// Package app routes parsed CLI commands to the daemon or to the
// control socket of an already-running daemon.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sengokudaikon/echoes/internal/audio"
	"github.com/sengokudaikon/echoes/internal/cli"
	"github.com/sengokudaikon/echoes/internal/config"
	"github.com/sengokudaikon/echoes/internal/dispatch"
	"github.com/sengokudaikon/echoes/internal/doctor"
	"github.com/sengokudaikon/echoes/internal/ipc"
	"github.com/sengokudaikon/echoes/internal/logging"
	"github.com/sengokudaikon/echoes/internal/metrics"
	"github.com/sengokudaikon/echoes/internal/notify"
	"github.com/sengokudaikon/echoes/internal/output"
	"github.com/sengokudaikon/echoes/internal/pipeline"
	"github.com/sengokudaikon/echoes/internal/session"
	"github.com/sengokudaikon/echoes/internal/stt"
	"github.com/sengokudaikon/echoes/internal/version"
)

const forwardTimeout = 220 * time.Millisecond

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText("echoes"))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText("echoes"))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	// Pure client commands never touch config or logging setup.
	switch parsed.Command {
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandPress:
		return r.forwardOrFail(ctx, ipc.CommandPress)
	case cli.CommandRelease:
		return r.forwardOrFail(ctx, ipc.CommandRelease)
	case cli.CommandCancel:
		return r.forwardOrFail(ctx, ipc.CommandCancel)
	}

	logRuntime, err := logging.New(parsed.Debug)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("load config failed", "error", err.Error())
		return 1
	}
	for _, w := range cfgLoaded.Warnings {
		fmt.Fprintf(r.Stderr, "warning: %s\n", w.Message)
		logger.Warn("config warning", "message", w.Message)
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
	)

	switch parsed.Command {
	case cli.CommandDoctor:
		report := doctor.Run(cfgLoaded)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandRun:
		return r.commandRun(ctx, cfgLoaded.Config, logger)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

func (r Runner) commandDevices(ctx context.Context) int {
	devices, err := audio.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return 1
	}

	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		availability := "yes"
		if !device.Available {
			availability = "no"
		}
		muted := "no"
		if device.Muted {
			muted = "yes"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark,
			device.ID,
			device.Description,
			device.State,
			availability,
			muted,
		)
	}

	return 0
}

func (r Runner) commandStatus(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.CommandStatus)
	if handled {
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		if resp.State == "" {
			resp.State = "idle"
		}
		if resp.SessionID != "" {
			fmt.Fprintf(r.Stdout, "%s session=%s\n", resp.State, resp.SessionID)
		} else {
			fmt.Fprintln(r.Stdout, resp.State)
		}
		return 0
	}

	fmt.Fprintln(r.Stdout, "idle")
	return 0
}

func (r Runner) forwardOrFail(ctx context.Context, command ipc.Command) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, command)
	if !handled {
		fmt.Fprintf(r.Stderr, "error: echoes daemon is not running\n")
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

// commandRun owns the daemon lifecycle: socket, metrics listener,
// pipeline, and session controller. It blocks until ctx cancellation.
func (r Runner) commandRun(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	listener, err := ipc.Acquire(ctx, socketPath, ipc.AcquireOptions{
		ProbeTimeout: 180 * time.Millisecond,
		Retries:      8,
	})
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	m := metrics.New()
	if cfg.Metrics.Enable {
		metricsServer, err := m.Serve(cfg.Metrics.Bind, logger)
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: metrics listener: %v\n", err)
			return 1
		}
		defer func() { _ = metricsServer.Close() }()
	}

	provider, err := stt.New(cfg.STT)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	dispatcher := dispatch.New(provider, cfg.Dispatch, logger, m)
	engine := pipeline.NewEngine(cfg, logger, m)
	committer := output.NewCommitter(cfg.Output, logger)
	notifier := notify.New(cfg.Notify, logger)
	controller := session.NewController(cfg, logger, engine, dispatcher, committer, notifier, m)

	logger.Info("daemon started",
		"socket", socketPath,
		"provider", provider.Name(),
		"trigger_mode", cfg.Session.TriggerMode,
	)

	err = ipc.NewServer(controller, logger).Serve(ctx, listener)

	// Drain in-flight sessions before exiting so a transcript caught
	// mid-dispatch at shutdown is still committed.
	controller.Wait()
	dispatcher.Wait()

	if err != nil {
		fmt.Fprintf(r.Stderr, "error: ipc server failed: %v\n", err)
		logger.Error("daemon stopped", "error", err.Error())
		return 1
	}

	logger.Info("daemon stopped")
	return 0
}

func tryForward(ctx context.Context, socketPath string, command ipc.Command) (ipc.Response, bool, error) {
	resp, err := ipc.NewClient(socketPath, forwardTimeout).Do(ctx, command)
	if err == nil {
		if resp.OK {
			return resp, true, nil
		}
		return resp, true, errors.New(resp.Error)
	}

	if ipc.IsSocketMissing(err) || ipc.IsConnectionRefused(err) ||
		strings.Contains(err.Error(), "no such file or directory") {
		return ipc.Response{}, false, nil
	}

	return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", command, err)
}
