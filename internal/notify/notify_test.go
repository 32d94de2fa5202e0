package notify

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sengokudaikon/echoes/internal/config"
)

func TestNewDisabledReturnsNop(t *testing.T) {
	n := New(config.NotifyConfig{Enable: false, Command: "notify-send"}, nil)
	require.IsType(t, Nop{}, n)

	n = New(config.NotifyConfig{Enable: true, Command: "  "}, nil)
	require.IsType(t, Nop{}, n)
}

func TestNewEnabledReturnsCommand(t *testing.T) {
	n := New(config.NotifyConfig{Enable: true, Command: "notify-send"}, nil)
	require.IsType(t, &Command{}, n)
}

func TestCommandSendsSummaryAndBody(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "args.txt")
	script := filepath.Join(dir, "fake-notify.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/usr/bin/env bash\nprintf '%s\\n' \"$@\" > "+outPath+"\n"), 0o755))

	n := New(config.NotifyConfig{Enable: true, Command: script}, nil)
	n.Done(context.Background(), "hello world")

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(outPath)
		return err == nil && len(data) > 0
	}, 2*time.Second, 10*time.Millisecond)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.Contains(t, string(data), "--app-name=echoes")
	require.Contains(t, string(data), "Transcript ready")
	require.Contains(t, string(data), "hello world")
}

func TestCommandFailureDoesNotPanic(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	n := New(config.NotifyConfig{Enable: true, Command: "/nonexistent/notify-send"}, logger)
	n.Error(context.Background(), "boom")
	// The send goroutine logs and exits; nothing to assert beyond no panic.
	time.Sleep(50 * time.Millisecond)
}

func TestNopIsSilent(t *testing.T) {
	var n Notifier = Nop{}
	ctx := context.Background()
	n.Recording(ctx)
	n.Transcribing(ctx)
	n.Done(ctx, "text")
	n.Cancelled(ctx)
	n.Error(ctx, "err")
}
