// Command echoes is the push-to-hold dictation daemon and its control
// CLI; subcommands either run the daemon or talk to a running one over
// the control socket.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sengokudaikon/echoes/internal/app"
)

func main() {
	os.Exit(run())
}

// run is split from main so deferred signal teardown happens before the
// process exit code is set.
func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return app.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
}
