// Command flux operates a sharded state machine store.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/roach88/flux/internal/cli"
)

func main() {
	// Respect container CPU quotas.
	undo, _ := maxprocs.Set()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	undo()
	os.Exit(code)
}
