// Command clover compiles flat per-entity JSON exports into nested documents.
//
// Exit codes:
//
//	0  No Error diagnostics (warnings may be present)
//	1  One or more Error diagnostics, nothing was published
//	2  Usage error or unexpected failure
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
