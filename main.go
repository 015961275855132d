package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/evanofslack/cf-edge-sync/internal/cli"
)

// Set via ldflags during build.
var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cli.Execute(ctx, version); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}
