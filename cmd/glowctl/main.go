package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"github.com/glowlink-io/glowlink/cmd/glowctl/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.NewGlowctlCommand(ctx).Execute(); err != nil {
		os.Exit(1)
	}
}
