package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	spoolcmder "github.com/papercomputeco/spool/cmd/spool"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := spoolcmder.NewSpoolCmd()
	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
