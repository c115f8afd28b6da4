package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"spacelink/cmd/spacelink/app"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "spacelink:", err)
		os.Exit(1)
	}
}
