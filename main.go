// ./main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/KASPER94/browser-use-llm/cmd"
)

// main is the entry point for the browser-use-llm CLI.
func main() {
	// Ctrl+C cancels the command context; recordings in progress are still saved.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		if ctx.Err() != nil {
			os.Exit(130)
		}
		os.Exit(1)
	}
}
