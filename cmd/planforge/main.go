package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/planforge/planforge/internal/cmd"
	"github.com/planforge/planforge/internal/exitcode"
)

func main() {
	// Signal-aware context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		if ctx.Err() == context.Canceled {
			fmt.Fprintln(os.Stderr, "\nOperation cancelled by user")
			exitcode.Exit(exitcode.Aborted)
		}

		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		exitcode.Exit(exitcode.FromError(err))
	}
	exitcode.Exit(exitcode.Success)
}
