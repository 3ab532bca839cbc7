// Package main is the entry point for the ralph CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	// Signal-aware context for graceful shutdown: an interrupted run
	// kills the in-flight worker's process group and records nothing
	// further.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:   "ralph",
		Short: "Run agents against an epic's tasks until done",
		Long: `Ralph is an autonomous task-execution orchestrator: it repeatedly
selects the next unblocked task under an epic, routes it to an agent
profile by label, supervises the worker process to completion or
timeout, and updates tracker state and failure counters accordingly.`,
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		runCmd(ctx),
		delegateCmd(ctx),
		statusCmd(ctx),
		integrateCmd(ctx),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: ")+err.Error())
		os.Exit(1)
	}
}
