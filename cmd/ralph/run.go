package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/ralphloop/ralph/internal/config"
	"github.com/ralphloop/ralph/internal/events"
	"github.com/ralphloop/ralph/internal/logs"
	"github.com/ralphloop/ralph/internal/loop"
	"github.com/ralphloop/ralph/internal/metadata"
	"github.com/ralphloop/ralph/internal/notify"
	"github.com/ralphloop/ralph/internal/tracker"
)

func runCmd(ctx context.Context) *cobra.Command {
	var (
		epicID        string
		configPath    string
		maxIterations int
		repoDir       string
		trackerBin    string
		timeout       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run --epic <id>",
		Short: "Execute the epic's ready tasks until done",
		Long: `Run the execution loop against an epic: per iteration the next ready
task is selected in plan order, dispatched to its agent profile, and its
outcome recorded. The run stops when the epic is blocked or closed, no
ready tasks remain, or the iteration limit is reached. Exit code 0 means
graceful completion, including "no more ready tasks".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if maxIterations > 0 {
				cfg.MaxIterations = maxIterations
			}

			profiles, err := cfg.LoadProfiles()
			if err != nil {
				return err
			}

			store, err := metadata.Open(ctx, cfg.TrackerDB)
			if err != nil {
				return err
			}
			defer store.Close()

			client := tracker.New(trackerBin, repoDir)
			bus := events.NewBus()
			defer bus.Close()

			logDir := cfg.LogDir
			if logDir == "" {
				logDir = logs.Dir(repoDir)
			}

			l := loop.New(client, store, profiles, cfg.FallbackProfile(), bus, loop.Options{
				EpicID:        epicID,
				MaxIterations: cfg.MaxIterations,
				Timeout:       timeout,
				LogDir:        logDir,
				RepoDir:       repoDir,
			})

			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				printEvents(cmd, bus.SubscribeAll(0))
			}()

			res, err := l.Run(ctx)
			bus.Close()
			wg.Wait()

			if res != nil {
				notify.New(cfg.NotifyCommand).Send(context.WithoutCancel(ctx), res.Summary())
				cmd.Println(infoStyle.Render(res.Summary()))
			}
			return err
		},
	}

	cmd.Flags().StringVar(&epicID, "epic", "", "epic id to run against (required)")
	cmd.Flags().StringVar(&configPath, "config", "", "project config file (default .ralph/config.json)")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "override the configured iteration limit")
	cmd.Flags().StringVar(&repoDir, "repo", "", "working directory for dispatched workers")
	cmd.Flags().StringVar(&trackerBin, "bd", "bd", "issue tracker binary")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Hour, "per-task dispatch timeout")
	cmd.MarkFlagRequired("epic")

	return cmd
}

// printEvents renders loop lifecycle events until the bus closes.
func printEvents(cmd *cobra.Command, ch <-chan events.Event) {
	for ev := range ch {
		switch e := ev.(type) {
		case events.TaskDispatchedEvent:
			cmd.Printf("%s %s (%s) -> %s\n", dimStyle.Render("dispatch"), e.ID, e.Title, e.Profile)
		case events.TaskSucceededEvent:
			cmd.Println(successStyle.Render(fmt.Sprintf("done     %s in %s", e.ID, e.Duration.Round(time.Second))))
		case events.TaskFailedEvent:
			cmd.Println(warningStyle.Render(fmt.Sprintf("failed   %s (%s, exit %d), failure %d/%d",
				e.ID, e.Outcome, e.ExitCode, e.FailureCount, loop.FailureThreshold)))
		case events.TaskBlockedEvent:
			cmd.Println(errorStyle.Render(fmt.Sprintf("blocked  %s after %d failures", e.ID, e.FailureCount)))
		}
	}
}

// loadConfig merges global and project configuration, honoring an
// explicit project path.
func loadConfig(projectPath string) (*config.Config, error) {
	if projectPath == "" {
		return config.LoadDefault()
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}
	return config.Load(filepath.Join(homeDir, ".ralph", "config.json"), projectPath)
}
