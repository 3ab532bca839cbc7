package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ralphloop/ralph/internal/agent"
	"github.com/ralphloop/ralph/internal/logs"
	"github.com/ralphloop/ralph/internal/loop"
	"github.com/ralphloop/ralph/internal/router"
	"github.com/ralphloop/ralph/internal/tracker"
)

func delegateCmd(ctx context.Context) *cobra.Command {
	var (
		configPath string
		repoDir    string
		trackerBin string
		timeout    time.Duration
		attempts   int
		delay      time.Duration
		factor     float64
		maxDelay   time.Duration
		noJitter   bool
	)

	cmd := &cobra.Command{
		Use:   "delegate <task-id>",
		Short: "Dispatch a single task with retries",
		Long: `Delegate one task to its routed agent profile, outside the execution
loop. Failed attempts are retried with exponential backoff and jitter;
tracker state is not modified.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID := args[0]

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			profiles, err := cfg.LoadProfiles()
			if err != nil {
				return err
			}

			client := tracker.New(trackerBin, repoDir)
			task, err := client.Show(ctx, taskID)
			if err != nil {
				return err
			}

			res := router.Resolve(task.Labels, profiles, cfg.FallbackProfile())
			profile := res.Profile

			guidance := ""
			if profile.Instructions != "" {
				data, err := readInstructions(profile.Instructions)
				if err != nil {
					cmd.Println(warningStyle.Render(fmt.Sprintf("warning: %v", err)))
				} else {
					guidance = data
				}
			}

			siblings, err := client.ListByParent(ctx, task.ParentID)
			if err != nil {
				return err
			}
			prompt := loop.BuildPrompt(task, guidance, siblings)

			logDir := cfg.LogDir
			if logDir == "" {
				logDir = logs.Dir(repoDir)
			}
			tlog, err := logs.Open(logDir, task.ID)
			if err != nil {
				return err
			}
			defer tlog.Close()

			kind := filepath.Base(profile.Worker.Command)
			inv := agent.Build(kind, profile, prompt, nil)

			runner := agent.NewRetryRunner(agent.RetryConfig{
				MaxAttempts:   attempts,
				InitialDelay:  delay,
				BackoffFactor: factor,
				MaxDelay:      maxDelay,
				Jitter:        !noJitter,
			})

			cmd.Printf("%s %s (%s) -> %s, log %s\n",
				dimStyle.Render("delegate"), task.ID, task.Title, profile.Name, tlog.Path())

			attempt, err := runner.Run(ctx, kind, inv, tlog, agent.RunOptions{
				Timeout: timeout,
				Dir:     repoDir,
			})
			if err != nil {
				return err
			}
			if attempt == nil || attempt.Outcome != agent.OutcomeSuccess {
				outcome := "no attempt completed"
				if attempt != nil {
					outcome = fmt.Sprintf("%s (exit %d) after %d attempts", attempt.Outcome, attempt.ExitCode, attempt.Number)
				}
				return fmt.Errorf("delegation of %s failed: %s", task.ID, outcome)
			}

			cmd.Println(successStyle.Render(fmt.Sprintf("done %s on attempt %d in %s",
				task.ID, attempt.Number, attempt.FinishedAt.Sub(attempt.StartedAt).Round(time.Second))))
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "project config file (default .ralph/config.json)")
	cmd.Flags().StringVar(&repoDir, "repo", "", "working directory for the dispatched worker")
	cmd.Flags().StringVar(&trackerBin, "bd", "bd", "issue tracker binary")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Hour, "per-attempt timeout")
	cmd.Flags().IntVar(&attempts, "attempts", 3, "maximum attempts")
	cmd.Flags().DurationVar(&delay, "delay", time.Second, "initial retry delay")
	cmd.Flags().Float64Var(&factor, "backoff", 1.5, "backoff multiplier")
	cmd.Flags().DurationVar(&maxDelay, "max-delay", 30*time.Second, "retry delay cap")
	cmd.Flags().BoolVar(&noJitter, "no-jitter", false, "disable retry delay jitter")

	return cmd
}

func readInstructions(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read instructions %s: %w", path, err)
	}
	return string(data), nil
}
