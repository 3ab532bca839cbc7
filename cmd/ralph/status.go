package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ralphloop/ralph/internal/tracker"
)

func statusCmd(ctx context.Context) *cobra.Command {
	var (
		wantStatus string
		wantLabel  string
		repoDir    string
		trackerBin string
	)

	cmd := &cobra.Command{
		Use:   "status <task-id>",
		Short: "Check whether a task matches a status or label",
		Long: `Check a task against an expected status and/or label, for use in
scripts and CI gates. Exits 0 on a match, 1 on a mismatch, and 2 on a
usage or lookup error.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			taskID := args[0]

			if wantStatus == "" && wantLabel == "" {
				fmt.Fprintln(os.Stderr, errorStyle.Render("error: ")+"at least one of --status or --label is required")
				os.Exit(2)
			}

			client := tracker.New(trackerBin, repoDir)
			task, err := client.Show(ctx, taskID)
			if err != nil {
				fmt.Fprintln(os.Stderr, errorStyle.Render("error: ")+err.Error())
				os.Exit(2)
			}

			matched := true
			if wantStatus != "" && task.Status != wantStatus {
				matched = false
			}
			if wantLabel != "" && !hasLabel(task, wantLabel) {
				matched = false
			}

			line := fmt.Sprintf("%s [%s] %s", task.ID, task.Status, task.Title)
			if matched {
				cmd.Println(successStyle.Render(line))
				os.Exit(0)
			}
			cmd.Println(warningStyle.Render(line))
			os.Exit(1)
		},
	}

	cmd.Flags().StringVar(&wantStatus, "status", "", "expected status (open, in_progress, closed, blocked)")
	cmd.Flags().StringVar(&wantLabel, "label", "", "expected label")
	cmd.Flags().StringVar(&repoDir, "repo", "", "tracker working directory")
	cmd.Flags().StringVar(&trackerBin, "bd", "bd", "issue tracker binary")

	return cmd
}

func hasLabel(task *tracker.Task, label string) bool {
	for _, l := range task.Labels {
		if l == label {
			return true
		}
	}
	return false
}
