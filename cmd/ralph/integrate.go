package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ralphloop/ralph/internal/gitops"
)

func integrateCmd(ctx context.Context) *cobra.Command {
	var (
		repoDir        string
		onto           string
		strategy       string
		maxConflicts   int
		abortOnComplex bool
		push           bool
		merge          bool
		message        string
	)

	cmd := &cobra.Command{
		Use:   "integrate <feature-branch>",
		Short: "Rebase a feature branch onto the hub branch",
		Long: `Integrate a parallel workstream: rebase the feature branch onto the
hub branch, resolving conflicts by strategy, then optionally
force-push-with-lease and merge it back. Aborted rebases leave the
repository on its pre-rebase state.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			branch := args[0]
			m := gitops.New(repoDir)

			result, err := m.Rebase(branch, onto, gitops.RebaseOptions{
				Strategy:       gitops.ConflictStrategy(strategy),
				MaxConflicts:   maxConflicts,
				AbortOnComplex: abortOnComplex,
			})
			if err != nil {
				return err
			}
			if result.Aborted {
				cmd.Println(warningStyle.Render(fmt.Sprintf(
					"rebase of %s aborted: %d conflicts exceed the limit of %d",
					branch, len(result.Conflicts), maxConflicts)))
				for _, c := range result.Conflicts {
					cmd.Printf("  %s (%s)\n", c.File, c.Strategy)
				}
				return fmt.Errorf("rebase aborted, manual resolution required")
			}

			if len(result.Conflicts) > 0 {
				cmd.Println(infoStyle.Render(fmt.Sprintf("resolved %d conflicts by %q", len(result.Conflicts), strategy)))
				for _, c := range result.Conflicts {
					cmd.Printf("  %s\n", c.File)
				}
			}

			if push {
				if err := m.ForcePushWithLease(branch); err != nil {
					return err
				}
				cmd.Println(dimStyle.Render("pushed " + branch + " with lease"))
			}

			if merge {
				msg := message
				if msg == "" {
					msg = fmt.Sprintf("integrate %s into %s", branch, onto)
				}
				if err := m.Merge(branch, onto, msg); err != nil {
					return err
				}
				cmd.Println(successStyle.Render(fmt.Sprintf("merged %s into %s", branch, onto)))
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&repoDir, "repo", ".", "git repository path")
	cmd.Flags().StringVar(&onto, "onto", "main", "hub branch to rebase onto")
	cmd.Flags().StringVar(&strategy, "strategy", string(gitops.StrategyTheirs), "conflict resolution strategy (theirs or ours)")
	cmd.Flags().IntVar(&maxConflicts, "max-conflicts", 10, "conflict budget before aborting")
	cmd.Flags().BoolVar(&abortOnComplex, "abort-on-complex", true, "abort when the first conflict set exceeds the budget")
	cmd.Flags().BoolVar(&push, "push", false, "force-push the rebased branch with lease")
	cmd.Flags().BoolVar(&merge, "merge", false, "merge the branch into the hub branch after rebasing")
	cmd.Flags().StringVar(&message, "message", "", "merge commit message")

	return cmd
}
