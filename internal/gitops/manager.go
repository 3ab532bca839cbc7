// Package gitops automates the branch, rebase, and merge operations that
// integrate parallel agent workstreams. It drives the system git binary;
// every operation is gated on a clean working tree and no failure path
// leaves the repository dirty.
package gitops

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Manager runs git operations against one repository.
type Manager struct {
	repoPath string
}

// New creates a manager for the repository at repoPath.
func New(repoPath string) *Manager {
	return &Manager{repoPath: repoPath}
}

// git runs a git command in the repository, returning combined output.
func (m *Manager) git(args ...string) (string, error) {
	return m.gitEnv(nil, args...)
}

func (m *Manager) gitEnv(extraEnv []string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = m.repoPath
	if len(extraEnv) > 0 {
		cmd.Env = append(os.Environ(), extraEnv...)
	}
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("git %s failed: %w (output: %s)",
			strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

// ensureClean fails when the working tree has uncommitted changes.
// Destructive operations never proceed on a dirty tree.
func (m *Manager) ensureClean() error {
	out, err := m.git("status", "--porcelain")
	if err != nil {
		return err
	}
	if strings.TrimSpace(out) != "" {
		return fmt.Errorf("working tree has uncommitted changes, refusing to proceed")
	}
	return nil
}

func (m *Manager) branchExists(name string) bool {
	_, err := m.git("rev-parse", "--verify", "refs/heads/"+name)
	return err == nil
}

func (m *Manager) hasRemote() bool {
	_, err := m.git("remote", "get-url", "origin")
	return err == nil
}

// pull updates the current branch from origin when a remote exists.
func (m *Manager) pull() error {
	if !m.hasRemote() {
		return nil
	}
	_, err := m.git("pull", "--ff-only")
	return err
}

// CreateHubBranch creates an integration branch off base. It fails if
// the branch already exists.
func (m *Manager) CreateHubBranch(name, base string, push bool) error {
	if err := m.ensureClean(); err != nil {
		return err
	}
	if m.branchExists(name) {
		return fmt.Errorf("hub branch %q already exists", name)
	}
	if _, err := m.git("checkout", base); err != nil {
		return err
	}
	if err := m.pull(); err != nil {
		return err
	}
	if _, err := m.git("checkout", "-b", name); err != nil {
		return err
	}
	if push {
		if _, err := m.git("push", "-u", "origin", name); err != nil {
			return err
		}
	}
	return nil
}

// CheckoutFeatureBranch checks out an existing feature branch (pulling
// latest) or creates it off base.
func (m *Manager) CheckoutFeatureBranch(name, base string, push bool) error {
	if err := m.ensureClean(); err != nil {
		return err
	}
	if _, err := m.git("checkout", base); err != nil {
		return err
	}
	if err := m.pull(); err != nil {
		return err
	}

	if m.branchExists(name) {
		if _, err := m.git("checkout", name); err != nil {
			return err
		}
		return m.pull()
	}

	if _, err := m.git("checkout", "-b", name); err != nil {
		return err
	}
	if push {
		if _, err := m.git("push", "-u", "origin", name); err != nil {
			return err
		}
	}
	return nil
}

// Rebase rebases branch onto the given base, resolving conflicts by the
// configured strategy. Conflict resolution is an iterative loop with a
// single shrinking budget: each pass resolves the currently conflicted
// files, continues the rebase, and repeats until clean or the budget is
// exhausted. Any abort path runs `git rebase --abort`, returning the
// repository to its pre-rebase state.
func (m *Manager) Rebase(branch, onto string, opts RebaseOptions) (*RebaseResult, error) {
	if err := m.ensureClean(); err != nil {
		return nil, err
	}
	if _, err := m.git("checkout", branch); err != nil {
		return nil, err
	}
	if err := m.pull(); err != nil {
		return nil, err
	}

	if _, err := m.git("rebase", onto); err == nil {
		return &RebaseResult{Success: true}, nil
	}

	strategy := opts.Strategy
	if strategy == "" {
		strategy = StrategyTheirs
	}

	budget := opts.MaxConflicts
	var resolved []ConflictRecord
	firstPass := true

	for {
		files, err := m.conflictedFiles()
		if err != nil {
			return m.abortRebase(resolved, err.Error()), nil
		}
		if len(files) == 0 {
			// Rebase stopped without unmerged paths: not a conflict we
			// can resolve mechanically.
			return m.abortRebase(resolved, "rebase stopped without resolvable conflicts"), nil
		}

		if firstPass && opts.AbortOnComplex && len(files) > opts.MaxConflicts {
			result := m.abortRebase(nil, fmt.Sprintf("%d conflicted files exceed limit %d", len(files), opts.MaxConflicts))
			for _, f := range files {
				result.Conflicts = append(result.Conflicts, ConflictRecord{File: f, Strategy: "manual"})
			}
			return result, nil
		}
		if len(files) > budget {
			return m.abortRebase(resolved, fmt.Sprintf("conflict budget exhausted (%d files remain, budget %d)", len(files), budget)), nil
		}

		for _, f := range files {
			if _, err := m.git("checkout", "--"+string(strategy), "--", f); err != nil {
				return m.abortRebase(resolved, err.Error()), nil
			}
			if _, err := m.git("add", "--", f); err != nil {
				return m.abortRebase(resolved, err.Error()), nil
			}
			resolved = append(resolved, ConflictRecord{File: f, Strategy: string(strategy)})
		}
		budget -= len(files)
		firstPass = false

		out, err := m.gitEnv([]string{"GIT_EDITOR=true"}, "rebase", "--continue")
		if err == nil {
			return &RebaseResult{Success: true, Conflicts: resolved}, nil
		}

		// Resolving by "ours" can empty the replayed commit; skip it and
		// let the loop re-check for remaining conflicts.
		if strings.Contains(out, "No changes") || strings.Contains(out, "nothing to commit") {
			if _, err := m.gitEnv([]string{"GIT_EDITOR=true"}, "rebase", "--skip"); err == nil {
				return &RebaseResult{Success: true, Conflicts: resolved}, nil
			}
		}
	}
}

// conflictedFiles lists unmerged paths in the working tree.
func (m *Manager) conflictedFiles() ([]string, error) {
	out, err := m.git("diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// abortRebase aborts the in-progress rebase and builds the failed result.
func (m *Manager) abortRebase(resolved []ConflictRecord, reason string) *RebaseResult {
	if _, err := m.git("rebase", "--abort"); err != nil {
		reason = fmt.Sprintf("%s (abort also failed: %v)", reason, err)
	}
	return &RebaseResult{Aborted: true, Conflicts: resolved, Err: reason}
}

// ForcePushWithLease pushes branch with --force-with-lease, refusing if
// the remote moved since the last fetch. A bare force push is never used.
func (m *Manager) ForcePushWithLease(branch string) error {
	_, err := m.git("push", "--force-with-lease", "origin", branch)
	return err
}

// Merge merges source into target with a merge commit. On conflict the
// merge is aborted and the error names the conflicted files instead of
// the raw tool output.
func (m *Manager) Merge(source, target, message string) error {
	if err := m.ensureClean(); err != nil {
		return err
	}
	if _, err := m.git("checkout", target); err != nil {
		return err
	}
	if err := m.pull(); err != nil {
		return err
	}

	if _, err := m.git("merge", "--no-ff", "-m", message, source); err != nil {
		conflicts := m.statusConflicts()
		if len(conflicts) > 0 {
			// Leave the tree clean before reporting.
			_, _ = m.git("merge", "--abort")
			return fmt.Errorf("merge of %s into %s conflicts in: %s", source, target, strings.Join(conflicts, ", "))
		}
		return fmt.Errorf("merge of %s into %s failed: %w", source, target, err)
	}
	return nil
}

// statusConflicts extracts conflicted paths from porcelain status.
func (m *Manager) statusConflicts() []string {
	out, err := m.git("status", "--porcelain")
	if err != nil {
		return nil
	}
	var conflicts []string
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		code := line[:2]
		switch code {
		case "UU", "AA", "DD", "AU", "UA", "DU", "UD":
			conflicts = append(conflicts, strings.TrimSpace(line[3:]))
		}
	}
	return conflicts
}
