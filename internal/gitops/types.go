package gitops

// ConflictStrategy selects which side wins when resolving a conflicted
// file during rebase.
type ConflictStrategy string

const (
	// StrategyTheirs takes the version from the commits being replayed.
	StrategyTheirs ConflictStrategy = "theirs"
	// StrategyOurs takes the version from the new base.
	StrategyOurs ConflictStrategy = "ours"
)

// ConflictRecord names one conflicted file and how it was handled.
type ConflictRecord struct {
	File     string
	Strategy string // resolution strategy, or "manual" when left unresolved
}

// RebaseResult is the outcome of one rebase invocation. It is built per
// call and discarded after the caller acts on it.
type RebaseResult struct {
	Success   bool
	Conflicts []ConflictRecord
	Aborted   bool
	Err       string
}

// RebaseOptions configures conflict handling.
type RebaseOptions struct {
	Strategy       ConflictStrategy
	MaxConflicts   int  // total conflict budget across resolve passes
	AbortOnComplex bool // abort immediately if the first pass exceeds MaxConflicts
}
