package tracker

// Status values used by the tracker.
const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusClosed     = "closed"
	StatusBlocked    = "blocked"
)

// Task is a full task record as returned by `bd show`.
type Task struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	AcceptanceCriteria string   `json:"acceptance_criteria"`
	Status             string   `json:"status"`
	ParentID           string   `json:"parent_id"`
	Labels             []string `json:"labels"`
	Dependencies       []string `json:"dependencies"`
}

// Summary is the abbreviated shape returned by list-style queries.
type Summary struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	ParentID string `json:"parent_id"`
}
