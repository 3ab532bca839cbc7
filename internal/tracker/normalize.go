package tracker

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ErrShape is returned when tracker output is JSON but not a recognized
// task shape. The message carries a truncated preview of the raw output
// because that output is the only diagnostic signal in an unattended run.
type ErrShape struct {
	Preview string
	Reason  string
}

func (e *ErrShape) Error() string {
	return fmt.Sprintf("unexpected tracker output shape (%s): %s", e.Reason, e.Preview)
}

const previewLimit = 200

func preview(raw []byte) string {
	s := string(bytes.TrimSpace(raw))
	if len(s) > previewLimit {
		return s[:previewLimit] + "..."
	}
	return s
}

// decodeTask normalizes the two shapes `bd show` produces: a single JSON
// object or a one-element array wrapping it. Every call site goes through
// this adapter rather than probing the shape itself.
func decodeTask(raw []byte) (*Task, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, &ErrShape{Preview: "", Reason: "empty output"}
	}

	switch trimmed[0] {
	case '{':
		var task Task
		if err := json.Unmarshal(trimmed, &task); err != nil {
			return nil, &ErrShape{Preview: preview(raw), Reason: err.Error()}
		}
		return &task, nil
	case '[':
		var tasks []Task
		if err := json.Unmarshal(trimmed, &tasks); err != nil {
			return nil, &ErrShape{Preview: preview(raw), Reason: err.Error()}
		}
		if len(tasks) == 0 {
			return nil, &ErrShape{Preview: preview(raw), Reason: "empty array"}
		}
		return &tasks[0], nil
	default:
		return nil, &ErrShape{Preview: preview(raw), Reason: "not a JSON object or array"}
	}
}

// decodeSummaries parses a list query result. Empty or non-JSON output is
// "no data", not an error: some tracker commands print nothing when there
// is nothing to report.
func decodeSummaries(raw []byte) []Summary {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil
	}
	var out []Summary
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return nil
	}
	return out
}
