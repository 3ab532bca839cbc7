package loop

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ralphloop/ralph/internal/taskid"
	"github.com/ralphloop/ralph/internal/tracker"
)

// maxSiblingContext bounds how many sibling tasks appear in the prompt.
const maxSiblingContext = 10

// statusPriority orders sibling context so in-flight and still-open work
// appears before already-settled tasks.
var statusPriority = map[string]int{
	tracker.StatusInProgress: 0,
	tracker.StatusOpen:       1,
	tracker.StatusBlocked:    2,
	tracker.StatusClosed:     3,
}

// BuildPrompt assembles the worker prompt: task description, acceptance
// criteria, role guidance, and bounded sibling context for the enclosing
// epic.
func BuildPrompt(task *tracker.Task, guidance string, siblings []tracker.Summary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Task %s: %s\n\n", task.ID, task.Title)
	if task.Description != "" {
		b.WriteString(task.Description)
		b.WriteString("\n")
	}

	if task.AcceptanceCriteria != "" {
		b.WriteString("\n## Acceptance criteria\n\n")
		b.WriteString(task.AcceptanceCriteria)
		b.WriteString("\n")
	}

	if guidance != "" {
		b.WriteString("\n## Role guidance\n\n")
		b.WriteString(guidance)
		b.WriteString("\n")
	}

	context := siblingContext(task.ID, siblings)
	if len(context) > 0 {
		b.WriteString("\n## Sibling tasks\n\n")
		shown := context
		if len(shown) > maxSiblingContext {
			shown = shown[:maxSiblingContext]
		}
		for _, s := range shown {
			fmt.Fprintf(&b, "- [%s] %s: %s\n", s.Status, s.ID, s.Title)
		}
		if remainder := len(context) - len(shown); remainder > 0 {
			fmt.Fprintf(&b, "(and %d more)\n", remainder)
		}
	}

	return b.String()
}

// siblingContext filters out the task itself and orders the rest by
// status priority, then hierarchical id.
func siblingContext(taskID string, siblings []tracker.Summary) []tracker.Summary {
	var out []tracker.Summary
	for _, s := range siblings {
		if s.ID == taskID {
			continue
		}
		out = append(out, s)
	}

	sort.Slice(out, func(i, j int) bool {
		pi, pj := priorityOf(out[i].Status), priorityOf(out[j].Status)
		if pi != pj {
			return pi < pj
		}
		return taskid.Less(out[i].ID, out[j].ID)
	})
	return out
}

func priorityOf(status string) int {
	if p, ok := statusPriority[status]; ok {
		return p
	}
	// Unknown statuses sort last.
	return len(statusPriority)
}
