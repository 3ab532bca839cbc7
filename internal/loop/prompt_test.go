package loop

import (
	"fmt"
	"strings"
	"testing"

	"github.com/ralphloop/ralph/internal/tracker"
)

func TestBuildPromptSections(t *testing.T) {
	task := &tracker.Task{
		ID:                 "epic.3",
		Title:              "Add parser",
		Description:        "Parse the input format.",
		AcceptanceCriteria: "All fixtures pass.",
	}
	siblings := []tracker.Summary{
		{ID: "epic.1", Title: "Scaffold", Status: tracker.StatusClosed},
		{ID: "epic.2", Title: "Schema", Status: tracker.StatusOpen},
		{ID: "epic.3", Title: "Add parser", Status: tracker.StatusInProgress},
	}

	prompt := BuildPrompt(task, "Follow the style guide.", siblings)

	for _, want := range []string{
		"# Task epic.3: Add parser",
		"Parse the input format.",
		"## Acceptance criteria",
		"All fixtures pass.",
		"## Role guidance",
		"Follow the style guide.",
		"## Sibling tasks",
		"[open] epic.2: Schema",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}

	// The task itself is not its own sibling.
	if strings.Contains(prompt, "[in_progress] epic.3") {
		t.Errorf("prompt lists the task as its own sibling:\n%s", prompt)
	}
}

func TestBuildPromptOmitsEmptySections(t *testing.T) {
	task := &tracker.Task{ID: "epic.1", Title: "Bare"}

	prompt := BuildPrompt(task, "", nil)

	if strings.Contains(prompt, "## Acceptance criteria") {
		t.Error("empty acceptance criteria should be omitted")
	}
	if strings.Contains(prompt, "## Role guidance") {
		t.Error("empty guidance should be omitted")
	}
	if strings.Contains(prompt, "## Sibling tasks") {
		t.Error("empty sibling context should be omitted")
	}
}

func TestSiblingContextOrdering(t *testing.T) {
	siblings := []tracker.Summary{
		{ID: "epic.5", Status: tracker.StatusClosed},
		{ID: "epic.10", Status: tracker.StatusOpen},
		{ID: "epic.2", Status: tracker.StatusOpen},
		{ID: "epic.7", Status: tracker.StatusInProgress},
		{ID: "epic.4", Status: tracker.StatusBlocked},
	}

	out := siblingContext("epic.1", siblings)

	var got []string
	for _, s := range out {
		got = append(got, s.ID)
	}
	// Status priority (in_progress, open, blocked, closed), then
	// hierarchical id within a status.
	want := []string{"epic.7", "epic.2", "epic.10", "epic.4", "epic.5"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestBuildPromptTruncatesSiblings(t *testing.T) {
	task := &tracker.Task{ID: "epic.0", Title: "Head"}
	var siblings []tracker.Summary
	for i := 1; i <= 15; i++ {
		siblings = append(siblings, tracker.Summary{
			ID:     fmt.Sprintf("epic.%d", i),
			Title:  fmt.Sprintf("Task %d", i),
			Status: tracker.StatusOpen,
		})
	}

	prompt := BuildPrompt(task, "", siblings)

	if !strings.Contains(prompt, "(and 5 more)") {
		t.Errorf("prompt missing remainder count:\n%s", prompt)
	}
	if strings.Contains(prompt, "epic.11:") {
		t.Errorf("prompt should truncate after %d siblings:\n%s", maxSiblingContext, prompt)
	}
}
