// Package router resolves which agent profile handles a task, driven by
// the task's tracker labels.
package router

import (
	"github.com/ralphloop/ralph/internal/config"
)

// Fallback reasons. An empty reason means a label matched.
const (
	ReasonNoLabels = "no_labels"
	ReasonNoMatch  = "no_match"
)

// Resolution is the routing outcome for one task.
type Resolution struct {
	Profile        *config.AgentProfile
	MatchedLabel   string
	Labels         []string
	FallbackReason string
}

// Resolve scans the task's labels in their existing order and returns
// the profile for the first label present in the routing table. Tasks
// with no labels, or none matching, get the fallback profile with the
// corresponding reason. Multiple matching labels are not an error; only
// the first match is used and callers should log the ambiguity.
func Resolve(labels []string, table map[string]*config.AgentProfile, fallback *config.AgentProfile) Resolution {
	if len(labels) == 0 {
		return Resolution{Profile: fallback, FallbackReason: ReasonNoLabels}
	}

	for _, label := range labels {
		if profile, ok := table[label]; ok {
			return Resolution{Profile: profile, MatchedLabel: label, Labels: labels}
		}
	}

	return Resolution{Profile: fallback, Labels: labels, FallbackReason: ReasonNoMatch}
}

// ExtraMatches returns labels beyond the first that also match the
// table, for ambiguity logging.
func ExtraMatches(labels []string, table map[string]*config.AgentProfile, matched string) []string {
	var extra []string
	seen := false
	for _, label := range labels {
		if _, ok := table[label]; !ok {
			continue
		}
		if !seen && label == matched {
			seen = true
			continue
		}
		extra = append(extra, label)
	}
	return extra
}
