package router

import (
	"testing"

	"github.com/ralphloop/ralph/internal/config"
)

func testTable() (map[string]*config.AgentProfile, *config.AgentProfile) {
	eng := &config.AgentProfile{Name: "engineering", Label: "engineering"}
	docs := &config.AgentProfile{Name: "docs", Label: "documentation"}
	fallback := &config.AgentProfile{Name: "default"}
	return map[string]*config.AgentProfile{
		"engineering":   eng,
		"documentation": docs,
	}, fallback
}

func TestResolveNoLabels(t *testing.T) {
	table, fallback := testTable()

	res := Resolve(nil, table, fallback)
	if res.Profile != fallback {
		t.Errorf("expected fallback profile, got %v", res.Profile)
	}
	if res.FallbackReason != ReasonNoLabels {
		t.Errorf("reason = %q, want %q", res.FallbackReason, ReasonNoLabels)
	}
}

func TestResolveFirstMatchWins(t *testing.T) {
	table, fallback := testTable()

	res := Resolve([]string{"review-needed", "engineering"}, table, fallback)
	if res.Profile == fallback {
		t.Fatal("expected a routed profile")
	}
	if res.Profile.Name != "engineering" || res.MatchedLabel != "engineering" {
		t.Errorf("resolution = %+v", res)
	}
	if res.FallbackReason != "" {
		t.Errorf("matched resolution should have empty reason, got %q", res.FallbackReason)
	}
}

func TestResolveNoMatch(t *testing.T) {
	table, fallback := testTable()

	res := Resolve([]string{"triage", "urgent"}, table, fallback)
	if res.Profile != fallback {
		t.Errorf("expected fallback profile")
	}
	if res.FallbackReason != ReasonNoMatch {
		t.Errorf("reason = %q, want %q", res.FallbackReason, ReasonNoMatch)
	}
}

func TestResolveLabelOrderRespected(t *testing.T) {
	table, fallback := testTable()

	res := Resolve([]string{"documentation", "engineering"}, table, fallback)
	if res.MatchedLabel != "documentation" {
		t.Errorf("first label in task order should win, got %q", res.MatchedLabel)
	}
}

func TestExtraMatches(t *testing.T) {
	table, _ := testTable()

	extra := ExtraMatches([]string{"documentation", "triage", "engineering"}, table, "documentation")
	if len(extra) != 1 || extra[0] != "engineering" {
		t.Errorf("extra matches = %v, want [engineering]", extra)
	}
}
