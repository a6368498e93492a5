package engine

import (
	"strings"
	"testing"

	"github.com/user/magpie/internal/types"
)

func newTestPrompts(t *testing.T, budget int) *PromptBuilder {
	t.Helper()
	b, err := NewPromptBuilder(DefaultModel, budget)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestSystemPrompt(t *testing.T) {
	b := newTestPrompts(t, 4000)
	tmpl := &types.Template{SystemPrompt: "You are a careful prospect researcher."}

	got := b.System(tmpl, "", []string{"web_search", "create_contact"})
	if !strings.Contains(got, "careful prospect researcher") {
		t.Error("template system prompt missing")
	}
	if !strings.Contains(got, "autonomous background agent") {
		t.Error("autonomous preamble missing")
	}
	if !strings.Contains(got, "web_search, create_contact") {
		t.Error("tool roster missing")
	}

	// Override replaces the template prompt.
	got = b.System(tmpl, "Custom instructions.", nil)
	if !strings.Contains(got, "Custom instructions.") {
		t.Error("override missing")
	}
	if strings.Contains(got, "careful prospect researcher") {
		t.Error("override should replace template prompt")
	}
}

func TestSearchPromptIncludesDedupeList(t *testing.T) {
	b := newTestPrompts(t, 4000)
	contacts := []*types.Contact{
		{ID: "c1", Name: "Ada Lovelace"},
		{ID: "c2", Name: "Grace Hopper", Archived: true},
	}

	got := b.User(&SearchConfig{Query: "compiler authors"}, contacts)
	if !strings.Contains(got, "compiler authors") {
		t.Error("query missing")
	}
	if !strings.Contains(got, "Ada Lovelace") {
		t.Error("known contact missing from dedupe list")
	}
	if strings.Contains(got, "Grace Hopper") {
		t.Error("archived contact should not appear in dedupe list")
	}
}

func TestEnrichPromptOnlySelectedContacts(t *testing.T) {
	b := newTestPrompts(t, 4000)
	contacts := []*types.Contact{
		{ID: "c1", Name: "Ada Lovelace", Email: "ada@example.com"},
		{ID: "c2", Name: "Grace Hopper"},
	}

	got := b.User(&EnrichConfig{ContactIDs: []types.ContactID{"c1"}, Fields: []string{"email", "handle"}}, contacts)
	if !strings.Contains(got, "Ada Lovelace") {
		t.Error("selected contact missing")
	}
	if strings.Contains(got, "Grace Hopper") {
		t.Error("unselected contact should not appear")
	}
	if !strings.Contains(got, "email, handle") {
		t.Error("focus fields missing")
	}
}

func TestPrunePromptTruncatesToBudget(t *testing.T) {
	b := newTestPrompts(t, 60)
	var contacts []*types.Contact
	for i := 0; i < 200; i++ {
		contacts = append(contacts, &types.Contact{
			ID:   types.NewContactID(),
			Name: "Contact With A Fairly Long Name To Spend Tokens",
		})
	}

	got := b.User(&PruneConfig{Criteria: "inactive"}, contacts)
	if !strings.Contains(got, "more not shown") {
		t.Error("expected truncation marker for oversized contact list")
	}
}

func TestSequencePromptOrdersStages(t *testing.T) {
	b := newTestPrompts(t, 4000)
	got := b.User(&SequenceConfig{Stages: []SequenceStage{
		{Action: "engage", Prompt: "like three recent posts", Targets: 3},
		{Action: "publish", Prompt: "post a thoughtful reply"},
	}}, nil)

	engageIdx := strings.Index(got, "[engage]")
	publishIdx := strings.Index(got, "[publish]")
	if engageIdx < 0 || publishIdx < 0 || engageIdx > publishIdx {
		t.Errorf("stages out of order:\n%s", got)
	}
	if !strings.Contains(got, "up to 3 targets") {
		t.Error("targets missing")
	}
}

func TestAgentPromptPassthrough(t *testing.T) {
	b := newTestPrompts(t, 4000)
	got := b.User(&AgentConfig{Instruction: "summarize the week"}, nil)
	if got != "summarize the week" {
		t.Errorf("got %q", got)
	}
}
