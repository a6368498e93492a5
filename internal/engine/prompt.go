package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/magpie/internal/types"
)

// autonomousPreamble is prepended to every system prompt. Agent runs have
// no human in the loop, so the model must never wait for confirmation.
const autonomousPreamble = `You are an autonomous background agent. There is no human in the loop: never ask questions, never wait for confirmation, and never address a user. Work the task with your tools, then stop calling tools and summarize what you did. Prefer few, purposeful tool calls; every call is metered.`

// PromptBuilder assembles token-budgeted system and user prompts.
type PromptBuilder struct {
	tokenizer *tiktoken.Tiktoken
	budget    int
}

// NewPromptBuilder creates a builder whose user prompts stay within
// budget tokens. model selects the tokenizer, falling back to cl100k_base
// for unknown models.
func NewPromptBuilder(model string, budget int) (*PromptBuilder, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	if budget <= 0 {
		budget = 8000
	}
	return &PromptBuilder{tokenizer: enc, budget: budget}, nil
}

func (b *PromptBuilder) countTokens(text string) int {
	return len(b.tokenizer.Encode(text, nil, nil))
}

// System assembles the system prompt: template default (or override),
// then the fixed autonomous preamble, then the tool roster.
func (b *PromptBuilder) System(template *types.Template, override string, toolNames []string) string {
	var sb strings.Builder

	base := override
	if base == "" && template != nil {
		base = template.SystemPrompt
	}
	if base != "" {
		sb.WriteString(base)
		sb.WriteString("\n\n")
	}

	sb.WriteString(autonomousPreamble)
	fmt.Fprintf(&sb, "\n\nCurrent time: %s.", time.Now().Format(time.RFC3339))
	if len(toolNames) > 0 {
		fmt.Fprintf(&sb, " Available tools: %s.", strings.Join(toolNames, ", "))
	}
	return sb.String()
}

// User assembles the task-type-specific user prompt. Candidate and dedupe
// lists are truncated to the token budget so a large contact book can't
// blow the context window.
func (b *PromptBuilder) User(cfg TaskConfig, contacts []*types.Contact) string {
	switch c := cfg.(type) {
	case *SearchConfig:
		return b.searchPrompt(c, contacts)
	case *EnrichConfig:
		return b.enrichPrompt(c, contacts)
	case *PruneConfig:
		return b.prunePrompt(c, contacts)
	case *SequenceConfig:
		return b.sequencePrompt(c)
	case *AgentConfig:
		return c.Instruction
	default:
		return ""
	}
}

func (b *PromptBuilder) searchPrompt(cfg *SearchConfig, contacts []*types.Contact) string {
	var sb strings.Builder
	maxResults := cfg.MaxResults
	if maxResults == 0 {
		maxResults = 5
	}

	fmt.Fprintf(&sb, "Find up to %d new prospects matching: %s.", maxResults, cfg.Query)
	if cfg.Platform != "" {
		fmt.Fprintf(&sb, " Focus on %s.", cfg.Platform)
	}
	sb.WriteString(" Create a contact for each prospect you confirm.")

	// Dedupe list: names the agent must not re-create.
	var known []string
	for _, c := range contacts {
		if !c.Archived {
			known = append(known, c.Name)
		}
	}
	if len(known) > 0 {
		sb.WriteString("\n\nAlready known (do not create again):\n")
		sb.WriteString(b.joinWithinBudget(known, b.budget/2))
	}
	return sb.String()
}

func (b *PromptBuilder) enrichPrompt(cfg *EnrichConfig, contacts []*types.Contact) string {
	var sb strings.Builder
	sb.WriteString("Enrich the following contacts with missing details")
	if len(cfg.Fields) > 0 {
		fmt.Fprintf(&sb, " (focus on: %s)", strings.Join(cfg.Fields, ", "))
	}
	sb.WriteString(":\n")

	wanted := make(map[types.ContactID]bool, len(cfg.ContactIDs))
	for _, id := range cfg.ContactIDs {
		wanted[id] = true
	}
	var lines []string
	for _, c := range contacts {
		if wanted[c.ID] {
			lines = append(lines, describeContact(c))
		}
	}
	sb.WriteString(b.joinWithinBudget(lines, b.budget))
	return sb.String()
}

func (b *PromptBuilder) prunePrompt(cfg *PruneConfig, contacts []*types.Contact) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Review the contact list and archive entries matching: %s.", cfg.Criteria)
	if cfg.Limit > 0 {
		fmt.Fprintf(&sb, " Archive at most %d.", cfg.Limit)
	}
	sb.WriteString(" Leave everything else untouched.\n\nContacts:\n")

	var lines []string
	for _, c := range contacts {
		if !c.Archived {
			lines = append(lines, describeContact(c))
		}
	}
	sb.WriteString(b.joinWithinBudget(lines, b.budget))
	return sb.String()
}

func (b *PromptBuilder) sequencePrompt(cfg *SequenceConfig) string {
	var sb strings.Builder
	sb.WriteString("Execute this outreach sequence stage by stage, in order:\n")
	for i, stage := range cfg.Stages {
		fmt.Fprintf(&sb, "%d. [%s] %s", i+1, stage.Action, stage.Prompt)
		if stage.Targets > 0 {
			fmt.Fprintf(&sb, " (up to %d targets)", stage.Targets)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// joinWithinBudget joins lines until the token budget is spent, noting how
// many were omitted.
func (b *PromptBuilder) joinWithinBudget(lines []string, budget int) string {
	var sb strings.Builder
	used := 0
	included := 0
	for _, line := range lines {
		tokens := b.countTokens(line) + 1
		if used+tokens > budget {
			break
		}
		sb.WriteString("- ")
		sb.WriteString(line)
		sb.WriteString("\n")
		used += tokens
		included++
	}
	if omitted := len(lines) - included; omitted > 0 {
		fmt.Fprintf(&sb, "(and %d more not shown)\n", omitted)
	}
	return sb.String()
}

func describeContact(c *types.Contact) string {
	parts := []string{fmt.Sprintf("%s (id %s)", c.Name, c.ID)}
	if c.Email != "" {
		parts = append(parts, c.Email)
	}
	if c.Platform != "" && c.Handle != "" {
		parts = append(parts, c.Platform+":"+c.Handle)
	}
	if c.Notes != "" {
		parts = append(parts, Truncate(c.Notes, 120))
	}
	return strings.Join(parts, " | ")
}
