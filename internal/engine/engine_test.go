package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/user/magpie/internal/browser"
	"github.com/user/magpie/internal/state"
	"github.com/user/magpie/internal/types"
	"github.com/user/magpie/pkg/llm"
)

// mockProvider returns pre-configured responses in order.
type mockProvider struct {
	mu        sync.Mutex
	responses []*llm.Response
	callCount int
}

func (m *mockProvider) Complete(_ context.Context, _ *llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.callCount
	m.callCount++
	if idx < len(m.responses) {
		return m.responses[idx], nil
	}
	return &llm.Response{Content: "done"}, nil
}

func (m *mockProvider) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// stubTool is a scripted tool for loop tests.
type stubTool struct {
	name     string
	stepType types.StepType
	fn       func(ctx context.Context, call *ToolCall) (string, error)
}

func (s *stubTool) Name() string             { return s.name }
func (s *stubTool) Description() string      { return "test tool " + s.name }
func (s *stubTool) StepType() types.StepType { return s.stepType }
func (s *stubTool) Parameters() json.RawMessage {
	return json.RawMessage(`{"type":"object"}`)
}
func (s *stubTool) Execute(ctx context.Context, call *ToolCall) (string, error) {
	return s.fn(ctx, call)
}

type testEnv struct {
	engine *Engine
	runs   *state.RunStore
	steps  *state.StepStore
}

func newTestEnv(t *testing.T, provider llm.Provider, maxSteps int, tools ...Tool) *testEnv {
	t.Helper()
	dir := t.TempDir()
	runs := state.NewRunStore(dir)
	steps := state.NewStepStore(dir)
	contacts := state.NewContactStore(dir)
	templates := state.NewTemplateStore(dir)

	registry := NewRegistry()
	for _, tool := range tools {
		registry.Register(tool)
	}

	prompts, err := NewPromptBuilder(DefaultModel, 4000)
	if err != nil {
		t.Fatal(err)
	}

	return &testEnv{
		engine: New(provider, runs, steps, contacts, templates, registry, prompts, maxSteps),
		runs:   runs,
		steps:  steps,
	}
}

func (env *testEnv) createRun(t *testing.T, wt types.WorkflowType, config string) types.RunID {
	t.Helper()
	run := &types.WorkflowRun{
		ID:      types.NewRunID(),
		Type:    wt,
		Status:  types.RunPending,
		Trigger: types.TriggerUser,
		Config:  json.RawMessage(config),
	}
	if err := env.runs.Create(context.Background(), run); err != nil {
		t.Fatal(err)
	}
	return run.ID
}

func toolCall(id, name, args string) llm.ToolCall {
	return llm.ToolCall{
		ID:   id,
		Type: "function",
		Function: llm.FunctionCall{
			Name:      name,
			Arguments: json.RawMessage(args),
		},
	}
}

func TestExecuteCreatesContacts(t *testing.T) {
	var calls []string
	create := &stubTool{
		name:     "create_contact",
		stepType: types.StepContactCreate,
		fn: func(_ context.Context, call *ToolCall) (string, error) {
			calls = append(calls, string(call.Args))
			return "created", nil
		},
	}

	round1 := &llm.Response{Usage: llm.Usage{InputTokens: 100, OutputTokens: 50}}
	for i := 0; i < 5; i++ {
		round1.ToolCalls = append(round1.ToolCalls, toolCall("tc", "create_contact", `{}`))
	}
	provider := &mockProvider{responses: []*llm.Response{
		round1,
		{Content: "created 5 prospects", Usage: llm.Usage{InputTokens: 200, OutputTokens: 20}},
	}}

	env := newTestEnv(t, provider, 10, create)
	id := env.createRun(t, types.WorkflowSearch, `{"query":"golang founders"}`)

	if err := env.engine.Execute(context.Background(), id); err != nil {
		t.Fatal(err)
	}

	run, err := env.runs.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != types.RunCompleted {
		t.Fatalf("status = %s, want completed", run.Status)
	}
	if run.SuccessItems != 5 {
		t.Errorf("success items = %d, want 5", run.SuccessItems)
	}
	if run.ErrorItems != 0 {
		t.Errorf("error items = %d, want 0", run.ErrorItems)
	}
	if len(calls) != 5 {
		t.Errorf("tool executed %d times, want 5", len(calls))
	}
	if run.InputTokens != 300 || run.OutputTokens != 70 {
		t.Errorf("usage = %d/%d, want 300/70", run.InputTokens, run.OutputTokens)
	}
	if run.CostUSD <= 0 {
		t.Errorf("cost = %f, want > 0", run.CostUSD)
	}
	if run.StartedAt == nil || run.CompletedAt == nil {
		t.Error("started/completed timestamps not set")
	}

	steps, err := env.steps.ListByRun(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	var created int
	for _, s := range steps {
		if s.Type == types.StepContactCreate && s.Status == types.StepCompleted {
			created++
		}
	}
	if created != 5 {
		t.Errorf("contact_create steps = %d, want 5", created)
	}
}

func TestExecuteLoneToolErrorFailsRun(t *testing.T) {
	fetch := &stubTool{
		name:     "fetch_url",
		stepType: types.StepToolCall,
		fn: func(context.Context, *ToolCall) (string, error) {
			return "", errors.New("connection refused")
		},
	}
	provider := &mockProvider{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{toolCall("tc1", "fetch_url", `{}`)}},
		{Content: "could not reach the page"},
	}}

	env := newTestEnv(t, provider, 10, fetch)
	id := env.createRun(t, types.WorkflowAgent, `{"instruction":"summarize example.com"}`)

	if err := env.engine.Execute(context.Background(), id); err != nil {
		t.Fatal(err)
	}

	run, _ := env.runs.Get(context.Background(), id)
	if run.Status != types.RunFailed {
		t.Fatalf("status = %s, want failed", run.Status)
	}
	if run.ErrorItems != 1 {
		t.Errorf("error items = %d, want 1", run.ErrorItems)
	}
	if run.SuccessItems != 0 {
		t.Errorf("success items = %d, want 0", run.SuccessItems)
	}
	if len(run.Errors) == 0 || !strings.Contains(run.Errors[0], "connection refused") {
		t.Errorf("run errors = %v, want connection refused", run.Errors)
	}

	steps, _ := env.steps.ListByRun(context.Background(), id)
	var errorSteps int
	for _, s := range steps {
		if s.Type == types.StepError {
			errorSteps++
			if !strings.Contains(s.Error, "fetch_url") {
				t.Errorf("error step should name the tool: %q", s.Error)
			}
		}
	}
	if errorSteps != 1 {
		t.Errorf("error-type steps = %d, want exactly 1", errorSteps)
	}
}

func TestExecuteToolErrorLoopContinues(t *testing.T) {
	var attempt int
	create := &stubTool{
		name:     "create_contact",
		stepType: types.StepContactCreate,
		fn: func(context.Context, *ToolCall) (string, error) {
			attempt++
			if attempt == 1 {
				return "", errors.New("transient upstream error")
			}
			return "created", nil
		},
	}
	provider := &mockProvider{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{toolCall("tc1", "create_contact", `{}`)}},
		{ToolCalls: []llm.ToolCall{toolCall("tc2", "create_contact", `{}`)}},
		{Content: "done after retry"},
	}}

	env := newTestEnv(t, provider, 10, create)
	id := env.createRun(t, types.WorkflowAgent, `{"instruction":"add the contact"}`)

	if err := env.engine.Execute(context.Background(), id); err != nil {
		t.Fatal(err)
	}

	run, _ := env.runs.Get(context.Background(), id)
	if run.Status != types.RunCompleted {
		t.Fatalf("status = %s, want completed", run.Status)
	}
	if run.SuccessItems != 1 || run.ErrorItems != 1 {
		t.Errorf("success/error = %d/%d, want 1/1", run.SuccessItems, run.ErrorItems)
	}
	if provider.calls() != 3 {
		t.Errorf("provider calls = %d, want 3", provider.calls())
	}
}

func TestExecuteSkippedDuplicate(t *testing.T) {
	create := &stubTool{
		name:     "create_contact",
		stepType: types.StepContactCreate,
		fn: func(context.Context, *ToolCall) (string, error) {
			return "", &Skip{Reason: "duplicate", Result: "contact already exists: abc"}
		},
	}
	provider := &mockProvider{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{toolCall("tc1", "create_contact", `{}`)}},
		{Content: "nothing new to add"},
	}}

	env := newTestEnv(t, provider, 10, create)
	id := env.createRun(t, types.WorkflowSearch, `{"query":"ceo"}`)

	if err := env.engine.Execute(context.Background(), id); err != nil {
		t.Fatal(err)
	}

	run, _ := env.runs.Get(context.Background(), id)
	if run.Status != types.RunCompleted {
		t.Fatalf("status = %s, want completed", run.Status)
	}
	if run.SkippedItems != 1 {
		t.Errorf("skipped items = %d, want 1", run.SkippedItems)
	}
	if run.ErrorItems != 0 {
		t.Errorf("error items = %d, want 0", run.ErrorItems)
	}

	steps, _ := env.steps.ListByRun(context.Background(), id)
	var found bool
	for _, s := range steps {
		if s.Type == types.StepContactCreate && s.Status == types.StepSkipped && s.Error == "duplicate" {
			found = true
		}
	}
	if !found {
		t.Error("expected a skipped contact_create step with reason duplicate")
	}
}

func TestExecuteStepBudgetExhaustion(t *testing.T) {
	echo := &stubTool{
		name:     "web_search",
		stepType: types.StepToolCall,
		fn: func(context.Context, *ToolCall) (string, error) {
			return "results", nil
		},
	}
	responses := make([]*llm.Response, 10)
	for i := range responses {
		responses[i] = &llm.Response{ToolCalls: []llm.ToolCall{toolCall("tc", "web_search", `{}`)}}
	}
	provider := &mockProvider{responses: responses}

	env := newTestEnv(t, provider, 3, echo)
	id := env.createRun(t, types.WorkflowAgent, `{"instruction":"research forever"}`)

	if err := env.engine.Execute(context.Background(), id); err != nil {
		t.Fatal(err)
	}

	run, _ := env.runs.Get(context.Background(), id)
	if run.Status != types.RunCompleted {
		t.Fatalf("status = %s, want completed (budget stop is not a failure)", run.Status)
	}
	if provider.calls() != 3 {
		t.Errorf("provider calls = %d, want 3", provider.calls())
	}
	if !strings.Contains(string(run.Result), "step budget") {
		t.Errorf("result = %s, want step budget note", run.Result)
	}
}

func TestExecuteChallengeAbortsRun(t *testing.T) {
	scrape := &stubTool{
		name:     "scrape_page",
		stepType: types.StepToolCall,
		fn: func(context.Context, *ToolCall) (string, error) {
			return "", &browser.ChallengeError{Platform: "linkedin", URL: "https://www.linkedin.com/checkpoint/1", Indicator: "checkpoint"}
		},
	}
	provider := &mockProvider{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{
			toolCall("tc1", "scrape_page", `{}`),
			toolCall("tc2", "scrape_page", `{}`),
		}},
	}}

	env := newTestEnv(t, provider, 10, scrape)
	id := env.createRun(t, types.WorkflowAgent, `{"instruction":"scrape profiles"}`)

	if err := env.engine.Execute(context.Background(), id); err != nil {
		t.Fatal(err)
	}

	run, _ := env.runs.Get(context.Background(), id)
	if run.Status != types.RunFailed {
		t.Fatalf("status = %s, want failed", run.Status)
	}
	// Challenge aborts the batch: the second tool call never runs and the
	// model is not consulted again.
	if provider.calls() != 1 {
		t.Errorf("provider calls = %d, want 1", provider.calls())
	}

	steps, _ := env.steps.ListByRun(context.Background(), id)
	var failed int
	for _, s := range steps {
		if s.Status == types.StepFailed {
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("failed steps = %d, want 1", failed)
	}
}

func TestExecuteInvalidConfigFails(t *testing.T) {
	provider := &mockProvider{}
	env := newTestEnv(t, provider, 10)
	id := env.createRun(t, types.WorkflowSearch, `{"platform":"x"}`) // missing query

	if err := env.engine.Execute(context.Background(), id); err != nil {
		t.Fatal(err)
	}

	run, _ := env.runs.Get(context.Background(), id)
	if run.Status != types.RunFailed {
		t.Fatalf("status = %s, want failed", run.Status)
	}
	if provider.calls() != 0 {
		t.Errorf("provider calls = %d, want 0", provider.calls())
	}
}

func TestExecuteSyncDelegates(t *testing.T) {
	provider := &mockProvider{}
	env := newTestEnv(t, provider, 10)
	env.engine.SetSyncRunner(func(_ context.Context, accountID types.AccountID, dataType string) (int, error) {
		if accountID != "acct-1" || dataType != "posts" {
			t.Errorf("sync called with %s/%s", accountID, dataType)
		}
		return 42, nil
	})

	id := env.createRun(t, types.WorkflowSync, `{"account_id":"acct-1","data_type":"posts"}`)
	if err := env.engine.Execute(context.Background(), id); err != nil {
		t.Fatal(err)
	}

	run, _ := env.runs.Get(context.Background(), id)
	if run.Status != types.RunCompleted {
		t.Fatalf("status = %s, want completed", run.Status)
	}
	if run.SuccessItems != 42 {
		t.Errorf("success items = %d, want 42", run.SuccessItems)
	}
	if provider.calls() != 0 {
		t.Errorf("provider calls = %d, want 0", provider.calls())
	}
}

func TestExecuteTerminalRunIsNoop(t *testing.T) {
	provider := &mockProvider{}
	env := newTestEnv(t, provider, 10)
	id := env.createRun(t, types.WorkflowAgent, `{"instruction":"x"}`)

	if _, err := env.runs.Update(context.Background(), id, func(r *types.WorkflowRun) {
		r.Status = types.RunCancelled
	}); err != nil {
		t.Fatal(err)
	}

	if err := env.engine.Execute(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	if provider.calls() != 0 {
		t.Errorf("provider calls = %d, want 0", provider.calls())
	}
	run, _ := env.runs.Get(context.Background(), id)
	if run.Status != types.RunCancelled {
		t.Errorf("status = %s, want cancelled unchanged", run.Status)
	}
}

// captureProvider records each request and ends the run immediately.
type captureProvider struct {
	mu       sync.Mutex
	requests []*llm.Request
}

func (c *captureProvider) Complete(_ context.Context, req *llm.Request) (*llm.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	return &llm.Response{Content: "done"}, nil
}

func TestExecuteRunMaxStepsOverride(t *testing.T) {
	echo := &stubTool{
		name:     "web_search",
		stepType: types.StepToolCall,
		fn: func(context.Context, *ToolCall) (string, error) {
			return "results", nil
		},
	}
	responses := make([]*llm.Response, 10)
	for i := range responses {
		responses[i] = &llm.Response{ToolCalls: []llm.ToolCall{toolCall("tc", "web_search", `{}`)}}
	}
	provider := &mockProvider{responses: responses}

	env := newTestEnv(t, provider, 10, echo)
	run := &types.WorkflowRun{
		ID:       types.NewRunID(),
		Type:     types.WorkflowAgent,
		Status:   types.RunPending,
		Trigger:  types.TriggerUser,
		Config:   json.RawMessage(`{"instruction":"research forever"}`),
		MaxSteps: 2,
	}
	if err := env.runs.Create(context.Background(), run); err != nil {
		t.Fatal(err)
	}

	if err := env.engine.Execute(context.Background(), run.ID); err != nil {
		t.Fatal(err)
	}

	// The run's own cap wins over the engine-wide one.
	if provider.calls() != 2 {
		t.Errorf("provider calls = %d, want 2", provider.calls())
	}
	final, _ := env.runs.Get(context.Background(), run.ID)
	if !strings.Contains(string(final.Result), "stopped after 2") {
		t.Errorf("result = %s, want per-run budget note", final.Result)
	}
}

func TestExecuteSystemPromptOverride(t *testing.T) {
	provider := &captureProvider{}
	env := newTestEnv(t, provider, 10)

	run := &types.WorkflowRun{
		ID:           types.NewRunID(),
		Type:         types.WorkflowAgent,
		Status:       types.RunPending,
		Trigger:      types.TriggerUser,
		Config:       json.RawMessage(`{"instruction":"x"}`),
		SystemPrompt: "You are a terse research assistant for the growth team.",
	}
	if err := env.runs.Create(context.Background(), run); err != nil {
		t.Fatal(err)
	}

	if err := env.engine.Execute(context.Background(), run.ID); err != nil {
		t.Fatal(err)
	}

	if len(provider.requests) == 0 {
		t.Fatal("provider never called")
	}
	system := provider.requests[0].Messages[0]
	if system.Role != "system" {
		t.Fatalf("first message role = %s, want system", system.Role)
	}
	if !strings.Contains(system.Content, "terse research assistant") {
		t.Errorf("system prompt missing the per-run override: %q", system.Content)
	}
}
