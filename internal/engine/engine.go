package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/user/magpie/internal/browser"
	"github.com/user/magpie/internal/types"
	"github.com/user/magpie/pkg/llm"
)

// DefaultMaxSteps bounds the number of model rounds per run. Hitting the
// cap is a normal terminal outcome, not a failure.
const DefaultMaxSteps = 20

// SyncFunc runs one platform sync stream and returns the number of items
// synced. The dispatcher wires this to the syncer so sync runs bypass the
// model loop entirely.
type SyncFunc func(ctx context.Context, accountID types.AccountID, dataType string) (int, error)

// Engine executes workflow runs: it drives the bounded agent loop for
// model-backed workflows and delegates sync workflows to the syncer.
type Engine struct {
	provider     llm.Provider
	runs         types.RunStore
	steps        types.StepStore
	contacts     types.ContactStore
	templates    types.TemplateStore
	registry     *Registry
	prompts      *PromptBuilder
	maxSteps     int
	defaultModel string
	syncFn       SyncFunc
}

// New creates an Engine with the given dependencies. maxSteps <= 0 selects
// DefaultMaxSteps.
func New(
	provider llm.Provider,
	runs types.RunStore,
	steps types.StepStore,
	contacts types.ContactStore,
	templates types.TemplateStore,
	registry *Registry,
	prompts *PromptBuilder,
	maxSteps int,
) *Engine {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	return &Engine{
		provider:     provider,
		runs:         runs,
		steps:        steps,
		contacts:     contacts,
		templates:    templates,
		registry:     registry,
		prompts:      prompts,
		maxSteps:     maxSteps,
		defaultModel: DefaultModel,
	}
}

// SetDefaultModel overrides the model used when neither the run nor its
// template names one.
func (e *Engine) SetDefaultModel(model string) {
	if model != "" {
		e.defaultModel = model
	}
}

// SetSyncRunner wires the sync delegate. Without it, sync runs fail.
func (e *Engine) SetSyncRunner(fn SyncFunc) {
	e.syncFn = fn
}

// runState is the mutable in-flight state of one executing run. The run
// record itself is only touched through the store; tokens and counters
// accumulate here and are flushed at finalization.
type runState struct {
	run          *types.WorkflowRun
	recorder     *Recorder
	model        string
	inputTokens  int
	outputTokens int
	finalized    bool
}

// Execute runs a single workflow run to a terminal status. It returns an
// error only when the run could not be loaded or started; execution
// failures are recorded on the run itself.
func (e *Engine) Execute(ctx context.Context, runID types.RunID) error {
	run, err := e.runs.Get(ctx, runID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	if run.Status.Terminal() {
		return nil
	}
	if !run.Status.CanTransition(types.RunRunning) {
		return fmt.Errorf("run %s is %s, cannot start", runID, run.Status)
	}

	now := time.Now()
	run, err = e.runs.Update(ctx, runID, func(r *types.WorkflowRun) {
		r.Status = types.RunRunning
		r.StartedAt = &now
	})
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}

	st := &runState{
		run:      run,
		recorder: NewRecorder(e.steps, runID),
		model:    e.resolveModel(ctx, run),
	}

	// A panic in a tool or the loop must still leave the run terminal,
	// exactly once.
	defer func() {
		if r := recover(); r != nil {
			slog.Error("run panicked", "run_id", string(runID), "panic", r)
			st.recorder.RecordError(ctx, fmt.Sprintf("panic: %v", r))
			e.finalize(ctx, st, types.RunFailed, fmt.Sprintf("panic: %v", r), "")
		}
	}()

	cfg, err := ParseTaskConfig(run.Type, run.Config)
	if err != nil {
		st.recorder.RecordError(ctx, err.Error())
		e.finalize(ctx, st, types.RunFailed, err.Error(), "")
		return nil
	}

	if sync, ok := cfg.(*SyncConfig); ok {
		e.executeSync(ctx, st, sync)
		return nil
	}

	e.executeLoop(ctx, st, cfg)
	return nil
}

// executeSync delegates a sync run to the syncer and records the outcome.
func (e *Engine) executeSync(ctx context.Context, st *runState, cfg *SyncConfig) {
	if e.syncFn == nil {
		e.finalize(ctx, st, types.RunFailed, "no sync runner configured", "")
		return
	}
	items, err := e.syncFn(ctx, cfg.AccountID, cfg.DataType)
	if err != nil {
		st.recorder.RecordError(ctx, err.Error())
		e.finalize(ctx, st, types.RunFailed, err.Error(), "")
		return
	}
	e.runs.Update(ctx, st.run.ID, func(r *types.WorkflowRun) {
		r.TotalItems = items
		r.SuccessItems = items
		r.ProcessedItems = items
	})
	e.finalize(ctx, st, types.RunCompleted, "", fmt.Sprintf("synced %d %s items", items, cfg.DataType))
}

// executeLoop drives the bounded model/tool loop for one run.
func (e *Engine) executeLoop(ctx context.Context, st *runState, cfg TaskConfig) {
	contacts := e.loadContacts(ctx, cfg)
	template := e.loadTemplate(ctx, st.run.TemplateID)

	messages := []llm.Message{
		{Role: "system", Content: e.prompts.System(template, st.run.SystemPrompt, e.registry.Names())},
		{Role: "user", Content: e.prompts.User(cfg, contacts)},
	}
	tools := e.registry.AsLLMTools()

	maxSteps := e.maxSteps
	if st.run.MaxSteps > 0 {
		maxSteps = st.run.MaxSteps
	}

	for round := 0; round < maxSteps; round++ {
		if err := ctx.Err(); err != nil {
			e.finalize(ctx, st, types.RunCancelled, "cancelled: "+err.Error(), "")
			return
		}

		resp, err := e.provider.Complete(ctx, &llm.Request{
			Model:    st.model,
			Messages: messages,
			Tools:    tools,
		})
		if err != nil {
			st.recorder.RecordError(ctx, fmt.Sprintf("model call: %v", err))
			e.finalize(ctx, st, types.RunFailed, fmt.Sprintf("model call: %v", err), "")
			return
		}
		st.inputTokens += resp.Usage.InputTokens
		st.outputTokens += resp.Usage.OutputTokens
		e.flushUsage(ctx, st)

		if len(resp.ToolCalls) == 0 {
			// Final text answer, run is done.
			e.finalizeFromCounters(ctx, st, resp.Content)
			return
		}

		if resp.Content != "" {
			input, _ := json.Marshal(map[string]string{"text": Truncate(resp.Content, maxErrorChars)})
			st.recorder.Record(ctx, &types.WorkflowStep{
				Type:   types.StepThinking,
				Status: types.StepCompleted,
				Input:  input,
			})
		}

		messages = append(messages, llm.Message{
			Role:    "assistant",
			Content: resp.Content,
			Tools:   resp.ToolCalls,
		})

		for _, tc := range resp.ToolCalls {
			result, challenge := e.executeTool(ctx, st, tc)
			messages = append(messages, llm.Message{
				Role:    "tool",
				Content: result,
				Tools:   []llm.ToolCall{{ID: tc.ID}},
			})
			if challenge != nil {
				e.finalize(ctx, st, types.RunFailed, challenge.Error(), "")
				return
			}
		}
	}

	// Step budget exhausted: a bounded stop, not an error.
	e.finalizeFromCounters(ctx, st, fmt.Sprintf("stopped after %d rounds (step budget)", maxSteps))
}

// executeTool validates and executes one tool call, records its ledger
// step, and returns the textual result to feed back to the model. A
// challenge response aborts the run; it is returned separately because it
// must never be retried.
func (e *Engine) executeTool(ctx context.Context, st *runState, tc llm.ToolCall) (string, *browser.ChallengeError) {
	name := tc.Function.Name
	tool, ok := e.registry.Get(name)
	if !ok {
		msg := fmt.Sprintf("error: unknown tool %q", name)
		st.recorder.RecordError(ctx, msg)
		return msg, nil
	}
	if err := e.registry.ValidateArgs(name, tc.Function.Arguments); err != nil {
		msg := "error: " + err.Error()
		st.recorder.RecordError(ctx, Truncate(err.Error(), maxErrorChars))
		return msg, nil
	}

	call := &ToolCall{
		RunID:    st.run.ID,
		Args:     tc.Function.Arguments,
		Recorder: st.recorder,
	}
	start := time.Now()
	result, execErr := tool.Execute(ctx, call)
	duration := time.Since(start).Milliseconds()

	step := &types.WorkflowStep{
		Type:       tool.StepType(),
		Status:     types.StepCompleted,
		ContactID:  call.ContactID,
		Input:      tc.Function.Arguments,
		DurationMS: duration,
	}

	var skip *Skip
	var challenge *browser.ChallengeError
	switch {
	case execErr == nil:
		step.Output, _ = json.Marshal(map[string]string{"result": Truncate(result, maxErrorChars)})
		st.recorder.Record(ctx, step)
		return result, nil

	case errors.As(execErr, &skip):
		step.Status = types.StepSkipped
		step.Error = skip.Reason
		if skip.Result != "" {
			step.Output, _ = json.Marshal(map[string]string{"result": Truncate(skip.Result, maxErrorChars)})
		}
		st.recorder.Record(ctx, step)
		if skip.Result != "" {
			return skip.Result, nil
		}
		return "skipped: " + skip.Reason, nil

	case errors.As(execErr, &challenge):
		step.Type = types.StepError
		step.Status = types.StepFailed
		step.Error = Truncate(name+": "+execErr.Error(), maxErrorChars)
		st.recorder.Record(ctx, step)
		return "error: " + execErr.Error(), challenge

	default:
		// Failed calls land as error-type steps; a tool's own step type
		// is reserved for work that actually happened.
		step.Type = types.StepError
		step.Status = types.StepFailed
		step.Error = Truncate(name+": "+execErr.Error(), maxErrorChars)
		st.recorder.Record(ctx, step)
		return "error: " + execErr.Error(), nil
	}
}

// actionSteps are ledger step types that count as processed work items.
var actionSteps = map[types.StepType]bool{
	types.StepContactCreate:  true,
	types.StepContactEnrich:  true,
	types.StepContactArchive: true,
	types.StepPostEngage:     true,
	types.StepPostPublish:    true,
	types.StepDraftSave:      true,
}

// finalizeFromCounters derives the run's item counters from its ledger
// slice and finalizes. A run whose actions all failed is a failed run;
// one with partial errors completes with errors recorded.
func (e *Engine) finalizeFromCounters(ctx context.Context, st *runState, summary string) {
	var success, skipped, errored int
	steps, err := e.steps.ListByRun(ctx, st.run.ID)
	if err != nil {
		slog.Warn("ledger read failed at finalize", "run_id", string(st.run.ID), "error", err)
	}
	var errs []string
	for _, s := range steps {
		switch {
		case actionSteps[s.Type] && s.Status == types.StepCompleted:
			success++
		case s.Status == types.StepSkipped:
			skipped++
		case s.Type == types.StepError || s.Status == types.StepFailed:
			errored++
			if s.Error != "" {
				errs = append(errs, s.Error)
			}
		}
	}

	status := types.RunCompleted
	if success == 0 && errored > 0 {
		status = types.RunFailed
	}

	e.runs.Update(ctx, st.run.ID, func(r *types.WorkflowRun) {
		r.TotalItems = success + skipped + errored
		r.ProcessedItems = success + skipped + errored
		r.SuccessItems = success
		r.SkippedItems = skipped
		r.ErrorItems = errored
		r.Errors = errs
	})
	if status == types.RunCompleted && st.run.Type == types.WorkflowPrune {
		summary = pruneSummary(steps, summary)
	}
	e.finalize(ctx, st, status, "", summary)
}

// finalize moves the run to its terminal status exactly once, flushing
// token usage and cost. Errors here are logged; the run loop never blocks
// on ledger durability.
func (e *Engine) finalize(ctx context.Context, st *runState, status types.RunStatus, runErr, summary string) {
	if st.finalized {
		return
	}
	st.finalized = true

	now := time.Now()
	_, err := e.runs.Update(ctx, st.run.ID, func(r *types.WorkflowRun) {
		if r.Status.Terminal() {
			return
		}
		if !r.Status.CanTransition(status) {
			slog.Warn("illegal run transition", "run_id", string(r.ID), "from", string(r.Status), "to", string(status))
			return
		}
		r.Status = status
		r.CompletedAt = &now
		r.InputTokens = st.inputTokens
		r.OutputTokens = st.outputTokens
		r.CostUSD = Cost(st.model, st.inputTokens, st.outputTokens)
		if runErr != "" {
			r.Errors = append(r.Errors, Truncate(runErr, maxErrorChars))
			if status == types.RunFailed && r.ErrorItems == 0 {
				r.ErrorItems = 1
				if r.ProcessedItems == 0 {
					r.TotalItems = 1
					r.ProcessedItems = 1
				}
			}
		}
		if summary != "" {
			r.Result, _ = json.Marshal(map[string]string{"summary": summary})
		}
	})
	if err != nil {
		slog.Error("finalize run failed", "run_id", string(st.run.ID), "status", string(status), "error", err)
	}
}

// flushUsage persists accumulated token counts mid-run so an interrupted
// run still shows what it spent.
func (e *Engine) flushUsage(ctx context.Context, st *runState) {
	_, err := e.runs.Update(ctx, st.run.ID, func(r *types.WorkflowRun) {
		r.InputTokens = st.inputTokens
		r.OutputTokens = st.outputTokens
		r.CostUSD = Cost(st.model, st.inputTokens, st.outputTokens)
	})
	if err != nil {
		slog.Warn("usage flush failed", "run_id", string(st.run.ID), "error", err)
	}
}

// resolveModel picks the run's model, then the template's, then the
// engine default.
func (e *Engine) resolveModel(ctx context.Context, run *types.WorkflowRun) string {
	if run.Model != "" {
		return run.Model
	}
	if run.TemplateID != "" {
		if tmpl, err := e.templates.Get(ctx, run.TemplateID); err == nil && tmpl.Model != "" {
			return tmpl.Model
		}
	}
	return e.defaultModel
}

// loadContacts fetches the contact book for workflow types whose prompts
// include it. Load failures degrade to an empty list.
func (e *Engine) loadContacts(ctx context.Context, cfg TaskConfig) []*types.Contact {
	switch cfg.(type) {
	case *SearchConfig, *EnrichConfig, *PruneConfig:
	default:
		return nil
	}
	contacts, err := e.contacts.List(ctx)
	if err != nil {
		slog.Warn("contact list load failed", "error", err)
		return nil
	}
	return contacts
}

func (e *Engine) loadTemplate(ctx context.Context, id types.TemplateID) *types.Template {
	if id == "" {
		return nil
	}
	tmpl, err := e.templates.Get(ctx, id)
	if err != nil {
		slog.Warn("template load failed", "template_id", string(id), "error", err)
		return nil
	}
	return tmpl
}
