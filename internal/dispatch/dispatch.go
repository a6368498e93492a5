package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/user/magpie/internal/types"
)

// ErrTemplateDisabled is returned when a run names a template whose owner
// has switched it off.
var ErrTemplateDisabled = errors.New("template is disabled")

// ExecuteFunc runs one workflow run to a terminal status.
type ExecuteFunc func(ctx context.Context, runID types.RunID) error

// CompletionHook observes a run after it reaches a terminal status. Hooks
// are best-effort; they must not fail the run.
type CompletionHook func(ctx context.Context, run *types.WorkflowRun)

// StartRequest describes a run to start.
type StartRequest struct {
	// TemplateName selects a stored template; its type, config, model, and
	// account become the run's defaults.
	TemplateName string
	Type         types.WorkflowType
	Trigger      types.Trigger
	Config       json.RawMessage
	Model        string
	// SystemPrompt replaces the template's system prompt for this run.
	SystemPrompt string
	// MaxSteps caps this run's model rounds; 0 uses the engine default.
	MaxSteps int
}

// Dispatcher creates run records and routes their execution through the
// queue.
type Dispatcher struct {
	runs      types.RunStore
	templates types.TemplateStore
	queue     *Queue
	execute   ExecuteFunc
	retry     *RetryPolicy
	hooks     []CompletionHook
}

// New creates a Dispatcher and installs itself as the queue's processor.
func New(runs types.RunStore, templates types.TemplateStore, queue *Queue, execute ExecuteFunc) *Dispatcher {
	d := &Dispatcher{
		runs:      runs,
		templates: templates,
		queue:     queue,
		execute:   execute,
		retry:     DefaultRetryPolicy(),
	}
	queue.SetProcessor(d.process)
	return d
}

// OnCompletion registers a hook invoked after each run reaches a terminal
// status. Not safe to call after the queue has started processing.
func (d *Dispatcher) OnCompletion(hook CompletionHook) {
	d.hooks = append(d.hooks, hook)
}

// StartRun persists a pending run and enqueues it for execution. The run
// record is returned immediately; callers poll or watch for the outcome.
func (d *Dispatcher) StartRun(ctx context.Context, req StartRequest) (*types.WorkflowRun, error) {
	run, lane, err := d.createRun(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := d.queue.Enqueue(&Job{RunID: run.ID, Lane: lane}); err != nil {
		d.abandon(ctx, run.ID, err)
		return nil, fmt.Errorf("enqueue run: %w", err)
	}
	return run, nil
}

// RunSync persists a run and executes it inline, returning the terminal
// run record. Used by the CLI's --wait path and by tests.
func (d *Dispatcher) RunSync(ctx context.Context, req StartRequest) (*types.WorkflowRun, error) {
	run, _, err := d.createRun(ctx, req)
	if err != nil {
		return nil, err
	}
	d.runJob(ctx, run.ID)
	return d.runs.Get(ctx, run.ID)
}

// createRun resolves the template (when named) and persists the pending
// run record. Returns the run and its execution lane.
func (d *Dispatcher) createRun(ctx context.Context, req StartRequest) (*types.WorkflowRun, string, error) {
	run := &types.WorkflowRun{
		ID:           types.NewRunID(),
		Type:         req.Type,
		Status:       types.RunPending,
		Trigger:      req.Trigger,
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
		MaxSteps:     req.MaxSteps,
		Config:       req.Config,
		CreatedAt:    time.Now(),
	}
	if run.Trigger == "" {
		run.Trigger = types.TriggerUser
	}

	lane := ""
	if req.TemplateName != "" {
		tmpl, err := d.templates.GetByName(ctx, req.TemplateName)
		if err != nil {
			return nil, "", fmt.Errorf("resolve template %q: %w", req.TemplateName, err)
		}
		if !tmpl.Enabled {
			return nil, "", fmt.Errorf("template %q: %w", req.TemplateName, ErrTemplateDisabled)
		}
		run.TemplateID = tmpl.ID
		if run.Type == "" {
			run.Type = tmpl.Type
		}
		if len(run.Config) == 0 {
			run.Config = tmpl.Config
		}
		if run.Model == "" {
			run.Model = tmpl.Model
		}
		lane = string(tmpl.AccountID)
	}
	if run.Type == "" {
		return nil, "", fmt.Errorf("run needs a workflow type or a template")
	}

	if err := d.runs.Create(ctx, run); err != nil {
		return nil, "", fmt.Errorf("create run: %w", err)
	}
	return run, lane, nil
}

// process is the queue processor: execute with retry, then completion
// hooks.
func (d *Dispatcher) process(job *Job) {
	ctx := job.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	d.runJob(ctx, job.RunID)
}

func (d *Dispatcher) runJob(ctx context.Context, runID types.RunID) {
	err := d.retry.Execute(func() error {
		return d.execute(ctx, runID)
	})
	if err != nil {
		slog.Error("run execution failed", "run_id", string(runID), "error", err)
		d.abandon(ctx, runID, err)
	}

	run, err := d.runs.Get(ctx, runID)
	if err != nil {
		slog.Error("load run for completion hooks", "run_id", string(runID), "error", err)
		return
	}
	for _, hook := range d.hooks {
		hook(ctx, run)
	}
}

// abandon terminates a run whose execution could not even start. A run
// that got as far as running fails; one still pending never ran and is
// cancelled, since pending has no legal edge to failed. Runs already
// terminal are left untouched.
func (d *Dispatcher) abandon(ctx context.Context, runID types.RunID, cause error) {
	now := time.Now()
	_, err := d.runs.Update(ctx, runID, func(r *types.WorkflowRun) {
		if r.Status.Terminal() {
			return
		}
		status := types.RunFailed
		if !r.Status.CanTransition(status) {
			status = types.RunCancelled
		}
		if !r.Status.CanTransition(status) {
			slog.Warn("illegal run transition on abandon", "run_id", string(r.ID), "from", string(r.Status))
			return
		}
		r.Status = status
		r.CompletedAt = &now
		r.Errors = append(r.Errors, cause.Error())
		if r.ErrorItems == 0 {
			r.ErrorItems = 1
		}
	})
	if err != nil {
		slog.Error("abandon run", "run_id", string(runID), "error", err)
	}
}
