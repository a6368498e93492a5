package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/user/magpie/internal/state"
	"github.com/user/magpie/internal/types"
)

type dispatchEnv struct {
	dispatcher *Dispatcher
	runs       *state.RunStore
	templates  *state.TemplateStore
	queue      *Queue
}

// newDispatchEnv wires a dispatcher whose execute function just flips the
// run to completed, unless overridden.
func newDispatchEnv(t *testing.T, execute ExecuteFunc) *dispatchEnv {
	t.Helper()
	dir := t.TempDir()
	runs := state.NewRunStore(dir)
	templates := state.NewTemplateStore(dir)
	queue := NewQueue(2)
	queue.Start(context.Background())
	t.Cleanup(queue.Stop)

	if execute == nil {
		execute = func(ctx context.Context, runID types.RunID) error {
			now := time.Now()
			_, err := runs.Update(ctx, runID, func(r *types.WorkflowRun) {
				r.Status = types.RunCompleted
				r.CompletedAt = &now
			})
			return err
		}
	}
	return &dispatchEnv{
		dispatcher: New(runs, templates, queue, execute),
		runs:       runs,
		templates:  templates,
		queue:      queue,
	}
}

// waitTerminal polls until the run reaches a terminal status.
func waitTerminal(t *testing.T, runs *state.RunStore, id types.RunID) *types.WorkflowRun {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		run, err := runs.Get(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		if run.Status.Terminal() {
			return run
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("run did not reach a terminal status")
	return nil
}

func TestStartRunReturnsPendingAndExecutes(t *testing.T) {
	env := newDispatchEnv(t, nil)
	ctx := context.Background()

	run, err := env.dispatcher.StartRun(ctx, StartRequest{
		Type:   types.WorkflowAgent,
		Config: json.RawMessage(`{"instruction":"x"}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != types.RunPending {
		t.Errorf("returned status = %s, want pending", run.Status)
	}
	if run.Trigger != types.TriggerUser {
		t.Errorf("trigger = %s, want user default", run.Trigger)
	}

	final := waitTerminal(t, env.runs, run.ID)
	if final.Status != types.RunCompleted {
		t.Errorf("final status = %s, want completed", final.Status)
	}
}

func TestStartRunFromTemplate(t *testing.T) {
	env := newDispatchEnv(t, nil)
	ctx := context.Background()

	tmpl := &types.Template{
		ID:        types.NewTemplateID(),
		Name:      "weekly-prospecting",
		Type:      types.WorkflowSearch,
		Config:    json.RawMessage(`{"query":"golang leads"}`),
		Model:     "gpt-4o",
		AccountID: "acct-1",
		Enabled:   true,
		CreatedAt: time.Now(),
	}
	if err := env.templates.Add(ctx, tmpl); err != nil {
		t.Fatal(err)
	}

	run, err := env.dispatcher.StartRun(ctx, StartRequest{
		TemplateName: "weekly-prospecting",
		Trigger:      types.TriggerScheduled,
	})
	if err != nil {
		t.Fatal(err)
	}
	if run.TemplateID != tmpl.ID {
		t.Errorf("template id = %s", run.TemplateID)
	}
	if run.Type != types.WorkflowSearch {
		t.Errorf("type = %s, want search from template", run.Type)
	}
	if run.Model != "gpt-4o" {
		t.Errorf("model = %s, want template model", run.Model)
	}
	if string(run.Config) != `{"query":"golang leads"}` {
		t.Errorf("config = %s", run.Config)
	}
}

func TestStartRunUnknownTemplate(t *testing.T) {
	env := newDispatchEnv(t, nil)
	if _, err := env.dispatcher.StartRun(context.Background(), StartRequest{TemplateName: "nope"}); err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestCompletionHooksFire(t *testing.T) {
	env := newDispatchEnv(t, nil)
	ctx := context.Background()

	var mu sync.Mutex
	var observed []types.RunStatus
	env.dispatcher.OnCompletion(func(_ context.Context, run *types.WorkflowRun) {
		mu.Lock()
		observed = append(observed, run.Status)
		mu.Unlock()
	})

	if _, err := env.dispatcher.StartRun(ctx, StartRequest{Type: types.WorkflowAgent}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		n := len(observed)
		mu.Unlock()
		if n > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(observed) != 1 || observed[0] != types.RunCompleted {
		t.Errorf("hook observations = %v", observed)
	}
}

func TestRunSyncBlocksUntilTerminal(t *testing.T) {
	env := newDispatchEnv(t, nil)
	run, err := env.dispatcher.RunSync(context.Background(), StartRequest{Type: types.WorkflowAgent})
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != types.RunCompleted {
		t.Errorf("status = %s, want completed", run.Status)
	}
}

func TestExecutionFailureAbandonsRun(t *testing.T) {
	execute := func(context.Context, types.RunID) error {
		return errors.New("invalid run state")
	}
	env := newDispatchEnv(t, execute)

	run, err := env.dispatcher.RunSync(context.Background(), StartRequest{Type: types.WorkflowAgent})
	if err != nil {
		t.Fatal(err)
	}
	// The run never left pending, so abandoning it must take the legal
	// pending->cancelled edge, not jump straight to failed.
	if run.Status != types.RunCancelled {
		t.Errorf("status = %s, want cancelled", run.Status)
	}
	if !types.RunPending.CanTransition(run.Status) {
		t.Errorf("abandon took an illegal transition pending->%s", run.Status)
	}
	if run.ErrorItems != 1 || len(run.Errors) == 0 {
		t.Errorf("error accounting = %d items, %v", run.ErrorItems, run.Errors)
	}
}

func TestAbandonAfterStartMarksFailed(t *testing.T) {
	var env *dispatchEnv
	execute := func(ctx context.Context, runID types.RunID) error {
		_, err := env.runs.Update(ctx, runID, func(r *types.WorkflowRun) {
			r.Status = types.RunRunning
		})
		if err != nil {
			return err
		}
		return errors.New("model gateway unreachable")
	}
	env = newDispatchEnv(t, execute)

	run, err := env.dispatcher.RunSync(context.Background(), StartRequest{Type: types.WorkflowAgent})
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != types.RunFailed {
		t.Errorf("status = %s, want failed once the run had started", run.Status)
	}
	if len(run.Errors) == 0 {
		t.Error("abandon must record the cause")
	}
}

func TestSameLaneRunsSequentially(t *testing.T) {
	var mu sync.Mutex
	running := 0
	maxRunning := 0
	done := make(chan struct{}, 8)
	execute := func(ctx context.Context, runID types.RunID) error {
		mu.Lock()
		running++
		if running > maxRunning {
			maxRunning = running
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		running--
		mu.Unlock()
		done <- struct{}{}
		return nil
	}
	env := newDispatchEnv(t, execute)
	ctx := context.Background()

	tmpl := &types.Template{
		ID:        types.NewTemplateID(),
		Name:      "acct-bound",
		Type:      types.WorkflowAgent,
		AccountID: "acct-1",
		Enabled:   true,
		CreatedAt: time.Now(),
	}
	if err := env.templates.Add(ctx, tmpl); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 4; i++ {
		if _, err := env.dispatcher.StartRun(ctx, StartRequest{TemplateName: "acct-bound"}); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 4; i++ {
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Fatal("executions did not finish")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if maxRunning != 1 {
		t.Errorf("max concurrent executions in one lane = %d, want 1", maxRunning)
	}
}
