package goals

import (
	"context"
	"testing"
	"time"

	"github.com/user/magpie/internal/state"
	"github.com/user/magpie/internal/types"
)

type fixture struct {
	tracker *Tracker
	goals   *state.GoalStore
	steps   *state.StepStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	goals := state.NewGoalStore(dir)
	steps := state.NewStepStore(dir)
	return &fixture{
		tracker: NewTracker(goals, steps),
		goals:   goals,
		steps:   steps,
	}
}

func (f *fixture) createGoal(t *testing.T, templateID types.TemplateID, counted []types.StepType, target int) types.GoalID {
	t.Helper()
	goal := &types.Goal{
		ID:           types.NewGoalID(),
		Name:         "test goal",
		Status:       types.GoalActive,
		TemplateIDs:  []types.TemplateID{templateID},
		CountedSteps: counted,
		TargetValue:  target,
		CreatedAt:    time.Now(),
	}
	if err := f.goals.Create(context.Background(), goal); err != nil {
		t.Fatal(err)
	}
	return goal.ID
}

func (f *fixture) completedRun(t *testing.T, templateID types.TemplateID, stepTypes ...types.StepType) *types.WorkflowRun {
	t.Helper()
	run := &types.WorkflowRun{
		ID:         types.NewRunID(),
		TemplateID: templateID,
		Type:       types.WorkflowSearch,
		Status:     types.RunCompleted,
	}
	for _, st := range stepTypes {
		if _, err := f.steps.Append(context.Background(), &types.WorkflowStep{
			ID:     types.NewStepID(),
			RunID:  run.ID,
			Type:   st,
			Status: types.StepCompleted,
			At:     time.Now(),
		}); err != nil {
			t.Fatal(err)
		}
	}
	return run
}

func TestProgressAccumulatesAcrossRuns(t *testing.T) {
	f := newFixture(t)
	tmpl := types.NewTemplateID()
	goalID := f.createGoal(t, tmpl, []types.StepType{types.StepContactCreate}, 10)
	ctx := context.Background()

	run1 := f.completedRun(t, tmpl, types.StepContactCreate, types.StepContactCreate, types.StepToolCall)
	f.tracker.OnRunCompleted(ctx, run1)

	run2 := f.completedRun(t, tmpl, types.StepContactCreate)
	f.tracker.OnRunCompleted(ctx, run2)

	goal, err := f.goals.Get(ctx, goalID)
	if err != nil {
		t.Fatal(err)
	}
	if goal.CurrentValue != 3 {
		t.Errorf("current value = %d, want 3", goal.CurrentValue)
	}
	if goal.Status != types.GoalActive {
		t.Errorf("status = %s, want active", goal.Status)
	}

	series, err := f.goals.ListProgress(ctx, goalID)
	if err != nil {
		t.Fatal(err)
	}
	if len(series) != 2 {
		t.Fatalf("progress entries = %d, want 2", len(series))
	}
	if series[0].Delta != 2 || series[0].Source != run1.ID {
		t.Errorf("first entry = %+v", series[0])
	}
	if series[1].Value != 3 {
		t.Errorf("second entry value = %d, want 3", series[1].Value)
	}
}

func TestGoalAchievedExactlyAtTarget(t *testing.T) {
	f := newFixture(t)
	tmpl := types.NewTemplateID()
	goalID := f.createGoal(t, tmpl, []types.StepType{types.StepPostPublish}, 2)
	ctx := context.Background()

	f.tracker.OnRunCompleted(ctx, f.completedRun(t, tmpl, types.StepPostPublish))
	goal, _ := f.goals.Get(ctx, goalID)
	if goal.Status != types.GoalActive {
		t.Fatalf("status = %s, want active below target", goal.Status)
	}
	if goal.AchievedAt != nil {
		t.Fatal("achieved timestamp set below target")
	}

	f.tracker.OnRunCompleted(ctx, f.completedRun(t, tmpl, types.StepPostPublish))
	goal, _ = f.goals.Get(ctx, goalID)
	if goal.Status != types.GoalAchieved {
		t.Fatalf("status = %s, want achieved at target", goal.Status)
	}
	if goal.AchievedAt == nil {
		t.Fatal("achieved timestamp not set")
	}

	// Further progress still accumulates but the goal stays achieved.
	f.tracker.OnRunCompleted(ctx, f.completedRun(t, tmpl, types.StepPostPublish))
	goal, _ = f.goals.Get(ctx, goalID)
	if goal.Status != types.GoalAchieved {
		t.Errorf("status = %s, want achieved", goal.Status)
	}
}

func TestZeroDeltaIsNoop(t *testing.T) {
	f := newFixture(t)
	tmpl := types.NewTemplateID()
	goalID := f.createGoal(t, tmpl, []types.StepType{types.StepContactCreate}, 5)
	ctx := context.Background()

	// Run has steps, but none of the counted type.
	f.tracker.OnRunCompleted(ctx, f.completedRun(t, tmpl, types.StepToolCall, types.StepThinking))

	series, _ := f.goals.ListProgress(ctx, goalID)
	if len(series) != 0 {
		t.Errorf("progress entries = %d, want 0 for zero delta", len(series))
	}
	goal, _ := f.goals.Get(ctx, goalID)
	if goal.CurrentValue != 0 {
		t.Errorf("current value = %d, want 0", goal.CurrentValue)
	}
}

func TestUnlinkedRunIgnored(t *testing.T) {
	f := newFixture(t)
	tmpl := types.NewTemplateID()
	goalID := f.createGoal(t, tmpl, []types.StepType{types.StepContactCreate}, 5)
	ctx := context.Background()

	other := f.completedRun(t, types.NewTemplateID(), types.StepContactCreate)
	f.tracker.OnRunCompleted(ctx, other)

	goal, _ := f.goals.Get(ctx, goalID)
	if goal.CurrentValue != 0 {
		t.Errorf("current value = %d, want 0 for unlinked template", goal.CurrentValue)
	}
}

func TestFailedRunDoesNotAdvance(t *testing.T) {
	f := newFixture(t)
	tmpl := types.NewTemplateID()
	goalID := f.createGoal(t, tmpl, []types.StepType{types.StepContactCreate}, 5)
	ctx := context.Background()

	run := f.completedRun(t, tmpl, types.StepContactCreate)
	run.Status = types.RunFailed
	f.tracker.OnRunCompleted(ctx, run)

	goal, _ := f.goals.Get(ctx, goalID)
	if goal.CurrentValue != 0 {
		t.Errorf("current value = %d, want 0 for failed run", goal.CurrentValue)
	}
}

// Skipped and failed steps of a counted type must not advance the goal.
func TestOnlyCompletedStepsCount(t *testing.T) {
	f := newFixture(t)
	tmpl := types.NewTemplateID()
	goalID := f.createGoal(t, tmpl, []types.StepType{types.StepContactCreate}, 5)
	ctx := context.Background()

	run := &types.WorkflowRun{
		ID:         types.NewRunID(),
		TemplateID: tmpl,
		Status:     types.RunCompleted,
	}
	for _, status := range []types.StepStatus{types.StepCompleted, types.StepSkipped, types.StepFailed} {
		if _, err := f.steps.Append(ctx, &types.WorkflowStep{
			ID:     types.NewStepID(),
			RunID:  run.ID,
			Type:   types.StepContactCreate,
			Status: status,
			At:     time.Now(),
		}); err != nil {
			t.Fatal(err)
		}
	}

	f.tracker.OnRunCompleted(ctx, run)
	goal, _ := f.goals.Get(ctx, goalID)
	if goal.CurrentValue != 1 {
		t.Errorf("current value = %d, want 1", goal.CurrentValue)
	}
}
