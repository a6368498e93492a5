// Package goals links workflow templates to target metrics and advances
// them automatically from completed runs' ledgers.
package goals

import (
	"context"
	"log/slog"
	"time"

	"github.com/user/magpie/internal/types"
)

// Tracker advances goals from run outcomes.
type Tracker struct {
	goals types.GoalStore
	steps types.StepStore
}

// NewTracker creates a Tracker.
func NewTracker(goals types.GoalStore, steps types.StepStore) *Tracker {
	return &Tracker{goals: goals, steps: steps}
}

// OnRunCompleted advances every active goal linked to the run's template
// by the number of qualifying completed steps in the run's ledger. Goal
// bookkeeping is strictly best-effort: failures are logged and never
// propagate back to the run that triggered them.
func (t *Tracker) OnRunCompleted(ctx context.Context, run *types.WorkflowRun) {
	if run.TemplateID == "" || run.Status != types.RunCompleted {
		return
	}

	linked, err := t.goals.ListByTemplate(ctx, run.TemplateID)
	if err != nil {
		slog.Warn("goal lookup failed", "template_id", string(run.TemplateID), "error", err)
		return
	}
	if len(linked) == 0 {
		return
	}

	steps, err := t.steps.ListByRun(ctx, run.ID)
	if err != nil {
		slog.Warn("goal progress ledger read failed", "run_id", string(run.ID), "error", err)
		return
	}

	for _, goal := range linked {
		if goal.Status != types.GoalActive {
			continue
		}
		delta := countQualifying(steps, goal.CountedSteps)
		if delta == 0 {
			continue
		}
		t.advance(ctx, goal, delta, run.ID)
	}
}

// advance applies one delta to a goal, appends the progress snapshot, and
// flips the goal to achieved when the target is reached.
func (t *Tracker) advance(ctx context.Context, goal *types.Goal, delta int, source types.RunID) {
	now := time.Now()
	updated, err := t.goals.Update(ctx, goal.ID, func(g *types.Goal) {
		g.CurrentValue += delta
		if g.Status == types.GoalActive && g.TargetValue > 0 && g.CurrentValue >= g.TargetValue {
			g.Status = types.GoalAchieved
			g.AchievedAt = &now
		}
	})
	if err != nil {
		slog.Warn("goal update failed", "goal_id", string(goal.ID), "error", err)
		return
	}

	if err := t.goals.AppendProgress(ctx, &types.GoalProgress{
		GoalID: updated.ID,
		Value:  updated.CurrentValue,
		Delta:  delta,
		Source: source,
		At:     now,
	}); err != nil {
		slog.Warn("goal progress append failed", "goal_id", string(goal.ID), "error", err)
	}
	if updated.Status == types.GoalAchieved && goal.Status == types.GoalActive {
		slog.Info("goal achieved", "goal_id", string(updated.ID), "name", updated.Name, "value", updated.CurrentValue)
	}
}

// countQualifying counts completed steps whose type is in counted.
func countQualifying(steps []*types.WorkflowStep, counted []types.StepType) int {
	wanted := make(map[types.StepType]bool, len(counted))
	for _, st := range counted {
		wanted[st] = true
	}
	n := 0
	for _, s := range steps {
		if wanted[s.Type] && s.Status == types.StepCompleted {
			n++
		}
	}
	return n
}
