package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/user/magpie/internal/types"
)

// Recorder appends steps to one run's ledger slice. Ledger writes are
// observability, not a transactional requirement: a failed write is logged
// and swallowed so it can never abort the run itself.
type Recorder struct {
	steps types.StepStore
	runID types.RunID
}

// NewRecorder creates a Recorder for the given run.
func NewRecorder(steps types.StepStore, runID types.RunID) *Recorder {
	return &Recorder{steps: steps, runID: runID}
}

// RunID returns the run this recorder writes to.
func (r *Recorder) RunID() types.RunID {
	return r.runID
}

// Record fills in identity and timestamp and appends the step. Returns the
// assigned index, or 0 if the write failed (already logged).
func (r *Recorder) Record(ctx context.Context, step *types.WorkflowStep) int {
	if step.ID == "" {
		step.ID = types.NewStepID()
	}
	step.RunID = r.runID
	if step.At.IsZero() {
		step.At = time.Now()
	}

	index, err := r.steps.Append(ctx, step)
	if err != nil {
		slog.Warn("ledger write failed", "run_id", string(r.runID), "step_type", string(step.Type), "error", err)
		return 0
	}
	return index
}

// RecordRouting logs a routing decision (initial route or escalation) with
// its reason, so every browser render is traceable to an explanation.
func (r *Recorder) RecordRouting(ctx context.Context, url, strategy, reason string, escalation bool) {
	output, _ := json.Marshal(map[string]any{
		"url":        url,
		"strategy":   strategy,
		"reason":     reason,
		"escalation": escalation,
	})
	r.Record(ctx, &types.WorkflowStep{
		Type:   types.StepRoutingDecision,
		Status: types.StepCompleted,
		Output: output,
	})
}

// RecordError logs an error step with a truncated message.
func (r *Recorder) RecordError(ctx context.Context, message string) {
	r.Record(ctx, &types.WorkflowStep{
		Type:   types.StepError,
		Status: types.StepFailed,
		Error:  Truncate(message, maxErrorChars),
	})
}

const maxErrorChars = 2000

// Truncate bounds s to at most max bytes for storage, cutting on a rune
// boundary so stored strings stay valid UTF-8.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…[truncated]"
}
