// internal/types/status.go
package types

// RunStatus is the lifecycle state of a WorkflowRun.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunPaused    RunStatus = "paused"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status is final. A run never leaves a
// terminal status.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// runTransitions is the allowed run status state machine:
// pending -> running -> {completed|failed|cancelled}, with paused
// reachable from running for workflows that support suspension.
var runTransitions = map[RunStatus][]RunStatus{
	RunPending: {RunRunning, RunCancelled},
	RunRunning: {RunPaused, RunCompleted, RunFailed, RunCancelled},
	RunPaused:  {RunRunning, RunCompleted, RunFailed, RunCancelled},
}

// CanTransition reports whether a run may move from s to next.
func (s RunStatus) CanTransition(next RunStatus) bool {
	for _, allowed := range runTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// StepStatus is the lifecycle state of a WorkflowStep.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Terminal reports whether the step status is final. Steps are write-once
// apart from the pending/running -> terminal transition.
func (s StepStatus) Terminal() bool {
	return s == StepCompleted || s == StepFailed || s == StepSkipped
}

// SyncStatus is the lifecycle state of a SyncCursor.
type SyncStatus string

const (
	SyncIdle      SyncStatus = "idle"
	SyncSyncing   SyncStatus = "syncing"
	SyncCompleted SyncStatus = "completed"
	SyncFailed    SyncStatus = "failed"
)

// GoalStatus is the lifecycle state of a Goal.
type GoalStatus string

const (
	GoalActive   GoalStatus = "active"
	GoalAchieved GoalStatus = "achieved"
	GoalArchived GoalStatus = "archived"
)
