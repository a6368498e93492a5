// internal/state/step.go
package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/magpie/internal/types"
)

// StepStore is a JSONL-backed append-only step ledger. Steps are stored
// per-run in runs/<runID>/steps.jsonl. Index assignment happens under a
// per-run lock, so indexes are strictly increasing in write order. Each
// run has a single logical writer (its own loop), so the lock only guards
// against accidental cross-goroutine reads during a write.
type StepStore struct {
	root  string
	mu    sync.Mutex
	locks map[types.RunID]*sync.Mutex
}

// NewStepStore creates a file-backed StepStore rooted at the given directory.
func NewStepStore(root string) *StepStore {
	return &StepStore{
		root:  root,
		locks: make(map[types.RunID]*sync.Mutex),
	}
}

// getLock returns the per-run mutex, creating one if it doesn't exist.
func (s *StepStore) getLock(runID types.RunID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lock, ok := s.locks[runID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	s.locks[runID] = lock
	return lock
}

func (s *StepStore) stepsPath(runID types.RunID) string {
	return filepath.Join(s.root, "runs", string(runID), "steps.jsonl")
}

// count reads the step file and counts lines. Caller must hold the run lock.
func (s *StepStore) count(runID types.RunID) (int, error) {
	f, err := os.Open(s.stepsPath(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open steps file: %w", err)
	}
	defer f.Close()

	var count int
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		count++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan steps file: %w", err)
	}
	return count, nil
}

// Append writes the step to the run's ledger with the next index and
// returns the assigned index.
func (s *StepStore) Append(_ context.Context, step *types.WorkflowStep) (int, error) {
	lock := s.getLock(step.RunID)
	lock.Lock()
	defer lock.Unlock()

	dir := filepath.Dir(s.stepsPath(step.RunID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create run dir: %w", err)
	}

	existing, err := s.count(step.RunID)
	if err != nil {
		return 0, err
	}
	step.Index = existing + 1

	data, err := json.Marshal(step)
	if err != nil {
		return 0, fmt.Errorf("marshal step: %w", err)
	}

	f, err := os.OpenFile(s.stepsPath(step.RunID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open steps file: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return 0, fmt.Errorf("write step: %w", err)
	}
	return step.Index, nil
}

// ListByRun returns all steps for the run in insertion order.
func (s *StepStore) ListByRun(_ context.Context, runID types.RunID) ([]*types.WorkflowStep, error) {
	lock := s.getLock(runID)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.Open(s.stepsPath(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open steps file: %w", err)
	}
	defer f.Close()

	var steps []*types.WorkflowStep
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var step types.WorkflowStep
		if err := json.Unmarshal(scanner.Bytes(), &step); err != nil {
			return nil, fmt.Errorf("unmarshal step: %w", err)
		}
		steps = append(steps, &step)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan steps file: %w", err)
	}
	return steps, nil
}

// Count returns the number of steps recorded for the run.
func (s *StepStore) Count(_ context.Context, runID types.RunID) (int, error) {
	lock := s.getLock(runID)
	lock.Lock()
	defer lock.Unlock()
	return s.count(runID)
}
