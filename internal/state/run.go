// internal/state/run.go
package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/user/magpie/internal/types"
)

// RunStore is a JSON-file-backed store for workflow runs. The index lives
// at runs/runs.json; each run also owns a directory runs/<runID>/ holding
// its step ledger.
type RunStore struct {
	root string
	mu   sync.RWMutex
}

// NewRunStore creates a file-backed RunStore rooted at the given directory.
func NewRunStore(root string) *RunStore {
	return &RunStore{root: root}
}

func (s *RunStore) indexPath() string {
	return filepath.Join(s.root, "runs", "runs.json")
}

// RunDir returns the per-run directory used for the step ledger.
func (s *RunStore) RunDir(id types.RunID) string {
	return filepath.Join(s.root, "runs", string(id))
}

// loadIndex reads runs.json into a map keyed by run ID.
func (s *RunStore) loadIndex() (map[types.RunID]*types.WorkflowRun, error) {
	var runs []*types.WorkflowRun
	if err := readJSON(s.indexPath(), &runs); err != nil {
		if os.IsNotExist(err) {
			return make(map[types.RunID]*types.WorkflowRun), nil
		}
		return nil, fmt.Errorf("read run index: %w", err)
	}

	index := make(map[types.RunID]*types.WorkflowRun, len(runs))
	for _, run := range runs {
		index[run.ID] = run
	}
	return index, nil
}

// saveIndex writes the run map back to runs.json sorted by creation time
// so listings are stable.
func (s *RunStore) saveIndex(index map[types.RunID]*types.WorkflowRun) error {
	runs := make([]*types.WorkflowRun, 0, len(index))
	for _, run := range index {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})
	return writeJSON(s.indexPath(), runs)
}

// Create persists a new run and creates its directory.
func (s *RunStore) Create(_ context.Context, run *types.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return err
	}
	if _, exists := index[run.ID]; exists {
		return fmt.Errorf("run already exists: %s", run.ID)
	}
	index[run.ID] = run

	if err := os.MkdirAll(s.RunDir(run.ID), 0o755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}
	return s.saveIndex(index)
}

// Get returns a run by ID or types.ErrNotFound.
func (s *RunStore) Get(_ context.Context, id types.RunID) (*types.WorkflowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	run, ok := index[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, types.ErrNotFound)
	}
	return run, nil
}

// Update applies mutate to the stored run under the store lock and
// persists the result. Returns types.ErrNotFound for unknown runs; it is
// the caller's job to treat that as non-fatal where the contract says so.
func (s *RunStore) Update(_ context.Context, id types.RunID, mutate func(*types.WorkflowRun)) (*types.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	run, ok := index[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, types.ErrNotFound)
	}

	mutate(run)
	if err := s.saveIndex(index); err != nil {
		return nil, err
	}
	return run, nil
}

// List returns all runs ordered by creation time.
func (s *RunStore) List(_ context.Context) ([]*types.WorkflowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	runs := make([]*types.WorkflowRun, 0, len(index))
	for _, run := range index {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})
	return runs, nil
}
