// internal/state/goal.go
package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/user/magpie/internal/types"
)

// GoalStore stores goals in goals/goals.json and each goal's progress
// series as an append-only JSONL file at goals/<goalID>.jsonl.
type GoalStore struct {
	root string
	mu   sync.RWMutex
}

// NewGoalStore creates a file-backed GoalStore rooted at the given directory.
func NewGoalStore(root string) *GoalStore {
	return &GoalStore{root: root}
}

func (s *GoalStore) indexPath() string {
	return filepath.Join(s.root, "goals", "goals.json")
}

func (s *GoalStore) progressPath(id types.GoalID) string {
	return filepath.Join(s.root, "goals", string(id)+".jsonl")
}

func (s *GoalStore) load() (map[types.GoalID]*types.Goal, error) {
	var goals []*types.Goal
	if err := readJSON(s.indexPath(), &goals); err != nil {
		if os.IsNotExist(err) {
			return make(map[types.GoalID]*types.Goal), nil
		}
		return nil, fmt.Errorf("read goals: %w", err)
	}

	index := make(map[types.GoalID]*types.Goal, len(goals))
	for _, g := range goals {
		index[g.ID] = g
	}
	return index, nil
}

func (s *GoalStore) save(index map[types.GoalID]*types.Goal) error {
	goals := make([]*types.Goal, 0, len(index))
	for _, g := range index {
		goals = append(goals, g)
	}
	sort.Slice(goals, func(i, j int) bool {
		return goals[i].CreatedAt.Before(goals[j].CreatedAt)
	})
	return writeJSON(s.indexPath(), goals)
}

// Create persists a new goal.
func (s *GoalStore) Create(_ context.Context, goal *types.Goal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.load()
	if err != nil {
		return err
	}
	if _, exists := index[goal.ID]; exists {
		return fmt.Errorf("goal already exists: %s", goal.ID)
	}
	index[goal.ID] = goal
	return s.save(index)
}

// Get returns a goal by ID or types.ErrNotFound.
func (s *GoalStore) Get(_ context.Context, id types.GoalID) (*types.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.load()
	if err != nil {
		return nil, err
	}
	goal, ok := index[id]
	if !ok {
		return nil, fmt.Errorf("goal %s: %w", id, types.ErrNotFound)
	}
	return goal, nil
}

// ListByTemplate returns all goals linked to the given template.
func (s *GoalStore) ListByTemplate(ctx context.Context, templateID types.TemplateID) ([]*types.Goal, error) {
	goals, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	var linked []*types.Goal
	for _, g := range goals {
		for _, tid := range g.TemplateIDs {
			if tid == templateID {
				linked = append(linked, g)
				break
			}
		}
	}
	return linked, nil
}

// List returns all goals sorted by creation time.
func (s *GoalStore) List(_ context.Context) ([]*types.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.load()
	if err != nil {
		return nil, err
	}
	goals := make([]*types.Goal, 0, len(index))
	for _, g := range index {
		goals = append(goals, g)
	}
	sort.Slice(goals, func(i, j int) bool {
		return goals[i].CreatedAt.Before(goals[j].CreatedAt)
	})
	return goals, nil
}

// Update applies mutate to the stored goal and persists the result.
func (s *GoalStore) Update(_ context.Context, id types.GoalID, mutate func(*types.Goal)) (*types.Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.load()
	if err != nil {
		return nil, err
	}
	goal, ok := index[id]
	if !ok {
		return nil, fmt.Errorf("goal %s: %w", id, types.ErrNotFound)
	}

	mutate(goal)
	if err := s.save(index); err != nil {
		return nil, err
	}
	return goal, nil
}

// AppendProgress appends a snapshot to the goal's progress series.
func (s *GoalStore) AppendProgress(_ context.Context, progress *types.GoalProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.progressPath(progress.GoalID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create goals dir: %w", err)
	}

	data, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open progress file: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write progress: %w", err)
	}
	return nil
}

// ListProgress returns the goal's progress series in append order.
func (s *GoalStore) ListProgress(_ context.Context, id types.GoalID) ([]*types.GoalProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := os.Open(s.progressPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open progress file: %w", err)
	}
	defer f.Close()

	var series []*types.GoalProgress
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var p types.GoalProgress
		if err := json.Unmarshal(scanner.Bytes(), &p); err != nil {
			return nil, fmt.Errorf("unmarshal progress: %w", err)
		}
		series = append(series, &p)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan progress file: %w", err)
	}
	return series, nil
}
