// internal/state/cursor.go
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

// CursorStore is a JSON-file-backed store for sync cursors. Cursors are
// keyed by account:data-type, which enforces the one-cursor-per-pair
// invariant structurally.
type CursorStore struct {
	root string
	mu   sync.RWMutex
}

// NewCursorStore creates a file-backed CursorStore rooted at the given directory.
func NewCursorStore(root string) *CursorStore {
	return &CursorStore{root: root}
}

func (s *CursorStore) path() string {
	return filepath.Join(s.root, "cursors.json")
}

func (s *CursorStore) load() (map[types.CursorKey]*types.SyncCursor, error) {
	var cursors []*types.SyncCursor
	if err := readJSON(s.path(), &cursors); err != nil {
		if os.IsNotExist(err) {
			return make(map[types.CursorKey]*types.SyncCursor), nil
		}
		return nil, fmt.Errorf("read cursors: %w", err)
	}

	index := make(map[types.CursorKey]*types.SyncCursor, len(cursors))
	for _, c := range cursors {
		index[c.Key] = c
	}
	return index, nil
}

func (s *CursorStore) save(index map[types.CursorKey]*types.SyncCursor) error {
	cursors := make([]*types.SyncCursor, 0, len(index))
	for _, c := range index {
		cursors = append(cursors, c)
	}
	sort.Slice(cursors, func(i, j int) bool { return cursors[i].Key < cursors[j].Key })
	return writeJSON(s.path(), cursors)
}

// GetOrCreate returns the cursor for (accountID, dataType), creating an
// idle cursor on first use.
func (s *CursorStore) GetOrCreate(_ context.Context, accountID types.AccountID, dataType string) (*types.SyncCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.load()
	if err != nil {
		return nil, err
	}

	key := types.NewCursorKey(accountID, dataType)
	if cursor, ok := index[key]; ok {
		return cursor, nil
	}

	cursor := &types.SyncCursor{
		Key:       key,
		AccountID: accountID,
		DataType:  dataType,
		Status:    types.SyncIdle,
	}
	index[key] = cursor
	if err := s.save(index); err != nil {
		return nil, err
	}
	return cursor, nil
}

// Update applies mutate to the stored cursor and persists the result.
func (s *CursorStore) Update(_ context.Context, key types.CursorKey, mutate func(*types.SyncCursor)) (*types.SyncCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.load()
	if err != nil {
		return nil, err
	}
	cursor, ok := index[key]
	if !ok {
		return nil, fmt.Errorf("cursor %s: %w", key, types.ErrNotFound)
	}

	mutate(cursor)
	if err := s.save(index); err != nil {
		return nil, err
	}
	return cursor, nil
}

// List returns all cursors sorted by key.
func (s *CursorStore) List(_ context.Context) ([]*types.SyncCursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.load()
	if err != nil {
		return nil, err
	}
	cursors := make([]*types.SyncCursor, 0, len(index))
	for _, c := range index {
		cursors = append(cursors, c)
	}
	sort.Slice(cursors, func(i, j int) bool { return cursors[i].Key < cursors[j].Key })
	return cursors, nil
}
