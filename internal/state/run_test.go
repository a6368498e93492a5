// internal/state/run_test.go
package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/user/magpie/internal/types"
)

func TestRunStoreCreateGetUpdate(t *testing.T) {
	dir := t.TempDir()
	store := NewRunStore(dir)
	ctx := context.Background()

	run := &types.WorkflowRun{
		ID:        types.NewRunID(),
		Type:      types.WorkflowSearch,
		Status:    types.RunPending,
		Trigger:   types.TriggerUser,
		CreatedAt: time.Now(),
	}
	if err := store.Create(ctx, run); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != types.RunPending {
		t.Errorf("expected pending, got %s", got.Status)
	}

	updated, err := store.Update(ctx, run.ID, func(r *types.WorkflowRun) {
		r.Status = types.RunRunning
		r.SuccessItems = 3
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != types.RunRunning || updated.SuccessItems != 3 {
		t.Errorf("update not applied: %+v", updated)
	}

	// Update must persist across a fresh store instance.
	reread, err := NewRunStore(dir).Get(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reread.SuccessItems != 3 {
		t.Errorf("expected persisted success items 3, got %d", reread.SuccessItems)
	}
}

func TestRunStoreUpdateMissingRun(t *testing.T) {
	store := NewRunStore(t.TempDir())
	_, err := store.Update(context.Background(), types.NewRunID(), func(r *types.WorkflowRun) {
		r.Status = types.RunFailed
	})
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRunStoreListOrdersByCreation(t *testing.T) {
	store := NewRunStore(t.TempDir())
	ctx := context.Background()

	base := time.Now()
	var ids []types.RunID
	for i := 0; i < 3; i++ {
		run := &types.WorkflowRun{
			ID:        types.NewRunID(),
			Type:      types.WorkflowAgent,
			Status:    types.RunPending,
			Trigger:   types.TriggerUser,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := store.Create(ctx, run); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, run.ID)
	}

	runs, err := store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	for i, run := range runs {
		if run.ID != ids[i] {
			t.Errorf("run %d out of order", i)
		}
	}
}
