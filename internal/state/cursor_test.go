// internal/state/cursor_test.go
package state

import (
	"context"
	"testing"
	"time"

	"github.com/user/magpie/internal/types"
)

func TestCursorStoreGetOrCreateIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	store := NewCursorStore(dir)
	ctx := context.Background()

	first, err := store.GetOrCreate(ctx, "acct-1", "contacts")
	if err != nil {
		t.Fatal(err)
	}
	if first.Status != types.SyncIdle {
		t.Errorf("new cursor should be idle, got %s", first.Status)
	}

	if _, err := store.Update(ctx, first.Key, func(c *types.SyncCursor) {
		c.PageToken = "page-2"
		c.ItemsSynced = 40
	}); err != nil {
		t.Fatal(err)
	}

	// Same pair returns the same cursor, token intact.
	again, err := store.GetOrCreate(ctx, "acct-1", "contacts")
	if err != nil {
		t.Fatal(err)
	}
	if again.Key != first.Key {
		t.Errorf("expected one cursor per (account, data-type), got %s and %s", first.Key, again.Key)
	}
	if again.PageToken != "page-2" || again.ItemsSynced != 40 {
		t.Errorf("cursor state lost: %+v", again)
	}

	// A different data type gets its own cursor.
	other, err := store.GetOrCreate(ctx, "acct-1", "posts")
	if err != nil {
		t.Fatal(err)
	}
	if other.Key == first.Key {
		t.Error("expected distinct cursor for different data type")
	}
}

func TestCursorStoreUpdateSetsCompletion(t *testing.T) {
	store := NewCursorStore(t.TempDir())
	ctx := context.Background()

	cursor, err := store.GetOrCreate(ctx, "acct-2", "mentions")
	if err != nil {
		t.Fatal(err)
	}

	done := time.Now()
	updated, err := store.Update(ctx, cursor.Key, func(c *types.SyncCursor) {
		c.Status = types.SyncFailed
		c.LastError = "boom"
		c.LastSyncCompletedAt = &done
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.LastSyncCompletedAt == nil {
		t.Error("expected completion timestamp to be set")
	}
	if updated.Status != types.SyncFailed || updated.LastError != "boom" {
		t.Errorf("unexpected cursor state: %+v", updated)
	}
}
