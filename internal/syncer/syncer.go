// Package syncer pulls platform data streams page by page, persisting the
// resumable cursor after every page so an interrupted sync picks up where
// it stopped instead of starting over.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/user/magpie/internal/types"
)

// ErrSyncInProgress is returned when a sync is requested for a stream
// whose cursor is already in the syncing state. The guard is advisory:
// it catches concurrent requests within one process, and a cursor stuck
// in syncing after a crash is taken over, not blocked forever.
var ErrSyncInProgress = errors.New("sync already in progress")

// staleSyncAge is how long a cursor may sit in syncing before it is
// presumed abandoned by a crashed process and taken over.
const staleSyncAge = 30 * time.Minute

// PageSource fetches one page of a platform data stream.
type PageSource interface {
	FetchPage(ctx context.Context, accountID types.AccountID, dataType, pageToken string) (*Page, error)
}

// Page is one fetched page: items plus the token for the next page. An
// empty NextToken ends the stream.
type Page struct {
	Items     []Item
	NextToken string
}

// Item is one synced record with its platform-side creation time, used to
// advance the oldest/newest watermarks.
type Item struct {
	ID        string
	CreatedAt time.Time
}

// Syncer drives cursor-based incremental syncs.
type Syncer struct {
	cursors types.CursorStore
	source  PageSource
	// maxPages bounds one Sync call; 0 means no bound.
	maxPages int
}

// New creates a Syncer.
func New(cursors types.CursorStore, source PageSource, maxPages int) *Syncer {
	return &Syncer{cursors: cursors, source: source, maxPages: maxPages}
}

// Sync pulls the (accountID, dataType) stream until it is exhausted, the
// page bound is hit, or an error occurs. It returns the number of items
// synced in this call. The cursor's completion timestamp is set on every
// outcome, success or failure.
func (s *Syncer) Sync(ctx context.Context, accountID types.AccountID, dataType string) (int, error) {
	cursor, err := s.cursors.GetOrCreate(ctx, accountID, dataType)
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}

	if cursor.Status == types.SyncSyncing {
		if cursor.LastSyncStartedAt != nil && time.Since(*cursor.LastSyncStartedAt) < staleSyncAge {
			return 0, fmt.Errorf("%s: %w", cursor.Key, ErrSyncInProgress)
		}
		slog.Warn("taking over stale sync", "cursor", string(cursor.Key), "started_at", cursor.LastSyncStartedAt)
	}

	now := time.Now()
	cursor, err = s.cursors.Update(ctx, cursor.Key, func(c *types.SyncCursor) {
		c.Status = types.SyncSyncing
		c.LastError = ""
		c.LastSyncStartedAt = &now
	})
	if err != nil {
		return 0, fmt.Errorf("start sync: %w", err)
	}

	synced, err := s.pageLoop(ctx, cursor)
	done := time.Now()
	if err != nil {
		if _, uerr := s.cursors.Update(ctx, cursor.Key, func(c *types.SyncCursor) {
			c.Status = types.SyncFailed
			c.LastError = err.Error()
			c.LastSyncCompletedAt = &done
		}); uerr != nil {
			slog.Error("record sync failure", "cursor", string(cursor.Key), "error", uerr)
		}
		return synced, err
	}

	if _, uerr := s.cursors.Update(ctx, cursor.Key, func(c *types.SyncCursor) {
		c.Status = types.SyncCompleted
		c.LastSyncCompletedAt = &done
	}); uerr != nil {
		return synced, fmt.Errorf("record sync completion: %w", uerr)
	}
	slog.Info("sync completed", "cursor", string(cursor.Key), "items", synced)
	return synced, nil
}

// pageLoop fetches pages from the cursor's position, persisting the token
// and watermarks after each page. A failure mid-stream loses at most the
// in-flight page.
func (s *Syncer) pageLoop(ctx context.Context, cursor *types.SyncCursor) (int, error) {
	synced := 0
	token := cursor.PageToken

	for pages := 0; s.maxPages == 0 || pages < s.maxPages; pages++ {
		if err := ctx.Err(); err != nil {
			return synced, err
		}

		page, err := s.source.FetchPage(ctx, cursor.AccountID, cursor.DataType, token)
		if err != nil {
			return synced, fmt.Errorf("fetch page: %w", err)
		}

		synced += len(page.Items)
		token = page.NextToken

		updated, err := s.cursors.Update(ctx, cursor.Key, func(c *types.SyncCursor) {
			c.PageToken = token
			c.ItemsSynced += len(page.Items)
			advanceWatermarks(c, page.Items)
		})
		if err != nil {
			return synced, fmt.Errorf("persist cursor: %w", err)
		}
		cursor = updated

		if token == "" {
			return synced, nil
		}
	}
	return synced, nil
}

// advanceWatermarks widens the cursor's oldest/newest fetched range to
// cover the page's items.
func advanceWatermarks(c *types.SyncCursor, items []Item) {
	for i := range items {
		at := items[i].CreatedAt
		if at.IsZero() {
			continue
		}
		if c.OldestFetched == nil || at.Before(*c.OldestFetched) {
			t := at
			c.OldestFetched = &t
		}
		if c.NewestFetched == nil || at.After(*c.NewestFetched) {
			t := at
			c.NewestFetched = &t
		}
	}
}
