// internal/state/session_test.go
package state

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/user/magpie/internal/types"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

func TestSessionStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewSessionStore(dir, testKey())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	session := &types.BrowserSession{
		Platform:       "linkedin",
		UserAgent:      "Mozilla/5.0",
		ViewportWidth:  1440,
		ViewportHeight: 900,
		Cookies: []types.HTTPCookie{
			{Name: "li_at", Value: "secret-token", Domain: ".linkedin.com", Path: "/"},
		},
		CreatedAt: time.Now(),
	}
	if err := store.Put(ctx, session); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, "linkedin")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Cookies) != 1 || got.Cookies[0].Value != "secret-token" {
		t.Errorf("cookies lost in round trip: %+v", got.Cookies)
	}

	// On-disk bytes must not contain the cookie value in the clear.
	raw, err := os.ReadFile(filepath.Join(dir, "browser", "linkedin.enc"))
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(raw, []byte("secret-token")) {
		t.Error("session file contains plaintext cookie value")
	}
}

func TestSessionStoreOverwriteAndDelete(t *testing.T) {
	store, err := NewSessionStore(t.TempDir(), testKey())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := store.Put(ctx, &types.BrowserSession{Platform: "x", UserAgent: "old"}); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(ctx, &types.BrowserSession{Platform: "x", UserAgent: "new"}); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, "x")
	if err != nil {
		t.Fatal(err)
	}
	if got.UserAgent != "new" {
		t.Errorf("expected re-setup to overwrite session, got %q", got.UserAgent)
	}

	if err := store.Delete(ctx, "x"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, "x"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	// Deleting twice is fine.
	if err := store.Delete(ctx, "x"); err != nil {
		t.Errorf("second delete should be a no-op, got %v", err)
	}
}

func TestSessionStoreRejectsBadKey(t *testing.T) {
	if _, err := NewSessionStore(t.TempDir(), []byte("short")); err == nil {
		t.Error("expected error for short key")
	}
}

func TestSessionStoreWrongKeyFailsDecrypt(t *testing.T) {
	dir := t.TempDir()
	store, err := NewSessionStore(dir, testKey())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := store.Put(ctx, &types.BrowserSession{Platform: "x"}); err != nil {
		t.Fatal(err)
	}

	other, err := NewSessionStore(dir, bytes.Repeat([]byte{0x01}, 32))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.Get(ctx, "x"); err == nil {
		t.Error("expected decrypt failure with wrong key")
	}
}
