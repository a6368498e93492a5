// internal/state/session.go
package state

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/user/magpie/internal/types"
)

// SessionStore persists browser sessions encrypted at rest. Each platform
// gets one file at browser/<platform>.enc; writing a session for a platform
// replaces any previous one, which keeps the one-live-session-per-platform
// invariant.
type SessionStore struct {
	root string
	key  [32]byte
	mu   sync.RWMutex
}

// NewSessionStore creates an encrypted SessionStore rooted at the given
// directory. key must be 32 bytes.
func NewSessionStore(root string, key []byte) (*SessionStore, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("session key must be 32 bytes, got %d", len(key))
	}
	s := &SessionStore{root: root}
	copy(s.key[:], key)
	return s, nil
}

func (s *SessionStore) sessionPath(platform string) string {
	return filepath.Join(s.root, "browser", platform+".enc")
}

// seal encrypts plaintext with a random nonce prepended to the box.
func (s *SessionStore) seal(plaintext []byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &s.key), nil
}

// open decrypts a box produced by seal.
func (s *SessionStore) open(box []byte) ([]byte, error) {
	if len(box) < 24 {
		return nil, fmt.Errorf("session file too short")
	}
	var nonce [24]byte
	copy(nonce[:], box[:24])
	plaintext, ok := secretbox.Open(nil, box[24:], &nonce, &s.key)
	if !ok {
		return nil, fmt.Errorf("decrypt session: wrong key or corrupt file")
	}
	return plaintext, nil
}

// Put encrypts and persists the session, replacing any existing session
// for the platform.
func (s *SessionStore) Put(_ context.Context, session *types.BrowserSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	plaintext, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	box, err := s.seal(plaintext)
	if err != nil {
		return err
	}

	path := s.sessionPath(session.Platform)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create browser dir: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, box, 0o600); err != nil {
		return fmt.Errorf("write temp session file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp session file: %w", err)
	}
	return nil
}

// Get decrypts and returns the session for the platform, or types.ErrNotFound.
func (s *SessionStore) Get(_ context.Context, platform string) (*types.BrowserSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	box, err := os.ReadFile(s.sessionPath(platform))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("session %s: %w", platform, types.ErrNotFound)
		}
		return nil, fmt.Errorf("read session file: %w", err)
	}

	plaintext, err := s.open(box)
	if err != nil {
		return nil, err
	}

	var session types.BrowserSession
	if err := json.Unmarshal(plaintext, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &session, nil
}

// List decrypts and returns all saved sessions.
func (s *SessionStore) List(ctx context.Context) ([]*types.BrowserSession, error) {
	s.mu.RLock()
	entries, err := os.ReadDir(filepath.Join(s.root, "browser"))
	s.mu.RUnlock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read browser dir: %w", err)
	}

	var sessions []*types.BrowserSession
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".enc" {
			continue
		}
		session, err := s.Get(ctx, name[:len(name)-len(".enc")])
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

// Delete removes the session for the platform. Deleting a missing session
// is not an error.
func (s *SessionStore) Delete(_ context.Context, platform string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.sessionPath(platform)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}
