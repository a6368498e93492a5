// internal/state/contact.go
package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/user/magpie/internal/types"
)

// ContactStore is a JSON-file-backed store for contacts with the lookup
// methods the dedup check needs (exact email, case-insensitive name).
type ContactStore struct {
	root string
	mu   sync.RWMutex
}

// NewContactStore creates a file-backed ContactStore rooted at the given directory.
func NewContactStore(root string) *ContactStore {
	return &ContactStore{root: root}
}

func (s *ContactStore) path() string {
	return filepath.Join(s.root, "contacts.json")
}

func (s *ContactStore) load() ([]*types.Contact, error) {
	var contacts []*types.Contact
	if err := readJSON(s.path(), &contacts); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read contacts: %w", err)
	}
	return contacts, nil
}

// Create persists a new contact. Uniqueness is the caller's concern: the
// contact tools run the dedup check first and log duplicates as skipped.
func (s *ContactStore) Create(_ context.Context, contact *types.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	contacts, err := s.load()
	if err != nil {
		return err
	}
	for _, existing := range contacts {
		if existing.ID == contact.ID {
			return fmt.Errorf("contact already exists: %s", contact.ID)
		}
	}
	contacts = append(contacts, contact)
	return writeJSON(s.path(), contacts)
}

// Get returns a contact by ID or types.ErrNotFound.
func (s *ContactStore) Get(_ context.Context, id types.ContactID) (*types.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	contacts, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, c := range contacts {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, fmt.Errorf("contact %s: %w", id, types.ErrNotFound)
}

// FindByEmail returns the contact with an exact email match.
func (s *ContactStore) FindByEmail(_ context.Context, email string) (*types.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if email == "" {
		return nil, types.ErrNotFound
	}
	contacts, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, c := range contacts {
		if c.Email == email {
			return c, nil
		}
	}
	return nil, fmt.Errorf("contact email %s: %w", email, types.ErrNotFound)
}

// FindByName returns the contact whose name matches case-insensitively.
func (s *ContactStore) FindByName(_ context.Context, name string) (*types.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	contacts, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, c := range contacts {
		if strings.EqualFold(c.Name, name) {
			return c, nil
		}
	}
	return nil, fmt.Errorf("contact name %s: %w", name, types.ErrNotFound)
}

// Update applies mutate to the stored contact and persists the result.
func (s *ContactStore) Update(_ context.Context, id types.ContactID, mutate func(*types.Contact)) (*types.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	contacts, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, c := range contacts {
		if c.ID == id {
			mutate(c)
			if err := writeJSON(s.path(), contacts); err != nil {
				return nil, err
			}
			return c, nil
		}
	}
	return nil, fmt.Errorf("contact %s: %w", id, types.ErrNotFound)
}

// List returns all contacts sorted by creation time.
func (s *ContactStore) List(_ context.Context) ([]*types.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	contacts, err := s.load()
	if err != nil {
		return nil, err
	}
	sort.Slice(contacts, func(i, j int) bool {
		return contacts[i].CreatedAt.Before(contacts[j].CreatedAt)
	})
	return contacts, nil
}
