// internal/state/template.go
package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/magpie/internal/types"
)

// TemplateStore is a JSON-file-backed store for workflow templates.
type TemplateStore struct {
	root string
	mu   sync.RWMutex
}

// NewTemplateStore creates a file-backed TemplateStore rooted at the given directory.
func NewTemplateStore(root string) *TemplateStore {
	return &TemplateStore{root: root}
}

func (s *TemplateStore) path() string {
	return filepath.Join(s.root, "templates.json")
}

func (s *TemplateStore) load() ([]*types.Template, error) {
	var templates []*types.Template
	if err := readJSON(s.path(), &templates); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read templates: %w", err)
	}
	return templates, nil
}

// Add appends a template. Returns an error if one with the same name exists.
func (s *TemplateStore) Add(_ context.Context, template *types.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	templates, err := s.load()
	if err != nil {
		return err
	}
	for _, existing := range templates {
		if existing.Name == template.Name {
			return fmt.Errorf("template already exists: %s", template.Name)
		}
	}
	templates = append(templates, template)
	return writeJSON(s.path(), templates)
}

// Get returns a template by ID or types.ErrNotFound.
func (s *TemplateStore) Get(_ context.Context, id types.TemplateID) (*types.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	templates, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, t := range templates {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, fmt.Errorf("template %s: %w", id, types.ErrNotFound)
}

// GetByName returns a template by name or types.ErrNotFound.
func (s *TemplateStore) GetByName(_ context.Context, name string) (*types.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	templates, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, t := range templates {
		if t.Name == name {
			return t, nil
		}
	}
	return nil, fmt.Errorf("template %s: %w", name, types.ErrNotFound)
}

// List returns all templates.
func (s *TemplateStore) List(_ context.Context) ([]*types.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	templates, err := s.load()
	if err != nil {
		return nil, err
	}
	if templates == nil {
		return []*types.Template{}, nil
	}
	return templates, nil
}

// SetEnabled flips the enabled flag on the named template.
func (s *TemplateStore) SetEnabled(_ context.Context, name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	templates, err := s.load()
	if err != nil {
		return err
	}
	for _, t := range templates {
		if t.Name == name {
			t.Enabled = enabled
			return writeJSON(s.path(), templates)
		}
	}
	return fmt.Errorf("template %s: %w", name, types.ErrNotFound)
}

// Remove deletes a template by ID.
func (s *TemplateStore) Remove(_ context.Context, id types.TemplateID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	templates, err := s.load()
	if err != nil {
		return err
	}
	for i, t := range templates {
		if t.ID == id {
			templates = append(templates[:i], templates[i+1:]...)
			return writeJSON(s.path(), templates)
		}
	}
	return fmt.Errorf("template %s: %w", id, types.ErrNotFound)
}
