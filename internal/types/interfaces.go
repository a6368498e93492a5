// internal/types/interfaces.go
package types

import (
	"context"
	"errors"
)

// ErrNotFound is returned by stores when the requested record does not
// exist. Callers that tolerate missing records check with errors.Is.
var ErrNotFound = errors.New("not found")

type RunStore interface {
	Create(ctx context.Context, run *WorkflowRun) error
	Get(ctx context.Context, id RunID) (*WorkflowRun, error)
	// Update applies mutate to the stored run under the store lock and
	// persists the result. Returns ErrNotFound for unknown runs.
	Update(ctx context.Context, id RunID, mutate func(*WorkflowRun)) (*WorkflowRun, error)
	List(ctx context.Context) ([]*WorkflowRun, error)
}

type StepStore interface {
	// Append writes the step with the next strictly-increasing index for
	// its run and returns the assigned index.
	Append(ctx context.Context, step *WorkflowStep) (int, error)
	ListByRun(ctx context.Context, runID RunID) ([]*WorkflowStep, error)
	Count(ctx context.Context, runID RunID) (int, error)
}

type CursorStore interface {
	GetOrCreate(ctx context.Context, accountID AccountID, dataType string) (*SyncCursor, error)
	Update(ctx context.Context, key CursorKey, mutate func(*SyncCursor)) (*SyncCursor, error)
	List(ctx context.Context) ([]*SyncCursor, error)
}

type SessionStore interface {
	Put(ctx context.Context, session *BrowserSession) error
	Get(ctx context.Context, platform string) (*BrowserSession, error)
	Delete(ctx context.Context, platform string) error
}

type ContactStore interface {
	Create(ctx context.Context, contact *Contact) error
	Get(ctx context.Context, id ContactID) (*Contact, error)
	// FindByEmail matches exactly; FindByName matches case-insensitively.
	// Both return ErrNotFound when no contact matches.
	FindByEmail(ctx context.Context, email string) (*Contact, error)
	FindByName(ctx context.Context, name string) (*Contact, error)
	Update(ctx context.Context, id ContactID, mutate func(*Contact)) (*Contact, error)
	List(ctx context.Context) ([]*Contact, error)
}

type GoalStore interface {
	Create(ctx context.Context, goal *Goal) error
	Get(ctx context.Context, id GoalID) (*Goal, error)
	ListByTemplate(ctx context.Context, templateID TemplateID) ([]*Goal, error)
	List(ctx context.Context) ([]*Goal, error)
	Update(ctx context.Context, id GoalID, mutate func(*Goal)) (*Goal, error)
	AppendProgress(ctx context.Context, progress *GoalProgress) error
	ListProgress(ctx context.Context, id GoalID) ([]*GoalProgress, error)
}

type TemplateStore interface {
	Add(ctx context.Context, template *Template) error
	Get(ctx context.Context, id TemplateID) (*Template, error)
	GetByName(ctx context.Context, name string) (*Template, error)
	List(ctx context.Context) ([]*Template, error)
	Remove(ctx context.Context, id TemplateID) error
}
