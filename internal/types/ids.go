// internal/types/ids.go
package types

import (
	"strings"

	"github.com/google/uuid"
)

type RunID string
type StepID string
type ContactID string
type GoalID string
type TemplateID string
type AccountID string
type CursorKey string

func NewRunID() RunID {
	return RunID(uuid.New().String())
}

func NewStepID() StepID {
	return StepID(uuid.New().String())
}

func NewContactID() ContactID {
	return ContactID(uuid.New().String())
}

func NewGoalID() GoalID {
	return GoalID(uuid.New().String())
}

func NewTemplateID() TemplateID {
	return TemplateID(uuid.New().String())
}

// NewCursorKey builds the unique key for a sync cursor from the owning
// account and the data type being synced (e.g. "acct-1:contacts").
func NewCursorKey(accountID AccountID, dataType string) CursorKey {
	return CursorKey(strings.Join([]string{string(accountID), dataType}, ":"))
}
