package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/user/magpie/internal/engine"
	"github.com/user/magpie/internal/types"
)

// CreateContact adds a prospect to the contact book. Duplicates (exact
// email match, or case-insensitive name match) are skipped, not created
// twice; the existing contact's ID is returned to the model.
type CreateContact struct {
	contacts types.ContactStore
}

// NewCreateContact creates the create_contact tool.
func NewCreateContact(contacts types.ContactStore) *CreateContact {
	return &CreateContact{contacts: contacts}
}

func (c *CreateContact) Name() string { return "create_contact" }
func (c *CreateContact) Description() string {
	return "Create a new contact. Duplicates by email or name are skipped."
}
func (c *CreateContact) StepType() types.StepType { return types.StepContactCreate }

func (c *CreateContact) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"name": {"type": "string", "description": "Full name"},
			"email": {"type": "string", "description": "Email address, if known"},
			"platform": {"type": "string", "description": "Platform the contact was found on"},
			"handle": {"type": "string", "description": "Platform handle or profile slug"},
			"notes": {"type": "string", "description": "Anything worth remembering about this contact"}
		},
		"required": ["name"]
	}`)
}

func (c *CreateContact) Execute(ctx context.Context, call *engine.ToolCall) (string, error) {
	var params struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Platform string `json:"platform"`
		Handle   string `json:"handle"`
		Notes    string `json:"notes"`
	}
	if err := call.Bind(&params); err != nil {
		return "", err
	}

	if existing, err := c.findDuplicate(ctx, params.Email, params.Name); err != nil {
		return "", err
	} else if existing != nil {
		call.ContactID = existing.ID
		return "", &engine.Skip{
			Reason: "duplicate",
			Result: fmt.Sprintf("contact already exists: %s (%s)", existing.ID, existing.Name),
		}
	}

	now := time.Now()
	contact := &types.Contact{
		ID:        types.NewContactID(),
		Name:      params.Name,
		Email:     params.Email,
		Platform:  params.Platform,
		Handle:    params.Handle,
		Notes:     params.Notes,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.contacts.Create(ctx, contact); err != nil {
		return "", fmt.Errorf("create contact: %w", err)
	}
	call.ContactID = contact.ID
	return fmt.Sprintf("created contact %s (%s)", contact.ID, contact.Name), nil
}

func (c *CreateContact) findDuplicate(ctx context.Context, email, name string) (*types.Contact, error) {
	if email != "" {
		existing, err := c.contacts.FindByEmail(ctx, email)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, types.ErrNotFound) {
			return nil, err
		}
	}
	existing, err := c.contacts.FindByName(ctx, name)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}
	return nil, nil
}

// EnrichContact fills in missing contact fields.
type EnrichContact struct {
	contacts types.ContactStore
}

// NewEnrichContact creates the enrich_contact tool.
func NewEnrichContact(contacts types.ContactStore) *EnrichContact {
	return &EnrichContact{contacts: contacts}
}

func (e *EnrichContact) Name() string { return "enrich_contact" }
func (e *EnrichContact) Description() string {
	return "Update an existing contact with newly found details. Only provided fields change."
}
func (e *EnrichContact) StepType() types.StepType { return types.StepContactEnrich }

func (e *EnrichContact) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"contact_id": {"type": "string", "description": "ID of the contact to update"},
			"email": {"type": "string"},
			"platform": {"type": "string"},
			"handle": {"type": "string"},
			"notes": {"type": "string", "description": "Appended to existing notes"}
		},
		"required": ["contact_id"]
	}`)
}

func (e *EnrichContact) Execute(ctx context.Context, call *engine.ToolCall) (string, error) {
	var params struct {
		ContactID string `json:"contact_id"`
		Email     string `json:"email"`
		Platform  string `json:"platform"`
		Handle    string `json:"handle"`
		Notes     string `json:"notes"`
	}
	if err := call.Bind(&params); err != nil {
		return "", err
	}

	id := types.ContactID(params.ContactID)
	updated, err := e.contacts.Update(ctx, id, func(c *types.Contact) {
		if params.Email != "" {
			c.Email = params.Email
		}
		if params.Platform != "" {
			c.Platform = params.Platform
		}
		if params.Handle != "" {
			c.Handle = params.Handle
		}
		if params.Notes != "" {
			if c.Notes != "" {
				c.Notes += "\n"
			}
			c.Notes += params.Notes
		}
		c.UpdatedAt = time.Now()
	})
	if err != nil {
		return "", fmt.Errorf("enrich contact %s: %w", id, err)
	}
	call.ContactID = id
	return fmt.Sprintf("updated contact %s (%s)", updated.ID, updated.Name), nil
}

// ArchiveContact soft-deletes a contact. Archiving an already-archived
// contact is a skip, so prune runs stay idempotent.
type ArchiveContact struct {
	contacts types.ContactStore
}

// NewArchiveContact creates the archive_contact tool.
func NewArchiveContact(contacts types.ContactStore) *ArchiveContact {
	return &ArchiveContact{contacts: contacts}
}

func (a *ArchiveContact) Name() string { return "archive_contact" }
func (a *ArchiveContact) Description() string {
	return "Archive a contact that no longer belongs in the active list."
}
func (a *ArchiveContact) StepType() types.StepType { return types.StepContactArchive }

func (a *ArchiveContact) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"contact_id": {"type": "string", "description": "ID of the contact to archive"},
			"reason": {"type": "string", "description": "Why this contact is being archived"}
		},
		"required": ["contact_id"]
	}`)
}

func (a *ArchiveContact) Execute(ctx context.Context, call *engine.ToolCall) (string, error) {
	var params struct {
		ContactID string `json:"contact_id"`
		Reason    string `json:"reason"`
	}
	if err := call.Bind(&params); err != nil {
		return "", err
	}

	id := types.ContactID(params.ContactID)
	existing, err := a.contacts.Get(ctx, id)
	if err != nil {
		return "", fmt.Errorf("archive contact %s: %w", id, err)
	}
	call.ContactID = id
	if existing.Archived {
		return "", &engine.Skip{
			Reason: "already archived",
			Result: fmt.Sprintf("contact %s is already archived", id),
		}
	}

	_, err = a.contacts.Update(ctx, id, func(c *types.Contact) {
		c.Archived = true
		if params.Reason != "" {
			if c.Notes != "" {
				c.Notes += "\n"
			}
			c.Notes += "archived: " + params.Reason
		}
		c.UpdatedAt = time.Now()
	})
	if err != nil {
		return "", fmt.Errorf("archive contact %s: %w", id, err)
	}
	return fmt.Sprintf("archived contact %s (%s)", id, existing.Name), nil
}
