package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/user/magpie/internal/engine"
	"github.com/user/magpie/internal/platform"
	"github.com/user/magpie/internal/types"
)

// EngagePost performs an engagement action on an existing post through the
// platform API.
type EngagePost struct {
	client    *platform.Client
	accountID types.AccountID
}

// NewEngagePost creates the engage_post tool bound to one account.
func NewEngagePost(client *platform.Client, accountID types.AccountID) *EngagePost {
	return &EngagePost{client: client, accountID: accountID}
}

func (e *EngagePost) Name() string { return "engage_post" }
func (e *EngagePost) Description() string {
	return "Like, repost, or reply to a post on the platform."
}
func (e *EngagePost) StepType() types.StepType { return types.StepPostEngage }

func (e *EngagePost) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"post_id": {"type": "string", "description": "ID of the post to engage with"},
			"action": {"type": "string", "enum": ["like", "repost", "reply"], "description": "Engagement action"},
			"comment": {"type": "string", "description": "Reply text, required when action is reply"}
		},
		"required": ["post_id", "action"]
	}`)
}

func (e *EngagePost) Execute(ctx context.Context, call *engine.ToolCall) (string, error) {
	var params struct {
		PostID  string `json:"post_id"`
		Action  string `json:"action"`
		Comment string `json:"comment"`
	}
	if err := call.Bind(&params); err != nil {
		return "", err
	}
	if params.Action == "reply" && params.Comment == "" {
		return "", fmt.Errorf("reply requires a comment")
	}

	if err := e.client.EngagePost(ctx, e.accountID, params.PostID, params.Action, params.Comment); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s on post %s done", params.Action, params.PostID), nil
}

// PublishPost publishes new content to the account's feed.
type PublishPost struct {
	client    *platform.Client
	accountID types.AccountID
}

// NewPublishPost creates the publish_post tool bound to one account.
func NewPublishPost(client *platform.Client, accountID types.AccountID) *PublishPost {
	return &PublishPost{client: client, accountID: accountID}
}

func (p *PublishPost) Name() string             { return "publish_post" }
func (p *PublishPost) Description() string      { return "Publish a new post to the account's feed." }
func (p *PublishPost) StepType() types.StepType { return types.StepPostPublish }

func (p *PublishPost) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"content": {"type": "string", "description": "The post text"}
		},
		"required": ["content"]
	}`)
}

func (p *PublishPost) Execute(ctx context.Context, call *engine.ToolCall) (string, error) {
	var params struct {
		Content string `json:"content"`
	}
	if err := call.Bind(&params); err != nil {
		return "", err
	}

	id, err := p.client.PublishPost(ctx, p.accountID, params.Content)
	if err != nil {
		return "", err
	}
	return "published post " + id, nil
}

// SaveDraft stores content as an unpublished draft for human review.
type SaveDraft struct {
	client    *platform.Client
	accountID types.AccountID
}

// NewSaveDraft creates the save_draft tool bound to one account.
func NewSaveDraft(client *platform.Client, accountID types.AccountID) *SaveDraft {
	return &SaveDraft{client: client, accountID: accountID}
}

func (s *SaveDraft) Name() string { return "save_draft" }
func (s *SaveDraft) Description() string {
	return "Save post content as a draft instead of publishing it."
}
func (s *SaveDraft) StepType() types.StepType { return types.StepDraftSave }

func (s *SaveDraft) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"content": {"type": "string", "description": "The draft text"}
		},
		"required": ["content"]
	}`)
}

func (s *SaveDraft) Execute(ctx context.Context, call *engine.ToolCall) (string, error) {
	var params struct {
		Content string `json:"content"`
	}
	if err := call.Bind(&params); err != nil {
		return "", err
	}

	id, err := s.client.SaveDraft(ctx, s.accountID, params.Content)
	if err != nil {
		return "", err
	}
	return "saved draft " + id, nil
}
