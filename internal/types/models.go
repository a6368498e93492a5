// internal/types/models.go
package types

import (
	"encoding/json"
	"time"
)

// WorkflowType classifies what a run does.
type WorkflowType string

const (
	WorkflowSync     WorkflowType = "sync"
	WorkflowEnrich   WorkflowType = "enrich"
	WorkflowSearch   WorkflowType = "search"
	WorkflowPrune    WorkflowType = "prune"
	WorkflowSequence WorkflowType = "sequence"
	WorkflowAgent    WorkflowType = "agent"
)

// Trigger records what started a run.
type Trigger string

const (
	TriggerUser      Trigger = "user"
	TriggerScheduled Trigger = "scheduled"
	TriggerTemplate  Trigger = "template"
)

// WorkflowRun is one execution of a workflow. It is created at run start
// and mutated only by the goroutine executing it.
type WorkflowRun struct {
	ID             RunID           `json:"id"`
	TemplateID     TemplateID      `json:"template_id,omitempty"`
	Type           WorkflowType    `json:"type"`
	Status         RunStatus       `json:"status"`
	Trigger        Trigger         `json:"trigger"`
	Model          string          `json:"model,omitempty"`
	SystemPrompt   string          `json:"system_prompt,omitempty"`
	MaxSteps       int             `json:"max_steps,omitempty"`
	TotalItems     int             `json:"total_items"`
	ProcessedItems int             `json:"processed_items"`
	SuccessItems   int             `json:"success_items"`
	SkippedItems   int             `json:"skipped_items"`
	ErrorItems     int             `json:"error_items"`
	Config         json.RawMessage `json:"config,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Errors         []string        `json:"errors,omitempty"`
	InputTokens    int             `json:"input_tokens"`
	OutputTokens   int             `json:"output_tokens"`
	CostUSD        float64         `json:"cost_usd"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// StepType classifies one atomic action inside a run.
type StepType string

const (
	StepToolCall        StepType = "tool_call"
	StepThinking        StepType = "thinking"
	StepContactCreate   StepType = "contact_create"
	StepContactEnrich   StepType = "contact_enrich"
	StepContactArchive  StepType = "contact_archive"
	StepRoutingDecision StepType = "routing_decision"
	StepPostEngage      StepType = "post_engage"
	StepPostPublish     StepType = "post_publish"
	StepDraftSave       StepType = "draft_save"
	StepProgressReport  StepType = "progress_report"
	StepError           StepType = "error"
)

// WorkflowStep is one ordered action within a run. Index is assigned by the
// step store and is strictly increasing per run. Steps are immutable once
// written except for the status transition out of pending/running.
type WorkflowStep struct {
	ID         StepID          `json:"id"`
	RunID      RunID           `json:"run_id"`
	Index      int             `json:"index"`
	Type       StepType        `json:"type"`
	Status     StepStatus      `json:"status"`
	ContactID  ContactID       `json:"contact_id,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMS int64           `json:"duration_ms"`
	At         time.Time       `json:"at"`
}

// SyncCursor is the resumable position for one (account, data-type) sync
// stream. Exactly one cursor exists per key.
type SyncCursor struct {
	Key                 CursorKey  `json:"key"`
	AccountID           AccountID  `json:"account_id"`
	DataType            string     `json:"data_type"`
	PageToken           string     `json:"page_token,omitempty"`
	OldestFetched       *time.Time `json:"oldest_fetched,omitempty"`
	NewestFetched       *time.Time `json:"newest_fetched,omitempty"`
	ItemsSynced         int        `json:"items_synced"`
	Status              SyncStatus `json:"status"`
	LastError           string     `json:"last_error,omitempty"`
	LastSyncStartedAt   *time.Time `json:"last_sync_started_at,omitempty"`
	LastSyncCompletedAt *time.Time `json:"last_sync_completed_at,omitempty"`
}

// BrowserSession is one persisted authenticated browser identity for a
// platform. At most one live session exists per platform.
type BrowserSession struct {
	Platform        string       `json:"platform"`
	Cookies         []HTTPCookie `json:"cookies"`
	UserAgent       string       `json:"user_agent"`
	ViewportWidth   int64        `json:"viewport_width"`
	ViewportHeight  int64        `json:"viewport_height"`
	CreatedAt       time.Time    `json:"created_at"`
	LastValidatedAt time.Time    `json:"last_validated_at"`
}

// HTTPCookie is the serialized form of a captured browser cookie.
type HTTPCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"http_only"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"same_site,omitempty"`
}

// Contact is a prospect record touched by agent tool calls.
type Contact struct {
	ID        ContactID       `json:"id"`
	Name      string          `json:"name"`
	Email     string          `json:"email,omitempty"`
	Platform  string          `json:"platform,omitempty"`
	Handle    string          `json:"handle,omitempty"`
	Notes     string          `json:"notes,omitempty"`
	Fields    json.RawMessage `json:"fields,omitempty"`
	Archived  bool            `json:"archived"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Goal is a user-defined target metric linked to workflow templates.
type Goal struct {
	ID           GoalID       `json:"id"`
	Name         string       `json:"name"`
	Status       GoalStatus   `json:"status"`
	TemplateIDs  []TemplateID `json:"template_ids,omitempty"`
	CountedSteps []StepType   `json:"counted_steps"`
	CurrentValue int          `json:"current_value"`
	TargetValue  int          `json:"target_value"`
	CreatedAt    time.Time    `json:"created_at"`
	AchievedAt   *time.Time   `json:"achieved_at,omitempty"`
}

// GoalProgress is one append-only snapshot in a goal's progress series.
type GoalProgress struct {
	GoalID GoalID    `json:"goal_id"`
	Value  int       `json:"value"`
	Delta  int       `json:"delta"`
	Source RunID     `json:"source,omitempty"`
	Note   string    `json:"note,omitempty"`
	At     time.Time `json:"at"`
}

// Template is a reusable workflow definition. A template may carry a cron
// schedule; the scheduler starts a run for it when the schedule fires.
type Template struct {
	ID           TemplateID      `json:"id"`
	Name         string          `json:"name"`
	Type         WorkflowType    `json:"type"`
	SystemPrompt string          `json:"system_prompt,omitempty"`
	Config       json.RawMessage `json:"config,omitempty"`
	Schedule     string          `json:"schedule,omitempty"`
	AccountID    AccountID       `json:"account_id,omitempty"`
	Model        string          `json:"model,omitempty"`
	Enabled      bool            `json:"enabled"`
	CreatedAt    time.Time       `json:"created_at"`
}
