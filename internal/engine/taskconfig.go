package engine

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/user/magpie/internal/types"
)

// Each workflow type gets a typed config struct instead of a free-form
// map; configs are decoded and validated once, at loop entry.

var validate = validator.New(validator.WithRequiredStructEnabled())

// TaskConfig is the decoded, validated configuration of one run.
type TaskConfig interface {
	WorkflowType() types.WorkflowType
}

// SearchConfig drives prospect-search runs.
type SearchConfig struct {
	Query      string `json:"query" validate:"required"`
	Platform   string `json:"platform,omitempty"`
	MaxResults int    `json:"max_results,omitempty" validate:"omitempty,gte=1,lte=50"`
}

func (SearchConfig) WorkflowType() types.WorkflowType { return types.WorkflowSearch }

// EnrichConfig drives contact-enrichment runs.
type EnrichConfig struct {
	ContactIDs []types.ContactID `json:"contact_ids" validate:"required,min=1"`
	Fields     []string          `json:"fields,omitempty"`
}

func (EnrichConfig) WorkflowType() types.WorkflowType { return types.WorkflowEnrich }

// PruneConfig drives contact-pruning runs.
type PruneConfig struct {
	Criteria string `json:"criteria" validate:"required"`
	Limit    int    `json:"limit,omitempty" validate:"omitempty,gte=1"`
}

func (PruneConfig) WorkflowType() types.WorkflowType { return types.WorkflowPrune }

// AgentConfig drives free-form agent runs.
type AgentConfig struct {
	Instruction string `json:"instruction" validate:"required"`
}

func (AgentConfig) WorkflowType() types.WorkflowType { return types.WorkflowAgent }

// SequenceConfig drives multi-stage outreach sequence runs.
type SequenceConfig struct {
	Stages []SequenceStage `json:"stages" validate:"required,min=1,dive"`
}

// SequenceStage is one stage in an outreach sequence.
type SequenceStage struct {
	Action  string `json:"action" validate:"required,oneof=engage publish draft"`
	Prompt  string `json:"prompt" validate:"required"`
	Targets int    `json:"targets,omitempty" validate:"omitempty,gte=1"`
}

func (SequenceConfig) WorkflowType() types.WorkflowType { return types.WorkflowSequence }

// SyncConfig drives platform-sync runs. Sync runs don't enter the agent
// loop; the syncer consumes this config directly.
type SyncConfig struct {
	AccountID types.AccountID `json:"account_id" validate:"required"`
	DataType  string          `json:"data_type" validate:"required,oneof=contacts posts mentions"`
}

func (SyncConfig) WorkflowType() types.WorkflowType { return types.WorkflowSync }

// ParseTaskConfig decodes and validates the raw config blob for the given
// workflow type.
func ParseTaskConfig(workflowType types.WorkflowType, raw json.RawMessage) (TaskConfig, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}

	var cfg TaskConfig
	switch workflowType {
	case types.WorkflowSearch:
		cfg = &SearchConfig{}
	case types.WorkflowEnrich:
		cfg = &EnrichConfig{}
	case types.WorkflowPrune:
		cfg = &PruneConfig{}
	case types.WorkflowAgent:
		cfg = &AgentConfig{}
	case types.WorkflowSequence:
		cfg = &SequenceConfig{}
	case types.WorkflowSync:
		cfg = &SyncConfig{}
	default:
		return nil, fmt.Errorf("unknown workflow type: %s", workflowType)
	}

	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("decode %s config: %w", workflowType, err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid %s config: %w", workflowType, err)
	}
	return cfg, nil
}
