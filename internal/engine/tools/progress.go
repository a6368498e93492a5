package tools

import (
	"context"
	"encoding/json"

	"github.com/user/magpie/internal/engine"
	"github.com/user/magpie/internal/types"
)

// ReportProgress lets the agent leave an interim status note on the run's
// ledger. It has no side effects beyond the step itself.
type ReportProgress struct{}

// NewReportProgress creates the report_progress tool.
func NewReportProgress() *ReportProgress {
	return &ReportProgress{}
}

func (r *ReportProgress) Name() string { return "report_progress" }
func (r *ReportProgress) Description() string {
	return "Record an interim progress note for the run. Use sparingly, at meaningful milestones."
}
func (r *ReportProgress) StepType() types.StepType { return types.StepProgressReport }

func (r *ReportProgress) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"note": {"type": "string", "description": "What has been accomplished so far"}
		},
		"required": ["note"]
	}`)
}

func (r *ReportProgress) Execute(_ context.Context, call *engine.ToolCall) (string, error) {
	var params struct {
		Note string `json:"note"`
	}
	if err := call.Bind(&params); err != nil {
		return "", err
	}
	return "noted: " + params.Note, nil
}
