package engine

import (
	"fmt"

	"github.com/user/magpie/internal/types"
)

// pruneSummary rewrites a prune run's summary as an archived/kept tally
// derived from the ledger, so the run result is auditable without replaying
// the model transcript.
func pruneSummary(steps []*types.WorkflowStep, fallback string) string {
	var archived, kept int
	for _, s := range steps {
		if s.Type != types.StepContactArchive {
			continue
		}
		switch s.Status {
		case types.StepCompleted:
			archived++
		case types.StepSkipped:
			kept++
		}
	}
	if archived == 0 && kept == 0 {
		return fallback
	}
	return fmt.Sprintf("archived %d contacts, kept %d", archived, kept)
}
