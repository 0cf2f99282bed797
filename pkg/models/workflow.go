package models

import "encoding/json"

// Job lifecycle states.
const (
	JobStatusPending = "pending"
	JobStatusDone    = "done"
	JobStatusFailed  = "failed"
)

// Workflow step types dispatched by the scheduler.
const (
	StepTypeRun    = "run"
	StepTypeReplay = "replay"
)

// Workflow is a stored multi-step recipe.
type Workflow struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	DefinitionJSON string `json:"definition_json,omitempty"`
	CreatedTS      string `json:"created_ts"`
	Enabled        bool   `json:"enabled"`
}

// WorkflowStep is one step of a workflow definition.
type WorkflowStep struct {
	Type string         `json:"type"`
	Args map[string]any `json:"args,omitempty"`
}

// WorkflowDefinition is the parsed definition_json. Either Steps or a
// single Action may be present; the scheduler falls back to the job's own
// args when both are absent.
type WorkflowDefinition struct {
	Steps  []WorkflowStep `json:"steps,omitempty"`
	Action *WorkflowStep  `json:"action,omitempty"`
}

// Definition parses the workflow's stored definition.
func (w *Workflow) Definition() (WorkflowDefinition, error) {
	var def WorkflowDefinition
	if w.DefinitionJSON == "" {
		return def, nil
	}
	err := json.Unmarshal([]byte(w.DefinitionJSON), &def)
	return def, err
}

// Job is a scheduled execution instance of a workflow. Timestamps are
// ISO-8601 UTC strings; lexicographic comparison matches time order.
type Job struct {
	ID         int64  `json:"id"`
	WorkflowID int64  `json:"workflow_id"`
	Status     string `json:"status"`
	RunAt      string `json:"run_at"`
	ArgsJSON   string `json:"args_json,omitempty"`
	ResultJSON string `json:"result_json,omitempty"`
	CreatedTS  string `json:"created_ts"`
}

// StepRecord captures the outcome of one executed workflow step.
type StepRecord struct {
	Type       string         `json:"type"`
	OK         bool           `json:"ok"`
	Args       map[string]any `json:"args"`
	Result     map[string]any `json:"result,omitempty"`
	Stderr     string         `json:"stderr,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMS int64          `json:"duration_ms"`
}

// JobOutcome is the summary stored in jobs.result_json.
type JobOutcome struct {
	OK    bool         `json:"ok"`
	Steps []StepRecord `json:"steps"`
}
