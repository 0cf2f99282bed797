// Package models defines the shared domain types passed between the
// pipeline, scheduler, stores, and HTTP surface.
package models

// AcceptanceCriterion is a single given/when/then acceptance clause of a TaskSpec.
type AcceptanceCriterion struct {
	ID    string `json:"id"`
	Given string `json:"given,omitempty"`
	When  string `json:"when,omitempty"`
	Then  string `json:"then"`
}

// TaskSpec (SRS) is the structured input contract for one closed-loop run.
// Immutable once a trace starts.
type TaskSpec struct {
	Goal        string                `json:"goal"`
	BudgetUSD   float64               `json:"budget_usd,omitempty"`
	Inputs      map[string]any        `json:"inputs,omitempty"`
	Constraints []string              `json:"constraints,omitempty"`
	Params      map[string]any        `json:"params,omitempty"`
	Acceptance  []AcceptanceCriterion `json:"acceptance,omitempty"`
	Risks       []string              `json:"risks,omitempty"`
	Metadata    map[string]any        `json:"metadata,omitempty"`
}

// CSVPath returns inputs.csv_path, or "" when absent.
func (s *TaskSpec) CSVPath() string {
	if s == nil || s.Inputs == nil {
		return ""
	}
	if v, ok := s.Inputs["csv_path"].(string); ok {
		return v
	}
	return ""
}

// IntParam reads an integer parameter, tolerating JSON float64 decoding.
func (s *TaskSpec) IntParam(key string, def int) int {
	if s == nil || s.Params == nil {
		return def
	}
	switch v := s.Params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// StringParam reads a string parameter with a default.
func (s *TaskSpec) StringParam(key, def string) string {
	if s == nil || s.Params == nil {
		return def
	}
	if v, ok := s.Params[key].(string); ok && v != "" {
		return v
	}
	return def
}
