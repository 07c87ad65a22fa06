package models

// PlanEntry is one step of a deletion plan. Entries are ordered deepest first.
type PlanEntry struct {
	Depth      int    `json:"depth"`
	Name       string `json:"name"`
	ID         string `json:"id"`
	ParentName string `json:"parent_name,omitempty"`
	ParentID   string `json:"parent_id,omitempty"`
}

// MoveStep describes the outcome of reconciling a single override value.
type MoveStep struct {
	Project     string `json:"project"`
	Parameter   string `json:"parameter"`
	Environment string `json:"environment"`
	Action      string `json:"action"` // "create", "skip_matches", "conflict", "failed", "would_create"
	Error       string `json:"error,omitempty"`
}
