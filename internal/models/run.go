package models

import "time"

type RunStatus string

const (
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

type StepStatus string

const (
	StepStatusSuccess StepStatus = "success"
	StepStatusSkipped StepStatus = "skipped"
	StepStatusFailed  StepStatus = "failed"
)

// StepOutcome records what happened to one step of a run: the substituted
// arguments, the resolved call, and either the function's return value or
// an error description.
type StepOutcome struct {
	Step   string         `json:"step"`
	Call   string         `json:"call"`
	Status StepStatus     `json:"status"`
	Args   map[string]any `json:"args,omitempty"`
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
	DryRun bool           `json:"dry_run,omitempty"`
}

// Result is the uniform outcome of one run. The serialized shape is the
// same in every execution mode: run_id, status, and the ordered step
// outcomes. Everything step-specific lives inside the outcomes.
type Result struct {
	RunID  string         `json:"run_id"`
	Status RunStatus      `json:"status"`
	Steps  []*StepOutcome `json:"steps"`

	// Run metadata kept for history and display, not part of the
	// serialized result contract.
	JobID       string     `json:"-"`
	DryRun      bool       `json:"-"`
	StartedAt   time.Time  `json:"-"`
	CompletedAt *time.Time `json:"-"`
	Error       string     `json:"-"`
}
