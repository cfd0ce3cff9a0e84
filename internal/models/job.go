package models

// Job is a named, ordered sequence of steps loaded from a job-definition
// document. Definitions are immutable once loaded for a run.
type Job struct {
	Description string  `yaml:"description"`
	Steps       []*Step `yaml:"steps"`
}

// Step is one unit of work: a dotted target reference plus an argument
// mapping. Argument values may be nested mappings and sequences whose
// string scalars carry {name} placeholders.
type Step struct {
	Name string         `yaml:"name"`
	Call string         `yaml:"call"`
	Args map[string]any `yaml:"args"`
}
