package plan

// Document is a declarative pipeline: per-operation config defaults, scratch
// inputs and an ordered list of steps.
type Document struct {
	Name        string                    `yaml:"name" json:"name"`
	Description string                    `yaml:"description,omitempty" json:"description,omitempty"`
	Config      map[string]map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
	Inputs      map[string]Input          `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Steps       []StepSpec                `yaml:"steps" json:"steps"`
}

// Input declares a scratch value the caller provides before the run.
type Input struct {
	Required    bool   `yaml:"required,omitempty" json:"required,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Default     any    `yaml:"default,omitempty" json:"default,omitempty"`
}

// StepSpec is one step as written in a document. Keys other than the named
// fields are collected in Extra and merged into Args, Extra winning.
type StepSpec struct {
	ID    string         `yaml:"id,omitempty" json:"id,omitempty"`
	Name  string         `yaml:"name,omitempty" json:"name,omitempty"`
	Op    string         `yaml:"op" json:"op"`
	Args  map[string]any `yaml:"args,omitempty" json:"args,omitempty"`
	When  any            `yaml:"when,omitempty" json:"when,omitempty"`
	Extra map[string]any `yaml:",inline" json:"-"`
}
