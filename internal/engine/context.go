package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	dagerrors "github.com/stevehiehn/stepwise/internal/errors"
	"golang.org/x/text/cases"
)

// RunContext is the mutable aggregate threaded through every step of a run.
// Payload, Config and Scratch belong to handlers; Runtime is written by the
// pipeline only.
type RunContext struct {
	Payload any
	Config  *Config
	Scratch map[string]any
	Runtime *Runtime
}

// Runtime is the audit partition of a RunContext.
type Runtime struct {
	RunID         string
	IDCounter     int
	Steps         []StepRecord
	Log           []string
	Err           []string
	ValidateOnly  bool
	LastError     *dagerrors.RunError
	RunStartedAt  time.Time
	RunFinishedAt time.Time
	Elapsed       time.Duration
}

// NewRunContext creates a normalized execution context around payload.
func NewRunContext(payload any, cfg *Config) *RunContext {
	rc := &RunContext{Payload: payload, Config: cfg}
	return rc.Normalize()
}

// Normalize guarantees that all partitions exist and returns rc.
func (rc *RunContext) Normalize() *RunContext {
	if rc.Config == nil {
		rc.Config = NewConfig()
	}
	if rc.Scratch == nil {
		rc.Scratch = map[string]any{}
	}
	if rc.Runtime == nil {
		rc.Runtime = &Runtime{}
	}
	if rc.Runtime.RunID == "" {
		rc.Runtime.RunID = uuid.New().String()
	}
	if rc.Runtime.Steps == nil {
		rc.Runtime.Steps = []StepRecord{initRecord(time.Now())}
	}
	return rc
}

func (rc *RunContext) nextID() string {
	rc.Runtime.IDCounter++
	return fmt.Sprintf("s%04d", rc.Runtime.IDCounter)
}

// Snapshot returns a plain map view of the context for guard expressions.
func (rc *RunContext) Snapshot() map[string]any {
	scratch := make(map[string]any, len(rc.Scratch))
	for k, v := range rc.Scratch {
		scratch[k] = v
	}
	steps := make([]any, 0, len(rc.Runtime.Steps))
	for _, rec := range rc.Runtime.Steps {
		if rec.Status == StatusInit {
			continue
		}
		steps = append(steps, map[string]any{
			"id":     rec.ID,
			"name":   rec.Name,
			"op":     rec.Op,
			"status": string(rec.Status),
		})
	}
	var lastErr any
	if rc.Runtime.LastError != nil {
		lastErr = rc.Runtime.LastError.Message
	}
	return map[string]any{
		"payload":       rc.Payload,
		"config":        rc.Config.Map(),
		"scratch":       scratch,
		"validate_only": rc.Runtime.ValidateOnly,
		"runtime": map[string]any{
			"run_id":        rc.Runtime.RunID,
			"validate_only": rc.Runtime.ValidateOnly,
			"last_error":    lastErr,
			"steps":         steps,
		},
	}
}

// Config holds per-operation default arguments keyed case-insensitively by
// operation name.
type Config struct {
	ops map[string]configEntry
}

type configEntry struct {
	name     string
	defaults Args
}

// NewConfig returns an empty Config.
func NewConfig() *Config {
	return &Config{ops: map[string]configEntry{}}
}

// ConfigFrom builds a Config from an op -> defaults map.
func ConfigFrom(m map[string]map[string]any) *Config {
	c := NewConfig()
	for op, defaults := range m {
		c.Set(op, defaults)
	}
	return c
}

func foldKey(op string) string {
	// A Caser is stateful, so one is built per call.
	return cases.Fold().String(op)
}

// Set replaces the defaults for op.
func (c *Config) Set(op string, defaults Args) {
	c.ops[foldKey(op)] = configEntry{name: op, defaults: defaults.Clone()}
}

// Defaults returns a copy of the defaults registered for op, or an empty Args.
func (c *Config) Defaults(op string) Args {
	if c == nil {
		return Args{}
	}
	e, ok := c.ops[foldKey(op)]
	if !ok {
		return Args{}
	}
	return e.defaults.Clone()
}

// Lookup returns a single default value.
func (c *Config) Lookup(op, key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	e, ok := c.ops[foldKey(op)]
	if !ok {
		return nil, false
	}
	v, ok := e.defaults[key]
	return v, ok
}

// Ops lists the operation names that have defaults, sorted.
func (c *Config) Ops() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.ops))
	for _, e := range c.ops {
		out = append(out, e.name)
	}
	sort.Strings(out)
	return out
}

// Map returns the config as a plain nested map keyed by the names used in Set.
func (c *Config) Map() map[string]any {
	if c == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(c.ops))
	for _, e := range c.ops {
		out[e.name] = map[string]any(e.defaults.Clone())
	}
	return out
}
