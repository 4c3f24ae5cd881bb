package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevehiehn/stepwise/internal/engine"
	dagerrors "github.com/stevehiehn/stepwise/internal/errors"
	"github.com/stevehiehn/stepwise/internal/metrics"
	"github.com/stevehiehn/stepwise/internal/plan"
)

func load(t *testing.T, src string) *plan.Document {
	t.Helper()
	d, err := plan.Load([]byte(src), plan.FormatYAML)
	require.NoError(t, err)
	return d
}

const guarded = `
name: guarded
inputs:
  threshold:
    default: 2
steps:
  - op: set
    key: n
    value: 3
  - id: big
    op: set
    key: size
    value: big
    when: "scratch.n > scratch.threshold"
  - id: never
    op: fail
    when: false
  - op: assert
    key: size
    equals: big
`

func TestRunWithEvaluator(t *testing.T) {
	res, err := Run(context.Background(), load(t, guarded), Options{Evaluator: "expr"})
	require.NoError(t, err)
	require.True(t, res.Report.OK, "%v", res.Report.Errors)
	assert.Equal(t, "big", res.Scratch["size"])
	statuses := []engine.Status{}
	for _, s := range res.Steps {
		statuses = append(statuses, s.Status)
	}
	assert.Equal(t, []engine.Status{engine.StatusOK, engine.StatusOK, engine.StatusSkipped, engine.StatusOK}, statuses)
}

func TestRunWithoutEvaluatorAborts(t *testing.T) {
	res, err := Run(context.Background(), load(t, guarded), Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, dagerrors.ErrMissingWhenEvaluator))
	require.NotNil(t, res)
	assert.False(t, res.Report.OK)
	assert.Len(t, res.Steps, 1)
}

func TestUnknownOpIsStepLocalUnlessStrict(t *testing.T) {
	doc := load(t, `
name: unknown
steps:
  - op: opA
  - op: noop
`)
	res, err := Run(context.Background(), doc, Options{})
	require.NoError(t, err)
	assert.False(t, res.Report.OK)
	require.Len(t, res.Report.Errors, 1)
	require.Len(t, res.Steps, 2)
	assert.Equal(t, engine.StatusError, res.Steps[0].Status)
	assert.Equal(t, engine.StatusOK, res.Steps[1].Status)
	assert.Contains(t, res.Warnings[0], `"opA"`)

	_, err = Run(context.Background(), doc, Options{Strict: true})
	assert.True(t, errors.Is(err, dagerrors.ErrUnknownOperation))
}

func TestValidateSkipsRequiredInputs(t *testing.T) {
	doc := load(t, `
name: needs-input
inputs:
  target:
    required: true
steps:
  - op: file.write
    path: "{{scratch.target}}"
    content: x
`)
	_, err := Run(context.Background(), doc, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target")

	res, err := Validate(context.Background(), doc, Options{})
	require.NoError(t, err)
	assert.True(t, res.Report.OK, "%v", res.Report.Errors)
	assert.True(t, res.Report.ValidateOnly)
	assert.Equal(t, "<scratch.target>", res.Steps[0].Args["path"])
}

func TestStopOnErrorAndMaxSteps(t *testing.T) {
	doc := load(t, `
name: errors
steps:
  - op: fail
  - op: noop
  - op: noop
`)
	stop := true
	res, err := Run(context.Background(), doc, Options{StopOnError: &stop})
	require.NoError(t, err)
	assert.Len(t, res.Steps, 1)

	res, err = Run(context.Background(), doc, Options{MaxSteps: 2})
	require.NoError(t, err)
	assert.Len(t, res.Steps, 2)
	assert.Equal(t, 2, res.Report.NSteps)
}

func TestObserverAndInputs(t *testing.T) {
	doc := load(t, `
name: observed
steps:
  - op: assert
    key: who
    equals: me
`)
	c := metrics.New()
	res, err := Run(context.Background(), doc, Options{Observer: c, Inputs: map[string]any{"who": "me"}})
	require.NoError(t, err)
	assert.True(t, res.Report.OK)
	samples, err := c.Samples()
	require.NoError(t, err)
	assert.NotEmpty(t, samples)
}

func TestExplain(t *testing.T) {
	ex, err := Explain(load(t, `
name: explained
steps:
  - op: core.set
    key: a
    value: 1
  - id: b
    op: mystery
    message: "{{scratch.zzz}}"
`), Options{})
	require.NoError(t, err)
	require.Len(t, ex.Steps, 2)
	assert.Equal(t, "set", ex.Steps[0].Target)
	assert.True(t, ex.Steps[0].Known)
	assert.NotEmpty(t, ex.Steps[0].ID)
	assert.Equal(t, "b", ex.Steps[1].ID)
	assert.False(t, ex.Steps[1].Known)
	assert.Len(t, ex.Warnings, 2)
}
