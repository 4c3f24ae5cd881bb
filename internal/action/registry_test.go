package action

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevehiehn/stepwise/internal/engine"
	dagerrors "github.com/stevehiehn/stepwise/internal/errors"
)

func constOp(v any) engine.Operation {
	return engine.OperationFunc(func(_ context.Context, rc *engine.RunContext, _ engine.Args, _ engine.Meta) (*engine.RunContext, error) {
		rc.Payload = v
		return rc, nil
	})
}

func payloadOf(t *testing.T, op engine.Operation) any {
	t.Helper()
	rc := engine.NewRunContext(nil, nil)
	out, err := op.Execute(context.Background(), rc, engine.Args{}, engine.Meta{})
	require.NoError(t, err)
	return out.Payload
}

func TestRegisterDuplicateNeedsOverride(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("op", constOp(1)))

	err := r.Register("op", constOp(2))
	require.Error(t, err)
	assert.True(t, errors.Is(err, dagerrors.ErrDuplicateOperation))
	var re *dagerrors.RunError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, dagerrors.DuplicateOperation, re.Type)

	op, err := r.Resolve("op")
	require.NoError(t, err)
	assert.Equal(t, 1, payloadOf(t, op), "failed register leaves the old handler")

	require.NoError(t, r.Register("op", constOp(2), Override()))
	op, err = r.Resolve("op")
	require.NoError(t, err)
	assert.Equal(t, 2, payloadOf(t, op))
}

func TestRegisterRejectsEmpty(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register("", constOp(1)))
	assert.Error(t, r.Register("x", nil))
}

func TestResolveUnknown(t *testing.T) {
	_, err := NewRegistry().Resolve("missing")
	assert.True(t, errors.Is(err, dagerrors.ErrUnknownOperation))
}

func TestAliasIsIdempotent(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("filter", constOp("f")))

	assert.True(t, r.Alias("filter", "prep.filter"))
	assert.False(t, r.Alias("filter", "prep.filter"))
	assert.False(t, r.Alias("missing", "prep.missing"))

	op, err := r.Resolve("prep.filter")
	require.NoError(t, err)
	assert.Equal(t, "f", payloadOf(t, op))

	short, ok := r.AliasOf("prep.filter")
	assert.True(t, ok)
	assert.Equal(t, "filter", short)
	assert.Equal(t, []string{"filter"}, r.Primary())
	assert.Equal(t, []string{"filter", "prep.filter"}, r.Names())
}

func TestAliasDoesNotShadowExisting(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("a", constOp("a")))
	require.NoError(t, r.Register("b", constOp("b")))
	assert.False(t, r.Alias("a", "b"))

	op, _ := r.Resolve("b")
	assert.Equal(t, "b", payloadOf(t, op))
}

func TestMergeCarriesAliasesAndRejectsCollisions(t *testing.T) {
	prep := NewRegistry()
	require.NoError(t, prep.Register("filter", constOp(1)))
	prep.AliasPrefix("prep", "filter")
	analysis := NewRegistry()
	require.NoError(t, analysis.Register("ica", constOp(2)))
	analysis.AliasPrefix("analysis", "ica")

	all, err := Merge(prep, analysis)
	require.NoError(t, err)
	assert.Equal(t, []string{"analysis.ica", "filter", "ica", "prep.filter"}, all.Names())

	clash := NewRegistry()
	require.NoError(t, clash.Register("ica", constOp(3)))
	_, err = Merge(analysis, clash)
	assert.True(t, errors.Is(err, dagerrors.ErrDuplicateOperation))
}

func TestDefaultHasBothFamiliesAndQualifiedAliases(t *testing.T) {
	r := Default()
	for _, f := range Families() {
		for _, name := range f.Names() {
			assert.True(t, r.Known(name), name)
			assert.True(t, r.Known(f.Name+"."+name), f.Name+"."+name)
		}
	}

	core, err := NewScoped(CoreFamily())
	require.NoError(t, err)
	assert.True(t, core.Known("set"))
	assert.False(t, core.Known("file.write"))

	f, ok := FamilyByName("IO")
	assert.True(t, ok)
	assert.Equal(t, "io", f.Name)
	_, ok = FamilyByName("nope")
	assert.False(t, ok)
}
