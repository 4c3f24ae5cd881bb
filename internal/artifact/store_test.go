package artifact

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevehiehn/stepwise/internal/engine"
)

func TestNewCreatesRunDir(t *testing.T) {
	store, err := New("run-123", t.TempDir())
	require.NoError(t, err)
	info, err := os.Stat(filepath.Join(store.BaseDir, "steps"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, "run-123", filepath.Base(store.BaseDir))
}

func TestWriteJSON(t *testing.T) {
	store, err := New("run-789", t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.WriteJSON("result.json", map[string]string{"status": "ok"}))

	data, err := os.ReadFile(filepath.Join(store.BaseDir, "result.json"))
	require.NoError(t, err)
	var got map[string]string
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "ok", got["status"])
}

type resolver map[string]engine.Operation

func (r resolver) Resolve(name string) (engine.Operation, error) { return r[name], nil }

func TestExportFinishedRun(t *testing.T) {
	hist := engine.OperationFunc(func(_ context.Context, rc *engine.RunContext, args engine.Args, meta engine.Meta) (*engine.RunContext, error) {
		meta.Logger.Info("writing history")
		engine.AppendHistory(rc, "hist", args, "ok", nil)
		return rc, nil
	})
	p := engine.New(nil, resolver{"hist": hist})
	p.SetLogger(engine.DiscardSinks())
	_, err := p.Add("hist", engine.Args{"k": 1}, engine.WithID("a"))
	require.NoError(t, err)
	rc, rep, err := p.Run(context.Background())
	require.NoError(t, err)

	out := t.TempDir()
	store, err := Export(out, rc, rep)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "runs", rc.Runtime.RunID), store.BaseDir)

	for _, name := range []string{"report.json", "audit.json", "steps/a.json", "log.txt", "history.json"} {
		_, err := os.Stat(filepath.Join(store.BaseDir, name))
		assert.NoError(t, err, name)
	}
	_, err = os.Stat(filepath.Join(store.BaseDir, "err.txt"))
	assert.True(t, os.IsNotExist(err))

	data, err := os.ReadFile(filepath.Join(store.BaseDir, "report.json"))
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, true, got["ok"])
	assert.Equal(t, 1.0, got["n_steps"])
}

func TestExportKeepsStepFilesInsideRunDir(t *testing.T) {
	noop := engine.OperationFunc(func(_ context.Context, rc *engine.RunContext, _ engine.Args, _ engine.Meta) (*engine.RunContext, error) {
		return rc, nil
	})
	p := engine.New(nil, resolver{"noop": noop})
	p.SetLogger(engine.DiscardSinks())
	for _, id := range []string{"../escape", "a/b"} {
		_, err := p.Add("noop", nil, engine.WithID(id))
		require.NoError(t, err)
	}
	rc, rep, err := p.Run(context.Background())
	require.NoError(t, err)

	out := t.TempDir()
	store, err := Export(out, rc, rep)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(store.BaseDir, "steps", ".._escape.json"))
	assert.FileExists(t, filepath.Join(store.BaseDir, "steps", "a_b.json"))
	assert.NoFileExists(t, filepath.Join(store.BaseDir, "escape.json"))
}
