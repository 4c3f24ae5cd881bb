package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevehiehn/stepwise/internal/artifact"
	"github.com/stevehiehn/stepwise/internal/engine"
	dagerrors "github.com/stevehiehn/stepwise/internal/errors"
	"github.com/stevehiehn/stepwise/internal/plan"
	"github.com/stevehiehn/stepwise/internal/session"
)

func startTestAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	})
	mux.HandleFunc("/data/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/data/")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":"%s","name":"item-%s"}`, id, id)
	})
	mux.HandleFunc("/error/500", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
		w.Write([]byte(`{"error":"internal server error"}`))
	})
	mux.HandleFunc("/error/404", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(404)
		w.Write([]byte(`{"error":"not found"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFileAndJSONFlowE2E(t *testing.T) {
	dir := t.TempDir()
	data := filepath.Join(dir, "data.json")
	out := filepath.Join(dir, "out.txt")
	doc := writeDoc(t, dir, "pipeline.yaml", `
name: files
steps:
  - id: write_json
    op: json.set
    file: `+data+`
    path: foo.bar
    value: hello
  - id: read_json
    op: json.get
    file: `+data+`
    path: foo.bar
    out: val
  - id: write_file
    op: io.file.write
    path: `+out+`
    content: "got {{scratch.val}}"
`)
	res := run(t, doc, session.Options{})
	require.True(t, res.Report.OK, "%v", res.Report.Errors)

	content, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "got hello", string(content))

	h, ok := res.Scratch[engine.HistoryKey].(*engine.History)
	require.True(t, ok)
	assert.Len(t, h.Rows, 3)
}

func TestHTTPChainE2E(t *testing.T) {
	srv := startTestAPI(t)
	dir := t.TempDir()
	doc := writeDoc(t, dir, "pipeline.yaml", `
name: http-chain
steps:
  - op: http.request
    url: `+srv.URL+`/data/7
    out: item
  - op: http.request
    method: post
    url: `+srv.URL+`/echo
    body: '{"name":"{{scratch.item.body.name}}"}'
    out: echo
`)
	res := run(t, doc, session.Options{})
	require.True(t, res.Report.OK, "%v", res.Report.Errors)

	echo, ok := res.Scratch["echo"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 200, echo["status_code"])
	assert.Equal(t, map[string]any{"name": "item-7"}, echo["body"])
}

func TestHTTPErrorStatusContinuesE2E(t *testing.T) {
	srv := startTestAPI(t)
	dir := t.TempDir()
	doc := writeDoc(t, dir, "pipeline.yaml", `
name: http-errors
steps:
  - id: boom
    op: http.request
    url: `+srv.URL+`/error/500
  - id: missing
    op: http.request
    url: `+srv.URL+`/error/404
  - id: after
    op: noop
`)
	res := run(t, doc, session.Options{})
	assert.False(t, res.Report.OK)
	require.Len(t, res.Report.Errors, 2)
	assert.Equal(t, "HTTP_500", res.Report.Errors[0].Code)
	assert.True(t, res.Report.Errors[0].Retryable)
	assert.Equal(t, "HTTP_404", res.Report.Errors[1].Code)
	assert.False(t, res.Report.Errors[1].Retryable)
	assert.Equal(t, "boom", res.Report.Errors[0].StepID)
	assert.Equal(t, engine.StatusOK, res.Steps[2].Status)
}

func TestShellToFileE2E(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "greeting.txt")
	doc := writeDoc(t, dir, "pipeline.yaml", `
name: shell
steps:
  - op: shell.run
    command: echo "hello $WHO"
    env:
      WHO: shell
    out: sh
  - op: file.write
    path: `+out+`
    content: "{{scratch.sh.stdout}}"
`)
	res := run(t, doc, session.Options{})
	require.True(t, res.Report.OK, "%v", res.Report.Errors)
	content, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "hello shell", strings.TrimSpace(string(content)))
}

func TestShellExitCodeStopsE2E(t *testing.T) {
	dir := t.TempDir()
	doc := writeDoc(t, dir, "pipeline.yaml", `
name: exit
steps:
  - id: ok
    op: shell.run
    command: "true"
  - id: bad
    op: shell.run
    command: "echo oops >&2; exit 2"
  - id: never
    op: shell.run
    command: echo unreachable
`)
	stop := true
	res := run(t, doc, session.Options{StopOnError: &stop})
	assert.False(t, res.Report.OK)
	require.Len(t, res.Steps, 2)
	require.Len(t, res.Report.Errors, 1)
	e := res.Report.Errors[0]
	assert.Equal(t, dagerrors.HandlerError, e.Type)
	assert.Equal(t, "EXIT_2", e.Code)
	assert.Contains(t, e.Message, "oops")
}

func TestValidateHasNoSideEffectsE2E(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "should-not-exist.txt")
	touched := filepath.Join(dir, "touched")
	doc := writeDoc(t, dir, "pipeline.yaml", `
name: dry
steps:
  - op: file.write
    path: `+target+`
    content: nope
  - op: shell.run
    command: touch `+touched+`
  - op: set
    key: marker
    value: validated
`)
	res, err := session.Validate(context.Background(), doc, session.Options{})
	require.NoError(t, err)
	assert.True(t, res.Report.OK, "%v", res.Report.Errors)
	assert.True(t, res.Report.ValidateOnly)
	assert.NoFileExists(t, target)
	assert.NoFileExists(t, touched)
	assert.Equal(t, "validated", res.Scratch["marker"])
	assert.True(t, strings.Contains(strings.Join(res.Context.Runtime.Log, "\n"), "Would write"))
}

func TestValidateStopsAtFirstErrorE2E(t *testing.T) {
	dir := t.TempDir()
	doc := writeDoc(t, dir, "pipeline.yaml", `
name: dry-errors
steps:
  - op: file.write
    path: /tmp/x
  - op: http.request
  - op: noop
`)
	res, err := session.Validate(context.Background(), doc, session.Options{})
	require.NoError(t, err)
	assert.False(t, res.Report.OK)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, dagerrors.ValidationError, res.Report.Errors[0].Type)
}

func TestArtifactExportE2E(t *testing.T) {
	dir := t.TempDir()
	doc := writeDoc(t, dir, "pipeline.yaml", `
name: artifacts
steps:
  - id: note
    op: log
    message: starting
  - id: save
    op: file.write
    path: `+filepath.Join(dir, "a.txt")+`
    content: a
`)
	res := run(t, doc, session.Options{})
	require.True(t, res.Report.OK)

	store, err := artifact.Export(filepath.Join(dir, "out"), res.Context, res.Report)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "out", "runs", res.Report.RunID), store.BaseDir)
	for _, name := range []string{"report.json", "audit.json", "log.txt", "history.json", "steps/note.json", "steps/save.json"} {
		assert.FileExists(t, filepath.Join(store.BaseDir, name))
	}

	raw, err := os.ReadFile(filepath.Join(store.BaseDir, "report.json"))
	require.NoError(t, err)
	var rep map[string]any
	require.NoError(t, json.Unmarshal(raw, &rep))
	assert.Equal(t, true, rep["ok"])
	assert.Equal(t, float64(2), rep["n_steps"])
}

func TestCUEDocumentE2E(t *testing.T) {
	dir := t.TempDir()
	doc := writeDoc(t, dir, "pipeline.cue", `
name: "cue-pipeline"
inputs: threshold: default: 5
steps: [
	{op: "set", key: "n", value: 8},
	{op: "set", key: "big", value: true, when: "scratch.n > scratch.threshold"},
	{op: "assert", key: "big", equals: true},
]
`)
	res := run(t, doc, session.Options{Evaluator: "expr"})
	assert.True(t, res.Report.OK, "%v", res.Report.Errors)
	assert.Equal(t, true, res.Scratch["big"])
}

func TestGuardEvaluatorsAgreeE2E(t *testing.T) {
	guards := map[string]string{
		"expr": "scratch.n > 1",
		"jq":   ".scratch.n > 1",
		"lua":  "scratch.n > 1",
	}
	for name, when := range guards {
		t.Run(name, func(t *testing.T) {
			d, err := plan.Load([]byte(`
name: guards
steps:
  - op: set
    key: n
    value: 2
  - op: set
    key: hit
    value: yes
    when: "`+when+`"
`), plan.FormatYAML)
			require.NoError(t, err)
			res := run(t, d, session.Options{Evaluator: name})
			require.True(t, res.Report.OK, "%v", res.Report.Errors)
			assert.Equal(t, "yes", res.Scratch["hit"])
		})
	}
}

func TestDeterministicIDsE2E(t *testing.T) {
	dir := t.TempDir()
	doc := writeDoc(t, dir, "pipeline.yaml", `
name: ids
steps:
  - op: noop
  - id: named
    op: noop
  - op: noop
`)
	first := run(t, doc, session.Options{})
	second := run(t, doc, session.Options{})
	ids := func(res *session.Result) []string {
		var out []string
		for _, s := range res.Steps {
			out = append(out, s.ID)
		}
		return out
	}
	assert.Equal(t, []string{"s0001", "named", "s0002"}, ids(first))
	assert.Equal(t, ids(first), ids(second))
	assert.NotEqual(t, first.Report.RunID, second.Report.RunID)
}

func writeDoc(t *testing.T, dir, name, content string) *plan.Document {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	d, err := plan.LoadFile(path)
	require.NoError(t, err)
	return d
}

func run(t *testing.T, doc *plan.Document, opts session.Options) *session.Result {
	t.Helper()
	res, err := session.Run(context.Background(), doc, opts)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}
