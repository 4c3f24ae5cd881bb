package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const greet = `
name: greet
description: Write a greeting
inputs:
  who:
    required: true
    description: Who to greet
steps:
  - op: set
    key: greeting
    value: "hello {{scratch.who}}"
  - op: assert
    key: greeting
`

func TestNewServer(t *testing.T) {
	srv := NewServer("")
	require.NotNil(t, srv)
	assert.NotNil(t, srv.MCPServer())
	assert.NotNil(t, srv.Collector())
}

func TestToolsList(t *testing.T) {
	srv := NewServer("")
	resp := srv.MCPServer().HandleMessage(context.Background(),
		json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	for _, name := range []string{"pipeline.validate", "pipeline.run", "pipeline.explain", "pipeline.ops", "pipeline.metrics", "pipeline.schema"} {
		assert.Contains(t, string(data), `"`+name+`"`)
	}
}

func TestValidateInline(t *testing.T) {
	srv := NewServer("")
	result, err := srv.handleExecute(true)(context.Background(), makeCallToolRequest(map[string]any{
		"content": greet,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var out struct {
		Result struct {
			Report struct {
				OK           bool `json:"ok"`
				ValidateOnly bool `json:"validate_only"`
			} `json:"report"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(extractText(t, result)), &out))
	assert.True(t, out.Result.Report.OK)
	assert.True(t, out.Result.Report.ValidateOnly)
}

func TestRunFromFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "greet.yaml"), []byte(greet), 0o644))

	srv := NewServer(dir)
	result, err := srv.handleExecute(false)(context.Background(), makeCallToolRequest(map[string]any{
		"file":   "greet.yaml",
		"inputs": map[string]any{"who": "world"},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var out struct {
		Result struct {
			Scratch map[string]any `json:"scratch"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(extractText(t, result)), &out))
	assert.Equal(t, "hello world", out.Result.Scratch["greeting"])

	metrics, err := srv.handleMetrics(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)
	assert.Contains(t, extractText(t, metrics), "stepwise_runs_total")
}

func TestRunMissingRequiredInput(t *testing.T) {
	srv := NewServer("")
	result, err := srv.handleExecute(false)(context.Background(), makeCallToolRequest(map[string]any{
		"content": greet,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "who")
}

func TestRunMissingContent(t *testing.T) {
	srv := NewServer("")
	result, err := srv.handleExecute(false)(context.Background(), makeCallToolRequest(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestRunReportsFatalAbort(t *testing.T) {
	srv := NewServer("")
	result, err := srv.handleExecute(false)(context.Background(), makeCallToolRequest(map[string]any{
		"content": "name: guarded\nsteps:\n  - op: noop\n    when: \"scratch.x == 1\"\n",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, extractText(t, result), `"fatal"`)

	srv = NewServer("", WithEvaluator("expr"))
	result, err = srv.handleExecute(false)(context.Background(), makeCallToolRequest(map[string]any{
		"content": "name: guarded\nsteps:\n  - op: noop\n    when: \"scratch.x == 1\"\n",
	}))
	require.NoError(t, err)
	assert.NotContains(t, extractText(t, result), `"fatal"`)
}

func TestExplainAndOps(t *testing.T) {
	srv := NewServer("")
	result, err := srv.handleExplain(context.Background(), makeCallToolRequest(map[string]any{
		"content": "name: e\nsteps:\n  - op: core.noop\n",
	}))
	require.NoError(t, err)
	text := extractText(t, result)
	assert.Contains(t, text, `"target": "noop"`)

	result, err = srv.handleOps(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)
	var ops struct {
		Families map[string][]string `json:"families"`
		Names    []string            `json:"names"`
	}
	require.NoError(t, json.Unmarshal([]byte(extractText(t, result)), &ops))
	assert.Contains(t, ops.Families["core"], "set")
	assert.Contains(t, ops.Names, "io.file.write")
}

func TestShippedPipelineTools(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "greet.yaml"), []byte(greet), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	srv := NewServer("", WithPipelinesDir(dir))
	resp := srv.MCPServer().HandleMessage(context.Background(),
		json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"name":"greet"`)
	assert.Contains(t, string(data), "Write a greeting")
	assert.NotContains(t, string(data), "notes")

	result, err := srv.handleShipped(filepath.Join(dir, "greet.yaml"))(context.Background(),
		makeCallToolRequest(map[string]any{"who": "mcp"}))
	require.NoError(t, err)
	assert.Contains(t, extractText(t, result), "hello mcp")
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil {
		return ""
	}
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func makeCallToolRequest(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}
