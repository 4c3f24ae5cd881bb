package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/stevehiehn/stepwise/internal/action"
	"github.com/stevehiehn/stepwise/internal/plan"
	"github.com/stevehiehn/stepwise/internal/session"
)

func documentArgs() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("file", mcp.Description("Path to a YAML or CUE pipeline document")),
		mcp.WithString("content", mcp.Description("Inline document text, used when file is empty")),
		mcp.WithString("format", mcp.Description("Format of content: yaml (default) or cue"), mcp.Enum("yaml", "cue")),
		mcp.WithObject("inputs", mcp.Description("Scratch values seeded before the first step")),
	}
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool("pipeline.validate", append(documentArgs(),
			mcp.WithDescription("Dry-run a pipeline: every handler checks its arguments and skips side effects. Stops at the first error unless stop_on_error is false."),
			mcp.WithBoolean("stop_on_error", mcp.Description("Stop at the first failing step (default true)")),
			mcp.WithReadOnlyHintAnnotation(true),
		)...),
		s.handleExecute(true),
	)
	s.mcpServer.AddTool(
		mcp.NewTool("pipeline.run", append(documentArgs(),
			mcp.WithDescription("Run a pipeline and return its report and audit trail. Continues past step errors unless stop_on_error is true."),
			mcp.WithBoolean("stop_on_error", mcp.Description("Stop at the first failing step (default false)")),
			mcp.WithNumber("max_steps", mcp.Description("Only consider the first n steps")),
		)...),
		s.handleExecute(false),
	)
	s.mcpServer.AddTool(
		mcp.NewTool("pipeline.explain", append(documentArgs(),
			mcp.WithDescription("Show how each step would be dispatched without running anything"),
			mcp.WithReadOnlyHintAnnotation(true),
		)...),
		s.handleExplain,
	)
	s.mcpServer.AddTool(
		mcp.NewTool("pipeline.ops",
			mcp.WithDescription("List registered operations grouped by family"),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		s.handleOps,
	)
	s.mcpServer.AddTool(
		mcp.NewTool("pipeline.metrics",
			mcp.WithDescription("Return step and run counters recorded by this server"),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		s.handleMetrics,
	)
	s.mcpServer.AddTool(
		mcp.NewTool("pipeline.schema",
			mcp.WithDescription("Describe the pipeline document format"),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText(schemaText), nil
		},
	)
}

func (s *Server) loadDocument(req mcp.CallToolRequest) (*plan.Document, error) {
	if file := mcp.ParseString(req, "file", ""); file != "" {
		return plan.LoadFile(s.resolvePath(file))
	}
	content := mcp.ParseString(req, "content", "")
	if content == "" {
		return nil, fmt.Errorf("file or content is required")
	}
	return plan.Load([]byte(content), plan.Format(mcp.ParseString(req, "format", string(plan.FormatYAML))))
}

func (s *Server) options(req mcp.CallToolRequest) session.Options {
	opts := session.Options{
		Registry:  s.registry,
		Evaluator: s.evaluator,
		Observer:  s.collector,
	}
	if in, ok := req.GetArguments()["inputs"].(map[string]any); ok {
		opts.Inputs = in
	}
	if v, ok := req.GetArguments()["stop_on_error"].(bool); ok {
		opts.StopOnError = &v
	}
	switch n := req.GetArguments()["max_steps"].(type) {
	case float64:
		opts.MaxSteps = int(n)
	case int:
		opts.MaxSteps = n
	}
	return opts
}

func (s *Server) handleExecute(validateOnly bool) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		doc, err := s.loadDocument(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return s.execute(ctx, doc, s.options(req), validateOnly)
	}
}

func (s *Server) execute(ctx context.Context, doc *plan.Document, opts session.Options, validateOnly bool) (*mcp.CallToolResult, error) {
	run := session.Run
	if validateOnly {
		run = session.Validate
	}
	res, err := run(ctx, doc, opts)
	if res == nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out := map[string]any{"result": res}
	if err != nil {
		out["fatal"] = err.Error()
	}
	return marshalToolResult(out)
}

func (s *Server) handleShipped(path string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		doc, err := plan.LoadFile(path)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		opts := session.Options{Registry: s.registry, Evaluator: s.evaluator, Observer: s.collector}
		opts.Inputs = map[string]any{}
		for k, v := range req.GetArguments() {
			opts.Inputs[k] = v
		}
		return s.execute(ctx, doc, opts, false)
	}
}

func (s *Server) handleExplain(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := s.loadDocument(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ex, err := session.Explain(doc, s.options(req))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return marshalToolResult(ex)
}

func (s *Server) handleOps(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	families := map[string][]string{}
	for _, f := range action.Families() {
		families[f.Name] = f.Names()
	}
	return marshalToolResult(map[string]any{
		"families": families,
		"names":    s.registry.Names(),
		"count":    len(s.registry.Primary()),
	})
}

func (s *Server) handleMetrics(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	samples, err := s.collector.Samples()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return marshalToolResult(map[string]any{"samples": samples})
}

func marshalToolResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

const schemaText = `Pipeline document (YAML, or CUE when the file ends in .cue):
  name: string (required)
  description: string
  config:
    <op>:            # per-operation defaults, op names match case-insensitively
      <key>: any
  inputs:
    <name>:
      required: bool
      description: string
      default: any   # seeds scratch.<name>
  steps:             # at least one
    - op: string (required, registered operation name)
      id: string     # unique; generated as s0001, s0002, ... when omitted
      name: string   # defaults to <op>_<id>
      args: map      # handler arguments
      when: string | bool  # string guards need an evaluator (expr, jq, lua)
      <key>: any     # extra keys are merged into args and win over them
  String args may reference {{scratch.<key>}} and {{config.<op>.<key>}}.`
