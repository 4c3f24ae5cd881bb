// Package mcp exposes pipeline validation and execution as Model Context
// Protocol tools, over stdio or SSE.
package mcp

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/stevehiehn/stepwise/internal/action"
	"github.com/stevehiehn/stepwise/internal/metrics"
	"github.com/stevehiehn/stepwise/internal/plan"
)

// Version is reported in the MCP handshake.
var Version = "dev"

// Option configures a Server.
type Option func(*Server)

// WithRegistry replaces the default registry.
func WithRegistry(r *action.Registry) Option { return func(s *Server) { s.registry = r } }

// WithEvaluator sets the guard evaluator used by run and validate tools.
func WithEvaluator(name string) Option { return func(s *Server) { s.evaluator = name } }

// WithPipelinesDir exposes every document in dir as its own tool.
func WithPipelinesDir(dir string) Option { return func(s *Server) { s.pipelinesDir = dir } }

// WithCollector shares a metrics collector with the caller.
func WithCollector(c *metrics.Collector) Option { return func(s *Server) { s.collector = c } }

// Server wraps the mcp-go server with the pipeline tools.
type Server struct {
	mcpServer    *server.MCPServer
	workDir      string
	pipelinesDir string
	evaluator    string
	registry     *action.Registry
	collector    *metrics.Collector
}

// NewServer creates a server; relative file arguments resolve against workDir.
func NewServer(workDir string, opts ...Option) *Server {
	s := &Server{workDir: workDir}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = action.Default()
	}
	if s.collector == nil {
		s.collector = metrics.New()
	}
	s.mcpServer = server.NewMCPServer(
		"stepwise",
		Version,
		server.WithToolCapabilities(true),
		server.WithInstructions("Validate, dry-run and run declarative step pipelines. "+
			"Call pipeline.validate before pipeline.run; pipeline.schema describes the document format."),
	)
	s.registerTools()
	s.registerPipelineTools()
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer { return s.mcpServer }

// Collector returns the metrics collector fed by run and validate tools.
func (s *Server) Collector() *metrics.Collector { return s.collector }

// ServeStdio serves over standard input/output.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves the SSE transport on addr, with Prometheus metrics on
// /metrics.
func (s *Server) ServeSSE(addr string) error {
	sse := server.NewSSEServer(s.mcpServer)
	mux := http.NewServeMux()
	mux.Handle("/sse", sse.SSEHandler())
	mux.Handle("/message", sse.MessageHandler())
	mux.Handle("/metrics", s.collector.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"ok"}`)
	})
	return http.ListenAndServe(addr, mux)
}

// registerPipelineTools adds one tool per document in the pipelines dir.
// Each tool takes the document's inputs as arguments and runs it.
func (s *Server) registerPipelineTools() {
	if s.pipelinesDir == "" {
		return
	}
	entries, err := os.ReadDir(s.pipelinesDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !isPipelineFile(e.Name()) {
			continue
		}
		path := filepath.Join(s.pipelinesDir, e.Name())
		doc, err := plan.LoadFile(path)
		if err != nil {
			continue
		}
		s.mcpServer.AddTool(documentTool(doc), s.handleShipped(path))
	}
}

func isPipelineFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".cue":
		return true
	}
	return false
}

func documentTool(doc *plan.Document) mcp.Tool {
	desc := doc.Description
	if desc == "" {
		desc = "Run the " + doc.Name + " pipeline"
	}
	opts := []mcp.ToolOption{mcp.WithDescription(desc)}
	for name, in := range doc.Inputs {
		var propOpts []mcp.PropertyOption
		if in.Description != "" {
			propOpts = append(propOpts, mcp.Description(in.Description))
		}
		if in.Required && in.Default == nil {
			propOpts = append(propOpts, mcp.Required())
		}
		opts = append(opts, mcp.WithString(name, propOpts...))
	}
	return mcp.NewTool(doc.Name, opts...)
}

func (s *Server) resolvePath(file string) string {
	if filepath.IsAbs(file) || s.workDir == "" {
		return file
	}
	return filepath.Join(s.workDir, file)
}
