package action

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/itchyny/gojq"

	"github.com/stevehiehn/stepwise/internal/engine"
	dagerrors "github.com/stevehiehn/stepwise/internal/errors"
	"github.com/stevehiehn/stepwise/internal/runner"
)

// IOFamily holds operations that reach outside the run context. In validate
// mode they check their arguments and log what they would do.
func IOFamily() Family {
	return Family{Name: "io", Ops: map[string]engine.Operation{
		"file.write":   engine.OperationFunc(fileWrite),
		"file.append":  engine.OperationFunc(fileAppend),
		"json.get":     engine.OperationFunc(jsonGet),
		"json.set":     engine.OperationFunc(jsonSet),
		"env.get":      engine.OperationFunc(envGet),
		"http.request": NewHTTPRequest(nil),
		"shell.run":    engine.OperationFunc(shellRun),
	}}
}

func pathAndContent(op string, args engine.Args) (string, string, error) {
	if err := args.Require(op, "path", "content"); err != nil {
		return "", "", err
	}
	path, err := args.String("path", "")
	if err != nil {
		return "", "", err
	}
	content, err := args.String("content", "")
	if err != nil {
		return "", "", err
	}
	return path, content, nil
}

func fileWrite(_ context.Context, rc *engine.RunContext, args engine.Args, meta engine.Meta) (*engine.RunContext, error) {
	path, content, err := pathAndContent("file.write", args)
	if err != nil {
		return nil, err
	}
	if meta.ValidateOnly {
		meta.Logger.Infof("Would write %d bytes to %s", len(content), path)
		return rc, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("file.write: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("file.write: %w", err)
	}
	if _, err := storeOut(rc, args, path); err != nil {
		return nil, err
	}
	record(rc, meta, args, map[string]any{"bytes": len(content)})
	return rc, nil
}

func fileAppend(_ context.Context, rc *engine.RunContext, args engine.Args, meta engine.Meta) (*engine.RunContext, error) {
	path, content, err := pathAndContent("file.append", args)
	if err != nil {
		return nil, err
	}
	if meta.ValidateOnly {
		meta.Logger.Infof("Would append %d bytes to %s", len(content), path)
		return rc, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("file.append: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("file.append: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return nil, fmt.Errorf("file.append: %w", err)
	}
	if _, err := storeOut(rc, args, path); err != nil {
		return nil, err
	}
	record(rc, meta, args, map[string]any{"bytes": len(content)})
	return rc, nil
}

// jsonGet reads a value from a JSON file by dotted path, or by jq query
// when query is given.
func jsonGet(_ context.Context, rc *engine.RunContext, args engine.Args, meta engine.Meta) (*engine.RunContext, error) {
	if err := args.Require("json.get", "file"); err != nil {
		return nil, err
	}
	file, _ := args.String("file", "")
	path, err := args.String("path", "")
	if err != nil {
		return nil, err
	}
	query, err := args.String("query", "")
	if err != nil {
		return nil, err
	}
	if path == "" && query == "" {
		return nil, dagerrors.NewValidationError("json.get: needs 'path' or 'query'", "")
	}
	var code *gojq.Code
	if query != "" {
		q, err := gojq.Parse(query)
		if err != nil {
			return nil, dagerrors.NewValidationError(fmt.Sprintf("json.get: bad query: %v", err), "")
		}
		if code, err = gojq.Compile(q); err != nil {
			return nil, dagerrors.NewValidationError(fmt.Sprintf("json.get: bad query: %v", err), "")
		}
	}
	if meta.ValidateOnly {
		meta.Logger.Infof("Would read %s from %s", path+query, file)
		return rc, nil
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("json.get: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("json.get: %w", err)
	}

	var val any
	if code != nil {
		iter := code.Run(doc)
		v, ok := iter.Next()
		if !ok {
			return nil, fmt.Errorf("json.get: query %q produced no value", query)
		}
		if err, isErr := v.(error); isErr {
			return nil, fmt.Errorf("json.get: %w", err)
		}
		val = v
	} else {
		obj, ok := doc.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("json.get: %s is not a JSON object", file)
		}
		if val, err = getPath(obj, strings.Split(path, ".")); err != nil {
			return nil, fmt.Errorf("json.get: %w", err)
		}
	}
	if _, err := storeOut(rc, args, val); err != nil {
		return nil, err
	}
	record(rc, meta, args, nil)
	return rc, nil
}

func jsonSet(_ context.Context, rc *engine.RunContext, args engine.Args, meta engine.Meta) (*engine.RunContext, error) {
	if err := args.Require("json.set", "file", "path"); err != nil {
		return nil, err
	}
	file, _ := args.String("file", "")
	path, err := args.String("path", "")
	if err != nil {
		return nil, err
	}
	value := args["value"]
	if meta.ValidateOnly {
		meta.Logger.Infof("Would set %s = %v in %s", path, value, file)
		return rc, nil
	}

	obj := map[string]any{}
	data, err := os.ReadFile(file)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil, fmt.Errorf("json.set: %w", err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("json.set: %w", err)
	}

	if err := setPath(obj, strings.Split(path, "."), value); err != nil {
		return nil, fmt.Errorf("json.set: %w", err)
	}
	out, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("json.set: %w", err)
	}
	if err := os.WriteFile(file, out, 0o644); err != nil {
		return nil, fmt.Errorf("json.set: %w", err)
	}
	record(rc, meta, args, nil)
	return rc, nil
}

func getPath(obj map[string]any, keys []string) (any, error) {
	current := any(obj)
	for _, k := range keys {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("key %q: not an object", k)
		}
		v, ok := m[k]
		if !ok {
			return nil, fmt.Errorf("key %q not found", k)
		}
		current = v
	}
	return current, nil
}

func setPath(obj map[string]any, keys []string, value any) error {
	for _, k := range keys[:len(keys)-1] {
		next, ok := obj[k]
		if !ok {
			next = map[string]any{}
			obj[k] = next
		}
		m, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("key %q: not an object", k)
		}
		obj = m
	}
	obj[keys[len(keys)-1]] = value
	return nil
}

func envGet(_ context.Context, rc *engine.RunContext, args engine.Args, meta engine.Meta) (*engine.RunContext, error) {
	if err := args.Require("env.get", "name"); err != nil {
		return nil, err
	}
	name, _ := args.String("name", "")
	if meta.ValidateOnly {
		meta.Logger.Infof("Would read environment variable %q", name)
		return rc, nil
	}
	val, ok := os.LookupEnv(name)
	if !ok {
		if !args.Has("default") {
			return nil, &dagerrors.RunError{
				Type:    dagerrors.PreconditionFailed,
				Message: fmt.Sprintf("env.get: environment variable %q not set", name),
				Hint:    "Export the variable or pass a default arg",
			}
		}
		val, _ = args.String("default", "")
	}
	if _, err := storeOut(rc, args, val); err != nil {
		return nil, err
	}
	record(rc, meta, args, nil)
	return rc, nil
}

// HTTPRequest sends one HTTP request per step.
type HTTPRequest struct {
	client *http.Client
}

// NewHTTPRequest wraps client; nil gets a client with a 60s timeout.
func NewHTTPRequest(client *http.Client) *HTTPRequest {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPRequest{client: client}
}

// Execute sends the request and stores {status_code, body} in scratch[out].
// A JSON response body is decoded.
func (h *HTTPRequest) Execute(ctx context.Context, rc *engine.RunContext, args engine.Args, meta engine.Meta) (*engine.RunContext, error) {
	if err := args.Require("http.request", "url"); err != nil {
		return nil, err
	}
	url, _ := args.String("url", "")
	method, err := args.String("method", http.MethodGet)
	if err != nil {
		return nil, err
	}
	method = strings.ToUpper(method)
	headers, err := args.StringMap("headers")
	if err != nil {
		return nil, err
	}
	if meta.ValidateOnly {
		meta.Logger.Infof("Would send %s request to %s", method, url)
		return rc, nil
	}

	var body io.Reader
	if b, ok := args["body"]; ok && b != nil {
		switch x := b.(type) {
		case string:
			body = strings.NewReader(x)
		default:
			raw, err := json.Marshal(x)
			if err != nil {
				return nil, dagerrors.NewValidationError(fmt.Sprintf("http.request: body: %v", err), "")
			}
			body = strings.NewReader(string(raw))
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, dagerrors.NewValidationError(fmt.Sprintf("http.request: %v", err), "")
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		req.Header.Set(k, headers[k])
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, &dagerrors.RunError{Type: dagerrors.Transient, Message: fmt.Sprintf("http.request: %v", err), Retryable: true}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("http.request: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &dagerrors.RunError{
			Type:      dagerrors.HandlerError,
			Code:      fmt.Sprintf("HTTP_%d", resp.StatusCode),
			Message:   fmt.Sprintf("http.request: %d %s", resp.StatusCode, strings.TrimSpace(string(raw))),
			Retryable: resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
		}
	}

	var decoded any = string(raw)
	if strings.Contains(resp.Header.Get("Content-Type"), "json") {
		var v any
		if json.Unmarshal(raw, &v) == nil {
			decoded = v
		}
	}
	if _, err := storeOut(rc, args, map[string]any{"status_code": resp.StatusCode, "body": decoded}); err != nil {
		return nil, err
	}
	record(rc, meta, args, map[string]any{"status_code": resp.StatusCode, "elapsed_sec": time.Since(start).Seconds()})
	return rc, nil
}

// shellRun runs command through sh. A non-zero exit fails the step.
func shellRun(ctx context.Context, rc *engine.RunContext, args engine.Args, meta engine.Meta) (*engine.RunContext, error) {
	if err := args.Require("shell.run", "command"); err != nil {
		return nil, err
	}
	command, err := args.String("command", "")
	if err != nil {
		return nil, err
	}
	workdir, err := args.String("workdir", "")
	if err != nil {
		return nil, err
	}
	env, err := args.StringMap("env")
	if err != nil {
		return nil, err
	}
	timeout, err := args.Float("timeout_sec", 0)
	if err != nil {
		return nil, err
	}
	if meta.ValidateOnly {
		meta.Logger.Infof("Would run: %s", command)
		return rc, nil
	}

	opts := runner.Options{WorkDir: workdir, Timeout: time.Duration(timeout * float64(time.Second))}
	for k, v := range env {
		opts.Env = append(opts.Env, k+"="+v)
	}
	sort.Strings(opts.Env)
	res := runner.Run(ctx, command, opts)
	if res.TimedOut {
		return nil, &dagerrors.RunError{Type: dagerrors.Timeout, Message: fmt.Sprintf("shell.run: timed out after %s", res.Elapsed), Retryable: true}
	}
	if res.ExitCode != 0 {
		return nil, &dagerrors.RunError{
			Type:    dagerrors.HandlerError,
			Code:    fmt.Sprintf("EXIT_%d", res.ExitCode),
			Message: fmt.Sprintf("shell.run: exit %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr)),
		}
	}
	if _, err := storeOut(rc, args, map[string]any{"stdout": res.Stdout, "stderr": res.Stderr, "exit_code": res.ExitCode}); err != nil {
		return nil, err
	}
	record(rc, meta, args, map[string]any{"exit_code": res.ExitCode, "elapsed_sec": res.Elapsed.Seconds()})
	return rc, nil
}
