package action

import (
	"context"
	"fmt"
	"reflect"

	"github.com/stevehiehn/stepwise/internal/engine"
	dagerrors "github.com/stevehiehn/stepwise/internal/errors"
)

// CoreFamily holds operations that only touch the run context.
func CoreFamily() Family {
	return Family{Name: "core", Ops: map[string]engine.Operation{
		"noop":    engine.OperationFunc(noop),
		"set":     engine.OperationFunc(set),
		"log":     engine.OperationFunc(logOp),
		"assert":  engine.OperationFunc(assertOp),
		"fail":    engine.OperationFunc(failOp),
		"history": engine.OperationFunc(historyOp),
	}}
}

func noop(_ context.Context, rc *engine.RunContext, _ engine.Args, meta engine.Meta) (*engine.RunContext, error) {
	meta.Logger.Info("noop")
	return rc, nil
}

// set writes value to scratch[key], or replaces the payload when key is
// absent and payload is given. It runs in validate mode too, so guards on
// later steps see the same state.
func set(_ context.Context, rc *engine.RunContext, args engine.Args, meta engine.Meta) (*engine.RunContext, error) {
	key, err := args.String("key", "")
	if err != nil {
		return nil, err
	}
	switch {
	case key != "":
		rc.Scratch[key] = args["value"]
		meta.Logger.Info("scratch set", "key", key)
	case args.Has("payload"):
		rc.Payload = args["payload"]
		meta.Logger.Info("payload set")
	default:
		return nil, dagerrors.NewValidationError("set: needs 'key' or 'payload'", "")
	}
	return rc, nil
}

func logOp(_ context.Context, rc *engine.RunContext, args engine.Args, meta engine.Meta) (*engine.RunContext, error) {
	msg, err := args.String("message", "")
	if err != nil {
		return nil, err
	}
	level, err := args.String("level", "info")
	if err != nil {
		return nil, err
	}
	switch level {
	case "info":
		meta.Logger.Info(msg)
	case "error":
		meta.Logger.Error(msg)
	default:
		return nil, dagerrors.NewValidationError(fmt.Sprintf("log: unknown level %q", level), "Use info or error")
	}
	return rc, nil
}

// assertOp checks that scratch[key] exists and, when equals is given, that
// it matches. Values produced by io operations are absent in validate mode,
// so there only the arguments are checked.
func assertOp(_ context.Context, rc *engine.RunContext, args engine.Args, meta engine.Meta) (*engine.RunContext, error) {
	if err := args.Require("assert", "key"); err != nil {
		return nil, err
	}
	key, err := args.String("key", "")
	if err != nil {
		return nil, err
	}
	if meta.ValidateOnly {
		meta.Logger.Infof("Would assert scratch key %q", key)
		return rc, nil
	}
	got, ok := rc.Scratch[key]
	if !ok {
		return nil, &dagerrors.RunError{
			Type:    dagerrors.PreconditionFailed,
			Message: fmt.Sprintf("assert: scratch key %q is not set", key),
		}
	}
	if want, ok := args["equals"]; ok && !looseEqual(got, want) {
		return nil, &dagerrors.RunError{
			Type:    dagerrors.PreconditionFailed,
			Message: fmt.Sprintf("assert: scratch key %q is %v, want %v", key, got, want),
		}
	}
	return rc, nil
}

func looseEqual(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// failOp always fails. It is useful to exercise error policies.
func failOp(_ context.Context, _ *engine.RunContext, args engine.Args, _ engine.Meta) (*engine.RunContext, error) {
	code, err := args.String("code", "FAIL")
	if err != nil {
		return nil, err
	}
	msg, err := args.String("message", "step failed on purpose")
	if err != nil {
		return nil, err
	}
	retryable, err := args.Bool("retryable", false)
	if err != nil {
		return nil, err
	}
	return nil, &dagerrors.RunError{Type: dagerrors.HandlerError, Code: code, Message: msg, Retryable: retryable}
}

// historyOp appends a row built from its params and metrics args.
func historyOp(_ context.Context, rc *engine.RunContext, args engine.Args, meta engine.Meta) (*engine.RunContext, error) {
	name, err := args.String("op", meta.Step.Name)
	if err != nil {
		return nil, err
	}
	status, err := args.String("status", "ok")
	if err != nil {
		return nil, err
	}
	params, err := mapArg(args, "params")
	if err != nil {
		return nil, err
	}
	metrics, err := mapArg(args, "metrics")
	if err != nil {
		return nil, err
	}
	h := engine.AppendHistory(rc, name, params, status, metrics)
	meta.Logger.Info("history row appended", "rows", len(h.Rows))
	return rc, nil
}

func mapArg(args engine.Args, key string) (map[string]any, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch m := v.(type) {
	case map[string]any:
		return m, nil
	case engine.Args:
		return m, nil
	}
	return nil, dagerrors.NewValidationError(fmt.Sprintf("arg %q: expected map, got %T", key, v), "")
}

// record appends a history row for a completed io operation.
func record(rc *engine.RunContext, meta engine.Meta, args engine.Args, metrics map[string]any) {
	engine.AppendHistory(rc, meta.Step.Op, args, "ok", metrics)
}

// storeOut writes v to scratch[out] when the step names an out key.
func storeOut(rc *engine.RunContext, args engine.Args, v any) (string, error) {
	out, err := args.String("out", "")
	if err != nil || out == "" {
		return "", err
	}
	rc.Scratch[out] = v
	return out, nil
}
