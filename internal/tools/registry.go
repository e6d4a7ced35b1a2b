// Package tools holds the tool registry, the typed tool arguments and the
// dispatcher used by the agent loop.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/smartrecall/internal/llm"
	"github.com/ashureev/smartrecall/internal/resilience"
)

var (
	// ErrUnknownTool is reported when the model asks for a tool that is not registered.
	ErrUnknownTool = errors.New("tools: unknown tool")
	// ErrInvalidArgs is reported when tool arguments fail to decode or validate.
	ErrInvalidArgs = errors.New("tools: invalid arguments")
)

// UnknownToolMessage is the error text returned to the model for unknown tools.
const UnknownToolMessage = "Unknown tool requested"

// Invocation carries the caller-owned context of a tool call. It is filled
// by the dispatcher and never from model output.
type Invocation struct {
	SessionID string
	ChatID    string
}

// Tool is a named capability the model can invoke.
type Tool interface {
	Spec() llm.ToolSpec
	Decode(raw json.RawMessage) (Args, error)
	Invoke(ctx context.Context, inv Invocation, args Args) (string, error)
}

type funcTool[A Args] struct {
	spec llm.ToolSpec
	run  func(ctx context.Context, inv Invocation, args A) (string, error)
}

// New builds a Tool whose arguments decode into A.
func New[A Args](spec llm.ToolSpec, run func(ctx context.Context, inv Invocation, args A) (string, error)) Tool {
	return &funcTool[A]{spec: spec, run: run}
}

func (t *funcTool[A]) Spec() llm.ToolSpec { return t.spec }

func (t *funcTool[A]) Decode(raw json.RawMessage) (Args, error) {
	var a A
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("%w for %s: %v", ErrInvalidArgs, t.spec.Name, err)
		}
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("%w for %s: %v", ErrInvalidArgs, t.spec.Name, err)
	}
	return a, nil
}

func (t *funcTool[A]) Invoke(ctx context.Context, inv Invocation, args Args) (string, error) {
	a, ok := args.(A)
	if !ok {
		return "", fmt.Errorf("%w: %s got %T", ErrInvalidArgs, t.spec.Name, args)
	}
	return t.run(ctx, inv, a)
}

// Registry is an ordered set of tools with a per-call timeout.
type Registry struct {
	tools   map[string]Tool
	order   []string
	timeout *resilience.Timeout
}

// NewRegistry registers tools in order. Duplicate names are rejected.
func NewRegistry(timeout time.Duration, tools ...Tool) (*Registry, error) {
	r := &Registry{
		tools:   make(map[string]Tool, len(tools)),
		timeout: resilience.NewTimeout(timeout),
	}
	for _, t := range tools {
		name := t.Spec().Name
		if name == "" {
			return nil, errors.New("tools: tool with empty name")
		}
		if _, dup := r.tools[name]; dup {
			return nil, fmt.Errorf("tools: duplicate tool %q", name)
		}
		r.tools[name] = t
		r.order = append(r.order, name)
	}
	return r, nil
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Specs returns the tool schemas advertised to the model.
func (r *Registry) Specs() []llm.ToolSpec {
	specs := make([]llm.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.tools[name].Spec())
	}
	return specs
}

// Result is the outcome of one dispatched tool call. Content is always set
// and is what the model sees; Err records the failure, if any.
type Result struct {
	CallID   string
	Name     string
	Content  string
	Err      error
	Duration time.Duration
}

// Dispatch decodes, validates and runs one tool call. Failures become
// structured error results so the loop can continue.
func (r *Registry) Dispatch(ctx context.Context, inv Invocation, call llm.ToolCall) (res Result) {
	start := time.Now()
	res = Result{CallID: call.ID, Name: call.Name}
	defer func() { res.Duration = time.Since(start) }()

	tool, ok := r.tools[call.Name]
	if !ok {
		slog.Warn("Model requested unknown tool", "session_id", inv.SessionID, "tool", call.Name)
		res.Err = fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
		res.Content = ErrorResult(UnknownToolMessage)
		return res
	}

	args, err := tool.Decode(call.Arguments)
	if err != nil {
		slog.Warn("Rejected tool arguments", "session_id", inv.SessionID, "tool", call.Name, "error", err)
		res.Err = err
		res.Content = ErrorResult(err.Error())
		return res
	}

	out, err := resilience.Do(ctx, r.timeout, func(ctx context.Context) (string, error) {
		return tool.Invoke(ctx, inv, args)
	})
	if err != nil {
		if errors.Is(err, resilience.ErrTimeout) {
			err = fmt.Errorf("%s timed out after %s: %w", call.Name, r.timeout.Duration(), err)
		}
		slog.Warn("Tool invocation failed", "session_id", inv.SessionID, "tool", call.Name, "error", err)
		res.Err = err
		res.Content = ErrorResult(err.Error())
		return res
	}
	res.Content = out
	return res
}

type errorPayload struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// ErrorResult renders the structured error result fed back to the model.
func ErrorResult(msg string) string {
	b, _ := json.Marshal(errorPayload{Type: TypeError, Success: false, Error: msg})
	return string(b)
}
