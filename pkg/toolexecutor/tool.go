package toolexecutor

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the closed set of capabilities a tool can provide.
type Kind int

const (
	KindQuery Kind = iota + 1
	KindRetrieve
	KindExecute
)

func (k Kind) String() string {
	switch k {
	case KindQuery:
		return "query"
	case KindRetrieve:
		return "retrieve"
	case KindExecute:
		return "execute"
	default:
		return "unknown"
	}
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k >= KindQuery && k <= KindExecute
}

// Tool is a named capability the agent can invoke with text input.
type Tool interface {
	Name() string
	Description() string
	Kind() Kind
	Invoke(ctx context.Context, input string) (string, error)
}

// ToolHandler is the function signature for tool execution
type ToolHandler func(ctx context.Context, input string) (string, error)

// ToolDefinition is a Tool assembled from plain values.
type ToolDefinition struct {
	ToolName string
	Summary  string
	ToolKind Kind
	Handler  ToolHandler
}

func (d ToolDefinition) Name() string        { return d.ToolName }
func (d ToolDefinition) Description() string { return d.Summary }
func (d ToolDefinition) Kind() Kind          { return d.ToolKind }

func (d ToolDefinition) Invoke(ctx context.Context, input string) (string, error) {
	if d.Handler == nil {
		return "", NewToolError(ErrorKindExecution, "tool has no handler")
	}
	return d.Handler(ctx, input)
}

// ErrorKind classifies recoverable tool failures.
type ErrorKind string

const (
	ErrorKindQuerySyntax           ErrorKind = "QuerySyntaxError"
	ErrorKindExecution             ErrorKind = "ExecutionError"
	ErrorKindDependencyUnavailable ErrorKind = "DependencyUnavailable"
	ErrorKindTimeout               ErrorKind = "Timeout"
)

// ToolError is a failure the agent can observe and react to. It never ends a run.
type ToolError struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

// NewToolError creates a ToolError without an underlying cause.
func NewToolError(kind ErrorKind, detail string) *ToolError {
	return &ToolError{Kind: kind, Detail: detail}
}

// WrapToolError creates a ToolError whose detail is err's message.
func WrapToolError(kind ErrorKind, err error) *ToolError {
	return &ToolError{Kind: kind, Detail: err.Error(), Err: err}
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// AsToolError extracts a ToolError from err's chain.
func AsToolError(err error) (*ToolError, bool) {
	var te *ToolError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
