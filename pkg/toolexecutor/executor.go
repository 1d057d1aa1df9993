package toolexecutor

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/harun/insight/internal/observability"
	"github.com/harun/insight/internal/tracing"
)

const (
	defaultTimeout        = 30 * time.Second
	defaultMaxOutputBytes = 8 * 1024
	truncationNotice      = "\n... [output truncated]"
)

// Options configures an Executor.
type Options struct {
	// Timeouts bounds a single invocation per tool kind.
	Timeouts map[Kind]time.Duration
	// DefaultTimeout applies to kinds missing from Timeouts.
	DefaultTimeout time.Duration
	// MaxOutputBytes bounds observation text.
	MaxOutputBytes int
	Logger         *zerolog.Logger
}

// Result is the normalized outcome of one invocation.
type Result struct {
	Tool        string
	Observation string
	Err         *ToolError
	Truncated   bool
	Duration    time.Duration
}

// OK reports whether the tool produced an observation.
func (r Result) OK() bool {
	return r.Err == nil
}

// Text renders the result as the observation shown to the model.
func (r Result) Text() string {
	if r.Err != nil {
		return fmt.Sprintf("Error (%s): %s", r.Err.Kind, r.Err.Detail)
	}
	return r.Observation
}

// Executor dispatches invocations to registered tools.
type Executor struct {
	registry *Registry
	opts     Options
	logger   zerolog.Logger
}

// NewExecutor creates an Executor over registry.
func NewExecutor(registry *Registry, opts Options) *Executor {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = defaultTimeout
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = defaultMaxOutputBytes
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Executor{
		registry: registry,
		opts:     opts,
		logger:   logger.With().Str("component", "toolexecutor").Logger(),
	}
}

// Registry returns the registry the executor dispatches to.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// TimeoutFor returns the invocation timeout for kind.
func (e *Executor) TimeoutFor(kind Kind) time.Duration {
	if d, ok := e.opts.Timeouts[kind]; ok && d > 0 {
		return d
	}
	return e.opts.DefaultTimeout
}

// Invoke runs the named tool with input under its kind's timeout. Handler
// errors become ToolErrors; a handler still running at the deadline is
// abandoned and reported as a Timeout.
func (e *Executor) Invoke(ctx context.Context, name, input string) Result {
	start := time.Now()

	tool, err := e.registry.Get(name)
	if err != nil {
		return Result{Tool: name, Err: WrapToolError(ErrorKindExecution, err)}
	}

	ctx, span := tracing.StartSpan(ctx, "tool."+name,
		attribute.String("tool.name", name),
		attribute.String("tool.kind", tool.Kind().String()),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, e.logger)
	timeout := e.TimeoutFor(tool.Kind())

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		out string
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		out, err := tool.Invoke(callCtx, input)
		done <- outcome{out, err}
	}()

	var res Result
	select {
	case o := <-done:
		res = e.normalize(name, o.out, o.err, timeout)
	case <-callCtx.Done():
		res = Result{Tool: name, Err: timeoutOrCancel(ctx, timeout)}
	}
	res.Duration = time.Since(start)

	status := "success"
	if res.Err != nil {
		status = string(res.Err.Kind)
		span.SetStatus(codes.Error, res.Err.Detail)
		logger.Warn().
			Str("tool", name).
			Str("kind", status).
			Dur("duration", res.Duration).
			Str("detail", res.Err.Detail).
			Msg("Tool invocation failed")
	} else {
		logger.Debug().
			Str("tool", name).
			Dur("duration", res.Duration).
			Bool("truncated", res.Truncated).
			Msg("Tool invocation completed")
	}
	observability.RecordToolExecution(name, res.Duration, status)

	return res
}

func (e *Executor) normalize(name, out string, err error, timeout time.Duration) Result {
	if err != nil {
		if te, ok := AsToolError(err); ok {
			return Result{Tool: name, Err: te}
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return Result{Tool: name, Err: &ToolError{
				Kind:   ErrorKindTimeout,
				Detail: fmt.Sprintf("tool did not finish within %v", timeout),
				Err:    err,
			}}
		}
		return Result{Tool: name, Err: WrapToolError(ErrorKindExecution, err)}
	}

	text, truncated := truncate(out, e.opts.MaxOutputBytes)
	if truncated {
		e.logger.Warn().
			Str("tool", name).
			Int("original", len(out)).
			Int("limit", e.opts.MaxOutputBytes).
			Msg("Output truncated")
	}
	return Result{Tool: name, Observation: text, Truncated: truncated}
}

// timeoutOrCancel distinguishes the tool's own deadline from the run being
// cancelled or hitting its budget.
func timeoutOrCancel(parent context.Context, timeout time.Duration) *ToolError {
	if err := parent.Err(); err != nil {
		return &ToolError{Kind: ErrorKindExecution, Detail: "invocation abandoned: " + err.Error(), Err: err}
	}
	return &ToolError{
		Kind:   ErrorKindTimeout,
		Detail: fmt.Sprintf("tool did not finish within %v", timeout),
		Err:    context.DeadlineExceeded,
	}
}

// truncate cuts s to at most limit bytes on a rune boundary.
func truncate(s string, limit int) (string, bool) {
	if len(s) <= limit {
		return s, false
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncationNotice, true
}
