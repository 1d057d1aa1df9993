package agent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/harun/insight/internal/observability"
	"github.com/harun/insight/internal/tracing"
	"github.com/harun/insight/pkg/commandqueue"
	"github.com/harun/insight/pkg/toolexecutor"
)

var errCancelledByConsumer = errors.New("run cancelled by consumer")

// Runner orchestrates agent runs
type Runner struct {
	executor        *toolexecutor.Executor
	commandQueue    *commandqueue.CommandQueue
	prompt          *PromptAssembler
	completer       Completer
	providerFactory ProviderCreator
	config          AgentConfig
	retryBaseDelay  time.Duration
	logger          zerolog.Logger

	// Auth profiles
	authProfiles []AuthProfile
	authMu       sync.RWMutex

	// Active runs for abort capability
	activeRuns map[string]*Stream
	runsMu     sync.RWMutex
}

// Config holds runner configuration
type Config struct {
	Executor *toolexecutor.Executor
	// CommandQueue serializes runs that carry a session key, one lane per
	// session. Optional.
	CommandQueue *commandqueue.CommandQueue
	Agent        AgentConfig
	// Instructions replace DefaultInstructions when set.
	Instructions string
	Logger       zerolog.Logger

	// Completer, when set, is used instead of AuthProfiles.
	Completer       Completer
	AuthProfiles    []AuthProfile
	ProviderFactory ProviderCreator

	// RetryBaseDelay is the first backoff delay, doubled per attempt.
	RetryBaseDelay time.Duration
}

// NewRunner creates a new agent runner
func NewRunner(cfg Config) (*Runner, error) {
	observability.EnsureRegistered()

	if cfg.Executor == nil {
		return nil, fmt.Errorf("tool executor is required")
	}
	if cfg.Completer == nil && len(cfg.AuthProfiles) == 0 {
		return nil, fmt.Errorf("at least one auth profile is required")
	}

	defaults := DefaultConfig()
	if cfg.Agent.Model == "" {
		cfg.Agent.Model = defaults.Model
	}
	if cfg.Agent.MaxIterations <= 0 {
		cfg.Agent.MaxIterations = defaults.MaxIterations
	}
	if cfg.Agent.RunTimeout <= 0 {
		cfg.Agent.RunTimeout = defaults.RunTimeout
	}
	if cfg.Agent.MaxRetries <= 0 {
		cfg.Agent.MaxRetries = defaults.MaxRetries
	}
	if err := validateConfig(cfg.Agent); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}

	prompt, err := NewPromptAssembler(cfg.Instructions)
	if err != nil {
		return nil, err
	}

	providerFactory := cfg.ProviderFactory
	if providerFactory == nil {
		providerFactory = &ProviderFactory{}
	}

	profiles := make([]AuthProfile, len(cfg.AuthProfiles))
	copy(profiles, cfg.AuthProfiles)
	sortProfilesByPriority(profiles)

	return &Runner{
		executor:        cfg.Executor,
		commandQueue:    cfg.CommandQueue,
		prompt:          prompt,
		completer:       cfg.Completer,
		providerFactory: providerFactory,
		config:          cfg.Agent,
		retryBaseDelay:  cfg.RetryBaseDelay,
		logger:          cfg.Logger.With().Str("component", "agent").Logger(),
		authProfiles:    profiles,
		activeRuns:      make(map[string]*Stream),
	}, nil
}

// validateConfig validates agent configuration
func validateConfig(config AgentConfig) error {
	if config.Temperature < 0 || config.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if config.MaxTokens < 0 {
		return fmt.Errorf("max tokens cannot be negative")
	}
	return nil
}

// Config returns the effective agent configuration.
func (r *Runner) Config() AgentConfig {
	return r.config
}

// Run starts a run for question and returns its event stream. The run
// continues in the background until it reaches a terminal state, ctx is
// cancelled or the stream is cancelled. A session key on ctx (see
// tracing.WithSessionKey) queues the run behind earlier runs of the same
// session.
func (r *Runner) Run(ctx context.Context, question string, history []Message) (*Stream, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.WithTraceID(ctx, tracing.NewTraceID())
	}
	ctx, runID := tracing.NewRunContext(ctx)

	runCtx, cancel := context.WithCancelCause(ctx)
	stream := newStream(runID, cancel)
	run := newRun(runID, question, append([]Message(nil), history...))

	r.runsMu.Lock()
	r.activeRuns[runID] = stream
	r.runsMu.Unlock()

	go func() {
		defer func() {
			r.runsMu.Lock()
			delete(r.activeRuns, runID)
			r.runsMu.Unlock()
			cancel(nil)
		}()

		sessionKey := tracing.GetSessionKey(runCtx)
		if r.commandQueue == nil || sessionKey == "" {
			r.execute(runCtx, run, stream)
			return
		}

		lane := "session:" + sessionKey
		if ahead := r.commandQueue.QueueSize(lane); ahead > 0 {
			logger := tracing.LoggerFromContext(runCtx, r.logger)
			logger.Debug().Str("lane", lane).Int("queued_ahead", ahead).Msg("Run waiting for its session")
		}
		_, err := r.commandQueue.EnqueueWithContext(runCtx, lane, func(taskCtx context.Context) (interface{}, error) {
			r.execute(taskCtx, run, stream)
			return nil, nil
		})
		if err != nil && run.Status == StatusIdle {
			// cancelled while waiting in the lane
			r.finishCancelled(run, stream, time.Now())
		}
	}()

	return stream, nil
}

// Execute runs question to completion and returns its result. The error is
// non-nil when the run could not start, failed or was cancelled.
func (r *Runner) Execute(ctx context.Context, question string, history []Message) (Result, error) {
	stream, err := r.Run(ctx, question, history)
	if err != nil {
		return Result{}, err
	}
	result := stream.Result()
	return result, result.Err
}

// Abort cancels an active run
func (r *Runner) Abort(runID string) bool {
	r.runsMu.RLock()
	stream, exists := r.activeRuns[runID]
	r.runsMu.RUnlock()

	if !exists {
		r.logger.Debug().Str("run_id", runID).Msg("No active run to abort")
		return false
	}

	r.logger.Info().Str("run_id", runID).Msg("Aborting agent run")
	stream.Cancel()
	return true
}

// IsRunning checks if a run is still active
func (r *Runner) IsRunning(runID string) bool {
	r.runsMu.RLock()
	defer r.runsMu.RUnlock()

	_, exists := r.activeRuns[runID]
	return exists
}

// ActiveRuns returns the number of runs in progress.
func (r *Runner) ActiveRuns() int {
	r.runsMu.RLock()
	defer r.runsMu.RUnlock()
	return len(r.activeRuns)
}

// execute drives one run through the loop and finishes its stream.
func (r *Runner) execute(parent context.Context, run *Run, stream *Stream) {
	budget := &BudgetExceeded{Kind: BudgetTimeBudget, Limit: r.config.RunTimeout.String()}
	ctx, stop := context.WithTimeoutCause(parent, r.config.RunTimeout, budget)
	defer stop()

	ctx, span := tracing.StartSpan(ctx, "agent.run",
		attribute.String("run_id", run.ID),
		attribute.Int("max_iterations", r.config.MaxIterations),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, r.logger)
	start := time.Now()
	run.StartedAt = start
	_ = run.transition(StatusRunning)
	observability.RunStarted()

	logger.Info().Str("question", run.Question).Msg("Run started")

	final, err := r.loop(ctx, run, stream, logger)

	switch {
	case err == nil && final != nil:
		_ = run.transition(StatusCompleted)
		result := r.result(run, start, final.Answer, nil)
		stream.finish(Event{Type: EventFinalAnswer, Iteration: run.Iterations, Text: final.Answer, Rationale: final.Rationale}, result)

	case ctx.Err() != nil && !isBudget(context.Cause(ctx)):
		r.finishCancelled(run, stream, start)
		span.SetStatus(codes.Error, "cancelled")
		logger.Info().Int("iterations", run.Iterations).Msg("Run cancelled")
		return

	case err == nil || isBudget(err) || isBudget(context.Cause(ctx)):
		exceeded := budgetFrom(err, context.Cause(ctx))
		_ = run.transition(StatusExhausted)
		message := exceeded.Message()
		result := r.result(run, start, message, nil)
		stream.finish(Event{Type: EventError, Iteration: run.Iterations, ErrorKind: ErrorKindExhausted, Text: message}, result)

	default:
		_ = run.transition(StatusFailed)
		message := "Agent failed: the reasoning service could not be reached. " + err.Error()
		result := r.result(run, start, message, err)
		stream.finish(Event{Type: EventError, Iteration: run.Iterations, ErrorKind: ErrorKindFailed, Text: message}, result)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(attribute.String("status", string(run.Status)), attribute.Int("iterations", run.Iterations))
	observability.RecordRun(string(run.Status), run.Iterations, time.Since(start))
	logger.Info().
		Str("status", string(run.Status)).
		Int("iterations", run.Iterations).
		Dur("duration", time.Since(start)).
		Msg("Run finished")
}

// loop performs iterations until a final answer, the iteration cap, a
// capability failure or cancellation. A nil step with a nil error means
// the iteration cap was reached.
func (r *Runner) loop(ctx context.Context, run *Run, stream *Stream, logger zerolog.Logger) (*FinalStep, error) {
	tools := r.executor.Registry().List()
	known := r.executor.Registry().Has

	for run.Iterations < r.config.MaxIterations {
		if err := ctx.Err(); err != nil {
			return nil, context.Cause(ctx)
		}

		prompt, err := r.prompt.Assemble(tools, run.History, run.Question, run.Steps)
		if err != nil {
			return nil, err
		}

		iteration := run.Iterations + 1
		text, err := r.complete(ctx, prompt, func(fragment string) {
			stream.emit(ctx, Event{Type: EventToken, Iteration: iteration, Text: fragment})
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, context.Cause(ctx)
			}
			return nil, err
		}

		step, err := Parse(text, known)
		if err != nil {
			var pe *ParseError
			if !errors.As(err, &pe) {
				return nil, err
			}
			r.recordParseError(ctx, run, stream, text, pe, logger)
			continue
		}

		switch s := step.(type) {
		case *FinalStep:
			return s, nil
		case *ActionStep:
			stream.emit(ctx, Event{Type: EventAction, Iteration: iteration, Rationale: s.Rationale, Tool: s.Tool, Input: s.Input})

			res := r.executor.Invoke(ctx, s.Tool, s.Input)
			if ctx.Err() != nil {
				return nil, context.Cause(ctx)
			}

			s.Observation = res.Text()
			if res.Err != nil {
				s.ErrorKind = string(res.Err.Kind)
			}
			run.record(s)
			stream.emit(ctx, Event{Type: EventObservation, Iteration: iteration, Tool: s.Tool, Text: s.Observation, ErrorKind: s.ErrorKind})

			logger.Debug().
				Int("iteration", iteration).
				Str("tool", s.Tool).
				Bool("tool_error", res.Err != nil).
				Dur("duration", res.Duration).
				Msg("Step completed")
		}
	}

	return nil, &BudgetExceeded{Kind: BudgetIterationCap, Limit: strconv.Itoa(r.config.MaxIterations)}
}

// recordParseError turns unusable model output into a recovery step.
func (r *Runner) recordParseError(ctx context.Context, run *Run, stream *Stream, text string, pe *ParseError, logger zerolog.Logger) {
	observability.RecordParseError(string(pe.Kind))
	iteration := run.Iterations + 1

	step := &ActionStep{
		Observation: pe.Observation(),
		ErrorKind:   string(pe.Kind),
	}
	if pe.Kind == ParseUnknownTool {
		step.Rationale, step.Tool, step.Input = pe.Rationale, pe.Tool, pe.Input
		stream.emit(ctx, Event{Type: EventAction, Iteration: iteration, Rationale: pe.Rationale, Tool: pe.Tool, Input: pe.Input})
	} else {
		step.Malformed = true
		step.Raw = text
	}
	run.record(step)
	stream.emit(ctx, Event{Type: EventObservation, Iteration: iteration, Tool: step.Tool, Text: step.Observation, ErrorKind: step.ErrorKind})

	logger.Warn().
		Int("iteration", iteration).
		Str("kind", string(pe.Kind)).
		Str("detail", pe.Detail).
		Msg("Model output could not be parsed")
}

func (r *Runner) finishCancelled(run *Run, stream *Stream, start time.Time) {
	if run.Status == StatusIdle {
		_ = run.transition(StatusRunning)
	}
	_ = run.transition(StatusCancelled)
	run.Steps = nil

	message := "Run cancelled before an answer was reached."
	result := r.result(run, start, message, context.Canceled)
	stream.finish(Event{Type: EventError, Iteration: run.Iterations, ErrorKind: ErrorKindCancelled, Text: message}, result)
	observability.RecordRun(string(StatusCancelled), run.Iterations, time.Since(start))
}

func (r *Runner) result(run *Run, start time.Time, answer string, err error) Result {
	return Result{
		RunID:      run.ID,
		Question:   run.Question,
		Status:     run.Status,
		Answer:     answer,
		Steps:      run.Steps,
		Iterations: run.Iterations,
		Duration:   time.Since(start),
		Err:        err,
	}
}

func isBudget(err error) bool {
	var b *BudgetExceeded
	return errors.As(err, &b)
}

func budgetFrom(errs ...error) *BudgetExceeded {
	for _, err := range errs {
		var b *BudgetExceeded
		if errors.As(err, &b) {
			return b
		}
	}
	return &BudgetExceeded{Kind: BudgetIterationCap}
}
