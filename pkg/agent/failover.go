package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/harun/insight/internal/observability"
	"github.com/harun/insight/internal/tracing"
)

// complete obtains one completion, trying auth profiles in priority order
// and retrying transient failures of each.
func (r *Runner) complete(ctx context.Context, prompt string, onFragment func(string)) (string, error) {
	if r.completer != nil {
		return r.callWithRetry(ctx, "custom", r.completer, prompt, onFragment)
	}
	return r.executeWithFailover(ctx, prompt, onFragment)
}

// executeWithFailover executes with auth profile failover
func (r *Runner) executeWithFailover(ctx context.Context, prompt string, onFragment func(string)) (string, error) {
	r.authMu.RLock()
	profiles := make([]AuthProfile, len(r.authProfiles))
	copy(profiles, r.authProfiles)
	r.authMu.RUnlock()
	logger := tracing.LoggerFromContext(ctx, r.logger)

	opts := CompletionOptions{
		Model:       r.config.Model,
		Temperature: r.config.Temperature,
		MaxTokens:   r.config.MaxTokens,
		Stop:        []string{StopSequence},
	}

	var lastErr error
	for _, profile := range profiles {
		provider, err := r.providerFactory.NewProvider(profile, opts)
		if err != nil {
			logger.Warn().
				Str("profile_id", profile.ID).
				Err(err).
				Msg("Failed to create provider")
			lastErr = err
			continue
		}

		streamed := false
		text, err := r.callWithRetry(ctx, profile.ID, provider, prompt, func(fragment string) {
			streamed = true
			onFragment(fragment)
		})
		if err == nil {
			return text, nil
		}
		lastErr = err

		if ctx.Err() != nil || streamed {
			return "", err
		}
		logger.Warn().
			Str("profile_id", profile.ID).
			Str("provider", profile.Provider).
			Err(err).
			Msg("Auth profile failed, trying next")
	}

	if lastErr == nil {
		return "", ErrNoProvider
	}
	var ce *CapabilityError
	if !errors.As(lastErr, &ce) {
		lastErr = &CapabilityError{Kind: CapabilityUnreachable, Provider: "none", Err: fmt.Errorf("%w: %v", ErrNoProvider, lastErr)}
	}
	return "", lastErr
}

// callWithRetry calls the provider with exponential backoff. Attempts that
// already streamed fragments are not retried.
func (r *Runner) callWithRetry(ctx context.Context, profileID string, c Completer, prompt string, onFragment func(string)) (string, error) {
	provider := "custom"
	if p, ok := c.(LLMProvider); ok {
		provider = p.Provider()
	}

	ctx, span := tracing.StartSpan(ctx, "agent.complete",
		attribute.String("provider", provider),
		attribute.String("profile_id", profileID),
	)
	defer span.End()

	maxRetries := r.config.MaxRetries
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		streamed := false
		start := time.Now()
		text, err := c.Complete(ctx, prompt, func(fragment string) {
			streamed = true
			onFragment(fragment)
		})
		observability.RecordLLMCall(provider, time.Since(start), err == nil)
		if err == nil {
			return text, nil
		}

		lastErr = err
		span.RecordError(err)

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if streamed || !IsRetryableError(err) {
			break
		}
		if attempt == maxRetries-1 {
			break
		}

		delay := r.retryBaseDelay * time.Duration(1<<attempt)
		logger := tracing.LoggerFromContext(ctx, r.logger)
		logger.Info().
			Str("provider", provider).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(err).
			Msg("Retrying after error")

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}

	span.SetStatus(codes.Error, lastErr.Error())
	var ce *CapabilityError
	if !errors.As(lastErr, &ce) {
		lastErr = &CapabilityError{Kind: CapabilityUnreachable, Provider: provider, Err: lastErr}
	}
	return "", lastErr
}
