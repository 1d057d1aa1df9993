package tracing

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

type ctxKey struct{}

// TraceContext is the set of identifiers a request carries through the
// agent loop, its tools and the store.
type TraceContext struct {
	TraceID    string
	RunID      string
	SessionKey string
}

// Attributes renders the non-empty identifiers as span attributes.
func (tc TraceContext) Attributes() []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 2)
	if tc.RunID != "" {
		attrs = append(attrs, attribute.String("insight.run_id", tc.RunID))
	}
	if tc.SessionKey != "" {
		attrs = append(attrs, attribute.String("insight.session_key", tc.SessionKey))
	}
	return attrs
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewRunID generates a new run ID
func NewRunID() string {
	return uuid.New().String()
}

// FromContext returns the identifiers stored in ctx.
func FromContext(ctx context.Context) TraceContext {
	if ctx == nil {
		return TraceContext{}
	}
	tc, _ := ctx.Value(ctxKey{}).(TraceContext)
	return tc
}

func with(ctx context.Context, update func(*TraceContext)) context.Context {
	tc := FromContext(ctx)
	update(&tc)
	return context.WithValue(ctx, ctxKey{}, tc)
}

// WithTraceID returns ctx carrying traceID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return with(ctx, func(tc *TraceContext) { tc.TraceID = traceID })
}

// WithRunID returns ctx carrying runID.
func WithRunID(ctx context.Context, runID string) context.Context {
	return with(ctx, func(tc *TraceContext) { tc.RunID = runID })
}

// WithSessionKey returns ctx carrying the session key that selects the
// run's command queue lane.
func WithSessionKey(ctx context.Context, sessionKey string) context.Context {
	return with(ctx, func(tc *TraceContext) { tc.SessionKey = sessionKey })
}

func GetTraceID(ctx context.Context) string    { return FromContext(ctx).TraceID }
func GetRunID(ctx context.Context) string      { return FromContext(ctx).RunID }
func GetSessionKey(ctx context.Context) string { return FromContext(ctx).SessionKey }

// NewRunContext returns ctx carrying a fresh run ID, keeping any trace ID
// already present.
func NewRunContext(ctx context.Context) (context.Context, string) {
	runID := NewRunID()
	ctx = with(ctx, func(tc *TraceContext) {
		tc.RunID = runID
		if tc.TraceID == "" {
			tc.TraceID = NewTraceID()
		}
	})
	return ctx, runID
}
