package observability

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AuditEvent records a state change made against the business data.
type AuditEvent struct {
	Timestamp time.Time
	Actor     string // run ID or "cli"
	Action    string // e.g. "sql_write"
	Statement string
	Affected  int64
	Status    string
	TraceID   string
}

// AuditLog writes one JSON line per data mutation. Concurrent runs share it.
type AuditLog struct {
	mu     sync.Mutex
	logger zerolog.Logger
	file   *os.File
}

// NewAuditLog writes to w. A nil writer discards events.
func NewAuditLog(w io.Writer) *AuditLog {
	if w == nil {
		w = io.Discard
	}
	return &AuditLog{logger: zerolog.New(w).With().Timestamp().Logger()}
}

// OpenAuditLog appends to the file at path, creating parent directories.
func OpenAuditLog(path string) (*AuditLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	a := NewAuditLog(file)
	a.file = file
	return a, nil
}

// Record emits the event and mirrors it onto the active span when there is one.
func (a *AuditLog) Record(ctx context.Context, event AuditEvent) {
	if a == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		event.TraceID = span.SpanContext().TraceID().String()
		span.AddEvent(event.Action, trace.WithAttributes(
			attribute.String("audit.status", event.Status),
			attribute.Int64("audit.affected", event.Affected),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.logger.Log().
		Time("at", event.Timestamp).
		Str("actor", event.Actor).
		Str("action", event.Action).
		Str("statement", event.Statement).
		Int64("affected", event.Affected).
		Str("status", event.Status).
		Str("trace_id", event.TraceID).
		Msg("")
}

// Close closes the underlying file, if any
func (a *AuditLog) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		return a.file.Close()
	}
	return nil
}
