package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/harun/insight/internal/observability"
	"github.com/harun/insight/internal/tracing"
)

// ErrEmptyQuery is returned for blank statements.
var ErrEmptyQuery = errors.New("empty query")

// QueryError reports a statement the store rejected. Syntax is true when
// the statement could not be parsed.
type QueryError struct {
	Syntax bool
	Err    error
}

func (e *QueryError) Error() string {
	return e.Err.Error()
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// ResultSet is the outcome of one statement. Rows may hold fewer rows than
// the statement produced; TotalRows counts all of them.
type ResultSet struct {
	Columns      []string
	Rows         [][]any
	TotalRows    int
	RowsAffected int64
	Write        bool
}

// Config holds store configuration
type Config struct {
	Path string
	Seed bool
	// MaxRows caps the rows a query keeps in memory; the rest are only
	// counted. Zero keeps every row.
	MaxRows int
	Logger  zerolog.Logger
	Audit   *observability.AuditLog
}

// Store is the relational business database (products and sales).
// It is safe for concurrent use; writes from concurrent runs are visible
// to each other under sqlite's own transaction semantics.
type Store struct {
	db      *sql.DB
	maxRows int
	logger  zerolog.Logger
	audit   *observability.AuditLog
}

// Open opens or creates the database at cfg.Path.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("database path is required")
	}

	dsn := cfg.Path + "?_busy_timeout=5000&_foreign_keys=on"
	memory := cfg.Path == ":memory:"
	if !memory {
		dsn += "&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if memory {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{
		db:      db,
		maxRows: cfg.MaxRows,
		logger:  cfg.Logger.With().Str("component", "store").Logger(),
		audit:   cfg.Audit,
	}
	if err := s.ensureSchema(ctx, cfg.Seed); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Info().Str("path", cfg.Path).Msg("Business store opened")
	return s, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Query runs one statement. Statements that produce rows return them;
// anything else is executed and reports the affected row count.
func (s *Store) Query(ctx context.Context, query string) (*ResultSet, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &QueryError{Syntax: true, Err: ErrEmptyQuery}
	}

	ctx, span := tracing.StartSpan(ctx, "store.query", attribute.Bool("store.write", !returnsRows(query)))
	defer span.End()

	start := time.Now()
	var (
		rs  *ResultSet
		err error
	)
	if returnsRows(query) {
		rs, err = s.queryRows(ctx, query)
	} else {
		rs, err = s.exec(ctx, query)
	}

	logger := tracing.LoggerFromContext(ctx, s.logger)
	if err != nil {
		err = classify(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Debug().Err(err).Str("query", query).Msg("Query failed")
		return nil, err
	}

	logger.Debug().
		Str("query", query).
		Int("rows", rs.TotalRows).
		Int64("affected", rs.RowsAffected).
		Dur("duration", time.Since(start)).
		Msg("Query executed")
	return rs, nil
}

func (s *Store) queryRows(ctx context.Context, query string) (*ResultSet, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	rs := &ResultSet{Columns: cols}
	for rows.Next() {
		rs.TotalRows++
		if s.maxRows > 0 && len(rs.Rows) >= s.maxRows {
			continue
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rs.Rows = append(rs.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rs, nil
}

func (s *Store) exec(ctx context.Context, query string) (*ResultSet, error) {
	res, err := s.db.ExecContext(ctx, query)

	event := observability.AuditEvent{
		Actor:     actor(ctx),
		Action:    "sql_write",
		Statement: query,
		Status:    "success",
	}
	if err != nil {
		event.Status = "error"
		s.audit.Record(ctx, event)
		return nil, err
	}

	affected, _ := res.RowsAffected()
	event.Affected = affected
	s.audit.Record(ctx, event)

	return &ResultSet{RowsAffected: affected, Write: true}, nil
}

func actor(ctx context.Context) string {
	if id := tracing.GetRunID(ctx); id != "" {
		return id
	}
	return "cli"
}

var rowKeywords = []string{"SELECT", "WITH", "PRAGMA", "EXPLAIN", "VALUES"}

// returnsRows reports whether the statement's leading keyword produces a
// result set.
func returnsRows(query string) bool {
	q := strings.TrimLeft(query, "( \t\r\n")
	head := strings.ToUpper(q)
	for _, kw := range rowKeywords {
		if strings.HasPrefix(head, kw) {
			if len(head) == len(kw) {
				return true
			}
			next := head[len(kw)]
			if next == ' ' || next == '\n' || next == '\t' || next == '\r' || next == '(' || next == '*' {
				return true
			}
		}
	}
	return false
}

var syntaxMarkers = []string{
	"syntax error",
	"incomplete input",
	"unrecognized token",
	"near \"",
}

// classify separates statements sqlite could not parse from statements
// that parsed but failed to run.
func classify(err error) error {
	var qe *QueryError
	if errors.As(err, &qe) {
		return err
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrError {
		msg := strings.ToLower(sqliteErr.Error())
		for _, m := range syntaxMarkers {
			if strings.Contains(msg, m) {
				return &QueryError{Syntax: true, Err: err}
			}
		}
	}
	return &QueryError{Syntax: false, Err: err}
}
