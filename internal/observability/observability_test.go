package observability

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandler(t *testing.T) {
	RunStarted()
	RecordRun("completed", 2, 1500*time.Millisecond)
	RecordToolExecution("sql_db_query", 20*time.Millisecond, "success")
	RecordParseError("malformed")
	SetLaneDepth("session:abc", 1)

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	assert.Contains(t, body, `insight_agent_runs_total{status="completed"}`)
	assert.Contains(t, body, `insight_tool_executions_total{status="success",tool="sql_db_query"}`)
	assert.Contains(t, body, `insight_parse_errors_total{kind="malformed"}`)
}

func TestAuditLog(t *testing.T) {
	t.Run("should write one line per event", func(t *testing.T) {
		var buf bytes.Buffer
		a := NewAuditLog(&buf)

		a.Record(context.Background(), AuditEvent{
			Actor:     "cli",
			Action:    "sql_write",
			Statement: "UPDATE products SET stock_quantity = 1",
			Affected:  6,
			Status:    "success",
		})

		assert.Contains(t, buf.String(), `"action":"sql_write"`)
		assert.Contains(t, buf.String(), `"affected":6`)
		assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("\n")))
	})

	t.Run("should tolerate nil receiver", func(t *testing.T) {
		var a *AuditLog
		assert.NotPanics(t, func() {
			a.Record(context.Background(), AuditEvent{Action: "noop"})
		})
		assert.NoError(t, a.Close())
	})

	t.Run("should append to file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "audit", "data.log")
		a, err := OpenAuditLog(path)
		require.NoError(t, err)

		a.Record(context.Background(), AuditEvent{Action: "sql_write", Status: "success"})
		require.NoError(t, a.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "sql_write")
	})
}
