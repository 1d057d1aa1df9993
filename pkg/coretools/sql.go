package coretools

import (
	"context"
	"errors"
	"strings"

	"github.com/harun/insight/pkg/store"
	"github.com/harun/insight/pkg/toolexecutor"
)

const defaultSampleRows = 3

// SQLQueryTool runs one statement and renders the result as a table.
func SQLQueryTool(db QueryStore, maxRows int) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		ToolName: ToolSQLQuery,
		Summary: "Input to this tool is a detailed and correct SQL query, output is a result from the database. " +
			"Use it for stock, price, sales figures and any other numeric fact. " +
			"If the query is not correct, an error message will be returned; rewrite the query and try again. " +
			"If a column or table is unknown, use " + ToolSQLSchema + " to check the correct fields.",
		ToolKind: toolexecutor.KindQuery,
		Handler: func(ctx context.Context, input string) (string, error) {
			query := cleanSQL(input)
			rs, err := db.Query(ctx, query)
			if err != nil {
				return "", storeError(err)
			}
			return rs.Render(store.RenderOptions{MaxRows: maxRows}), nil
		},
	}
}

// SQLListTablesTool lists the tables in the database.
func SQLListTablesTool(db QueryStore) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		ToolName: ToolSQLListTables,
		Summary:  "Input is an empty string, output is a comma-separated list of tables in the database.",
		ToolKind: toolexecutor.KindQuery,
		Handler: func(ctx context.Context, input string) (string, error) {
			tables, err := db.Tables(ctx)
			if err != nil {
				return "", storeError(err)
			}
			return strings.Join(tables, ", "), nil
		},
	}
}

// SQLSchemaTool describes tables with their CREATE statement and sample rows.
func SQLSchemaTool(db QueryStore, sampleRows int) toolexecutor.ToolDefinition {
	if sampleRows <= 0 {
		sampleRows = defaultSampleRows
	}
	return toolexecutor.ToolDefinition{
		ToolName: ToolSQLSchema,
		Summary: "Input to this tool is a comma-separated list of tables, output is the schema and sample rows for those tables. " +
			"Be sure that the tables actually exist by calling " + ToolSQLListTables + " first! " +
			"Example Input: products, sales",
		ToolKind: toolexecutor.KindQuery,
		Handler: func(ctx context.Context, input string) (string, error) {
			tables := splitList(input)
			if len(tables) == 0 {
				return "", toolexecutor.NewToolError(toolexecutor.ErrorKindExecution, "no table names given")
			}
			out, err := db.Schema(ctx, tables, sampleRows)
			if err != nil {
				return "", storeError(err)
			}
			return out, nil
		},
	}
}

// storeError maps store failures onto the tool error kinds.
func storeError(err error) error {
	var qe *store.QueryError
	if errors.As(err, &qe) {
		if qe.Syntax {
			return toolexecutor.WrapToolError(toolexecutor.ErrorKindQuerySyntax, err)
		}
		return toolexecutor.WrapToolError(toolexecutor.ErrorKindExecution, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return toolexecutor.WrapToolError(toolexecutor.ErrorKindDependencyUnavailable, err)
}

// cleanSQL strips code fences and quoting models wrap statements in.
func cleanSQL(input string) string {
	s := strings.TrimSpace(input)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimPrefix(s, "sql")
		s = strings.TrimPrefix(s, "SQL")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	return strings.TrimSpace(s)
}

func splitList(input string) []string {
	var out []string
	for _, part := range strings.Split(input, ",") {
		part = strings.Trim(strings.TrimSpace(part), "\"'`")
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
