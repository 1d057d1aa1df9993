// Package coretools builds the business tools the agent can call: SQL
// access to the sales database, semantic search over the product/FAQ and
// conversation corpora, and a Python interpreter.
package coretools

import (
	"context"
	"errors"
	"fmt"

	"github.com/harun/insight/pkg/retrieval"
	"github.com/harun/insight/pkg/sandbox"
	"github.com/harun/insight/pkg/store"
	"github.com/harun/insight/pkg/toolexecutor"
)

// Tool names exposed to the model.
const (
	ToolSQLQuery      = "sql_db_query"
	ToolSQLListTables = "sql_db_list_tables"
	ToolSQLSchema     = "sql_db_schema"
	ToolProductFAQ    = "product_and_faq_retriever"
	ToolConversations = "conversation_history_analyzer"
	ToolPython        = "python_code_interpreter"
)

// QueryStore is the relational store the SQL tools run against.
type QueryStore interface {
	Query(ctx context.Context, query string) (*store.ResultSet, error)
	Tables(ctx context.Context) ([]string, error)
	Schema(ctx context.Context, tables []string, sampleRows int) (string, error)
}

// Searcher is a built semantic index.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]retrieval.Passage, error)
}

// Options configures core tool registration. Nil dependencies skip the
// tools that need them.
type Options struct {
	Store         QueryStore
	ProductFAQ    Searcher
	Conversations Searcher
	Sandbox       sandbox.Sandbox

	// K is the number of passages each retriever returns.
	K int
	// MaxRows bounds rendered query results.
	MaxRows int
	// SampleRows is how many rows sql_db_schema shows per table.
	SampleRows int
}

// RegisterDefaults registers every tool whose dependency is configured,
// in a fixed order.
func RegisterDefaults(reg *toolexecutor.Registry, opts Options) error {
	if reg == nil {
		return errors.New("tool registry is required")
	}

	var tools []toolexecutor.Tool
	if opts.Store != nil {
		tools = append(tools,
			SQLQueryTool(opts.Store, opts.MaxRows),
			SQLListTablesTool(opts.Store),
			SQLSchemaTool(opts.Store, opts.SampleRows),
		)
	}
	if opts.ProductFAQ != nil {
		tools = append(tools, ProductFAQTool(opts.ProductFAQ, opts.K))
	}
	if opts.Conversations != nil {
		tools = append(tools, ConversationsTool(opts.Conversations, opts.K))
	}
	if opts.Sandbox != nil {
		tools = append(tools, PythonTool(opts.Sandbox))
	}
	if len(tools) == 0 {
		return errors.New("no tool dependencies configured")
	}

	for _, tool := range tools {
		if err := reg.Register(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name(), err)
		}
	}
	return nil
}
