package coretools

import (
	"context"
	"errors"
	"strings"

	"github.com/harun/insight/pkg/retrieval"
	"github.com/harun/insight/pkg/toolexecutor"
)

const (
	defaultK         = 4
	passageSeparator = "\n\n---\n\n"
	noPassages       = "No relevant passages found."
)

// ProductFAQTool searches product information, policies and FAQs.
func ProductFAQTool(index Searcher, k int) toolexecutor.ToolDefinition {
	return RetrieverTool(ToolProductFAQ,
		"Search product information, specifications, company policies (returns, warranty, payment) and FAQ. "+
			"Input is a natural language question.",
		index, k)
}

// ConversationsTool searches past customer conversations.
func ConversationsTool(index Searcher, k int) toolexecutor.ToolDefinition {
	return RetrieverTool(ToolConversations,
		"Analyze customer conversation history for qualitative insight: complaints, requests and sentiment. "+
			"Input is a natural language question, optionally with a date.",
		index, k)
}

// RetrieverTool wraps a semantic index as a tool returning the top k
// passages joined by a separator.
func RetrieverTool(name, description string, index Searcher, k int) toolexecutor.ToolDefinition {
	if k <= 0 {
		k = defaultK
	}
	return toolexecutor.ToolDefinition{
		ToolName: name,
		Summary:  description,
		ToolKind: toolexecutor.KindRetrieve,
		Handler: func(ctx context.Context, input string) (string, error) {
			query := strings.TrimSpace(input)
			if query == "" {
				return "", toolexecutor.NewToolError(toolexecutor.ErrorKindExecution, "empty search query")
			}

			passages, err := index.Search(ctx, query, k)
			if err != nil {
				switch {
				case errors.Is(err, retrieval.ErrEmbeddingUnavailable), errors.Is(err, retrieval.ErrNotBuilt):
					return "", toolexecutor.WrapToolError(toolexecutor.ErrorKindDependencyUnavailable, err)
				case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
					return "", err
				default:
					return "", toolexecutor.WrapToolError(toolexecutor.ErrorKindExecution, err)
				}
			}
			if len(passages) == 0 {
				return noPassages, nil
			}

			texts := make([]string, len(passages))
			for i, p := range passages {
				texts[i] = p.Text
			}
			return strings.Join(texts, passageSeparator), nil
		},
	}
}
