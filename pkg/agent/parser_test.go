package agent

import (
	"errors"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTools = []string{"sql_db_query", "sql_db_list_tables", "product_and_faq_retriever", "python_code_interpreter"}

func knownTools(name string) bool {
	for _, t := range testTools {
		if t == name {
			return true
		}
	}
	return false
}

func TestParseAction(t *testing.T) {
	t.Run("should extract tool, input and rationale", func(t *testing.T) {
		step, err := Parse(" I need the stock from the database.\nAction: sql_db_query\nAction Input: SELECT stock_quantity FROM products WHERE name = 'Dell XPS 15'", knownTools)
		require.NoError(t, err)

		action, ok := step.(*ActionStep)
		require.True(t, ok)
		assert.Equal(t, "I need the stock from the database.", action.Rationale)
		assert.Equal(t, "sql_db_query", action.Tool)
		assert.Equal(t, "SELECT stock_quantity FROM products WHERE name = 'Dell XPS 15'", action.Input)
	})

	t.Run("should strip the thought marker", func(t *testing.T) {
		step, err := Parse("Thought: check tables\nAction: sql_db_list_tables\nAction Input: ", knownTools)
		require.NoError(t, err)
		action := step.(*ActionStep)
		assert.Equal(t, "check tables", action.Rationale)
		assert.Equal(t, "", action.Input)
	})

	t.Run("should strip quotes around input and tool", func(t *testing.T) {
		step, err := Parse("Action: `product_and_faq_retriever`\nAction Input: \"return policy\"", knownTools)
		require.NoError(t, err)
		action := step.(*ActionStep)
		assert.Equal(t, "product_and_faq_retriever", action.Tool)
		assert.Equal(t, "return policy", action.Input)
	})

	t.Run("should keep multi-line code input", func(t *testing.T) {
		code := "prices = [1, 2]\nfor p in prices:\n    print(p)"
		step, err := Parse("Action: python_code_interpreter\nAction Input: "+code, knownTools)
		require.NoError(t, err)
		assert.Equal(t, code, step.(*ActionStep).Input)
	})

	t.Run("should cut a hallucinated observation", func(t *testing.T) {
		step, err := Parse("Action: sql_db_query\nAction Input: SELECT 1\nObservation: 1\nThought: done\nFinal Answer: 1", knownTools)
		require.NoError(t, err)
		action := step.(*ActionStep)
		assert.Equal(t, "SELECT 1", action.Input)
	})

	t.Run("should accept numbered markers", func(t *testing.T) {
		step, err := Parse("Action 1: sql_db_query\nAction 1 Input 1: SELECT 2", knownTools)
		require.NoError(t, err)
		assert.Equal(t, "SELECT 2", step.(*ActionStep).Input)
	})
}

func TestParseFinalAnswer(t *testing.T) {
	t.Run("should extract the answer", func(t *testing.T) {
		step, err := Parse(" I now know the final answer\nFinal Answer: The Dell XPS 15 has 30 units in stock.", knownTools)
		require.NoError(t, err)

		final, ok := step.(*FinalStep)
		require.True(t, ok)
		assert.Equal(t, "The Dell XPS 15 has 30 units in stock.", final.Answer)
		assert.Equal(t, "I now know the final answer", final.Rationale)
	})

	t.Run("should reject a final answer followed by an action", func(t *testing.T) {
		_, err := Parse("Final Answer: 42\nAction: sql_db_query\nAction Input: SELECT 42", knownTools)
		var pe *ParseError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, ParseMalformed, pe.Kind)
		assert.Contains(t, pe.Observation(), "not both")
	})

	t.Run("should ignore the marker in the middle of a thought", func(t *testing.T) {
		text := "Thought: I must query before the Final Answer: stock is unknown\nAction: sql_db_query\nAction Input: SELECT 1"
		step, err := Parse(text, knownTools)
		require.NoError(t, err)

		action, ok := step.(*ActionStep)
		require.True(t, ok)
		assert.Equal(t, "sql_db_query", action.Tool)
		assert.Equal(t, "SELECT 1", action.Input)
	})

	t.Run("should not treat a mid-line marker as an answer", func(t *testing.T) {
		_, err := Parse("Thought: the Final Answer: is coming", knownTools)
		var pe *ParseError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, ParseMalformed, pe.Kind)
	})

	t.Run("should accept an indented marker", func(t *testing.T) {
		step, err := Parse("Thought: done\n  Final Answer: 42", knownTools)
		require.NoError(t, err)
		assert.Equal(t, "42", step.(*FinalStep).Answer)
	})

	t.Run("should reject an empty final answer", func(t *testing.T) {
		_, err := Parse("Thought: done\nFinal Answer:   ", knownTools)
		var pe *ParseError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, ParseMalformed, pe.Kind)
	})
}

func TestParseErrors(t *testing.T) {
	t.Run("should flag text without markers as malformed", func(t *testing.T) {
		_, err := Parse("The stock is probably fine, I think.", knownTools)
		var pe *ParseError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, ParseMalformed, pe.Kind)
		assert.Contains(t, pe.Observation(), "Missing 'Action:'")
	})

	t.Run("should flag a missing action input", func(t *testing.T) {
		_, err := Parse("Thought: query it\nAction: sql_db_query", knownTools)
		var pe *ParseError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, ParseMalformed, pe.Kind)
		assert.Contains(t, pe.Observation(), "Missing 'Action Input:'")
	})

	t.Run("should flag unknown tools", func(t *testing.T) {
		_, err := Parse("Action: web_search\nAction Input: laptops", knownTools)
		var pe *ParseError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, ParseUnknownTool, pe.Kind)
		assert.Equal(t, "web_search", pe.Tool)
		assert.Equal(t, "laptops", pe.Input)
		assert.Contains(t, pe.Observation(), "web_search is not a valid tool")
	})

	t.Run("should flag an empty tool name", func(t *testing.T) {
		_, err := Parse("Action: \nAction Input: x", knownTools)
		var pe *ParseError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, ParseMalformed, pe.Kind)
	})
}

func TestParseProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("well-formed actions round trip", prop.ForAll(
		func(tool, rationale, input string) bool {
			text := "Thought: " + rationale + "\nAction: " + tool + "\nAction Input: " + input
			step, err := Parse(text, knownTools)
			if err != nil {
				return false
			}
			action, ok := step.(*ActionStep)
			return ok && action.Tool == tool && action.Input == input
		},
		gen.OneConstOf(testTools[0], testTools[1], testTools[2], testTools[3]),
		gen.AlphaString(),
		gen.AlphaString().Map(func(s string) string { return strings.TrimSpace("in " + s) }),
	))

	properties.Property("unregistered tools are recoverable parse errors", prop.ForAll(
		func(suffix string) bool {
			tool := "tool_" + suffix
			_, err := Parse("Action: "+tool+"\nAction Input: x", knownTools)
			var pe *ParseError
			return errors.As(err, &pe) && pe.Kind == ParseUnknownTool && pe.Tool == tool
		},
		gen.Identifier(),
	))

	properties.Property("arbitrary text never panics and always classifies", prop.ForAll(
		func(text string) bool {
			step, err := Parse(text, knownTools)
			if err != nil {
				var pe *ParseError
				return errors.As(err, &pe) && step == nil
			}
			return step != nil
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
