package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/insight/internal/tracing"
	"github.com/harun/insight/pkg/commandqueue"
	"github.com/harun/insight/pkg/coretools"
	"github.com/harun/insight/pkg/retrieval"
	"github.com/harun/insight/pkg/sandbox"
	"github.com/harun/insight/pkg/store"
	"github.com/harun/insight/pkg/toolexecutor"
)

// scriptedCompleter replays canned model outputs, streaming them word by
// word, and records every prompt it receives.
type scriptedCompleter struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	prompts []string
	block   bool
}

func (s *scriptedCompleter) Complete(ctx context.Context, prompt string, onFragment func(string)) (string, error) {
	s.mu.Lock()
	n := len(s.prompts)
	s.prompts = append(s.prompts, prompt)
	block := s.block
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if n < len(s.errs) && s.errs[n] != nil {
		return "", s.errs[n]
	}
	if n >= len(s.replies) {
		return "Thought: still thinking", nil
	}

	reply := s.replies[n]
	for _, word := range strings.SplitAfter(reply, " ") {
		onFragment(word)
	}
	return reply, nil
}

func (s *scriptedCompleter) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

func (s *scriptedCompleter) lastPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompts[len(s.prompts)-1]
}

type staticSearcher struct {
	passages []retrieval.Passage
}

func (s *staticSearcher) Search(ctx context.Context, query string, k int) ([]retrieval.Passage, error) {
	return s.passages, nil
}

// pythonStub imitates the interpreter for the snippets used below.
type pythonStub struct{}

func (pythonStub) Execute(ctx context.Context, req sandbox.ExecuteRequest) (sandbox.ExecuteResult, error) {
	if strings.Contains(req.Code, "/ 0") {
		return sandbox.ExecuteResult{Stderr: "ZeroDivisionError: division by zero\n", ExitCode: 1}, nil
	}
	return sandbox.ExecuteResult{Stdout: "15.0\n"}, nil
}
func (pythonStub) Start(ctx context.Context) error { return nil }
func (pythonStub) Stop(ctx context.Context) error  { return nil }
func (pythonStub) IsRunning() bool                 { return true }
func (pythonStub) GetConfig() sandbox.Config       { return sandbox.DefaultConfig() }

func setupExecutor(t *testing.T) *toolexecutor.Executor {
	t.Helper()
	db, err := store.Open(context.Background(), store.Config{Path: ":memory:", Seed: true, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reg := toolexecutor.NewRegistry()
	require.NoError(t, coretools.RegisterDefaults(reg, coretools.Options{
		Store: db,
		ProductFAQ: &staticSearcher{passages: []retrieval.Passage{
			{DocumentID: "return-policy", Text: "Product Return Policy: Customers may return products within 14 days of purchase."},
		}},
		Conversations: &staticSearcher{},
		Sandbox:       pythonStub{},
		K:             4,
		MaxRows:       50,
	}))

	logger := zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.ErrorLevel)
	return toolexecutor.NewExecutor(reg, toolexecutor.Options{Logger: &logger})
}

func setupRunner(t *testing.T, completer Completer, mutate ...func(*Config)) *Runner {
	t.Helper()
	cfg := Config{
		Executor:       setupExecutor(t),
		Completer:      completer,
		Logger:         zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.ErrorLevel),
		RetryBaseDelay: time.Millisecond,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	r, err := NewRunner(cfg)
	require.NoError(t, err)
	return r
}

func collect(t *testing.T, s *Stream) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("stream did not finish")
		}
	}
}

func ofType(events []Event, typ EventType) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func assertSingleTerminalLast(t *testing.T, events []Event) {
	t.Helper()
	require.NotEmpty(t, events)
	terminal := 0
	for i, ev := range events {
		if ev.Terminal() {
			terminal++
			assert.Equal(t, len(events)-1, i, "terminal event must be last")
		}
		if i > 0 {
			assert.Greater(t, ev.Seq, events[i-1].Seq)
		}
	}
	assert.Equal(t, 1, terminal)
}

func TestNewRunner(t *testing.T) {
	t.Run("should require an executor", func(t *testing.T) {
		_, err := NewRunner(Config{Completer: &scriptedCompleter{}})
		assert.Error(t, err)
	})

	t.Run("should require a completer or profiles", func(t *testing.T) {
		_, err := NewRunner(Config{Executor: setupExecutor(t)})
		assert.Error(t, err)
	})

	t.Run("should apply defaults", func(t *testing.T) {
		r := setupRunner(t, &scriptedCompleter{})
		assert.Equal(t, 7, r.Config().MaxIterations)
		assert.Equal(t, "gpt-4o", r.Config().Model)
	})

	t.Run("should reject empty questions", func(t *testing.T) {
		r := setupRunner(t, &scriptedCompleter{})
		_, err := r.Run(context.Background(), "   ", nil)
		assert.ErrorIs(t, err, ErrEmptyQuestion)
	})
}

func TestScenarioStockQuery(t *testing.T) {
	llm := &scriptedCompleter{replies: []string{
		" I should look up the stock in the products table.\nAction: sql_db_query\nAction Input: SELECT stock_quantity FROM products WHERE name = 'Dell XPS 15'",
		" I now know the final answer\nFinal Answer: The Dell XPS 15 currently has 30 units in stock.",
	}}
	r := setupRunner(t, llm)

	stream, err := r.Run(context.Background(), "What is the current stock of Dell XPS 15?", nil)
	require.NoError(t, err)
	events := collect(t, stream)
	result := stream.Result()

	assertSingleTerminalLast(t, events)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 1, result.Iterations)
	assert.Contains(t, result.Answer, "30")

	actions := ofType(events, EventAction)
	require.Len(t, actions, 1)
	assert.Equal(t, "sql_db_query", actions[0].Tool)
	assert.Contains(t, actions[0].Input, "products")

	observations := ofType(events, EventObservation)
	require.Len(t, observations, 1)
	assert.Equal(t, "stock_quantity\n30", observations[0].Text)

	final := events[len(events)-1]
	assert.Equal(t, EventFinalAnswer, final.Type)
	assert.Equal(t, result.Answer, final.Text)

	t.Run("should feed the observation into the next prompt", func(t *testing.T) {
		assert.Contains(t, llm.lastPrompt(), "Observation: stock_quantity\n30\nThought:")
	})

	t.Run("should stream tokens before the action", func(t *testing.T) {
		tokens := ofType(events, EventToken)
		require.NotEmpty(t, tokens)
		assert.Less(t, tokens[0].Seq, actions[0].Seq)
	})
}

func TestScenarioReturnPolicy(t *testing.T) {
	llm := &scriptedCompleter{replies: []string{
		" This is a policy question.\nAction: product_and_faq_retriever\nAction Input: return policy",
		" I now know the final answer\nFinal Answer: Products can be returned within 14 days of purchase.",
	}}
	r := setupRunner(t, llm)

	result, err := r.Execute(context.Background(), "What is the return policy?", nil)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status)
	require.Len(t, result.Steps, 1)
	assert.Equal(t, "product_and_faq_retriever", result.Steps[0].Tool)
	assert.Contains(t, result.Steps[0].Observation, "14 days")
	assert.Contains(t, result.Answer, "14 days")
}

func TestScenarioCodeErrorRecovery(t *testing.T) {
	llm := &scriptedCompleter{replies: []string{
		" Compute the average.\nAction: python_code_interpreter\nAction Input: total = 30\ntotal / 0",
		" Division by zero, fix the divisor.\nAction: python_code_interpreter\nAction Input: total = 30\ntotal / 2",
		" I now know the final answer\nFinal Answer: The average is 15.",
	}}
	r := setupRunner(t, llm)

	stream, err := r.Run(context.Background(), "What is 30 split over 2 days?", nil)
	require.NoError(t, err)
	events := collect(t, stream)
	result := stream.Result()

	assertSingleTerminalLast(t, events)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 2, result.Iterations)

	observations := ofType(events, EventObservation)
	require.Len(t, observations, 2)
	assert.Contains(t, observations[0].Text, "ZeroDivisionError")
	assert.Empty(t, observations[0].ErrorKind)
	assert.Equal(t, "15.0", observations[1].Text)
}

func TestScenarioIterationCap(t *testing.T) {
	llm := &scriptedCompleter{replies: []string{
		" First the sales.\nAction: sql_db_query\nAction Input: SELECT SUM(quantity_sold) FROM sales",
		" Then the conversations.\nAction: conversation_history_analyzer\nAction Input: complaints",
	}}
	r := setupRunner(t, llm, func(c *Config) { c.Agent.MaxIterations = 1 })

	stream, err := r.Run(context.Background(), "Give me a daily recap.", nil)
	require.NoError(t, err)
	events := collect(t, stream)
	result := stream.Result()

	assertSingleTerminalLast(t, events)
	assert.Equal(t, StatusExhausted, result.Status)
	assert.Equal(t, 1, result.Iterations)
	assert.Len(t, ofType(events, EventAction), 1)
	assert.Empty(t, ofType(events, EventFinalAnswer))
	assert.Equal(t, 1, llm.calls())

	last := events[len(events)-1]
	assert.Equal(t, ErrorKindExhausted, last.ErrorKind)
	assert.Contains(t, last.Text, "no definitive answer")
	assert.NoError(t, result.Err)
}

func TestScenarioMalformedOutput(t *testing.T) {
	llm := &scriptedCompleter{replies: []string{
		"I think the answer is somewhere in the data.",
		" Let me query properly.\nAction: sql_db_list_tables\nAction Input: ",
		" I now know the final answer\nFinal Answer: The tables are products and sales.",
	}}
	r := setupRunner(t, llm)

	stream, err := r.Run(context.Background(), "Which tables exist?", nil)
	require.NoError(t, err)
	events := collect(t, stream)
	result := stream.Result()

	assertSingleTerminalLast(t, events)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 2, result.Iterations)

	observations := ofType(events, EventObservation)
	require.Len(t, observations, 2)
	assert.Equal(t, string(ParseMalformed), observations[0].ErrorKind)
	assert.Contains(t, observations[0].Text, "Invalid Format")
	assert.Equal(t, "products, sales", observations[1].Text)

	assert.True(t, result.Steps[0].Malformed)
	assert.Contains(t, llm.prompts[1], "I think the answer is somewhere in the data.\nObservation: Invalid Format")

	t.Run("should stay bounded when output never parses", func(t *testing.T) {
		garbage := &scriptedCompleter{replies: []string{"?", "??", "???", "????"}}
		r := setupRunner(t, garbage, func(c *Config) { c.Agent.MaxIterations = 3 })

		result, err := r.Execute(context.Background(), "anything", nil)
		require.NoError(t, err)
		assert.Equal(t, StatusExhausted, result.Status)
		assert.Equal(t, 3, result.Iterations)
		assert.Equal(t, 3, garbage.calls())
	})
}

func TestUnknownToolRecovery(t *testing.T) {
	llm := &scriptedCompleter{replies: []string{
		" Search the web.\nAction: web_search\nAction Input: laptop prices",
		" Use the database instead.\nAction: sql_db_query\nAction Input: SELECT MIN(price) FROM products",
		" I now know the final answer\nFinal Answer: The cheapest laptop costs 12500000.",
	}}
	r := setupRunner(t, llm)

	stream, err := r.Run(context.Background(), "Cheapest laptop?", nil)
	require.NoError(t, err)
	events := collect(t, stream)

	assertSingleTerminalLast(t, events)
	observations := ofType(events, EventObservation)
	require.Len(t, observations, 2)
	assert.Equal(t, string(ParseUnknownTool), observations[0].ErrorKind)
	assert.Contains(t, observations[0].Text, "web_search is not a valid tool")
	assert.Equal(t, StatusCompleted, stream.Result().Status)
}

func TestToolErrorsDoNotEndRun(t *testing.T) {
	llm := &scriptedCompleter{replies: []string{
		" Query.\nAction: sql_db_query\nAction Input: SELEC * FROM products",
		" Fix typo.\nAction: sql_db_query\nAction Input: SELECT COUNT(*) FROM products",
		" I now know the final answer\nFinal Answer: There are 6 products.",
	}}
	r := setupRunner(t, llm)

	result, err := r.Execute(context.Background(), "How many products?", nil)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status)
	require.Len(t, result.Steps, 2)
	assert.Equal(t, string(toolexecutor.ErrorKindQuerySyntax), result.Steps[0].ErrorKind)
	assert.True(t, strings.HasPrefix(result.Steps[0].Observation, "Error (QuerySyntaxError):"))
}

func TestIterationBound(t *testing.T) {
	for _, max := range []int{1, 2, 5, 7} {
		llm := &scriptedCompleter{}
		for i := 0; i < 10; i++ {
			llm.replies = append(llm.replies, " Again.\nAction: sql_db_list_tables\nAction Input: ")
		}
		r := setupRunner(t, llm, func(c *Config) { c.Agent.MaxIterations = max })

		stream, err := r.Run(context.Background(), "loop forever", nil)
		require.NoError(t, err)
		events := collect(t, stream)
		result := stream.Result()

		assertSingleTerminalLast(t, events)
		assert.Equal(t, StatusExhausted, result.Status)
		assert.Equal(t, max, result.Iterations)
		assert.LessOrEqual(t, len(ofType(events, EventAction)), max)
	}
}

func TestCapabilityFailure(t *testing.T) {
	t.Run("should fail on auth errors without retrying", func(t *testing.T) {
		authErr := &CapabilityError{Kind: CapabilityAuthFailure, Provider: "openai", StatusCode: 401, Err: errors.New("invalid api key")}
		llm := &scriptedCompleter{errs: []error{authErr}}
		r := setupRunner(t, llm)

		stream, err := r.Run(context.Background(), "stock?", nil)
		require.NoError(t, err)
		events := collect(t, stream)
		result := stream.Result()

		assertSingleTerminalLast(t, events)
		assert.Equal(t, StatusFailed, result.Status)
		assert.Equal(t, ErrorKindFailed, events[len(events)-1].ErrorKind)
		assert.Equal(t, 1, llm.calls())

		var ce *CapabilityError
		require.True(t, errors.As(result.Err, &ce))
		assert.Equal(t, CapabilityAuthFailure, ce.Kind)
	})

	t.Run("should retry transient errors", func(t *testing.T) {
		flaky := &CapabilityError{Kind: CapabilityRateLimited, Provider: "openai", StatusCode: 429, Err: errors.New("slow down")}
		llm := &scriptedCompleter{
			errs:    []error{flaky, flaky},
			replies: []string{"", "", "Final Answer: ok"},
		}
		r := setupRunner(t, llm)

		result, err := r.Execute(context.Background(), "stock?", nil)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, result.Status)
		assert.Equal(t, 3, llm.calls())
	})

	t.Run("should give up after max retries", func(t *testing.T) {
		down := errors.New("connection refused")
		llm := &scriptedCompleter{errs: []error{down, down, down, down}}
		r := setupRunner(t, llm)

		result, err := r.Execute(context.Background(), "stock?", nil)
		assert.Error(t, err)
		assert.Equal(t, StatusFailed, result.Status)
		assert.Equal(t, 3, llm.calls())

		var ce *CapabilityError
		require.True(t, errors.As(err, &ce))
		assert.Equal(t, CapabilityUnreachable, ce.Kind)
	})
}

func TestCancellation(t *testing.T) {
	t.Run("should end with a cancelled event", func(t *testing.T) {
		llm := &scriptedCompleter{block: true}
		r := setupRunner(t, llm)

		ctx, cancel := context.WithCancel(context.Background())
		stream, err := r.Run(ctx, "stock?", nil)
		require.NoError(t, err)
		assert.True(t, r.IsRunning(stream.RunID()))

		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()
		events := collect(t, stream)
		result := stream.Result()

		assertSingleTerminalLast(t, events)
		assert.Equal(t, ErrorKindCancelled, events[len(events)-1].ErrorKind)
		assert.Equal(t, StatusCancelled, result.Status)
		assert.Nil(t, result.Steps)
		assert.ErrorIs(t, result.Err, context.Canceled)

		assert.Eventually(t, func() bool { return !r.IsRunning(stream.RunID()) }, time.Second, 10*time.Millisecond)
	})

	t.Run("should abort by run id", func(t *testing.T) {
		llm := &scriptedCompleter{block: true}
		r := setupRunner(t, llm)

		stream, err := r.Run(context.Background(), "stock?", nil)
		require.NoError(t, err)

		assert.Eventually(t, func() bool { return llm.calls() == 1 }, time.Second, 5*time.Millisecond)
		assert.True(t, r.Abort(stream.RunID()))
		assert.False(t, r.Abort("missing"))

		assert.Equal(t, StatusCancelled, stream.Result().Status)
	})

	t.Run("should not block when the consumer leaves", func(t *testing.T) {
		llm := &scriptedCompleter{block: true}
		r := setupRunner(t, llm)

		stream, err := r.Run(context.Background(), "stock?", nil)
		require.NoError(t, err)
		stream.Close()

		select {
		case <-stream.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("run did not stop after Close")
		}
	})
}

func TestRunTimeBudget(t *testing.T) {
	llm := &scriptedCompleter{block: true}
	r := setupRunner(t, llm, func(c *Config) { c.Agent.RunTimeout = 50 * time.Millisecond })

	result, err := r.Execute(context.Background(), "stock?", nil)
	require.NoError(t, err)

	assert.Equal(t, StatusExhausted, result.Status)
	assert.Contains(t, result.Answer, "time budget")
}

func TestSessionLanes(t *testing.T) {
	queue := commandqueue.New()
	defer queue.Close()

	llm := &scriptedCompleter{replies: []string{"Final Answer: one", "Final Answer: two"}}
	r := setupRunner(t, llm, func(c *Config) { c.CommandQueue = queue })

	ctx := tracing.WithSessionKey(context.Background(), "chat-1")
	first, err := r.Run(ctx, "first", nil)
	require.NoError(t, err)
	second, err := r.Run(ctx, "second", nil)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, first.Result().Status)
	assert.Equal(t, StatusCompleted, second.Result().Status)
	assert.Equal(t, 2, llm.calls())
}

func TestHistoryIsReadOnlyContext(t *testing.T) {
	llm := &scriptedCompleter{replies: []string{"Final Answer: still 30"}}
	r := setupRunner(t, llm)

	history := []Message{{Role: "user", Content: "stock of Dell XPS 15?"}, {Role: "assistant", Content: "30 units"}}
	result, err := r.Execute(context.Background(), "and now?", history)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Contains(t, llm.lastPrompt(), "assistant: 30 units")
	assert.Empty(t, result.Steps)
}
