package agent

import (
	"fmt"
	"time"
)

// Status is the state of a run.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusExhausted Status = "exhausted"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s ends a run.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusExhausted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Message is one prior conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Step is one scratchpad entry: *ActionStep or *FinalStep.
type Step interface {
	step()
}

// ActionStep records a tool call and what it returned. A step produced by
// unparseable model output has Malformed set, Raw holding the text and
// Observation holding the recovery hint.
type ActionStep struct {
	Rationale   string `json:"rationale,omitempty"`
	Tool        string `json:"tool,omitempty"`
	Input       string `json:"input,omitempty"`
	Observation string `json:"observation"`
	// ErrorKind is set when Observation describes a tool or parse error.
	ErrorKind string `json:"error_kind,omitempty"`
	Malformed bool   `json:"malformed,omitempty"`
	Raw       string `json:"raw,omitempty"`
}

// FinalStep ends a run with an answer.
type FinalStep struct {
	Rationale string `json:"rationale,omitempty"`
	Answer    string `json:"answer"`
}

func (*ActionStep) step() {}
func (*FinalStep) step()  {}

// Run is the loop's private state for one question.
type Run struct {
	ID         string
	Question   string
	History    []Message
	Steps      []*ActionStep
	Iterations int
	Status     Status
	StartedAt  time.Time
}

func newRun(id, question string, history []Message) *Run {
	return &Run{
		ID:       id,
		Question: question,
		History:  history,
		Status:   StatusIdle,
	}
}

// transition moves the run to next, refusing to leave a terminal state.
func (r *Run) transition(next Status) error {
	if r.Status.Terminal() {
		return fmt.Errorf("run %s already %s", r.ID, r.Status)
	}
	if r.Status == StatusIdle && next != StatusRunning {
		return fmt.Errorf("run %s cannot go from idle to %s", r.ID, next)
	}
	r.Status = next
	return nil
}

// record appends an action step and counts it as one iteration.
func (r *Run) record(step *ActionStep) {
	r.Steps = append(r.Steps, step)
	r.Iterations = len(r.Steps)
}

// Result is the outcome of a finished run.
type Result struct {
	RunID      string        `json:"run_id"`
	Question   string        `json:"question"`
	Status     Status        `json:"status"`
	Answer     string        `json:"answer"`
	Steps      []*ActionStep `json:"steps,omitempty"`
	Iterations int           `json:"iterations"`
	Duration   time.Duration `json:"duration"`
	Err        error         `json:"-"`
}

// AgentConfig configures model calls and loop budgets.
type AgentConfig struct {
	Model         string        `json:"model"`
	Temperature   float64       `json:"temperature"`
	MaxTokens     int           `json:"max_tokens,omitempty"`
	MaxRetries    int           `json:"max_retries,omitempty"`
	MaxIterations int           `json:"max_iterations"`
	RunTimeout    time.Duration `json:"run_timeout"`
}

// AuthProfile represents credentials for one model provider
type AuthProfile struct {
	ID       string `json:"id"`
	Provider string `json:"provider"` // "openai", "anthropic", "openrouter"
	APIKey   string `json:"api_key"`
	BaseURL  string `json:"base_url,omitempty"`
	Model    string `json:"model,omitempty"` // overrides AgentConfig.Model
	Priority int    `json:"priority"`
}

// DefaultConfig returns default agent configuration
func DefaultConfig() AgentConfig {
	return AgentConfig{
		Model:         "gpt-4o",
		Temperature:   0,
		MaxTokens:     2048,
		MaxRetries:    3,
		MaxIterations: 7,
		RunTimeout:    5 * time.Minute,
	}
}
