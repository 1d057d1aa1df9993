package gateway

import (
	"time"

	"github.com/harun/insight/pkg/agent"
)

// RunRequest is the body of POST /v1/runs.
type RunRequest struct {
	Question string          `json:"question"`
	History  []agent.Message `json:"history,omitempty"`
	// SessionID queues the run behind earlier runs of the same session.
	SessionID string `json:"session_id,omitempty"`
	// Stream selects NDJSON event streaming (default) or a single result.
	Stream *bool `json:"stream,omitempty"`
}

func (r RunRequest) streaming() bool {
	return r.Stream == nil || *r.Stream
}

// RunResponse is the blocking form of a run result.
type RunResponse struct {
	RunID      string              `json:"run_id"`
	Status     agent.Status        `json:"status"`
	Answer     string              `json:"answer"`
	Iterations int                 `json:"iterations"`
	Steps      []*agent.ActionStep `json:"steps,omitempty"`
	DurationMs int64               `json:"duration_ms"`
	Error      string              `json:"error,omitempty"`
}

func newRunResponse(res agent.Result) RunResponse {
	resp := RunResponse{
		RunID:      res.RunID,
		Status:     res.Status,
		Answer:     res.Answer,
		Iterations: res.Iterations,
		Steps:      res.Steps,
		DurationMs: res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	return resp
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

// Frame is one websocket message in either direction.
//
// Client to server: "auth" (Signature), "ask" (Question), "cancel".
// Server to client: "ready" or "challenge" (Challenge) on connect,
// "auth_result" (OK, Message), "event" (Event), "error" (Message).
type Frame struct {
	Type      string       `json:"type"`
	Question  string       `json:"question,omitempty"`
	Signature string       `json:"signature,omitempty"`
	Challenge string       `json:"challenge,omitempty"`
	OK        bool         `json:"ok,omitempty"`
	Message   string       `json:"message,omitempty"`
	Event     *agent.Event `json:"event,omitempty"`
}

// ClientInfo represents information about a connected client
type ClientInfo struct {
	ID            string    `json:"id"`
	Authenticated bool      `json:"authenticated"`
	ConnectedAt   time.Time `json:"connected_at"`
	LastActivity  time.Time `json:"last_activity"`
	IPAddress     string    `json:"ip_address"`
	Turns         int       `json:"turns"`
	ActiveRun     string    `json:"active_run,omitempty"`
}
