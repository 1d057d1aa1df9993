package agent

import (
	"context"
	"sync"
	"time"
)

// EventType identifies an event.
type EventType string

const (
	EventToken       EventType = "token"
	EventAction      EventType = "action"
	EventObservation EventType = "observation"
	EventFinalAnswer EventType = "final_answer"
	EventError       EventType = "error"
)

// Error event kinds.
const (
	ErrorKindExhausted = "Exhausted"
	ErrorKindFailed    = "Failed"
	ErrorKindCancelled = "Cancelled"
)

// Event is one loop transition. Fields not relevant to Type are empty.
type Event struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id"`
	Seq       int       `json:"seq"`
	Iteration int       `json:"iteration"`
	Time      time.Time `json:"time"`

	// Text is the token fragment, observation, answer or error detail.
	Text      string `json:"text,omitempty"`
	Rationale string `json:"rationale,omitempty"`
	Tool      string `json:"tool,omitempty"`
	Input     string `json:"input,omitempty"`
	// ErrorKind qualifies observation and error events.
	ErrorKind string `json:"error_kind,omitempty"`
}

// Terminal reports whether e ends its stream.
func (e Event) Terminal() bool {
	return e.Type == EventFinalAnswer || e.Type == EventError
}

const streamBuffer = 64

// Stream delivers the events of one run in order. The channel is closed
// right after the terminal event. Consumers that stop reading early must
// call Close.
type Stream struct {
	runID  string
	events chan Event
	cancel context.CancelCauseFunc

	seq       int
	closeOnce sync.Once
	abandoned chan struct{}
	done      chan struct{}
	result    Result
}

func newStream(runID string, cancel context.CancelCauseFunc) *Stream {
	return &Stream{
		runID:     runID,
		events:    make(chan Event, streamBuffer),
		cancel:    cancel,
		abandoned: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// RunID returns the id of the run behind the stream
func (s *Stream) RunID() string {
	return s.runID
}

// Events returns the event channel.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Cancel stops the run. The stream still ends with a Cancelled event.
func (s *Stream) Cancel() {
	s.cancel(errCancelledByConsumer)
}

// Close cancels the run and stops delivery; pending events are dropped.
func (s *Stream) Close() {
	s.Cancel()
	s.closeOnce.Do(func() { close(s.abandoned) })
}

// Done is closed once the run has finished and Result is available.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Result blocks until the run finishes, draining unread events.
func (s *Stream) Result() Result {
	for range s.events {
	}
	<-s.done
	return s.result
}

// emit delivers a non-terminal event. Once ctx is done, events are dropped
// so a cancelled run never blocks on a slow consumer.
func (s *Stream) emit(ctx context.Context, ev Event) {
	s.stamp(&ev)
	select {
	case s.events <- ev:
	case <-ctx.Done():
	case <-s.abandoned:
	}
}

// finish delivers the terminal event and closes the stream.
func (s *Stream) finish(ev Event, result Result) {
	s.stamp(&ev)
	select {
	case s.events <- ev:
	case <-s.abandoned:
	}
	s.result = result
	close(s.events)
	close(s.done)
}

func (s *Stream) stamp(ev *Event) {
	s.seq++
	ev.Seq = s.seq
	ev.RunID = s.runID
	ev.Time = time.Now()
}
