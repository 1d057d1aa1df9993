package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/harun/insight/pkg/agent"
)

// consoleRenderer prints a run's events in the reasoning trace format as
// they arrive.
type consoleRenderer struct {
	out    io.Writer
	tokens bool
	// midLine is set while raw tokens are being printed
	midLine bool
}

func newConsoleRenderer(out io.Writer, tokens bool) *consoleRenderer {
	return &consoleRenderer{out: out, tokens: tokens}
}

// Render writes one event.
func (r *consoleRenderer) Render(ev agent.Event) {
	switch ev.Type {
	case agent.EventToken:
		if r.tokens {
			fmt.Fprint(r.out, ev.Text)
			r.midLine = !strings.HasSuffix(ev.Text, "\n")
		}
	case agent.EventAction:
		r.endLine()
		if r.tokens {
			return
		}
		if ev.Rationale != "" {
			fmt.Fprintf(r.out, "Thought: %s\n", ev.Rationale)
		}
		fmt.Fprintf(r.out, "Action: %s\nAction Input: %s\n", ev.Tool, ev.Input)
	case agent.EventObservation:
		r.endLine()
		fmt.Fprintf(r.out, "Observation: %s\n\n", ev.Text)
	case agent.EventFinalAnswer:
		r.endLine()
		if r.tokens {
			return
		}
		if ev.Rationale != "" {
			fmt.Fprintf(r.out, "Thought: %s\n", ev.Rationale)
		}
		fmt.Fprintf(r.out, "Final Answer: %s\n", ev.Text)
	case agent.EventError:
		r.endLine()
		fmt.Fprintf(r.out, "Error (%s): %s\n", ev.ErrorKind, ev.Text)
	}
}

func (r *consoleRenderer) endLine() {
	if r.midLine {
		fmt.Fprintln(r.out)
		r.midLine = false
	}
}
