// Package agent runs the reason/act/observe loop: it renders a prompt,
// streams a completion from the model, parses the next step, dispatches
// tools through toolexecutor and reports every transition as an Event.
//
// Invariants:
//   - A run moves Idle -> Running -> {Completed, Exhausted, Failed, Cancelled} and never leaves a terminal state.
//   - Every stream ends with exactly one terminal event, which is also its last event.
//   - Tool and parse failures become observations; only capability and budget conditions end a run early.
//   - The number of recorded action steps never exceeds MaxIterations.
//
// Usage:
//
//	runner, _ := agent.NewRunner(agent.Config{Executor: exec, AuthProfiles: profiles})
//	stream, _ := runner.Run(ctx, "What is the stock of Dell XPS 15?", nil)
//	for ev := range stream.Events() {
//		fmt.Println(ev.Type, ev.Text)
//	}
//	result := stream.Result()
package agent
