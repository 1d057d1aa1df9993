// Package toolexecutor registers the agent's tools and invokes them with
// per-kind timeouts, output bounds and normalized errors.
//
// Invariants:
//   - Tool names are unique and listed in registration order.
//   - The registry is read-only once the agent starts; reads are safe from any goroutine.
//   - Invoke never returns a Go error: every outcome is a Result whose Text is
//     fit to be fed back to the model as an observation.
//
// Usage:
//
//	reg := toolexecutor.NewRegistry()
//	_ = reg.Register(toolexecutor.ToolDefinition{
//		ToolName: "echo",
//		Summary:  "Echo the input back",
//		ToolKind: toolexecutor.KindExecute,
//		Handler:  func(ctx context.Context, input string) (string, error) { return input, nil },
//	})
//	exec := toolexecutor.NewExecutor(reg, toolexecutor.Options{})
//	res := exec.Invoke(ctx, "echo", "hi")
package toolexecutor
