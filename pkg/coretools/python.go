package coretools

import (
	"context"
	"errors"

	"github.com/harun/insight/pkg/sandbox"
	"github.com/harun/insight/pkg/toolexecutor"
)

// PythonTool runs analysis code in the sandbox. Exceptions raised by the
// code come back as observation text so the model can correct itself.
func PythonTool(sb sandbox.Sandbox) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		ToolName: ToolPython,
		Summary: "A Python shell for data analysis or calculation. Input is valid Python code. " +
			"The value of the last expression is printed; use print(...) to show anything else. " +
			"Each call starts fresh, so include any data the code needs.",
		ToolKind: toolexecutor.KindExecute,
		Handler: func(ctx context.Context, input string) (string, error) {
			res, err := sb.Execute(ctx, sandbox.ExecuteRequest{Code: input})
			if err != nil {
				switch {
				case errors.Is(err, sandbox.ErrExecutionTimeout):
					return "", toolexecutor.WrapToolError(toolexecutor.ErrorKindTimeout, err)
				case errors.Is(err, sandbox.ErrSandboxNotRunning), errors.Is(err, sandbox.ErrInterpreterNotFound):
					return "", toolexecutor.WrapToolError(toolexecutor.ErrorKindDependencyUnavailable, err)
				case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
					return "", err
				default:
					return "", toolexecutor.WrapToolError(toolexecutor.ErrorKindExecution, err)
				}
			}
			return res.Output(), nil
		},
	}
}
