package sandbox

import "errors"

// Configuration errors.
var (
	ErrInvalidRuntime      = errors.New("invalid sandbox runtime")
	ErrInvalidMemoryLimit  = errors.New("invalid memory limit (must be >= 0)")
	ErrInvalidCPULimit     = errors.New("invalid CPU limit (must be >= 0)")
	ErrInvalidTimeout      = errors.New("invalid timeout (must be >= 0)")
	ErrDockerImageRequired = errors.New("docker image is required for docker runtime")
)

// Lifecycle errors.
var (
	ErrSandboxNotRunning     = errors.New("sandbox is not running")
	ErrSandboxAlreadyRunning = errors.New("sandbox is already running")
	// ErrInterpreterNotFound means the python binary is missing on the host
	// or in the image.
	ErrInterpreterNotFound = errors.New("python interpreter not found")
)

// Execution errors. A snippet that raises is not an error; its traceback
// is part of the result.
var (
	ErrEmptyCode        = errors.New("no code to execute")
	ErrExecutionTimeout = errors.New("execution timed out")
)
