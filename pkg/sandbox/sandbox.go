package sandbox

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Runtime selects where snippets run.
type Runtime string

const (
	// RuntimeHost runs the interpreter as a child process
	RuntimeHost Runtime = "host"
	// RuntimeDocker runs each snippet in an ephemeral container
	RuntimeDocker Runtime = "docker"
)

// Config defines sandbox configuration
type Config struct {
	// Runtime is host or docker
	Runtime Runtime `json:"runtime"`

	// Python is the interpreter binary, on the host or inside the image
	Python string `json:"python"`

	// Image is the container image for the docker runtime
	Image string `json:"image"`

	// Network enables container networking (docker only)
	Network bool `json:"network"`

	Limits Limits `json:"limits"`
}

// Limits bounds a single execution.
type Limits struct {
	MaxMemoryMB  int           `json:"max_memory_mb"`
	MaxCPU       float64       `json:"max_cpu"` // CPUs, docker only
	MaxProcesses int           `json:"max_processes"`
	Timeout      time.Duration `json:"timeout"`
}

// ExecuteRequest is one snippet to run.
type ExecuteRequest struct {
	Code    string            `json:"code"`
	Env     map[string]string `json:"env,omitempty"`
	Timeout time.Duration     `json:"timeout,omitempty"`
}

// ExecuteResult is what the interpreter produced.
type ExecuteResult struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// Failed reports whether the snippet raised or exited non-zero.
func (r ExecuteResult) Failed() bool {
	return r.ExitCode != 0
}

// Output renders the result as observation text: stdout, followed by the
// error text when the snippet failed.
func (r ExecuteResult) Output() string {
	out := strings.TrimRight(r.Stdout, "\n")
	if !r.Failed() {
		if out == "" {
			return "(no output)"
		}
		return out
	}
	errText := strings.TrimSpace(r.Stderr)
	if errText == "" {
		errText = fmt.Sprintf("process exited with status %d", r.ExitCode)
	}
	if out == "" {
		return errText
	}
	return out + "\n" + errText
}

// Sandbox defines the interface for isolated code execution
type Sandbox interface {
	// Execute runs a snippet. Errors raised by the snippet are reported in
	// the result; the returned error covers the sandbox itself.
	Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error)

	// Start checks the runtime is usable
	Start(ctx context.Context) error

	// Stop releases the sandbox
	Stop(ctx context.Context) error

	// IsRunning returns whether the sandbox is running
	IsRunning() bool

	// GetConfig returns the sandbox configuration
	GetConfig() Config
}

// DefaultConfig returns a default sandbox configuration
func DefaultConfig() Config {
	return Config{
		Runtime: RuntimeHost,
		Python:  "python3",
		Image:   "python:3.12-slim",
		Limits: Limits{
			MaxMemoryMB:  256,
			MaxCPU:       1,
			MaxProcesses: 64,
			Timeout:      10 * time.Second,
		},
	}
}

// ValidateConfig validates a sandbox configuration
func ValidateConfig(cfg Config) error {
	switch cfg.Runtime {
	case RuntimeHost:
	case RuntimeDocker:
		if strings.TrimSpace(cfg.Image) == "" {
			return ErrDockerImageRequired
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRuntime, cfg.Runtime)
	}

	if cfg.Limits.MaxMemoryMB < 0 {
		return ErrInvalidMemoryLimit
	}
	if cfg.Limits.MaxCPU < 0 {
		return ErrInvalidCPULimit
	}
	if cfg.Limits.Timeout < 0 {
		return ErrInvalidTimeout
	}
	return nil
}

// New creates the sandbox for cfg.Runtime.
func New(cfg Config) (Sandbox, error) {
	if cfg.Python == "" {
		cfg.Python = DefaultConfig().Python
	}
	switch cfg.Runtime {
	case RuntimeDocker:
		return NewDockerSandbox(cfg)
	default:
		return NewHostSandbox(cfg)
	}
}

func timeoutFor(req ExecuteRequest, cfg Config) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	if cfg.Limits.Timeout > 0 {
		return cfg.Limits.Timeout
	}
	return DefaultConfig().Limits.Timeout
}
