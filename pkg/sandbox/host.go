package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// HostSandbox runs snippets in a fresh interpreter process with a minimal
// environment and a scratch working directory.
type HostSandbox struct {
	config  Config
	python  string
	running bool
	mu      sync.RWMutex
}

// NewHostSandbox creates a new host-based sandbox
func NewHostSandbox(config Config) (*HostSandbox, error) {
	if config.Runtime == "" {
		config.Runtime = RuntimeHost
	}
	if err := ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &HostSandbox{config: config}, nil
}

// Start resolves the interpreter binary
func (h *HostSandbox) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrSandboxAlreadyRunning
	}

	path, err := exec.LookPath(h.config.Python)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInterpreterNotFound, h.config.Python)
	}
	h.python = path

	log.Info().
		Str("runtime", string(RuntimeHost)).
		Str("python", path).
		Msg("Starting host sandbox")

	h.running = true
	return nil
}

// Stop cleans up the sandbox
func (h *HostSandbox) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return ErrSandboxNotRunning
	}

	log.Info().Msg("Stopping host sandbox")
	h.running = false
	return nil
}

// IsRunning returns whether the sandbox is running
func (h *HostSandbox) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// GetConfig returns the sandbox configuration
func (h *HostSandbox) GetConfig() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// Execute runs a snippet in a new interpreter process.
func (h *HostSandbox) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return ExecuteResult{}, ErrSandboxNotRunning
	}
	cfg, python := h.config, h.python
	h.mu.RUnlock()

	code := SanitizeCode(req.Code)
	if code == "" {
		return ExecuteResult{}, ErrEmptyCode
	}

	workDir, err := os.MkdirTemp("", "insight-sandbox-*")
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	execCtx, cancel := context.WithTimeout(ctx, timeoutFor(req, cfg))
	defer cancel()

	cmd := exec.CommandContext(execCtx, python, interpreterArgs()...)
	cmd.Dir = workDir
	cmd.Env = buildEnvironment(workDir, req.Env)
	cmd.Stdin = bytes.NewReader([]byte(code))
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	result := ExecuteResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		result.ExitCode = -1
		return result, ErrExecutionTimeout
	}
	if ctx.Err() != nil {
		return result, ctx.Err()
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return result, fmt.Errorf("failed to run interpreter: %w", err)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	log.Debug().
		Str("runtime", string(RuntimeHost)).
		Int("exit_code", result.ExitCode).
		Dur("duration", result.Duration).
		Msg("Snippet executed in sandbox")

	return result, nil
}

// buildEnvironment builds a minimal environment; nothing from the parent
// process leaks into the interpreter.
func buildEnvironment(home string, env map[string]string) []string {
	result := []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + home,
		"PYTHONDONTWRITEBYTECODE=1",
		"PYTHONIOENCODING=utf-8",
	}

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		result = append(result, fmt.Sprintf("%s=%s", k, env[k]))
	}
	return result
}
