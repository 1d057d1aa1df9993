package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"
)

// CheckDocker verifies that the Docker daemon is available and responsive.
func CheckDocker(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "docker", "ps", "-q")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("docker is not available or not running: %w", err)
	}
	return nil
}

// DockerSandbox runs each snippet in an ephemeral, network-less container.
type DockerSandbox struct {
	config  Config
	running bool
	mu      sync.RWMutex
}

// NewDockerSandbox creates a new Docker-based sandbox.
func NewDockerSandbox(config Config) (*DockerSandbox, error) {
	if config.Runtime == "" {
		config.Runtime = RuntimeDocker
	}
	if err := ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &DockerSandbox{config: config}, nil
}

// Start checks the Docker daemon.
func (d *DockerSandbox) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return ErrSandboxAlreadyRunning
	}
	if err := CheckDocker(ctx); err != nil {
		return err
	}

	log.Info().
		Str("runtime", string(RuntimeDocker)).
		Str("image", d.config.Image).
		Msg("Starting docker sandbox")

	d.running = true
	return nil
}

// Stop marks the Docker sandbox as stopped.
func (d *DockerSandbox) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return ErrSandboxNotRunning
	}

	log.Info().Msg("Stopping docker sandbox")
	d.running = false
	return nil
}

// IsRunning returns whether the sandbox is currently running.
func (d *DockerSandbox) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

// GetConfig returns sandbox configuration.
func (d *DockerSandbox) GetConfig() Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// Execute runs a snippet inside a fresh container.
func (d *DockerSandbox) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
	d.mu.RLock()
	if !d.running {
		d.mu.RUnlock()
		return ExecuteResult{}, ErrSandboxNotRunning
	}
	cfg := d.config
	d.mu.RUnlock()

	code := SanitizeCode(req.Code)
	if code == "" {
		return ExecuteResult{}, ErrEmptyCode
	}

	name := "insight-sandbox-" + gonanoid.MustGenerate("abcdefghijklmnopqrstuvwxyz0123456789", 12)

	execCtx, cancel := context.WithTimeout(ctx, timeoutFor(req, cfg))
	defer cancel()

	cmd := exec.CommandContext(execCtx, "docker", buildDockerRunArgs(cfg, name, req)...)
	cmd.Stdin = bytes.NewReader([]byte(code))
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := ExecuteResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if execCtx.Err() != nil {
		// killing the client leaves the container behind
		removeContainer(name)
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.ExitCode = -1
		return result, ErrExecutionTimeout
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return result, fmt.Errorf("failed to run container: %w", err)
		}
		result.ExitCode = exitErr.ExitCode()
		// 125-127 are docker's own failures, not the snippet's
		if result.ExitCode >= 125 && result.ExitCode <= 127 {
			return result, fmt.Errorf("docker run failed (exit %d): %s", result.ExitCode, bytes.TrimSpace(stderr.Bytes()))
		}
	}

	log.Debug().
		Str("runtime", string(RuntimeDocker)).
		Str("image", cfg.Image).
		Str("container", name).
		Int("exit_code", result.ExitCode).
		Dur("duration", result.Duration).
		Msg("Snippet executed in docker sandbox")

	return result, nil
}

func buildDockerRunArgs(cfg Config, name string, req ExecuteRequest) []string {
	args := []string{"run", "--rm", "-i", "--init", "--name", name}

	if cfg.Network {
		args = append(args, "--network", "bridge")
	} else {
		args = append(args, "--network", "none")
	}

	if cfg.Limits.MaxCPU > 0 {
		args = append(args, "--cpus", strconv.FormatFloat(cfg.Limits.MaxCPU, 'f', 2, 64))
	}
	if cfg.Limits.MaxMemoryMB > 0 {
		args = append(args, "--memory", fmt.Sprintf("%dm", cfg.Limits.MaxMemoryMB))
	}
	if cfg.Limits.MaxProcesses > 0 {
		args = append(args, "--pids-limit", strconv.Itoa(cfg.Limits.MaxProcesses))
	}

	args = append(args,
		"--read-only",
		"--tmpfs", "/tmp:rw,size=64m",
		"-w", "/tmp",
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
		"-e", "PYTHONDONTWRITEBYTECODE=1",
		"-e", "PYTHONIOENCODING=utf-8",
	)

	keys := make([]string, 0, len(req.Env))
	for k := range req.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, req.Env[k]))
	}

	python := cfg.Python
	if python == "" {
		python = DefaultConfig().Python
	}
	args = append(args, cfg.Image, python)
	return append(args, interpreterArgs()...)
}

func removeContainer(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, "docker", "rm", "-f", name).Run(); err != nil {
		log.Warn().Err(err).Str("container", name).Msg("Failed to remove sandbox container")
	}
}
