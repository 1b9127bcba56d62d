package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"syscall"
)

// LaunchSpec describes the backend process to start.
type LaunchSpec struct {
	// Binary is the executable path.
	Binary string
	// Args are passed verbatim. Secrets never go here.
	Args []string
	// Dir is the working directory; empty inherits ours.
	Dir string
	// Env is the complete environment of the child.
	Env []string
}

// ExitResult describes how the backend exited.
type ExitResult struct {
	// ExitCode is the process exit code, -1 if killed by a signal.
	ExitCode int
}

// Process is a started backend.
type Process interface {
	PID() int
	Stdout() io.Reader
	Stderr() io.Reader
	// Wait blocks until exit. Callers must drain Stdout and Stderr first.
	Wait() (ExitResult, error)
	Kill() error
}

// Launcher starts a process. Swapped out in tests.
type Launcher func(ctx context.Context, spec LaunchSpec) (Process, error)

// ExecLauncher starts spec with os/exec. Cancelling ctx kills the process.
func ExecLauncher(ctx context.Context, spec LaunchSpec) (Process, error) {
	cmd := exec.CommandContext(ctx, spec.Binary, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start backend: %w", err)
	}

	return &execProcess{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

// execProcess adapts exec.Cmd to Process.
type execProcess struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr io.ReadCloser
}

func (p *execProcess) PID() int          { return p.cmd.Process.Pid }
func (p *execProcess) Stdout() io.Reader { return p.stdout }
func (p *execProcess) Stderr() io.Reader { return p.stderr }

func (p *execProcess) Wait() (ExitResult, error) {
	err := p.cmd.Wait()
	if err == nil {
		return ExitResult{ExitCode: 0}, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return ExitResult{ExitCode: -1}, fmt.Errorf("backend wait failed: %w", err)
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
		if status.Signaled() {
			return ExitResult{ExitCode: -1}, nil
		}
		return ExitResult{ExitCode: status.ExitStatus()}, nil
	}
	return ExitResult{ExitCode: exitErr.ExitCode()}, nil
}

func (p *execProcess) Kill() error {
	if p.cmd.Process != nil {
		return p.cmd.Process.Kill()
	}
	return nil
}

// deduplicateEnv keeps the last occurrence of each env var key.
// This ensures injected values (API_PORT, API_SECRET_TOKEN) win over
// inherited duplicates from os.Environ().
func deduplicateEnv(env []string) []string {
	seen := make(map[string]int, len(env))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		seen[key] = i
	}
	result := make([]string, 0, len(seen))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		if seen[key] == i {
			result = append(result, entry)
		}
	}
	return result
}
