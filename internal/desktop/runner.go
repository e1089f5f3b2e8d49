package desktop

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Runner executes external helper programs.
type Runner interface {
	Exec(ctx context.Context, command string, args ...string) (ExecResult, error)
}

// CommandRunner executes commands with allow/deny checks and a per-call timeout.
type CommandRunner struct {
	Display string
	Allowed []string
	Denied  []string
	Timeout time.Duration
}

// ExecResult carries output and status code.
type ExecResult struct {
	Stdout   []byte
	Stderr   string
	ExitCode int
}

// Exec runs a command if allowed by configuration.
func (r *CommandRunner) Exec(ctx context.Context, command string, args ...string) (ExecResult, error) {
	if command == "" {
		return ExecResult{}, errors.New("command is required")
	}
	if err := r.validateCommand(command); err != nil {
		return ExecResult{}, err
	}

	timeout := r.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, command, args...)
	if r.Display != "" {
		cmd.Env = append(os.Environ(), "DISPLAY="+r.Display)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	res := ExecResult{
		Stdout: stdout.Bytes(),
		Stderr: stderr.String(),
	}
	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	case err != nil:
		res.ExitCode = -1
	}

	if err != nil {
		if msg := strings.TrimSpace(res.Stderr); msg != "" {
			return res, fmt.Errorf("%s: %w: %s", command, err, msg)
		}
		return res, fmt.Errorf("%s: %w", command, err)
	}
	return res, nil
}

func (r *CommandRunner) validateCommand(cmd string) error {
	lower := strings.ToLower(cmd)
	for _, deny := range r.Denied {
		if lower == strings.ToLower(deny) {
			return fmt.Errorf("command %q is denied", cmd)
		}
	}
	if len(r.Allowed) > 0 {
		for _, allow := range r.Allowed {
			if lower == strings.ToLower(allow) {
				return nil
			}
		}
		return fmt.Errorf("command %q is not in allowlist", cmd)
	}
	return nil
}
