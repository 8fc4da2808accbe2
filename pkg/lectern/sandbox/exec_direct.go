package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// DirectExecutor starts the interpreter via os/exec in its own process group.
type DirectExecutor struct {
	cfg     Config
	logger  *slog.Logger
	blocked map[string]bool
}

// NewDirectExecutor creates a new direct executor.
func NewDirectExecutor(cfg Config, logger *slog.Logger) *DirectExecutor {
	blocked := make(map[string]bool, len(cfg.BlockedEnv))
	for _, name := range cfg.BlockedEnv {
		blocked[name] = true
	}
	return &DirectExecutor{cfg: cfg, logger: logger, blocked: blocked}
}

// Execute runs the script and waits for it. A non-zero exit is not an error.
func (e *DirectExecutor) Execute(ctx context.Context, req *ExecRequest) (*ExecResult, error) {
	args := append(append([]string{}, e.cfg.InterpreterArgs...), req.Script)

	cmd := exec.CommandContext(ctx, e.cfg.Interpreter, args...)
	cmd.Dir = req.Dir
	cmd.Env = e.buildEnv(req)
	configureProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := &ExecResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if ctx.Err() != nil {
		result.Killed = true
		result.KillReason = "timeout"
		result.ExitCode = -1
		return result, nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("executing script: %w", err)
	}
	return result, nil
}

// Available reports whether the interpreter can be found.
func (e *DirectExecutor) Available() bool {
	_, err := exec.LookPath(e.cfg.Interpreter)
	return err == nil
}

// Name returns the executor name.
func (e *DirectExecutor) Name() string { return "direct" }

// buildEnv starts from the caller's environment, drops blocked names and
// appends the request overrides.
func (e *DirectExecutor) buildEnv(req *ExecRequest) []string {
	parent := os.Environ()
	env := make([]string, 0, len(parent)+len(req.Env))
	for _, kv := range parent {
		name, _, _ := strings.Cut(kv, "=")
		if e.blocked[name] {
			continue
		}
		env = append(env, kv)
	}
	for k, v := range req.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}
