package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// ErrNoWorkspace is returned when a request has no working directory.
var ErrNoWorkspace = errors.New("sandbox: request has no workspace dir")

// Runner applies defaults and the timeout, then hands the request to the
// executor.
type Runner struct {
	cfg      Config
	logger   *slog.Logger
	executor Executor
}

// NewRunner creates a new script runner with the given configuration.
func NewRunner(cfg Config, logger *slog.Logger) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sandbox config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "sandbox")

	return &Runner{
		cfg:      cfg,
		logger:   logger,
		executor: NewDirectExecutor(cfg, logger),
	}, nil
}

// Workspace creates a fresh scoped directory for one run. The returned
// cleanup removes it with everything inside and is safe to call twice.
func (r *Runner) Workspace() (string, func(), error) {
	base := r.cfg.TempDir
	if base == "" {
		base = filepath.Join(os.TempDir(), "lectern-sandbox")
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", nil, fmt.Errorf("creating sandbox base dir: %w", err)
	}
	dir, err := os.MkdirTemp(base, "run-*")
	if err != nil {
		return "", nil, fmt.Errorf("creating workspace: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			r.logger.Warn("failed to remove workspace", "dir", dir, "error", err)
		}
	}
	return dir, cleanup, nil
}

// Run executes a script inside req.Dir with the configured interpreter.
// A timeout is reported through ExecResult.Killed, not as an error.
func (r *Runner) Run(ctx context.Context, req *ExecRequest) (*ExecResult, error) {
	if req.Dir == "" {
		return nil, ErrNoWorkspace
	}
	if req.Timeout == 0 {
		req.Timeout = r.cfg.Timeout
	}
	if !r.executor.Available() {
		return nil, fmt.Errorf("executor %q not available on this platform", r.executor.Name())
	}

	execCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	r.logger.Info("executing script",
		"script", filepath.Base(req.Script),
		"interpreter", r.cfg.Interpreter,
		"executor", r.executor.Name(),
		"timeout", req.Timeout,
	)

	start := time.Now()
	result, err := r.executor.Execute(execCtx, req)
	if result != nil {
		result.Duration = time.Since(start)
		result.OutputFiles = collectOutputFiles(req.Dir)
		r.truncateOutput(result)
	}
	if err != nil {
		r.logger.Error("execution failed",
			"script", filepath.Base(req.Script),
			"error", err,
			"duration", time.Since(start),
		)
	}
	return result, err
}

// truncateOutput enforces the MaxOutputBytes limit.
func (r *Runner) truncateOutput(result *ExecResult) {
	max := int(r.cfg.MaxOutputBytes)
	if max <= 0 {
		return
	}
	if len(result.Stdout) > max {
		result.Stdout = result.Stdout[:max] + "\n... [output truncated]"
	}
	if len(result.Stderr) > max {
		result.Stderr = result.Stderr[:max] + "\n... [output truncated]"
	}
}

// collectOutputFiles lists files present in the workspace.
func collectOutputFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files
}
