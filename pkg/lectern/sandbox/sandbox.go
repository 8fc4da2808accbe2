// Package sandbox runs generated scripts as child processes with a hard
// timeout, a scoped working directory and bounded output capture.
//
// The report pipeline uses it to execute LLM-produced chart code. The
// runner never interprets the script itself: it only starts the configured
// interpreter, waits, and reports what happened.
package sandbox

import (
	"context"
	"fmt"
	"time"
)

// Config holds the sandbox configuration.
type Config struct {
	// Interpreter is the program that receives the script path as its
	// first argument. Defaults to "python3".
	Interpreter string `yaml:"interpreter"`

	// InterpreterArgs are inserted before the script path (e.g. "-u").
	InterpreterArgs []string `yaml:"interpreter_args"`

	// Timeout is the maximum execution time for a single run.
	// Defaults to 30s.
	Timeout time.Duration `yaml:"timeout"`

	// MaxOutputBytes limits stdout and stderr capture size each.
	// Defaults to 256KB.
	MaxOutputBytes int64 `yaml:"max_output_bytes"`

	// TempDir is the parent of the per-run workspaces.
	// Each run gets its own subdirectory, removed afterwards.
	TempDir string `yaml:"temp_dir"`

	// BlockedEnv lists environment variables stripped from the child.
	// Empty means the child sees exactly the caller's environment.
	BlockedEnv []string `yaml:"blocked_env"`
}

// ExecRequest describes a single script execution.
type ExecRequest struct {
	// Script is the path to the script file to execute.
	Script string

	// Env are additional environment variables for this execution.
	Env map[string]string

	// Dir is the working directory. Required: runs always happen inside
	// a workspace obtained from Runner.Workspace.
	Dir string

	// Timeout overrides the default timeout for this execution.
	Timeout time.Duration
}

// ExecResult holds the outcome of a script execution.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration

	// Killed is true if the process was killed before it exited.
	Killed bool

	// KillReason explains why the process was killed ("timeout").
	KillReason string

	// OutputFiles lists regular files present in Dir after the run,
	// as absolute paths.
	OutputFiles []string
}

// Executor is the interface for process backends.
type Executor interface {
	Execute(ctx context.Context, req *ExecRequest) (*ExecResult, error)
	Available() bool
	Name() string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interpreter:    "python3",
		Timeout:        30 * time.Second,
		MaxOutputBytes: 256 * 1024,
	}
}

// Validate checks that the config is valid.
func (c *Config) Validate() error {
	if c.Interpreter == "" {
		return fmt.Errorf("interpreter is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxOutputBytes <= 0 {
		return fmt.Errorf("max_output_bytes must be positive")
	}
	return nil
}
