//go:build !windows

package sandbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newShellRunner(t *testing.T, timeout time.Duration) *Runner {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Interpreter = "/bin/sh"
	cfg.Timeout = timeout
	cfg.TempDir = t.TempDir()
	r, err := NewRunner(cfg, nil)
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}
	return r
}

func writeScript(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "script.sh")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestRunner_Run(t *testing.T) {
	tests := []struct {
		name       string
		script     string
		wantExit   int
		wantStdout string
		wantKilled bool
		wantFile   string
	}{
		{
			name:       "success",
			script:     "echo hello\n",
			wantStdout: "hello\n",
		},
		{
			name:     "non-zero exit",
			script:   "echo oops >&2\nexit 3\n",
			wantExit: 3,
		},
		{
			name:     "output file in workspace",
			script:   "printf png > chart.png\n",
			wantFile: "chart.png",
		},
		{
			name:       "timeout kills process",
			script:     "sleep 5\n",
			wantKilled: true,
			wantExit:   -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newShellRunner(t, 300*time.Millisecond)
			dir, cleanup, err := r.Workspace()
			if err != nil {
				t.Fatalf("Workspace() error = %v", err)
			}
			defer cleanup()

			script := writeScript(t, dir, tt.script)
			res, err := r.Run(context.Background(), &ExecRequest{Script: script, Dir: dir})
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if res.ExitCode != tt.wantExit {
				t.Errorf("ExitCode = %d, want %d", res.ExitCode, tt.wantExit)
			}
			if res.Killed != tt.wantKilled {
				t.Errorf("Killed = %v, want %v", res.Killed, tt.wantKilled)
			}
			if tt.wantStdout != "" && res.Stdout != tt.wantStdout {
				t.Errorf("Stdout = %q, want %q", res.Stdout, tt.wantStdout)
			}
			if tt.wantFile != "" {
				want := filepath.Join(dir, tt.wantFile)
				found := false
				for _, f := range res.OutputFiles {
					if f == want {
						found = true
					}
				}
				if !found {
					t.Errorf("OutputFiles = %v, want %s listed", res.OutputFiles, want)
				}
			}
		})
	}
}

func TestRunner_RequiresWorkspace(t *testing.T) {
	r := newShellRunner(t, time.Second)
	_, err := r.Run(context.Background(), &ExecRequest{Script: "x.sh"})
	if !errors.Is(err, ErrNoWorkspace) {
		t.Errorf("Run() error = %v, want ErrNoWorkspace", err)
	}
}

func TestRunner_WorkspaceCleanup(t *testing.T) {
	r := newShellRunner(t, time.Second)
	dir, cleanup, err := r.Workspace()
	if err != nil {
		t.Fatalf("Workspace() error = %v", err)
	}
	writeScript(t, dir, "true\n")
	cleanup()
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("workspace still exists after cleanup: %v", err)
	}
}

func TestRunner_BlockedEnv(t *testing.T) {
	t.Setenv("LECTERN_SECRET", "s3cret")
	t.Setenv("LECTERN_VISIBLE", "ok")

	cfg := DefaultConfig()
	cfg.Interpreter = "/bin/sh"
	cfg.TempDir = t.TempDir()
	cfg.BlockedEnv = []string{"LECTERN_SECRET"}
	r, err := NewRunner(cfg, nil)
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}
	dir, cleanup, err := r.Workspace()
	if err != nil {
		t.Fatalf("Workspace() error = %v", err)
	}
	defer cleanup()

	script := writeScript(t, dir, "printf '%s|%s' \"$LECTERN_SECRET\" \"$LECTERN_VISIBLE\"\n")
	res, err := r.Run(context.Background(), &ExecRequest{Script: script, Dir: dir})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Stdout != "|ok" {
		t.Errorf("Stdout = %q, want %q", res.Stdout, "|ok")
	}
}

func TestRunner_RequestEnv(t *testing.T) {
	t.Setenv("LECTERN_VISIBLE", "ok")

	r := newShellRunner(t, time.Second)
	dir, cleanup, err := r.Workspace()
	if err != nil {
		t.Fatalf("Workspace() error = %v", err)
	}
	defer cleanup()

	script := writeScript(t, dir, "printf '%s|%s' \"$LECTERN_VISIBLE\" \"$MPLBACKEND\"\n")
	res, err := r.Run(context.Background(), &ExecRequest{
		Script: script,
		Dir:    dir,
		Env:    map[string]string{"MPLBACKEND": "Agg"},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Stdout != "ok|Agg" {
		t.Errorf("Stdout = %q, want %q", res.Stdout, "ok|Agg")
	}
}
