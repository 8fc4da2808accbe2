package report

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jholhewres/lectern/pkg/lectern/sandbox"
)

// ChartRenderer executes chart code and returns the PNG it produced.
// ok is false for every kind of failure.
type ChartRenderer interface {
	Render(ctx context.Context, code string) (png []byte, ok bool)
}

// ChartConfig configures chart execution.
type ChartConfig struct {
	// Enabled turns chart execution on. When off, reports carry the
	// "visualization not created" notice.
	Enabled bool `yaml:"enabled"`

	// ImageName is the file the generated code must write.
	ImageName string `yaml:"image_name"`

	// MinCodeLength skips fragments too short to be a plotting script.
	MinCodeLength int `yaml:"min_code_length"`

	// Timeout is the hard wall-clock limit for one run.
	Timeout time.Duration `yaml:"timeout"`

	// Sandbox configures the interpreter process.
	Sandbox sandbox.Config `yaml:"sandbox"`
}

// DefaultChartConfig returns the default chart configuration.
func DefaultChartConfig() ChartConfig {
	return ChartConfig{
		Enabled:       true,
		ImageName:     "chart.png",
		MinCodeLength: 10,
		Timeout:       30 * time.Second,
		Sandbox:       sandbox.DefaultConfig(),
	}
}

// PrepareChartCode normalizes model-written code so it always saves the
// chart to imageName and never opens a display window.
func PrepareChartCode(code, imageName string) string {
	code = strings.TrimSpace(code)
	if strings.HasPrefix(code, "python") {
		code = strings.TrimLeft(code[len("python"):], " \t\r\n")
	}

	if !strings.Contains(code, "savefig") {
		if strings.Contains(code, "plt.show()") {
			code = strings.ReplaceAll(code, "plt.show()", fmt.Sprintf("plt.savefig(%q)", imageName))
		} else {
			code += fmt.Sprintf("\n\nplt.savefig(%q, dpi=100, bbox_inches=\"tight\")\n", imageName)
		}
	}
	return "# -*- coding: utf-8 -*-\n" + code + "\n"
}

// SandboxRenderer runs chart code through the sandbox runner inside a
// fresh workspace that is removed after every run.
type SandboxRenderer struct {
	cfg    ChartConfig
	runner *sandbox.Runner
	logger *slog.Logger
}

// NewSandboxRenderer creates a renderer for the configured interpreter.
func NewSandboxRenderer(cfg ChartConfig, logger *slog.Logger) (*SandboxRenderer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ImageName == "" {
		cfg.ImageName = "chart.png"
	}
	if cfg.Timeout > 0 {
		cfg.Sandbox.Timeout = cfg.Timeout
	}
	runner, err := sandbox.NewRunner(cfg.Sandbox, logger)
	if err != nil {
		return nil, err
	}
	return &SandboxRenderer{
		cfg:    cfg,
		runner: runner,
		logger: logger.With("component", "chart"),
	}, nil
}

// Render writes the prepared script into a scoped workspace, runs it and
// reads back the image. A run that hit the timeout never counts as
// success; any other run succeeds when the image exists, whatever the
// exit code.
func (r *SandboxRenderer) Render(ctx context.Context, code string) ([]byte, bool) {
	if len(strings.TrimSpace(code)) < r.cfg.MinCodeLength {
		r.logger.Info("chart code missing or too short, skipping", "length", len(code))
		return nil, false
	}

	dir, cleanup, err := r.runner.Workspace()
	if err != nil {
		r.logger.Error("chart workspace unavailable", "error", err)
		return nil, false
	}
	defer cleanup()

	script, err := os.CreateTemp(dir, "chart-*.py")
	if err != nil {
		r.logger.Error("creating chart script", "error", err)
		return nil, false
	}
	defer os.Remove(script.Name())

	_, err = script.WriteString(PrepareChartCode(code, r.cfg.ImageName))
	if cerr := script.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		r.logger.Error("writing chart script", "error", err)
		return nil, false
	}

	res, err := r.runner.Run(ctx, &sandbox.ExecRequest{
		Script: script.Name(),
		Dir:    dir,
		Env: map[string]string{
			"MPLBACKEND":   "Agg",
			"MPLCONFIGDIR": dir,
		},
	})
	if err != nil {
		r.logger.Error("chart script did not start", "error", err)
		return nil, false
	}
	if res.Killed {
		r.logger.Warn("chart script killed", "reason", res.KillReason, "duration", res.Duration)
		return nil, false
	}

	image := findOutput(res.OutputFiles, r.cfg.ImageName)
	if image == "" {
		r.logger.Warn("chart image not produced",
			"exit_code", res.ExitCode,
			"stderr", tail(res.Stderr, 800),
		)
		return nil, false
	}
	png, err := os.ReadFile(image)
	if err != nil {
		r.logger.Warn("chart image unreadable", "error", err)
		return nil, false
	}

	r.logger.Info("chart generated", "bytes", len(png), "exit_code", res.ExitCode, "duration", res.Duration)
	return png, true
}

// findOutput returns the workspace file with the given base name.
func findOutput(files []string, name string) string {
	for _, f := range files {
		if filepath.Base(f) == name {
			return f
		}
	}
	return ""
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
