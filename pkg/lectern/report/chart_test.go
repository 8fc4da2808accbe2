//go:build !windows

package report

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jholhewres/lectern/pkg/lectern/sandbox"
)

func writeFixturePNG(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.png")
	if err := os.WriteFile(path, testPNG(t), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func shellRenderer(t *testing.T, timeout time.Duration) *SandboxRenderer {
	t.Helper()
	cfg := DefaultChartConfig()
	cfg.Timeout = timeout
	cfg.Sandbox = sandbox.Config{
		Interpreter:    "/bin/sh",
		Timeout:        timeout,
		MaxOutputBytes: 4096,
		TempDir:        t.TempDir(),
	}
	r, err := NewSandboxRenderer(cfg, nil)
	if err != nil {
		t.Fatalf("NewSandboxRenderer() error = %v", err)
	}
	return r
}

func TestPrepareChartCode(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		contains []string
		excludes []string
	}{
		{
			name:     "keeps existing savefig",
			code:     "import matplotlib.pyplot as plt\nplt.savefig('chart.png')",
			contains: []string{"plt.savefig('chart.png')"},
			excludes: []string{`dpi=100`},
		},
		{
			name:     "replaces show",
			code:     "import matplotlib.pyplot as plt\nplt.pie([1])\nplt.show()",
			contains: []string{`plt.savefig("chart.png")`},
			excludes: []string{"plt.show()"},
		},
		{
			name:     "appends savefig",
			code:     "import matplotlib.pyplot as plt\nplt.pie([1])",
			contains: []string{`plt.savefig("chart.png", dpi=100, bbox_inches="tight")`},
		},
		{
			name:     "strips language tag artifact",
			code:     "python\nimport matplotlib.pyplot as plt\nplt.savefig('chart.png')",
			contains: []string{"# -*- coding: utf-8 -*-\nimport matplotlib"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PrepareChartCode(tt.code, "chart.png")
			if !strings.HasPrefix(got, "# -*- coding: utf-8 -*-\n") {
				t.Errorf("missing coding header: %q", got)
			}
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("PrepareChartCode() missing %q in %q", want, got)
				}
			}
			for _, bad := range tt.excludes {
				if strings.Contains(got, bad) {
					t.Errorf("PrepareChartCode() should not contain %q: %q", bad, got)
				}
			}
		})
	}
}

func TestSandboxRenderer_Render(t *testing.T) {
	fixture := writeFixturePNG(t)

	tests := []struct {
		name   string
		code   string
		wantOK bool
	}{
		{
			name:   "image written and clean exit",
			code:   fmt.Sprintf("# savefig\ncp '%s' chart.png\n", fixture),
			wantOK: true,
		},
		{
			name:   "image written then non-zero exit",
			code:   fmt.Sprintf("# savefig\ncp '%s' chart.png\nexit 1\n", fixture),
			wantOK: true,
		},
		{
			name:   "non-zero exit without image",
			code:   "# savefig\necho 'Traceback: boom' >&2\nexit 2\n",
			wantOK: false,
		},
		{
			name:   "timeout after writing image",
			code:   fmt.Sprintf("# savefig\ncp '%s' chart.png\nsleep 5\n", fixture),
			wantOK: false,
		},
		{
			name:   "any file under the image name counts",
			code:   "# savefig\nprintf x > chart.png\nexit 3\n",
			wantOK: true,
		},
		{
			name:   "image under another name",
			code:   fmt.Sprintf("# savefig\ncp '%s' other.png\n", fixture),
			wantOK: false,
		},
		{
			name:   "too short",
			code:   "plt",
			wantOK: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := shellRenderer(t, 500*time.Millisecond)
			img, ok := r.Render(context.Background(), tt.code)
			if ok != tt.wantOK {
				t.Fatalf("Render() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && len(img) == 0 {
				t.Error("Render() returned empty image")
			}
		})
	}
}

func TestSandboxRenderer_CleansWorkspace(t *testing.T) {
	r := shellRenderer(t, time.Second)
	base := r.cfg.Sandbox.TempDir

	r.Render(context.Background(), "# savefig\necho done\n")

	entries, err := os.ReadDir(base)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("workspace left behind: %d entries", len(entries))
	}
}

func TestSandboxRenderer_Python(t *testing.T) {
	if err := exec.Command("python3", "-c", "import matplotlib").Run(); err != nil {
		t.Skip("python3 with matplotlib not available")
	}
	cfg := DefaultChartConfig()
	cfg.Sandbox.TempDir = t.TempDir()
	r, err := NewSandboxRenderer(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	code := "import matplotlib\nmatplotlib.use('Agg')\nimport matplotlib.pyplot as plt\nplt.pie([1],labels=['a'])\nplt.savefig('chart.png')"
	if _, ok := r.Render(context.Background(), code); !ok {
		t.Error("Render() ok = false for a valid matplotlib script")
	}
}
