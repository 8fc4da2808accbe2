package report

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Converter turns the assembled DOCX into the final report file.
type Converter interface {
	Convert(ctx context.Context, docxPath, outPath string) error
}

// ConverterConfig configures the LibreOffice converter.
type ConverterConfig struct {
	// Binary is the soffice executable. Defaults to "soffice".
	Binary string `yaml:"binary"`

	// Timeout bounds one conversion. Defaults to 2m.
	Timeout time.Duration `yaml:"timeout"`
}

// LibreOffice converts documents with a headless soffice process.
type LibreOffice struct {
	cfg    ConverterConfig
	logger *slog.Logger
}

// NewLibreOffice creates a converter.
func NewLibreOffice(cfg ConverterConfig, logger *slog.Logger) *LibreOffice {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Binary == "" {
		cfg.Binary = "soffice"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &LibreOffice{cfg: cfg, logger: logger.With("component", "converter")}
}

// Convert runs soffice into a private output directory and moves the
// result to outPath. The output format follows outPath's extension.
func (l *LibreOffice) Convert(ctx context.Context, docxPath, outPath string) error {
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(outPath)), ".")
	if format == "" {
		format = "pdf"
	}

	outDir, err := os.MkdirTemp("", "lectern-convert-*")
	if err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	// A private profile keeps concurrent conversions from fighting over
	// the user's LibreOffice lock file.
	profile := "-env:UserInstallation=file://" + filepath.ToSlash(filepath.Join(outDir, "profile"))
	cmd := exec.CommandContext(ctx, l.cfg.Binary, profile,
		"--headless", "--convert-to", format, "--outdir", outDir, docxPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", l.cfg.Binary, err, tail(stderr.String(), 300))
	}

	produced := filepath.Join(outDir, strings.TrimSuffix(filepath.Base(docxPath), filepath.Ext(docxPath))+"."+format)
	if err := moveFile(produced, outPath); err != nil {
		return fmt.Errorf("collecting converted file: %w", err)
	}
	l.logger.Info("document converted", "output", outPath, "duration", time.Since(start))
	return nil
}

// moveFile renames src to dst, copying when they sit on different devices.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
