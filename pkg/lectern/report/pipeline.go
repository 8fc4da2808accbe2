// Package report builds the post-event report: it merges the conference
// documents, asks the model for a summary and chart code, runs the chart
// code in a sandbox and lays everything out as a PDF.
//
// Stages run strictly in order:
//
//	MERGE → SUMMARIZE → PARSE → EXECUTE_CHART → ASSEMBLE → CONVERT
//
// MERGE and SUMMARIZE failures abort the report. PARSE never fails. Chart
// failures only drop the chart. CONVERT failures are reported as
// ErrConversionFailed and no file is delivered.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jholhewres/lectern/pkg/lectern/llm"
)

var (
	// ErrNoSources means the request listed no documents.
	ErrNoSources = errors.New("report: no source documents")

	// ErrConversionFailed means no final file was produced.
	ErrConversionFailed = errors.New("report: conversion produced no output file")
)

// ReadError reports a source document that could not be read as DOCX.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string { return fmt.Sprintf("report: read %s: %v", e.Path, e.Err) }
func (e *ReadError) Unwrap() error { return e.Err }

// SummarizeError wraps a failed model call.
type SummarizeError struct {
	Err error
}

func (e *SummarizeError) Error() string { return fmt.Sprintf("report: summarize: %v", e.Err) }
func (e *SummarizeError) Unwrap() error { return e.Err }

// Completer answers a transcript with one assistant message.
type Completer interface {
	Chat(ctx context.Context, messages []llm.Message) (string, error)
}

// Config configures report generation.
type Config struct {
	// Sources are the default input documents (transcript, Q&A).
	Sources []string `yaml:"sources"`

	// Output is the default report path. A .docx output skips conversion.
	Output string `yaml:"output"`

	// IncludeJournal appends the recorded Q&A journal as an extra source.
	IncludeJournal bool `yaml:"include_journal"`

	Chart     ChartConfig     `yaml:"chart"`
	Converter ConverterConfig `yaml:"converter"`
}

// DefaultConfig returns the default report configuration.
func DefaultConfig() Config {
	return Config{
		Output: "Отчёт_по_конференции.pdf",
		Chart:  DefaultChartConfig(),
	}
}

// Request lists the documents to merge and where to write the report.
type Request struct {
	Sources []string
	Output  string
}

// Result is what one report run produced.
type Result struct {
	SummaryText    string
	ChartCode      string
	ChartGenerated bool
	OutputPath     string
	OutputSize     int64
	Duration       time.Duration
}

// Pipeline runs report requests. It holds no per-request state.
type Pipeline struct {
	llm       Completer
	chart     ChartRenderer
	converter Converter
	logger    *slog.Logger
}

// New creates a pipeline. chart may be nil to disable chart execution;
// converter may be nil when only .docx outputs are requested.
func New(llm Completer, chart ChartRenderer, converter Converter, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		llm:       llm,
		chart:     chart,
		converter: converter,
		logger:    logger.With("component", "report"),
	}
}

// CreateReport runs every stage for one request.
func (p *Pipeline) CreateReport(ctx context.Context, req Request) (*Result, error) {
	if len(req.Sources) == 0 {
		return nil, ErrNoSources
	}
	if req.Output == "" {
		req.Output = DefaultConfig().Output
	}
	start := time.Now()
	res := &Result{}

	p.logger.Info("report started", "stage", "merge", "sources", len(req.Sources))
	merged, err := MergeSources(req.Sources)
	if err != nil {
		return nil, err
	}

	p.logger.Info("requesting summary", "stage", "summarize", "chars", len([]rune(merged)))
	raw, err := p.llm.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: summarizeInstruction},
		{Role: llm.RoleUser, Content: userMessagePrefix + merged},
	})
	if err != nil {
		return nil, &SummarizeError{Err: err}
	}

	res.SummaryText, res.ChartCode = ParseResponse(raw)
	p.logger.Info("response parsed", "stage", "parse",
		"summary_chars", len([]rune(res.SummaryText)),
		"code_chars", len(res.ChartCode),
	)

	var png []byte
	if p.chart != nil && res.ChartCode != "" {
		png, res.ChartGenerated = p.chart.Render(ctx, res.ChartCode)
	}
	p.logger.Info("chart stage done", "stage", "execute_chart", "generated", res.ChartGenerated)

	doc, embedded := assemble(res.SummaryText, png)
	if res.ChartGenerated && !embedded {
		p.logger.Warn("chart could not be embedded", "stage", "assemble")
		res.ChartGenerated = false
	}

	if err := p.write(ctx, doc.Save, req.Output); err != nil {
		return nil, err
	}

	info, err := os.Stat(req.Output)
	if err != nil || info.Size() == 0 {
		os.Remove(req.Output)
		return nil, ErrConversionFailed
	}
	res.OutputPath = req.Output
	res.OutputSize = info.Size()
	res.Duration = time.Since(start)

	p.logger.Info("report ready",
		"stage", "convert",
		"output", res.OutputPath,
		"bytes", res.OutputSize,
		"chart", res.ChartGenerated,
		"duration", res.Duration,
	)
	return res, nil
}

// write saves the assembled document directly for .docx outputs, or into
// a scratch directory followed by conversion for anything else.
func (p *Pipeline) write(ctx context.Context, save func(string) error, output string) error {
	if dir := filepath.Dir(output); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("report: creating output dir: %w", err)
		}
	}

	if strings.EqualFold(filepath.Ext(output), ".docx") {
		if err := save(output); err != nil {
			return fmt.Errorf("report: saving document: %w", err)
		}
		return nil
	}

	if p.converter == nil {
		return fmt.Errorf("%w: no converter configured", ErrConversionFailed)
	}

	scratch, err := os.MkdirTemp("", "lectern-report-*")
	if err != nil {
		return fmt.Errorf("report: creating scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			p.logger.Warn("failed to remove intermediate document", "dir", scratch, "error", err)
		}
	}()

	base := strings.TrimSuffix(filepath.Base(output), filepath.Ext(output))
	intermediate := filepath.Join(scratch, base+".docx")
	if err := save(intermediate); err != nil {
		return fmt.Errorf("report: saving intermediate document: %w", err)
	}

	if err := p.converter.Convert(ctx, intermediate, output); err != nil {
		p.logger.Error("conversion failed", "stage", "convert", "error", err)
		return fmt.Errorf("%w: %v", ErrConversionFailed, err)
	}
	return nil
}
