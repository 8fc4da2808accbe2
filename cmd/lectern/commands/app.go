package commands

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jholhewres/lectern/pkg/lectern/config"
	"github.com/jholhewres/lectern/pkg/lectern/dialogue"
	"github.com/jholhewres/lectern/pkg/lectern/document"
	"github.com/jholhewres/lectern/pkg/lectern/journal"
	"github.com/jholhewres/lectern/pkg/lectern/llm"
	"github.com/jholhewres/lectern/pkg/lectern/report"
	"github.com/jholhewres/lectern/pkg/lectern/stt"
)

var errNoConfig = errors.New("no config file found: run `lectern setup` or pass --config")

// app is the loaded configuration plus the process logger.
type app struct {
	cfg      *config.Config
	path     string
	logger   *slog.Logger
	closeLog io.Closer
}

// loadApp loads the config, builds the logger writing to logOut and
// resolves secrets from the OS keyring.
func loadApp(cmd *cobra.Command, logOut io.Writer) (*app, error) {
	cfg, path, err := resolveConfig(cmd)
	if err != nil {
		return nil, err
	}

	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logger, closer, err := config.NewLogger(cfg.Logging, verbose, logOut)
	if err != nil {
		return nil, fmt.Errorf("configuring logger: %w", err)
	}
	logger = logger.With("app", cfg.Name)
	logger.Debug("config loaded", "path", path)

	config.ResolveSecrets(cfg, logger)
	return &app{cfg: cfg, path: path, logger: logger, closeLog: closer}, nil
}

func (a *app) Close() {
	_ = a.closeLog.Close()
}

// resolveConfig loads --config, or the first config file found in the
// working directory.
func resolveConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path == "" {
		path = config.FindConfigFile()
	}
	if path == "" {
		return nil, "", errNoConfig
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("loading config from %s: %w", path, err)
	}
	return cfg, path, nil
}

func (a *app) connectLLM() (dialogue.Completer, error) {
	c, err := llm.New(a.cfg.LLM, a.logger)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (a *app) newPool() (*dialogue.Pool, error) {
	return dialogue.NewPool(a.cfg.Dialogue, document.Load, a.connectLLM, a.logger)
}

func (a *app) newSpeech() *stt.Whisper {
	backend := a.cfg.SpeechBackend()
	connect := func() (stt.Backend, error) {
		c, err := llm.New(backend, a.logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	}

	var convert stt.ConvertFunc
	if a.cfg.STT.ConvertToMP3 {
		convert = llm.ConvertAudioToMP3
	}
	return stt.NewWhisper(a.cfg.STT, connect, convert, a.logger)
}

// newReporter builds the report pipeline. The returned client must be
// closed by the caller.
func (a *app) newReporter() (*report.Pipeline, io.Closer, error) {
	client, err := llm.New(a.cfg.LLM, a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("creating LLM client: %w", err)
	}

	var chart report.ChartRenderer
	if a.cfg.Report.Chart.Enabled {
		renderer, err := report.NewSandboxRenderer(a.cfg.Report.Chart, a.logger)
		if err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("creating chart renderer: %w", err)
		}
		chart = renderer
	}

	converter := report.NewLibreOffice(a.cfg.Report.Converter, a.logger)
	return report.New(client, chart, converter, a.logger), client, nil
}

// openJournal returns nil when the journal is disabled.
func (a *app) openJournal() (*journal.Store, error) {
	if !a.cfg.Journal.Enabled {
		return nil, nil
	}
	store, err := journal.Open(a.cfg.Journal.Path, a.logger)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	return store, nil
}
