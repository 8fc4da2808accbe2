package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"

	"github.com/jholhewres/lectern/pkg/lectern/bot"
	"github.com/jholhewres/lectern/pkg/lectern/channels"
	"github.com/jholhewres/lectern/pkg/lectern/channels/discord"
	"github.com/jholhewres/lectern/pkg/lectern/channels/telegram"
	"github.com/jholhewres/lectern/pkg/lectern/config"
	"github.com/jholhewres/lectern/pkg/lectern/dialogue"
	"github.com/jholhewres/lectern/pkg/lectern/scheduler"
	"github.com/jholhewres/lectern/pkg/lectern/trigger"
)

// newServeCmd creates `lectern serve`, the chat daemon.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat bot",
		Long: `Connect the enabled channels (Telegram, Discord), answer questions
addressed to the bot and run the scheduled report when configured.

Examples:
  lectern serve
  lectern serve --channel telegram
  lectern serve --config ./lectern.yaml`,
		RunE: runServe,
	}

	cmd.Flags().StringSlice("channel", nil, "channels to enable (telegram, discord); default all enabled in config")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd, os.Stdout)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg, logger := a.cfg, a.logger
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config:\n%w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── Dialogue ──
	pool, err := a.newPool()
	if err != nil {
		return err
	}
	if !pool.Init(ctx) {
		logger.Error("dialogue not initialized, questions will be answered with an error until /reload succeeds")
	}

	// ── Speech recognition ──
	var speech bot.Speech
	if cfg.STT.Enabled {
		whisper := a.newSpeech()
		if err := whisper.Warm(ctx); err != nil {
			logger.Warn("speech recognition not ready, will retry on first voice note", "error", err)
		}
		speech = whisper
	}

	// ── Report pipeline ──
	var reporter bot.Reporter
	pipeline, client, err := a.newReporter()
	if err != nil {
		logger.Warn("report pipeline unavailable", "error", err)
	} else {
		defer client.Close()
		reporter = pipeline
	}

	// ── Journal ──
	var journal bot.Journal
	store, err := a.openJournal()
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
		journal = store
	}

	manager := channels.NewManager(logger)
	sched := scheduler.New(logger)

	router := bot.NewRouter(bot.RouterConfig{
		Detector: trigger.New(cfg.Bot.Names...),
		Sessions: pool,
		Speech:   speech,
		STTModel: cfg.STT.Model,
		Reporter: reporter,
		Report:   cfg.Report,
		Journal:  journal,
		Jobs:     sched,
		Channels: manager,
	}, logger)

	// ── Channels ──
	filter, _ := cmd.Flags().GetStringSlice("channel")
	if cfg.Channels.Telegram.Enabled && shouldEnable("telegram", filter) {
		if err := manager.Register(telegram.New(cfg.Channels.Telegram, logger)); err != nil {
			logger.Error("failed to register Telegram", "error", err)
		}
	}
	if cfg.Channels.Discord.Enabled && shouldEnable("discord", filter) {
		if err := manager.Register(discord.New(cfg.Channels.Discord, logger)); err != nil {
			logger.Error("failed to register Discord", "error", err)
		}
	}
	if !manager.HasChannels() {
		return errors.New("no channel enabled: set channels.telegram.enabled or channels.discord.enabled")
	}
	if err := manager.Start(ctx); err != nil {
		manager.Stop()
		return fmt.Errorf("starting channels: %w", err)
	}

	var wg conc.WaitGroup
	dispatcher := bot.NewDispatcher(cfg.Bot.Dispatcher, manager, router, logger)
	wg.Go(func() { dispatcher.Run(ctx) })

	// ── Corpus watcher ──
	if cfg.Dialogue.WatchCorpus {
		watcher, err := dialogue.NewWatcher(cfg.Dialogue.LecturePath, cfg.Dialogue.WatchDebounce, pool.ReloadAll, logger)
		if err != nil {
			logger.Warn("corpus watcher disabled", "error", err)
		} else {
			wg.Go(func() { watcher.Run(ctx) })
		}
	}

	// ── Scheduled report ──
	if cfg.Schedule.Enabled {
		if reporter == nil {
			logger.Warn("scheduled report disabled, no report pipeline")
		} else if err := sched.Add(scheduler.Job{
			Name:     "report",
			Schedule: cfg.Schedule.Cron,
			Timeout:  cfg.Schedule.Timeout,
			Handler:  scheduledReport(router, manager, cfg.Schedule, logger),
		}); err != nil {
			return fmt.Errorf("scheduling report: %w", err)
		}
	}
	sched.Start()

	logger.Info("lectern running",
		"isolation", pool.Isolation(),
		"names", cfg.Bot.Names,
		"journal", store != nil,
		"schedule", cfg.Schedule.Enabled,
	)

	<-ctx.Done()
	logger.Info("shutting down")

	sched.Stop()
	manager.Stop()
	wg.Wait()
	return nil
}

// scheduledReport builds the report and sends it to the configured chat.
func scheduledReport(router *bot.Router, manager *channels.Manager, cfg config.ScheduleConfig, logger *slog.Logger) scheduler.Handler {
	return func(ctx context.Context) error {
		res, cleanup, err := router.BuildTransientReport(ctx)
		if err != nil {
			return fmt.Errorf("building report: %w", err)
		}
		defer cleanup()
		data, err := os.ReadFile(res.OutputPath)
		if err != nil {
			return fmt.Errorf("reading report: %w", err)
		}

		name := filepath.Base(res.OutputPath)
		err = manager.SendMedia(ctx, cfg.Channel, cfg.ChatID, &channels.MediaMessage{
			Type:     channels.MessageDocument,
			Data:     data,
			MimeType: mime.TypeByExtension(filepath.Ext(name)),
			Filename: name,
			Caption:  "📊 Отчёт по конференции",
		})
		if err != nil {
			return fmt.Errorf("delivering report to %s/%s: %w", cfg.Channel, cfg.ChatID, err)
		}
		logger.Info("scheduled report delivered", "channel", cfg.Channel, "chat_id", cfg.ChatID, "file", name)
		return nil
	}
}

// shouldEnable reports whether a channel passes the --channel filter.
func shouldEnable(name string, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if f == name {
			return true
		}
	}
	return false
}
