// Package config defines the lectern configuration file, its defaults and
// validation, and the logging setup derived from it.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jholhewres/lectern/pkg/lectern/bot"
	"github.com/jholhewres/lectern/pkg/lectern/channels/discord"
	"github.com/jholhewres/lectern/pkg/lectern/channels/telegram"
	"github.com/jholhewres/lectern/pkg/lectern/dialogue"
	"github.com/jholhewres/lectern/pkg/lectern/journal"
	"github.com/jholhewres/lectern/pkg/lectern/llm"
	"github.com/jholhewres/lectern/pkg/lectern/report"
	"github.com/jholhewres/lectern/pkg/lectern/stt"
	"github.com/jholhewres/lectern/pkg/lectern/trigger"
)

// Config is the root configuration.
type Config struct {
	// Name identifies this deployment in logs.
	Name string `yaml:"name"`

	LLM llm.Config `yaml:"llm"`
	STT stt.Config `yaml:"stt"`

	// STTBackend is the OpenAI-compatible transcription endpoint. When
	// base_url is empty the llm section is used.
	STTBackend llm.Config `yaml:"stt_backend"`

	Dialogue dialogue.Config `yaml:"dialogue"`
	Bot      BotConfig       `yaml:"bot"`
	Report   report.Config   `yaml:"report"`
	Schedule ScheduleConfig  `yaml:"schedule"`
	Journal  journal.Config  `yaml:"journal"`
	Channels ChannelsConfig  `yaml:"channels"`
	Logging  LoggingConfig   `yaml:"logging"`
}

// BotConfig configures message routing.
type BotConfig struct {
	// Names are the words that address the bot at the start of a message.
	Names []string `yaml:"names"`

	Dispatcher bot.DispatcherConfig `yaml:"dispatcher"`
}

// ScheduleConfig delivers a report on a cron schedule.
type ScheduleConfig struct {
	Enabled bool `yaml:"enabled"`

	// Cron is a standard 5-field expression or a descriptor like "@daily".
	Cron string `yaml:"cron"`

	// Channel and ChatID name where the report file is sent.
	Channel string `yaml:"channel"`
	ChatID  string `yaml:"chat_id"`

	// Timeout bounds one scheduled run.
	Timeout time.Duration `yaml:"timeout"`
}

// ChannelsConfig holds the chat platform settings.
type ChannelsConfig struct {
	Telegram telegram.Config `yaml:"telegram"`
	Discord  discord.Config  `yaml:"discord"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is "json" or "text".
	Format string `yaml:"format"`

	// File, when set, receives a rotated copy of every log line.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// SpeechBackend returns the client settings used for transcription.
func (c *Config) SpeechBackend() llm.Config {
	if c.STTBackend.BaseURL == "" {
		return c.LLM
	}
	b := c.STTBackend
	if b.Provider == "" {
		b.Provider = llm.ProviderOpenAI
	}
	if b.Timeout == 0 {
		b.Timeout = c.STT.Timeout
	}
	return b
}

// DefaultConfig returns the configuration used when the file omits a value.
func DefaultConfig() *Config {
	return &Config{
		Name:     "lectern",
		LLM:      llm.DefaultConfig(),
		STT:      stt.DefaultConfig(),
		Dialogue: dialogue.DefaultConfig(),
		Bot: BotConfig{
			Names: append([]string(nil), trigger.DefaultNames...),
		},
		Report: report.DefaultConfig(),
		Schedule: ScheduleConfig{
			Channel: "telegram",
			Timeout: 15 * time.Minute,
		},
		Journal: journal.Config{Path: "./data/journal.db"},
		Channels: ChannelsConfig{
			Telegram: telegram.DefaultConfig(),
			Discord:  discord.DefaultConfig(),
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Validate reports every problem found, joined into one error.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(c.Dialogue.LecturePath) == "" {
		add("dialogue.lecture_path is required")
	}
	switch c.Dialogue.Isolation {
	case "", dialogue.IsolationShared, dialogue.IsolationPerChat:
	default:
		add("dialogue.isolation: unknown mode %q (want shared or per_chat)", c.Dialogue.Isolation)
	}
	switch c.LLM.Provider {
	case llm.ProviderOpenAI, llm.ProviderGigaChat:
	default:
		add("llm.provider: unknown provider %q", c.LLM.Provider)
	}
	if c.LLM.BaseURL == "" {
		add("llm.base_url is required")
	}

	durations := []struct {
		key      string
		value    time.Duration
		required bool
	}{
		{"llm.timeout", c.LLM.Timeout, false},
		{"stt.timeout", c.STT.Timeout, true},
		{"report.chart.timeout", c.Report.Chart.Timeout, true},
		{"report.chart.sandbox.timeout", c.Report.Chart.Sandbox.Timeout, true},
		{"report.converter.timeout", c.Report.Converter.Timeout, false},
		{"dialogue.watch_debounce", c.Dialogue.WatchDebounce, false},
		{"channels.telegram.admin_cache_ttl", c.Channels.Telegram.AdminCacheTTL, false},
	}
	for _, d := range durations {
		switch {
		case d.value < 0:
			add("%s must not be negative", d.key)
		case d.required && d.value == 0:
			add("%s must be positive", d.key)
		}
	}

	if len(c.Bot.Names) == 0 {
		add("bot.names must list at least one name")
	}

	if c.Schedule.Enabled {
		if c.Schedule.Cron == "" {
			add("schedule.cron is required when the schedule is enabled")
		}
		if c.Schedule.ChatID == "" {
			add("schedule.chat_id is required when the schedule is enabled")
		}
		if c.Schedule.Timeout <= 0 {
			add("schedule.timeout must be positive")
		}
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		add("journal.path is required when the journal is enabled")
	}
	if c.Channels.Telegram.Enabled && c.Channels.Telegram.Token == "" {
		add("channels.telegram.token is required")
	}
	if c.Channels.Discord.Enabled && c.Channels.Discord.Token == "" {
		add("channels.discord.token is required")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text":
	default:
		add("logging.format: unknown format %q", c.Logging.Format)
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		add("logging.level: %v", err)
	}

	return errors.Join(errs...)
}
