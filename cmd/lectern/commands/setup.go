package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/jholhewres/lectern/pkg/lectern/config"
	"github.com/jholhewres/lectern/pkg/lectern/dialogue"
	"github.com/jholhewres/lectern/pkg/lectern/llm"
)

// newSetupCmd creates `lectern setup`, the interactive config wizard.
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Create config.yaml step by step: lecture transcript, LLM provider,
chat channels and report options. API keys and bot tokens are stored in
the OS keyring, never in the file.

Examples:
  lectern setup
  lectern setup --config ./lectern.yaml`,
		RunE: runSetup,
	}
}

// setupAnswers collects the wizard input before it is applied to a Config.
type setupAnswers struct {
	lecture   string
	provider  string
	baseURL   string
	model     string
	apiKey    string
	names     string
	isolation string

	telegram      bool
	telegramToken string
	discord       bool
	discordToken  string

	journal bool
	output  string
}

func runSetup(cmd *cobra.Command, _ []string) error {
	target, _ := cmd.Root().PersistentFlags().GetString("config")
	if target == "" {
		target = "config.yaml"
	}

	cfg := config.DefaultConfig()
	ans := setupAnswers{
		provider:  cfg.LLM.Provider,
		model:     cfg.LLM.Model,
		names:     strings.Join(cfg.Bot.Names, ", "),
		isolation: string(cfg.Dialogue.Isolation),
		telegram:  true,
		output:    cfg.Report.Output,
	}

	required := func(s string) error {
		if strings.TrimSpace(s) == "" {
			return errors.New("required")
		}
		return nil
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("lectern setup").
				Description("The bot answers questions strictly from the lecture transcript."),
			huh.NewInput().
				Title("Lecture transcript (.txt or .docx)").
				Value(&ans.lecture).
				Validate(required),
			huh.NewInput().
				Title("Names that address the bot").
				Description("Comma separated. Add the bot @handle too.").
				Value(&ans.names).
				Validate(required),
			huh.NewSelect[string]().
				Title("Dialogue history").
				Options(
					huh.NewOption("Shared by all chats", string(dialogue.IsolationShared)),
					huh.NewOption("Separate per chat", string(dialogue.IsolationPerChat)),
				).
				Value(&ans.isolation),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("LLM provider").
				Options(
					huh.NewOption("GigaChat", llm.ProviderGigaChat),
					huh.NewOption("OpenAI-compatible API", llm.ProviderOpenAI),
				).
				Value(&ans.provider),
			huh.NewInput().
				Title("Model").
				Value(&ans.model),
			huh.NewInput().
				Title("API base URL").
				Description("Leave empty for the provider default.").
				Value(&ans.baseURL),
			huh.NewInput().
				Title("API key (GigaChat authorization key)").
				Description("Stored in the OS keyring. Leave empty to set it later.").
				EchoMode(huh.EchoModePassword).
				Value(&ans.apiKey),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable Telegram?").
				Value(&ans.telegram),
			huh.NewInput().
				Title("Telegram bot token").
				EchoMode(huh.EchoModePassword).
				Value(&ans.telegramToken),
			huh.NewConfirm().
				Title("Enable Discord?").
				Value(&ans.discord),
			huh.NewInput().
				Title("Discord bot token").
				EchoMode(huh.EchoModePassword).
				Value(&ans.discordToken),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Record answered questions for the report?").
				Value(&ans.journal),
			huh.NewInput().
				Title("Report file").
				Value(&ans.output).
				Validate(required),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("Setup cancelled.")
			return nil
		}
		return err
	}

	stored := ans.apply(cfg)

	if _, err := os.Stat(target); err == nil {
		overwrite := false
		if err := huh.NewConfirm().
			Title(fmt.Sprintf("%s exists. Overwrite? (a backup is kept)", target)).
			Value(&overwrite).
			Run(); err != nil || !overwrite {
			fmt.Println("Setup cancelled. Existing file kept.")
			return nil
		}
	}

	if err := config.Save(cfg, target); err != nil {
		return err
	}

	fmt.Printf("\n✅ Config written to %s\n", target)
	for _, line := range stored {
		fmt.Println("   " + line)
	}
	config.ResolveSecrets(cfg, nil)
	if err := cfg.Validate(); err != nil {
		fmt.Printf("\nStill missing:\n%v\n", err)
	}
	fmt.Println("\nStart the bot with: lectern serve")
	return nil
}

// apply copies the answers into cfg and stores secrets in the keyring.
// Secrets the keyring refuses are written as environment references.
// It returns one status line per secret.
func (ans *setupAnswers) apply(cfg *config.Config) []string {
	cfg.Dialogue.LecturePath = strings.TrimSpace(ans.lecture)
	cfg.Dialogue.Isolation = dialogue.Isolation(ans.isolation)
	cfg.Bot.Names = splitNames(ans.names)

	cfg.LLM.Provider = ans.provider
	if ans.model != "" {
		cfg.LLM.Model = ans.model
	}
	if ans.baseURL != "" {
		cfg.LLM.BaseURL = ans.baseURL
	} else if ans.provider == llm.ProviderOpenAI {
		cfg.LLM.BaseURL = "https://api.openai.com/v1"
	}

	cfg.Channels.Telegram.Enabled = ans.telegram
	cfg.Channels.Discord.Enabled = ans.discord
	cfg.Journal.Enabled = ans.journal
	cfg.Report.IncludeJournal = ans.journal
	cfg.Report.Output = ans.output

	var status []string
	store := func(key, value, env string, field *string) {
		if value == "" {
			return
		}
		if err := config.StoreKeyring(key, value); err != nil {
			*field = "${" + env + "}"
			status = append(status, fmt.Sprintf("%s: keyring unavailable, export %s instead", key, env))
			return
		}
		*field = ""
		status = append(status, fmt.Sprintf("%s: stored in the OS keyring", key))
	}
	store(config.KeyLLMAPIKey, ans.apiKey, "LECTERN_LLM_API_KEY", &cfg.LLM.APIKey)
	store(config.KeyTelegramToken, ans.telegramToken, "TELEGRAM_BOT_TOKEN", &cfg.Channels.Telegram.Token)
	store(config.KeyDiscordToken, ans.discordToken, "DISCORD_BOT_TOKEN", &cfg.Channels.Discord.Token)
	return status
}

func splitNames(s string) []string {
	var names []string
	for _, n := range strings.Split(s, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}
