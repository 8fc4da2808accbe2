package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jholhewres/lectern/pkg/lectern/config"
)

// newConfigCmd creates `lectern config`.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration and manage secrets",
		Long: `Inspect the configuration and manage secrets in the OS keyring.

Secret names: ` + strings.Join(config.SecretKeys(), ", ") + `

Examples:
  lectern config show
  lectern config validate
  lectern config set-key llm_api_key
  lectern config delete-key telegram_token`,
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigValidateCmd(),
		newConfigSetKeyCmd(),
		newConfigDeleteKeyCmd(),
	)
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			config.ResolveSecrets(cfg, nil)

			masked := *cfg
			masked.LLM.APIKey = mask(cfg.LLM.APIKey)
			masked.STTBackend.APIKey = mask(cfg.STTBackend.APIKey)
			masked.Channels.Telegram.Token = mask(cfg.Channels.Telegram.Token)
			masked.Channels.Discord.Token = mask(cfg.Channels.Discord.Token)

			data, err := yaml.Marshal(&masked)
			if err != nil {
				return fmt.Errorf("marshaling config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", path, data)
			return nil
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration for errors",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			config.ResolveSecrets(cfg, nil)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("%s:\n%w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ %s is valid\n", path)
			return nil
		},
	}
}

func newConfigSetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-key <name>",
		Short: "Store a secret in the OS keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := config.ReadPassword(fmt.Sprintf("%s: ", args[0]))
			if err != nil {
				return err
			}
			if value == "" {
				return fmt.Errorf("empty value, nothing stored")
			}
			if err := config.StoreKeyring(args[0], value); err != nil {
				return fmt.Errorf("storing in keyring: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ %s stored in the OS keyring (service %q)\n", args[0], config.KeyringService)
			return nil
		},
	}
}

func newConfigDeleteKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-key <name>",
		Short: "Remove a secret from the OS keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.DeleteKeyring(args[0]); err != nil {
				return fmt.Errorf("deleting from keyring: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s removed\n", args[0])
			return nil
		},
	}
}

// mask keeps the last four characters of a secret.
func mask(s string) string {
	switch {
	case s == "":
		return ""
	case config.IsEnvReference(s):
		return s
	case len(s) <= 8:
		return "****"
	default:
		return "****" + s[len(s)-4:]
	}
}
