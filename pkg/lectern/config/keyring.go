package config

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

// KeyringService is the service name under which secrets are stored in the
// OS keyring.
const KeyringService = "lectern"

// Keyring entry names.
const (
	KeyLLMAPIKey     = "llm_api_key"
	KeySTTAPIKey     = "stt_api_key"
	KeyTelegramToken = "telegram_token"
	KeyDiscordToken  = "discord_token"
)

// Environment variables consulted for secrets.
const (
	envLLMKey        = "LECTERN_LLM_API_KEY"
	envSTTKey        = "LECTERN_STT_API_KEY"
	envTelegramToken = "TELEGRAM_BOT_TOKEN"
	envDiscordToken  = "DISCORD_BOT_TOKEN"
)

// secret binds a config field to its keyring entry and env variables.
type secret struct {
	key   string
	envs  []string
	field func(*Config) *string
}

var secrets = []secret{
	{KeyLLMAPIKey, []string{envLLMKey, "GIGACHAT_CREDENTIALS", "OPENAI_API_KEY"}, func(c *Config) *string { return &c.LLM.APIKey }},
	{KeySTTAPIKey, []string{envSTTKey, "OPENAI_API_KEY"}, func(c *Config) *string { return &c.STTBackend.APIKey }},
	{KeyTelegramToken, []string{envTelegramToken}, func(c *Config) *string { return &c.Channels.Telegram.Token }},
	{KeyDiscordToken, []string{envDiscordToken}, func(c *Config) *string { return &c.Channels.Discord.Token }},
}

// SecretKeys lists the names accepted by StoreKeyring.
func SecretKeys() []string {
	keys := make([]string, len(secrets))
	for i, s := range secrets {
		keys[i] = s.key
	}
	return keys
}

// StoreKeyring saves a secret in the OS keyring.
func StoreKeyring(key, value string) error {
	if !knownSecret(key) {
		return fmt.Errorf("unknown secret %q (want one of %s)", key, strings.Join(SecretKeys(), ", "))
	}
	return keyring.Set(KeyringService, key, value)
}

// GetKeyring returns a secret from the OS keyring, or "" when absent or
// the keyring is unavailable.
func GetKeyring(key string) string {
	val, err := keyring.Get(KeyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret. A missing entry is not an error.
func DeleteKeyring(key string) error {
	if err := keyring.Delete(KeyringService, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return err
	}
	return nil
}

// ResolveSecrets fills secrets from the OS keyring, which takes precedence
// over environment variables and the config file.
func ResolveSecrets(cfg *Config, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, s := range secrets {
		if val := GetKeyring(s.key); val != "" {
			*s.field(cfg) = val
			logger.Debug("secret loaded from OS keyring", "key", s.key)
		}
	}
}

// resolveSecrets fills empty or unexpanded secrets from the environment.
func resolveSecrets(cfg *Config) {
	for _, s := range secrets {
		field := s.field(cfg)
		if *field != "" && !IsEnvReference(*field) {
			continue
		}
		for _, env := range s.envs {
			if val := os.Getenv(env); val != "" {
				*field = val
				break
			}
		}
	}
}

func knownSecret(key string) bool {
	for _, s := range secrets {
		if s.key == key {
			return true
		}
	}
	return false
}

// ReadPassword prompts on stderr and reads a secret without echo. Piped
// input is read as a plain line.
func ReadPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return strings.TrimSpace(line), nil
	}

	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}
