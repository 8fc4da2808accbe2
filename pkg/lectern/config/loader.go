package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR}, ${VAR:-default}, ${VAR:?message} and $VAR.
//
// Groups: 1 name in braces, 2 modifier ("-" or "?"), 3 default or message,
// 4 bare name.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::(-|\?)([^}]*))?\}|\$([A-Z_][A-Z0-9_]*)`)

// Env files read before expansion. Existing variables win.
var envFiles = []string{".env", ".env.local"}

// Load reads a YAML file over the defaults. .env files are loaded first and
// environment references are expanded before parsing; a ${VAR:?message}
// whose variable is unset fails the load.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded, err := expandEnv(string(data))
	if err != nil {
		return nil, fmt.Errorf("expanding environment variables: %w", err)
	}

	cfg, err := Parse([]byte(expanded))
	if err != nil {
		return nil, err
	}

	resolveSecrets(cfg)
	resolveRelativePaths(cfg, path)
	checkFilePermissions(path)
	return cfg, nil
}

// Parse overlays YAML bytes on DefaultConfig.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

// Save writes cfg as YAML with owner-only permissions. Secrets that came
// from the environment are written back as references. The previous file
// is kept as path.bak.
func Save(cfg *Config, path string) error {
	sanitized := *cfg
	sanitized.LLM.APIKey = sanitizeSecret(cfg.LLM.APIKey, envLLMKey)
	sanitized.STTBackend.APIKey = sanitizeSecret(cfg.STTBackend.APIKey, envSTTKey)
	sanitized.Channels.Telegram.Token = sanitizeSecret(cfg.Channels.Telegram.Token, envTelegramToken)
	sanitized.Channels.Discord.Token = sanitizeSecret(cfg.Channels.Discord.Token, envDiscordToken)

	data, err := yaml.Marshal(&sanitized)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if existing, err := os.ReadFile(path); err == nil {
		_ = os.WriteFile(path+".bak", existing, 0o600)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// FindConfigFile returns the first config file found in the usual places,
// or "".
func FindConfigFile() string {
	candidates := []string{
		"config.yaml",
		"config.yml",
		"lectern.yaml",
		"lectern.yml",
		"configs/config.yaml",
		"configs/lectern.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func loadEnvFiles() {
	for _, f := range envFiles {
		// godotenv.Load never overwrites variables that are already set.
		_ = godotenv.Load(f)
	}
}

// expandEnv replaces environment references. Unset ${VAR} and $VAR are
// left as written; ${VAR:-d} becomes d; ${VAR:?m} is an error.
func expandEnv(input string) (string, error) {
	var missing error
	out := envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		sub := envVarPattern.FindStringSubmatch(match)
		name, modifier, value, bare := sub[1], sub[2], sub[3], sub[4]

		if bare != "" {
			if v, ok := os.LookupEnv(bare); ok {
				return v
			}
			return match
		}

		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		switch modifier {
		case "-":
			return value
		case "?":
			if missing == nil {
				if value == "" {
					value = "required environment variable not set"
				}
				missing = fmt.Errorf("%s: %s", name, value)
			}
			return ""
		}
		return match
	})
	if missing != nil {
		return "", missing
	}
	return out, nil
}

// IsEnvReference reports whether s is an unexpanded variable reference.
func IsEnvReference(s string) bool {
	return strings.HasPrefix(s, "$")
}

func sanitizeSecret(value, envVar string) string {
	if value == "" || IsEnvReference(value) {
		return value
	}
	if os.Getenv(envVar) == value {
		return "${" + envVar + "}"
	}
	return value
}

func resolveRelativePaths(cfg *Config, configPath string) {
	dir := filepath.Dir(configPath)

	cfg.Dialogue.LecturePath = resolvePath(cfg.Dialogue.LecturePath, dir)
	for i, src := range cfg.Report.Sources {
		cfg.Report.Sources[i] = resolvePath(src, dir)
	}
	cfg.Report.Output = resolvePath(cfg.Report.Output, dir)
	cfg.Report.Chart.Sandbox.TempDir = resolvePath(cfg.Report.Chart.Sandbox.TempDir, dir)
	cfg.Journal.Path = resolvePath(cfg.Journal.Path, dir)
	cfg.Bot.Dispatcher.VoiceDir = resolvePath(cfg.Bot.Dispatcher.VoiceDir, dir)
	cfg.Logging.File = resolvePath(cfg.Logging.File, dir)
}

// resolvePath expands ~ and makes a relative path absolute against dir.
func resolvePath(path, dir string) string {
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		path = filepath.Join(home, path[2:])
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// checkFilePermissions warns when the config file is readable by others.
func checkFilePermissions(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if mode := info.Mode().Perm(); mode&0o044 != 0 {
		slog.Warn("config file has open permissions, consider restricting",
			"path", path,
			"current", fmt.Sprintf("%04o", mode),
			"fix", fmt.Sprintf("chmod 600 %s", path),
		)
	}
}
