package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zalando/go-keyring"

	"github.com/jholhewres/lectern/pkg/lectern/dialogue"
	"github.com/jholhewres/lectern/pkg/lectern/llm"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("LECTERN_TEST_SET", "value")
	t.Setenv("LECTERN_TEST_EMPTY", "")
	os.Unsetenv("LECTERN_TEST_UNSET")

	tests := []struct {
		name    string
		in      string
		want    string
		wantErr string
	}{
		{name: "braces", in: "key: ${LECTERN_TEST_SET}", want: "key: value"},
		{name: "bare", in: "key: $LECTERN_TEST_SET", want: "key: value"},
		{name: "unset kept", in: "key: ${LECTERN_TEST_UNSET}", want: "key: ${LECTERN_TEST_UNSET}"},
		{name: "bare unset kept", in: "key: $LECTERN_TEST_UNSET", want: "key: $LECTERN_TEST_UNSET"},
		{name: "default used", in: "key: ${LECTERN_TEST_UNSET:-fallback}", want: "key: fallback"},
		{name: "default ignored", in: "key: ${LECTERN_TEST_SET:-fallback}", want: "key: value"},
		{name: "empty but set", in: "key: '${LECTERN_TEST_EMPTY:-x}'", want: "key: ''"},
		{name: "required set", in: "key: ${LECTERN_TEST_SET:?need it}", want: "key: value"},
		{name: "required missing", in: "key: ${LECTERN_TEST_UNSET:?set the token}", wantErr: "LECTERN_TEST_UNSET: set the token"},
		{name: "required no message", in: "${LECTERN_TEST_UNSET:?}", wantErr: "required environment variable not set"},
		{name: "lowercase bare ignored", in: "price: $x", want: "price: $x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := expandEnv(tt.in)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("expandEnv() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("expandEnv() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("expandEnv() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParse_OverlaysDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
dialogue:
  lecture_path: lecture.docx
  isolation: per_chat
stt:
  timeout: 45s
bot:
  names: [Лектор]
`))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Dialogue.Isolation != dialogue.IsolationPerChat {
		t.Errorf("Isolation = %q, want per_chat", cfg.Dialogue.Isolation)
	}
	if cfg.Dialogue.WatchDebounce != 2*time.Second {
		t.Errorf("WatchDebounce = %v, want default 2s", cfg.Dialogue.WatchDebounce)
	}
	if cfg.STT.Timeout != 45*time.Second {
		t.Errorf("STT.Timeout = %v, want 45s", cfg.STT.Timeout)
	}
	if !cfg.STT.Enabled || cfg.STT.Model != "whisper-1" {
		t.Errorf("STT defaults lost: %+v", cfg.STT)
	}
	if len(cfg.Bot.Names) != 1 || cfg.Bot.Names[0] != "Лектор" {
		t.Errorf("Names = %v", cfg.Bot.Names)
	}
	if !cfg.Report.Chart.Enabled || cfg.Report.Output != "Отчёт_по_конференции.pdf" {
		t.Errorf("report defaults lost: %+v", cfg.Report)
	}
	if !cfg.Channels.Telegram.RespondToGroups {
		t.Error("telegram defaults lost")
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse([]byte("dialogue: [unclosed")); err == nil {
		t.Error("Parse() error = nil, want YAML error")
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
llm:
  api_key: ${LECTERN_LLM_API_KEY}
dialogue:
  lecture_path: ${LECTERN_TEST_LECTURE:-data/lecture.txt}
report:
  sources: [transcript.docx, /abs/qa.docx]
  output: out/report.pdf
journal:
  enabled: true
  path: ~/journal.db
channels:
  telegram:
    enabled: true
    token: "${LECTERN_TEST_TG:?telegram token is required}"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LECTERN_LLM_API_KEY", "secret-key")
	t.Setenv("LECTERN_TEST_TG", "123:abc")
	os.Unsetenv("LECTERN_TEST_LECTURE")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LLM.APIKey != "secret-key" {
		t.Errorf("APIKey = %q", cfg.LLM.APIKey)
	}
	if cfg.Channels.Telegram.Token != "123:abc" {
		t.Errorf("Telegram.Token = %q", cfg.Channels.Telegram.Token)
	}
	if want := filepath.Join(dir, "data/lecture.txt"); cfg.Dialogue.LecturePath != want {
		t.Errorf("LecturePath = %q, want %q", cfg.Dialogue.LecturePath, want)
	}
	if want := filepath.Join(dir, "transcript.docx"); cfg.Report.Sources[0] != want {
		t.Errorf("Sources[0] = %q, want %q", cfg.Report.Sources[0], want)
	}
	if cfg.Report.Sources[1] != "/abs/qa.docx" {
		t.Errorf("Sources[1] = %q, want absolute path kept", cfg.Report.Sources[1])
	}
	if want := filepath.Join(dir, "out/report.pdf"); cfg.Report.Output != want {
		t.Errorf("Output = %q, want %q", cfg.Report.Output, want)
	}
	home, _ := os.UserHomeDir()
	if want := filepath.Join(home, "journal.db"); cfg.Journal.Path != want {
		t.Errorf("Journal.Path = %q, want %q", cfg.Journal.Path, want)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoad_RequiredVariableMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("llm:\n  api_key: ${LECTERN_TEST_MISSING:?api key needed}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	os.Unsetenv("LECTERN_TEST_MISSING")

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "api key needed") {
		t.Errorf("Load() error = %v, want the required-variable message", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() error = nil for a missing file")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Dialogue.LecturePath = "lecture.txt"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr []string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "no lecture", mutate: func(c *Config) { c.Dialogue.LecturePath = " " }, wantErr: []string{"dialogue.lecture_path"}},
		{name: "bad isolation", mutate: func(c *Config) { c.Dialogue.Isolation = "global" }, wantErr: []string{"dialogue.isolation"}},
		{name: "bad provider", mutate: func(c *Config) { c.LLM.Provider = "other" }, wantErr: []string{"llm.provider"}},
		{name: "negative timeout", mutate: func(c *Config) { c.LLM.Timeout = -time.Second }, wantErr: []string{"llm.timeout must not be negative"}},
		{name: "zero chart timeout", mutate: func(c *Config) { c.Report.Chart.Timeout = 0 }, wantErr: []string{"report.chart.timeout must be positive"}},
		{name: "no names", mutate: func(c *Config) { c.Bot.Names = nil }, wantErr: []string{"bot.names"}},
		{
			name:    "schedule incomplete",
			mutate:  func(c *Config) { c.Schedule.Enabled = true },
			wantErr: []string{"schedule.cron", "schedule.chat_id"},
		},
		{name: "telegram without token", mutate: func(c *Config) { c.Channels.Telegram.Enabled = true }, wantErr: []string{"channels.telegram.token"}},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: []string{"logging.level"}},
		{
			name: "collects all",
			mutate: func(c *Config) {
				c.Dialogue.LecturePath = ""
				c.Logging.Format = "xml"
			},
			wantErr: []string{"dialogue.lecture_path", "logging.format"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want errors %v", tt.wantErr)
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("Validate() = %v, want it to mention %q", err, want)
				}
			}
		})
	}
}

func TestSave_SanitizesSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "config.yaml")
	t.Setenv("TELEGRAM_BOT_TOKEN", "tg-token")

	cfg := DefaultConfig()
	cfg.Dialogue.LecturePath = "lecture.txt"
	cfg.Channels.Telegram.Token = "tg-token"
	cfg.LLM.APIKey = "inline-key"

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(data, []byte("${TELEGRAM_BOT_TOKEN}")) {
		t.Errorf("token not written as a reference:\n%s", data)
	}
	if !bytes.Contains(data, []byte("inline-key")) {
		t.Errorf("inline key lost:\n%s", data)
	}
	if cfg.Channels.Telegram.Token != "tg-token" {
		t.Error("Save() modified the caller's config")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("mode = %o, want 600", perm)
	}

	if err := Save(cfg, path); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path + ".bak"); err != nil {
		t.Errorf("backup not written: %v", err)
	}
}

func TestFindConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	if got := FindConfigFile(); got != "" {
		t.Errorf("FindConfigFile() = %q, want empty", got)
	}
	if err := os.WriteFile("lectern.yaml", []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}
	if got := FindConfigFile(); got != "lectern.yaml" {
		t.Errorf("FindConfigFile() = %q, want lectern.yaml", got)
	}
	if err := os.WriteFile("config.yaml", []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}
	if got := FindConfigFile(); got != "config.yaml" {
		t.Errorf("FindConfigFile() = %q, want config.yaml first", got)
	}
}

func TestKeyringSecrets(t *testing.T) {
	keyring.MockInit()

	if err := StoreKeyring("nope", "x"); err == nil {
		t.Error("StoreKeyring() accepted an unknown key")
	}
	if err := StoreKeyring(KeyLLMAPIKey, "from-keyring"); err != nil {
		t.Fatalf("StoreKeyring() error = %v", err)
	}

	cfg := DefaultConfig()
	cfg.LLM.APIKey = "from-env"
	cfg.Channels.Discord.Token = "discord-config"
	ResolveSecrets(cfg, nil)

	if cfg.LLM.APIKey != "from-keyring" {
		t.Errorf("APIKey = %q, want the keyring value", cfg.LLM.APIKey)
	}
	if cfg.Channels.Discord.Token != "discord-config" {
		t.Errorf("Discord.Token = %q, want the config value kept", cfg.Channels.Discord.Token)
	}

	if err := DeleteKeyring(KeyLLMAPIKey); err != nil {
		t.Fatalf("DeleteKeyring() error = %v", err)
	}
	if err := DeleteKeyring(KeyLLMAPIKey); err != nil {
		t.Errorf("DeleteKeyring() of a missing entry = %v, want nil", err)
	}
	if got := GetKeyring(KeyLLMAPIKey); got != "" {
		t.Errorf("GetKeyring() after delete = %q", got)
	}
}

func TestNewLogger(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer

	logger, closer, err := NewLogger(LoggingConfig{
		Level:  "warn",
		Format: "json",
		File:   filepath.Join(dir, "logs", "lectern.log"),
	}, false, &buf)
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "component", "test")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	if strings.Contains(buf.String(), "hidden") {
		t.Error("info line written at warn level")
	}
	if !strings.Contains(buf.String(), `"msg":"shown"`) {
		t.Errorf("stdout = %q, want JSON warn line", buf.String())
	}
	data, err := os.ReadFile(filepath.Join(dir, "logs", "lectern.log"))
	if err != nil {
		t.Fatalf("log file: %v", err)
	}
	if !strings.Contains(string(data), "shown") {
		t.Errorf("log file = %q", data)
	}

	buf.Reset()
	logger, _, err = NewLogger(LoggingConfig{Level: "error"}, true, &buf)
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug("debug line")
	if !strings.Contains(buf.String(), "debug line") {
		t.Error("verbose did not enable debug")
	}

	if _, _, err := NewLogger(LoggingConfig{Level: "chatty"}, false, &buf); err == nil {
		t.Error("NewLogger() accepted an unknown level")
	}
}

func TestSpeechBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.APIKey = "giga"
	if got := cfg.SpeechBackend(); got.Provider != "gigachat" || got.APIKey != "giga" {
		t.Errorf("SpeechBackend() = %+v, want the llm section", got)
	}

	cfg.STTBackend = llm.Config{BaseURL: "http://whisper.local/v1", APIKey: "w"}
	got := cfg.SpeechBackend()
	if got.Provider != llm.ProviderOpenAI || got.BaseURL != "http://whisper.local/v1" {
		t.Errorf("SpeechBackend() = %+v", got)
	}
	if got.Timeout != cfg.STT.Timeout {
		t.Errorf("Timeout = %v, want stt timeout %v", got.Timeout, cfg.STT.Timeout)
	}
}
