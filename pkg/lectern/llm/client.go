// Package llm talks to OpenAI-compatible chat-completion and audio
// transcription endpoints. GigaChat is supported through its OAuth token
// exchange; every other provider uses a static bearer key.
package llm

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a chat transcript.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

const (
	ProviderOpenAI   = "openai"
	ProviderGigaChat = "gigachat"
)

// Config configures one LLM endpoint.
type Config struct {
	// Provider is "openai" (any compatible API) or "gigachat".
	Provider string `yaml:"provider"`

	// BaseURL is the API root, e.g. https://api.openai.com/v1.
	BaseURL string `yaml:"base_url"`

	// APIKey is the bearer key, or the GigaChat authorization key
	// (already base64 client_id:secret) for the OAuth exchange.
	APIKey string `yaml:"api_key"`

	// Model is the chat model name.
	Model string `yaml:"model"`

	// AuthURL and Scope configure the GigaChat token exchange.
	AuthURL string `yaml:"auth_url"`
	Scope   string `yaml:"scope"`

	// Temperature and MaxTokens are sent when set.
	Temperature *float64 `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`

	// Timeout bounds a single request. Zero means no client-side limit.
	Timeout time.Duration `yaml:"timeout"`

	// InsecureSkipVerify disables TLS verification (GigaChat endpoints are
	// signed by a CA most systems do not trust).
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// DefaultConfig returns GigaChat defaults.
func DefaultConfig() Config {
	return Config{
		Provider: ProviderGigaChat,
		BaseURL:  "https://gigachat.devices.sberbank.ru/api/v1",
		Model:    "GigaChat",
		AuthURL:  "https://ngw.devices.sberbank.ru:9443/api/v2/oauth",
		Scope:    "GIGACHAT_API_PERS",
		Timeout:  120 * time.Second,
	}
}

// Client is a chat-completion client. It is safe for concurrent use.
type Client struct {
	cfg        Config
	baseURL    string
	transport  *http.Transport
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a client. No network call happens until the first request.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: api key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Provider == "" {
		cfg.Provider = ProviderOpenAI
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
		IdleConnTimeout:       120 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 180 * time.Second,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	var source oauth2.TokenSource
	switch cfg.Provider {
	case ProviderGigaChat:
		source = oauth2.ReuseTokenSource(nil, newGigaChatTokenSource(cfg, &http.Client{Transport: transport}))
	case ProviderOpenAI:
		source = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.APIKey, TokenType: "Bearer"})
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}

	return &Client{
		cfg:       cfg,
		baseURL:   strings.TrimRight(baseURL, "/"),
		transport: transport,
		httpClient: &http.Client{
			Transport: &oauth2.Transport{Source: source, Base: transport},
		},
		logger: logger.With("component", "llm", "provider", cfg.Provider),
	}, nil
}

// Close drops idle connections. The client must not be used afterwards.
func (c *Client) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Chat sends the full transcript and returns the assistant reply text.
func (c *Client) Chat(ctx context.Context, messages []Message) (string, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	bodyBytes, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("sending chat completion",
		"model", c.cfg.Model,
		"messages", len(messages),
		"endpoint", endpoint,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	bodyStr := string(respBody)

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("API error",
			"model", c.cfg.Model,
			"status", resp.StatusCode,
			"body", truncate(bodyStr, 500),
		)
		return "", newAPIError(resp.StatusCode, bodyStr)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	if chatResp.Error != nil {
		return "", newAPIError(resp.StatusCode, chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no response from model")
	}

	choice := chatResp.Choices[0]
	c.logger.Info("chat completion done",
		"model", c.cfg.Model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", chatResp.Usage.PromptTokens,
		"completion_tokens", chatResp.Usage.CompletionTokens,
		"finish_reason", choice.FinishReason,
	)
	return strings.TrimSpace(choice.Message.Content), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
