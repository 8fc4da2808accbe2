package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// tokenRequestTimeout bounds one token exchange.
const tokenRequestTimeout = 30 * time.Second

// gigaChatTokenSource exchanges the authorization key for a short-lived
// access token. Callers wrap it in oauth2.ReuseTokenSource so the exchange
// only happens when the cached token expires.
type gigaChatTokenSource struct {
	authURL    string
	authKey    string
	scope      string
	httpClient *http.Client
}

func newGigaChatTokenSource(cfg Config, httpClient *http.Client) *gigaChatTokenSource {
	scope := cfg.Scope
	if scope == "" {
		scope = "GIGACHAT_API_PERS"
	}
	return &gigaChatTokenSource{
		authURL:    cfg.AuthURL,
		authKey:    cfg.APIKey,
		scope:      scope,
		httpClient: httpClient,
	}
}

type gigaChatTokenResponse struct {
	AccessToken string `json:"access_token"`
	// ExpiresAt is a Unix timestamp in milliseconds.
	ExpiresAt int64 `json:"expires_at"`
}

// Token implements oauth2.TokenSource.
func (s *gigaChatTokenSource) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), tokenRequestTimeout)
	defer cancel()

	form := url.Values{"scope": {s.scope}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("RqUID", uuid.NewString())
	req.Header.Set("Authorization", "Basic "+s.authKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, newAPIError(resp.StatusCode, string(body))
	}

	var tr gigaChatTokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("parsing token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("token response has no access_token")
	}

	tok := &oauth2.Token{AccessToken: tr.AccessToken, TokenType: "Bearer"}
	if tr.ExpiresAt > 0 {
		tok.Expiry = time.UnixMilli(tr.ExpiresAt)
	}
	return tok, nil
}
