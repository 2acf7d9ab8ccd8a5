// Package provider implements the HTTP client for the upstream OAuth
// connect provider: building authorization links and exchanging
// authorization codes for access tokens.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const httpCallTimeout = 10 * time.Second

// TokenResult holds the outcome of an authorization code exchange.
type TokenResult struct {
	AccessToken string
	TokenType   string
	ExpiresIn   int
}

// Config carries the provider credentials and endpoints.
type Config struct {
	ClientID     string
	ClientSecret string
	ProjectID    string
	Environment  string
	AuthorizeURL string
	TokenURL     string
	RedirectURI  string
}

// Client talks to the connect provider.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: httpCallTimeout},
	}
}

// ConnectLink builds the authorization URL the user must visit to approve
// the connection. state carries the attempt identity and is validated on
// callback.
func (c *Client) ConnectLink(appSlug, externalUserID, state string, scopes []string) (string, error) {
	if len(scopes) == 0 {
		scopes = []string{"basic"}
	}

	u, err := url.Parse(c.cfg.AuthorizeURL)
	if err != nil {
		return "", fmt.Errorf("invalid authorize URL: %w", err)
	}

	q := url.Values{}
	q.Set("client_id", c.cfg.ClientID)
	q.Set("redirect_uri", c.cfg.RedirectURI)
	q.Set("response_type", "code")
	q.Set("app", appSlug)
	q.Set("external_user_id", externalUserID)
	q.Set("project_id", c.cfg.ProjectID)
	q.Set("environment", c.cfg.Environment)
	q.Set("scope", strings.Join(scopes, " "))
	q.Set("state", state)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// ExchangeCode swaps an authorization code for an access token.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*TokenResult, error) {
	data := url.Values{}
	data.Set("client_id", c.cfg.ClientID)
	data.Set("client_secret", c.cfg.ClientSecret)
	data.Set("code", code)
	data.Set("grant_type", "authorization_code")
	data.Set("redirect_uri", c.cfg.RedirectURI)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("provider returned no access token")
	}
	if tokenResp.TokenType == "" {
		tokenResp.TokenType = "bearer"
	}

	return &TokenResult{
		AccessToken: tokenResp.AccessToken,
		TokenType:   tokenResp.TokenType,
		ExpiresIn:   tokenResp.ExpiresIn,
	}, nil
}
