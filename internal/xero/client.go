// Package xero is an HTTP client for the Xero identity and accounting APIs.
package xero

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Default Xero endpoints, overridable in config for tests and sandboxes.
const (
	DefaultAuthorizeURL        = "https://login.xero.com/identity/connect/authorize"
	DefaultTokenURL            = "https://identity.xero.com/connect/token"
	DefaultConnectionsURL      = "https://api.xero.com/connections"
	DefaultBankTransactionsURL = "https://api.xero.com/api.xro/2.0/BankTransactions"

	defaultTimeout = 15 * time.Second
)

// ErrProviderUnavailable marks transport failures and 5xx responses. These
// are safe to retry later and never change the stored connection state.
var ErrProviderUnavailable = errors.New("xero is unavailable")

// RejectedError is a non-success, non-5xx provider response. The provider
// answered and refused; retrying the identical request will not help.
type RejectedError struct {
	StatusCode int
	Body       string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("xero rejected the request: status %d", e.StatusCode)
}

// Config holds the OAuth application credentials and endpoint URLs.
type Config struct {
	ClientID            string
	ClientSecret        string
	RedirectURI         string
	Scopes              string
	AuthorizeURL        string
	TokenURL            string
	ConnectionsURL      string
	BankTransactionsURL string
	Timeout             time.Duration
}

// Client calls Xero. All methods honor the configured request timeout.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a new Xero client, filling endpoint defaults.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.AuthorizeURL == "" {
		cfg.AuthorizeURL = DefaultAuthorizeURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.ConnectionsURL == "" {
		cfg.ConnectionsURL = DefaultConnectionsURL
	}
	if cfg.BankTransactionsURL == "" {
		cfg.BankTransactionsURL = DefaultBankTransactionsURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger.Named("xero_client"),
	}
}

// AuthorizeURL builds the provider redirect URL for the OAuth handshake.
func (c *Client) AuthorizeURL(state string) string {
	params := url.Values{}
	params.Set("response_type", "code")
	params.Set("client_id", c.cfg.ClientID)
	params.Set("redirect_uri", c.cfg.RedirectURI)
	params.Set("scope", c.cfg.Scopes)
	params.Set("state", state)

	return c.cfg.AuthorizeURL + "?" + params.Encode()
}

// ExchangeCode trades an authorization code for a token pair.
func (c *Client) ExchangeCode(ctx context.Context, code string) (TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", c.cfg.RedirectURI)

	return c.tokenRequest(ctx, form)
}

// RefreshToken trades a refresh token for a rotated token pair. Xero
// invalidates the presented refresh token on first use.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	return c.tokenRequest(ctx, form)
}

func (c *Client) tokenRequest(ctx context.Context, form url.Values) (TokenSet, error) {
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return TokenSet{}, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return TokenSet{}, fmt.Errorf("%w: %s", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return TokenSet{}, fmt.Errorf("%w: reading response: %s", ErrProviderUnavailable, err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return TokenSet{}, fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("Token request rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("grant_type", form.Get("grant_type")))
		return TokenSet{}, &RejectedError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var tokens TokenSet
	if err := json.Unmarshal(body, &tokens); err != nil {
		return TokenSet{}, fmt.Errorf("failed to decode token response: %w", err)
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		return TokenSet{}, fmt.Errorf("token response is missing tokens")
	}

	return tokens, nil
}

// Connections lists the tenants the access token is authorized for.
func (c *Client) Connections(ctx context.Context, accessToken string) ([]Tenant, error) {
	body, err := c.get(ctx, c.cfg.ConnectionsURL, accessToken, "")
	if err != nil {
		return nil, err
	}

	var tenants []Tenant
	if err := json.Unmarshal(body, &tenants); err != nil {
		return nil, fmt.Errorf("failed to decode connections response: %w", err)
	}

	return tenants, nil
}

// BankTransactions fetches the bank transactions of one tenant.
func (c *Client) BankTransactions(ctx context.Context, accessToken, tenantID string) ([]BankTransaction, error) {
	body, err := c.get(ctx, c.cfg.BankTransactionsURL, accessToken, tenantID)
	if err != nil {
		return nil, err
	}

	var parsed bankTransactionsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode bank transactions response: %w", err)
	}

	c.logger.Debug("Fetched bank transactions",
		zap.String("tenant_id", tenantID),
		zap.Int("count", len(parsed.BankTransactions)))

	return parsed.BankTransactions, nil
}

func (c *Client) get(ctx context.Context, endpoint, accessToken, tenantID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	if tenantID != "" {
		req.Header.Set("xero-tenant-id", tenantID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %s", ErrProviderUnavailable, err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &RejectedError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return body, nil
}
