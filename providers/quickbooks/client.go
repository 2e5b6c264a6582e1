package quickbooks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-booksync/core"
	"github.com/goliatone/go-booksync/ratelimit"
)

const (
	defaultAuthURL    = "https://appcenter.intuit.com/connect/oauth2"
	defaultTokenURL   = "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer"
	defaultRevokeURL  = "https://developer.api.intuit.com/v2/oauth2/tokens/revoke"
	defaultAPIBaseURL = "https://quickbooks.api.intuit.com"

	defaultRequestTimeout   = 30 * time.Second
	maxResponseBodyBytes    = int64(1 << 20)
	defaultScope            = "com.intuit.quickbooks.accounting"
	defaultQueryResultLimit = 200
)

// Config carries the OAuth application credentials and endpoint overrides.
// Zero-value endpoints resolve to the production Intuit URLs.
type Config struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	RevokeURL    string
	APIBaseURL   string
	Scopes       []string

	RequestTimeout time.Duration
	HTTPClient     *http.Client
	Now            func() time.Time

	// RateLimit gates accounting API calls per realm. Nil disables
	// client-side pacing; 429s still surface as rate-limit errors.
	RateLimit ratelimit.Policy
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.AuthURL) == "" {
		c.AuthURL = defaultAuthURL
	}
	if strings.TrimSpace(c.TokenURL) == "" {
		c.TokenURL = defaultTokenURL
	}
	if strings.TrimSpace(c.RevokeURL) == "" {
		c.RevokeURL = defaultRevokeURL
	}
	if strings.TrimSpace(c.APIBaseURL) == "" {
		c.APIBaseURL = defaultAPIBaseURL
	}
	if len(c.Scopes) == 0 {
		c.Scopes = []string{defaultScope}
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.RequestTimeout}
	}
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
}

// Client talks to the QuickBooks Online OAuth and accounting APIs. It
// implements core.ProviderClient; retries and token refresh live above it.
type Client struct {
	cfg Config
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, goerrors.New(
			"quickbooks: client id and client secret are required",
			goerrors.CategoryValidation,
		).WithTextCode(core.SyncErrorBadInput)
	}
	cfg.applyDefaults()
	return &Client{cfg: cfg}, nil
}

// FromProviderConfig builds a client from the engine-level provider
// configuration block.
func FromProviderConfig(cfg core.ProviderConfig) (*Client, error) {
	return New(Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		AuthURL:      cfg.AuthURL,
		TokenURL:     cfg.TokenURL,
		RevokeURL:    cfg.RevokeURL,
		APIBaseURL:   cfg.APIBaseURL,
		Scopes:       cfg.Scopes,
	})
}

func (c *Client) AuthorizeURL(redirectURI string, state string) string {
	if c == nil {
		return ""
	}
	values := url.Values{}
	values.Set("response_type", "code")
	values.Set("client_id", c.cfg.ClientID)
	values.Set("scope", strings.Join(c.cfg.Scopes, " "))
	values.Set("state", state)
	if strings.TrimSpace(redirectURI) != "" {
		values.Set("redirect_uri", strings.TrimSpace(redirectURI))
	}

	authURL := c.cfg.AuthURL
	if strings.Contains(authURL, "?") {
		return authURL + "&" + values.Encode()
	}
	return authURL + "?" + values.Encode()
}

func (c *Client) ExchangeCode(ctx context.Context, code string, redirectURI string) (core.TokenPair, error) {
	if c == nil {
		return core.TokenPair{}, fmt.Errorf("quickbooks: client is nil")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return core.TokenPair{}, goerrors.New(
			"quickbooks: authorization code is required",
			goerrors.CategoryValidation,
		).WithTextCode(core.SyncErrorBadInput)
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	if redirectURI = strings.TrimSpace(redirectURI); redirectURI != "" {
		form.Set("redirect_uri", redirectURI)
	}
	return c.fetchToken(ctx, form)
}

func (c *Client) RefreshTokens(ctx context.Context, refreshToken string) (core.TokenPair, error) {
	if c == nil {
		return core.TokenPair{}, fmt.Errorf("quickbooks: client is nil")
	}
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return core.TokenPair{}, goerrors.New(
			"quickbooks: refresh token is required",
			goerrors.CategoryValidation,
		).WithTextCode(core.SyncErrorBadInput)
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return c.fetchToken(ctx, form)
}

func (c *Client) RevokeToken(ctx context.Context, refreshToken string) error {
	if c == nil {
		return fmt.Errorf("quickbooks: client is nil")
	}
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	payload, err := json.Marshal(map[string]string{"token": refreshToken})
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(requestCtx, http.MethodPost, c.cfg.RevokeURL, strings.NewReader(string(payload)))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)

	response, err := c.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return wrapTransportError("revoke token", err)
	}
	defer response.Body.Close()
	io.Copy(io.Discard, io.LimitReader(response.Body, maxResponseBodyBytes))

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return classifyStatus("revoke token", response, nil)
	}
	return nil
}

type tokenEndpointPayload struct {
	AccessToken          string `json:"access_token"`
	RefreshToken         string `json:"refresh_token"`
	TokenType            string `json:"token_type"`
	ExpiresIn            int64  `json:"expires_in"`
	XRefreshTokenExpires int64  `json:"x_refresh_token_expires_in"`
	ErrorCode            string `json:"error"`
	ErrorDescription     string `json:"error_description"`
}

func (c *Client) fetchToken(ctx context.Context, form url.Values) (core.TokenPair, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	requestCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(
		requestCtx,
		http.MethodPost,
		c.cfg.TokenURL,
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return core.TokenPair{}, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)

	response, err := c.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return core.TokenPair{}, wrapTransportError("token request", err)
	}
	defer response.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(response.Body, maxResponseBodyBytes+1))
	if readErr != nil {
		return core.TokenPair{}, fmt.Errorf("quickbooks: read token response: %w", readErr)
	}
	if int64(len(body)) > maxResponseBodyBytes {
		return core.TokenPair{}, fmt.Errorf("quickbooks: token response exceeds %d bytes", maxResponseBodyBytes)
	}

	var payload tokenEndpointPayload
	if unmarshalErr := json.Unmarshal(body, &payload); unmarshalErr != nil {
		if response.StatusCode >= http.StatusBadRequest {
			return core.TokenPair{}, classifyStatus("token request", response, body)
		}
		return core.TokenPair{}, fmt.Errorf("quickbooks: decode token response: %w", unmarshalErr)
	}

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices || payload.ErrorCode != "" {
		description := strings.TrimSpace(payload.ErrorDescription)
		if description == "" {
			description = strings.TrimSpace(payload.ErrorCode)
		}
		if description == "" {
			description = "unknown error"
		}
		category := goerrors.CategoryExternal
		textCode := core.SyncErrorProvider
		if payload.ErrorCode == "invalid_grant" || response.StatusCode == http.StatusBadRequest || response.StatusCode == http.StatusUnauthorized {
			category = goerrors.CategoryAuth
			textCode = core.SyncErrorAuthRequired
		}
		return core.TokenPair{}, goerrors.New(
			fmt.Sprintf("quickbooks: token endpoint error (%d): %s", response.StatusCode, description),
			category,
		).WithTextCode(textCode)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return core.TokenPair{}, fmt.Errorf("quickbooks: token endpoint response missing access token")
	}

	pair := core.TokenPair{
		AccessToken:  strings.TrimSpace(payload.AccessToken),
		RefreshToken: strings.TrimSpace(payload.RefreshToken),
	}
	if payload.ExpiresIn > 0 {
		expiresAt := c.cfg.Now().UTC().Add(time.Duration(payload.ExpiresIn) * time.Second)
		pair.ExpiresAt = &expiresAt
	}
	return pair, nil
}

func wrapTransportError(operation string, err error) error {
	return goerrors.Wrap(
		err,
		goerrors.CategoryExternal,
		fmt.Sprintf("quickbooks: %s failed", operation),
	).WithTextCode(core.SyncErrorProvider)
}

// classifyStatus maps a non-2xx response to the engine's error taxonomy.
// 401 demands a refresh, 429 carries the Retry-After hint, everything
// else is a provider fault with whatever detail the body held.
func classifyStatus(operation string, response *http.Response, body []byte) error {
	detail := extractFaultDetail(body)
	switch {
	case response.StatusCode == http.StatusUnauthorized:
		return goerrors.New(
			fmt.Sprintf("quickbooks: %s unauthorized (401): %s", operation, detail),
			goerrors.CategoryAuth,
		).WithTextCode(core.SyncErrorAuthRequired)
	case response.StatusCode == http.StatusTooManyRequests:
		err := goerrors.New(
			fmt.Sprintf("quickbooks: %s rate limited (429): %s", operation, detail),
			goerrors.CategoryRateLimit,
		).WithTextCode(core.SyncErrorRateLimited)
		if retryAfter := strings.TrimSpace(response.Header.Get("Retry-After")); retryAfter != "" {
			err = err.WithMetadata(map[string]any{"retry_after": retryAfter})
		}
		return err
	case response.StatusCode >= http.StatusInternalServerError:
		return goerrors.New(
			fmt.Sprintf("quickbooks: %s failed (%d): %s", operation, response.StatusCode, detail),
			goerrors.CategoryExternal,
		).WithTextCode(core.SyncErrorProvider)
	default:
		return goerrors.New(
			fmt.Sprintf("quickbooks: %s rejected (%d): %s", operation, response.StatusCode, detail),
			goerrors.CategoryOperation,
		).WithTextCode(core.SyncErrorProvider)
	}
}

type faultEnvelope struct {
	Fault struct {
		Error []struct {
			Message string `json:"Message"`
			Detail  string `json:"Detail"`
			Code    string `json:"code"`
		} `json:"Error"`
		Type string `json:"type"`
	} `json:"Fault"`
}

func extractFaultDetail(body []byte) string {
	if len(body) == 0 {
		return "no response body"
	}
	var envelope faultEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Fault.Error) > 0 {
		first := envelope.Fault.Error[0]
		detail := strings.TrimSpace(first.Detail)
		if detail == "" {
			detail = strings.TrimSpace(first.Message)
		}
		if detail != "" {
			if first.Code != "" {
				return fmt.Sprintf("%s (code %s)", detail, first.Code)
			}
			return detail
		}
	}
	trimmed := strings.TrimSpace(string(body))
	if len(trimmed) > 256 {
		trimmed = trimmed[:256]
	}
	return trimmed
}
