// Package idp is a client for the identity provider's authentication API:
// starting a PKCE login and exchanging the returned authorization code.
package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/alechenninger/gatehouse/internal/metrics"
	"github.com/alechenninger/gatehouse/internal/trust"
)

// ErrUnavailable is returned when the identity provider cannot be reached
// or answers with something other than a usable success response.
var ErrUnavailable = errors.New("identity provider unavailable")

const maxResponseSize = 1 << 20

// ResponseLocationQuery asks the provider to return the code as query parameters
const ResponseLocationQuery = "query"

// AuthenticationRequest starts a login
type AuthenticationRequest struct {
	RedirectURL         string `json:"redirectUrl"`
	CodeChallengeMethod string `json:"codeChallengeMethod"`
	CodeChallenge       string `json:"codeChallenge"`
	ApplicationID       string `json:"applicationId,omitempty"`
	ResponseLocation    string `json:"responseLocation,omitempty"`
}

// AuthenticationResponse carries the URL the user must be sent to
type AuthenticationResponse struct {
	AuthenticationURL string `json:"authenticationUrl"`
}

// TokenRequest exchanges an authorization code for an access token
type TokenRequest struct {
	GrantType    string `json:"grant_type"`
	RedirectURI  string `json:"redirect_uri"`
	ClientID     string `json:"client_id,omitempty"`
	Code         string `json:"code"`
	CodeVerifier string `json:"code_verifier"`
}

// TokenResponse is the result of a successful code exchange
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
	ExpiresIn   int    `json:"expires_in,omitempty"`
	IDToken     string `json:"id_token,omitempty"`
}

// StatusError records a non-2xx answer from the provider
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request to %s failed with status %d", e.URL, e.StatusCode)
}

// Client calls the identity provider HTTP API
type Client struct {
	http    *http.Client
	metrics *metrics.Metrics
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the client used for provider calls
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.http = c
	}
}

// WithMetrics records provider calls
func WithMetrics(m *metrics.Metrics) Option {
	return func(client *Client) {
		client.metrics = m
	}
}

// NewClient creates a provider client
func NewClient(opts ...Option) *Client {
	c := &Client{
		http: &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartAuthentication registers a login attempt and returns the provider's login URL
func (c *Client) StartAuthentication(ctx context.Context, issuer string, req AuthenticationRequest) (*AuthenticationResponse, error) {
	endpoint := trust.NormalizeIssuer(issuer) + "/api/authentication"

	var resp AuthenticationResponse
	err := c.post(ctx, endpoint, req, &resp)
	if err == nil && resp.AuthenticationURL == "" {
		err = fmt.Errorf("%w: response has no authenticationUrl", ErrUnavailable)
	}
	c.metrics.UpstreamCall("start_authentication", err)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// ExchangeCode trades the authorization code of login attempt nonce for a token
func (c *Client) ExchangeCode(ctx context.Context, issuer, nonce string, req TokenRequest) (*TokenResponse, error) {
	endpoint := trust.NormalizeIssuer(issuer) + "/api/authentication/" + url.PathEscape(nonce) + "/tokens"
	if req.GrantType == "" {
		req.GrantType = "authorization_code"
	}

	var resp TokenResponse
	err := c.post(ctx, endpoint, req, &resp)
	if err == nil && resp.AccessToken == "" {
		err = fmt.Errorf("%w: response has no access_token", ErrUnavailable)
	}
	c.metrics.UpstreamCall("exchange_code", err)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, endpoint string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: failed to create request: %w", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %w", ErrUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %w", ErrUnavailable, &StatusError{StatusCode: resp.StatusCode, URL: endpoint})
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: failed to decode response: %w", ErrUnavailable, err)
	}
	return nil
}
