package permission

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alechenninger/gatehouse/internal/metrics"
)

// HTTPClient checks permissions against an Authress-style REST API:
//
//	GET {base}/v1/users/{principal}/resources/{resource}/permissions/{action}
//
// A 2xx answer grants, 403 and 404 deny, anything else is unavailable.
type HTTPClient struct {
	baseURL   string
	accessKey string
	http      *http.Client
	metrics   *metrics.Metrics
}

// HTTPClientOption configures an HTTPClient
type HTTPClientOption func(*HTTPClient)

// WithBaseURL sets the API base. Without it the caller's issuer is used.
func WithBaseURL(base string) HTTPClientOption {
	return func(c *HTTPClient) {
		c.baseURL = strings.TrimRight(base, "/")
	}
}

// WithAccessKey sets a service credential. Without it the caller's token is forwarded.
func WithAccessKey(key string) HTTPClientOption {
	return func(c *HTTPClient) {
		c.accessKey = key
	}
}

// WithHTTPClient sets the client used for permission calls
func WithHTTPClient(client *http.Client) HTTPClientOption {
	return func(c *HTTPClient) {
		c.http = client
	}
}

// WithMetrics records permission calls
func WithMetrics(m *metrics.Metrics) HTTPClientOption {
	return func(c *HTTPClient) {
		c.metrics = m
	}
}

// NewHTTPClient creates a permission API client
func NewHTTPClient(opts ...HTTPClientOption) *HTTPClient {
	c := &HTTPClient{
		http: &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AuthorizeUser implements Client
func (c *HTTPClient) AuthorizeUser(ctx context.Context, principalID, resourceURI string, action Action) error {
	err := c.authorize(ctx, principalID, resourceURI, action)
	c.metrics.UpstreamCall("authorize_user", unavailableOnly(err))
	return err
}

func (c *HTTPClient) authorize(ctx context.Context, principalID, resourceURI string, action Action) error {
	caller, _ := CallerFrom(ctx)

	base := c.baseURL
	if base == "" {
		base = strings.TrimRight(caller.Issuer, "/")
	}
	if base == "" {
		return fmt.Errorf("%w: no permission API base URL", ErrUnavailable)
	}

	endpoint := fmt.Sprintf("%s/v1/users/%s/resources/%s/permissions/%s",
		base,
		url.PathEscape(principalID),
		url.PathEscape(resourceURI),
		url.PathEscape(string(action)),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to create request: %w", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	credential := c.accessKey
	if credential == "" {
		credential = caller.Token
	}
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s lacks %s on %s", ErrAccessDenied, principalID, action, resourceURI)
	default:
		return fmt.Errorf("%w: permission API returned status %d", ErrUnavailable, resp.StatusCode)
	}
}

// unavailableOnly treats a denial as a successful call
func unavailableOnly(err error) error {
	if err == nil || isDenied(err) {
		return nil
	}
	return err
}
