package httpfixture

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrNoFixture is returned for requests no rule matches when there is no fallback
var ErrNoFixture = errors.New("no fixture matches request")

// Transport is an http.RoundTripper that answers from fixtures
type Transport struct {
	provider Provider
	fallback http.RoundTripper
}

// TransportOption configures a Transport
type TransportOption func(*Transport)

// WithFallback sends unmatched requests to rt instead of failing them
func WithFallback(rt http.RoundTripper) TransportOption {
	return func(t *Transport) {
		t.fallback = rt
	}
}

// NewTransport creates a transport serving fixtures from provider
func NewTransport(provider Provider, opts ...TransportOption) *Transport {
	t := &Transport{provider: provider}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RoundTrip implements http.RoundTripper
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	f := t.provider.GetFixture(req)
	if f == nil {
		if t.fallback != nil {
			return t.fallback.RoundTrip(req)
		}
		return nil, fmt.Errorf("%w: %s %s", ErrNoFixture, req.Method, req.URL)
	}

	if f.Delay > 0 {
		timer := time.NewTimer(f.Delay)
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}
	}

	status := f.StatusCode
	if status == 0 {
		status = http.StatusOK
	}

	header := make(http.Header, len(f.Headers))
	for name, value := range f.Headers {
		header.Set(name, value)
	}

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(f.Body)),
		ContentLength: int64(len(f.Body)),
		Request:       req,
	}, nil
}
