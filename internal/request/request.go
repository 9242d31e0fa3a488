// Package request provides the generic request and response types exchanged
// between the edge adapter, the router and the authorization gateway.
//
// A Request is built once per invocation from the CDN event and is treated as
// immutable afterwards, except for the origin header the adapter derives.
package request

import (
	"strings"

	"github.com/alechenninger/gatehouse/internal/headers"
)

// Origin custom header names carried on the CDN origin configuration
const (
	HeaderIssuer        = "x-issuer"
	HeaderApplicationID = "x-authress-application-id"
	HeaderServiceName   = "x-service-name"
)

// ProxyParameter is the wildcard path parameter holding the proxied path
const ProxyParameter = "proxy"

// Request is the generic, CDN-independent view of an inbound request
type Request struct {
	// Path is the request path with the API prefix removed
	Path string `json:"path"`

	// Method is the HTTP verb
	Method string `json:"method"`

	// Headers are the inbound request headers
	Headers headers.Header `json:"headers"`

	// QueryParameters is the decoded query string; the last value wins for repeated keys
	QueryParameters map[string]string `json:"queryParameters,omitempty"`

	// PathParameters holds the wildcard proxy parameter
	PathParameters map[string]string `json:"pathParameters,omitempty"`

	// Body is parsed JSON, a form-decoded map[string]string, or nil
	Body any `json:"body,omitempty"`

	// Context carries CDN metadata about the request
	Context Context `json:"requestContext"`
}

// Context contains metadata that does not come from the client
type Context struct {
	// CustomHeaders are the headers configured on the CDN origin
	// (x-issuer, x-authress-application-id, x-service-name)
	CustomHeaders headers.Header `json:"customHeaders"`

	// OriginDomain is the domain name of the configured origin
	OriginDomain string `json:"originDomain,omitempty"`

	// RequestID is the CDN request identifier
	RequestID string `json:"requestId,omitempty"`

	// InvocationID correlates log records and error responses for one invocation
	InvocationID string `json:"invocationId,omitempty"`
}

// Host returns the request host header
func (r *Request) Host() string {
	return r.Headers.Get("host")
}

// Query returns a query parameter value
func (r *Request) Query(name string) string {
	if r.QueryParameters == nil {
		return ""
	}
	return r.QueryParameters[name]
}

// CustomHeader returns a trimmed origin custom header value
func (r *Request) CustomHeader(name string) string {
	if r.Context.CustomHeaders.Len() == 0 {
		return ""
	}
	return strings.TrimSpace(r.Context.CustomHeaders.Get(name))
}

// Response is a generic response produced by the router or the gateway.
//
// Header values are untyped because handlers may hand back arbitrary values;
// the edge adapter only forwards primitives.
type Response struct {
	StatusCode        int              `json:"statusCode"`
	Headers           map[string]any   `json:"headers,omitempty"`
	MultiValueHeaders map[string][]any `json:"multiValueHeaders,omitempty"`
	Body              any              `json:"body,omitempty"`

	// IsBase64Encoded marks Body as an already base64-encoded string
	IsBase64Encoded bool `json:"isBase64Encoded,omitempty"`
}

// SetHeader sets a single-valued header, allocating the map if needed
func (r *Response) SetHeader(name string, value any) {
	if r.Headers == nil {
		r.Headers = make(map[string]any)
	}
	r.Headers[name] = value
}

// AddMultiValueHeader appends a value to a multi-valued header
func (r *Response) AddMultiValueHeader(name string, value any) {
	if r.MultiValueHeaders == nil {
		r.MultiValueHeaders = make(map[string][]any)
	}
	r.MultiValueHeaders[name] = append(r.MultiValueHeaders[name], value)
}
