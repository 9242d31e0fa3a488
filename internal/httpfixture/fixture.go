// Package httpfixture serves canned HTTP responses for outbound calls so the
// identity provider, key set and permission clients can run without network.
package httpfixture

import (
	"net/http"
	"time"
)

// Fixture is a canned response
type Fixture struct {
	StatusCode int               `json:"status" yaml:"status" koanf:"status"`
	Headers    map[string]string `json:"headers,omitempty" yaml:"headers,omitempty" koanf:"headers"`
	Body       string            `json:"body" yaml:"body" koanf:"body"`
	Delay      time.Duration     `json:"delay,omitempty" yaml:"delay,omitempty" koanf:"delay"`
}

// Provider returns a fixture for a request, or nil if no fixture applies
type Provider interface {
	GetFixture(req *http.Request) *Fixture
}

// Rule pairs request criteria with the response to serve
type Rule struct {
	Request  Match   `json:"request" yaml:"request" koanf:"request"`
	Response Fixture `json:"response" yaml:"response" koanf:"response"`
}

// Match defines request matching criteria
type Match struct {
	// Method is an HTTP verb, or "*" or empty for any
	Method string `json:"method" yaml:"method" koanf:"method"`

	// URL is the full request URL, or a regular expression when URLType is "pattern"
	URL     string `json:"url" yaml:"url" koanf:"url"`
	URLType string `json:"url_type,omitempty" yaml:"url_type,omitempty" koanf:"url_type"`

	// Headers must all be present with exactly these values
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty" koanf:"headers"`
}

// Set is the document format of fixture files
type Set struct {
	Rules []Rule `json:"fixtures" yaml:"fixtures"`
}
