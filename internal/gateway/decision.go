package gateway

import (
	"net/http"

	"github.com/alechenninger/gatehouse/internal/request"
	"github.com/alechenninger/gatehouse/internal/session"
)

// Kind is the variant of a Decision
type Kind int

const (
	// KindPassThrough lets the request continue to the origin
	KindPassThrough Kind = iota
	// KindRedirect sends the caller elsewhere, usually the identity provider
	KindRedirect
	// KindDeny ends the request with an error response
	KindDeny
)

func (k Kind) String() string {
	switch k {
	case KindPassThrough:
		return "pass_through"
	case KindRedirect:
		return "redirect"
	case KindDeny:
		return "deny"
	default:
		return "unknown"
	}
}

// Error codes carried in deny bodies
const (
	ErrorCodeInvalidConfiguration         = "InvalidConfiguration"
	ErrorCodeAccessDenied                 = "AccessDenied"
	ErrorCodePermissionServiceUnavailable = "PermissionServiceUnavailable"
)

// Decision is the outcome of evaluating one request. Exactly one variant is set.
type Decision struct {
	Kind Kind

	// StatusCode is the redirect or deny status
	StatusCode int

	// Location is the redirect target
	Location string

	// Cookies are set on redirect
	Cookies []*http.Cookie

	// ErrorCode and Title form the deny body
	ErrorCode string
	Title     string
}

// PassThrough lets the request through
func PassThrough() Decision {
	return Decision{Kind: KindPassThrough}
}

// Redirect sends the caller to location with 302, setting cookies
func Redirect(location string, cookies ...*http.Cookie) Decision {
	return Decision{
		Kind:       KindRedirect,
		StatusCode: http.StatusFound,
		Location:   location,
		Cookies:    cookies,
	}
}

// Deny ends the request with status and a body of errorCode and title.
// An empty errorCode is omitted from the body.
func Deny(status int, errorCode, title string) Decision {
	return Decision{
		Kind:       KindDeny,
		StatusCode: status,
		ErrorCode:  errorCode,
		Title:      title,
	}
}

// Response renders the decision, or nil for PassThrough
func (d Decision) Response() *request.Response {
	switch d.Kind {
	case KindRedirect:
		resp := &request.Response{
			StatusCode: d.StatusCode,
			Body:       map[string]any{},
		}
		resp.SetHeader("location", d.Location)
		for _, c := range session.Strings(d.Cookies...) {
			resp.AddMultiValueHeader("set-cookie", c)
		}
		return resp
	case KindDeny:
		body := map[string]any{"title": d.Title}
		if d.ErrorCode != "" {
			body["errorCode"] = d.ErrorCode
		}
		return &request.Response{
			StatusCode: d.StatusCode,
			Body:       body,
		}
	default:
		return nil
	}
}
