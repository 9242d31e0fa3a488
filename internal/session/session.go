// Package session reads and writes the cookies that carry login state
// between the identity provider redirect and later requests.
package session

import (
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/alechenninger/gatehouse/internal/headers"
)

// Cookie names. These are part of the external contract with browsers holding
// existing sessions and must not change.
const (
	AuthorizationName = "authorization"
	CodeVerifierName  = "iap-codeVerifier"
	RedirectURLName   = "iap-redirectUrl"
)

// Cookie lifetimes
const (
	PKCELifetime          = 5 * time.Minute
	AuthorizationLifetime = time.Hour
)

// Cookies is a read-only view of the cookies sent with a request
type Cookies struct {
	values map[string]string
}

// Parse reads every Cookie header in h. The first occurrence of a name wins.
// Values are URL-decoded; a value that does not decode is kept as sent.
func Parse(h headers.Header) Cookies {
	c := Cookies{values: make(map[string]string)}

	raw := h.Values("cookie")
	if len(raw) == 0 {
		return c
	}

	r := &http.Request{Header: http.Header{"Cookie": raw}}
	for _, cookie := range r.Cookies() {
		if _, ok := c.values[cookie.Name]; ok {
			continue
		}
		value := cookie.Value
		if decoded, err := url.QueryUnescape(value); err == nil {
			value = decoded
		}
		c.values[cookie.Name] = value
	}
	return c
}

// Get returns the value of the named cookie or ""
func (c Cookies) Get(name string) string {
	return c.values[name]
}

// Has reports whether the named cookie was sent with a non-empty value
func (c Cookies) Has(name string) bool {
	return c.values[name] != ""
}

// Authorization returns the session token
func (c Cookies) Authorization() string {
	return c.Get(AuthorizationName)
}

// CodeVerifier returns the PKCE verifier stored when login started
func (c Cookies) CodeVerifier() string {
	return c.Get(CodeVerifierName)
}

// RedirectURL returns the URL the user originally requested
func (c Cookies) RedirectURL() string {
	return c.Get(RedirectURLName)
}

// PKCECookies builds the verifier and redirect cookies set when a login starts.
// Both are sent on the cross-site return from the identity provider.
func PKCECookies(host, verifier, redirectURL string, now time.Time) []*http.Cookie {
	return []*http.Cookie{
		newCookie(host, CodeVerifierName, verifier, http.SameSiteNoneMode, now, PKCELifetime),
		newCookie(host, RedirectURLName, redirectURL, http.SameSiteNoneMode, now, PKCELifetime),
	}
}

// AuthorizationCookie builds the session cookie holding the access token
func AuthorizationCookie(host, token string, now time.Time) *http.Cookie {
	return newCookie(host, AuthorizationName, token, http.SameSiteStrictMode, now, AuthorizationLifetime)
}

// Strings serializes cookies as Set-Cookie header values
func Strings(cookies ...*http.Cookie) []string {
	out := make([]string, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, c.String())
	}
	return out
}

func newCookie(host, name, value string, sameSite http.SameSite, now time.Time, lifetime time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    url.QueryEscape(value),
		Domain:   cookieDomain(host),
		Path:     "/",
		Expires:  now.Add(lifetime).UTC(),
		MaxAge:   int(lifetime.Seconds()),
		Secure:   true,
		HttpOnly: true,
		SameSite: sameSite,
	}
}

// cookieDomain drops any port from host; cookies are not port-scoped
func cookieDomain(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
