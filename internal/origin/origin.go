// Package origin derives a trustworthy request origin for CORS and cookie
// scoping from the Origin, Referer and Sec-Fetch-* request headers.
package origin

import (
	"net/url"

	"github.com/alechenninger/gatehouse/internal/headers"
)

// Resolve returns the request origin, or "" when none can be determined.
//
// An explicit Origin header always wins. Top-level navigations without an
// initiator and same-origin/same-site fetches resolve to https://{host}.
// Otherwise the origin of the Referer is used.
func Resolve(h headers.Header) string {
	if o := h.Get("origin"); o != "" {
		return o
	}

	site := h.Get("sec-fetch-site")
	navigation := !h.Has("referer") && h.Get("sec-fetch-mode") == "navigate" && site == "none"
	if navigation || site == "same-origin" || site == "same-site" {
		if host := h.Get("host"); host != "" {
			return "https://" + host
		}
		return ""
	}

	referer := h.Get("referer")
	if referer == "" {
		return ""
	}
	u, err := url.Parse(referer)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
