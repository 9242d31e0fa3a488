// Package claims holds the verified payload of an identity token.
package claims

import "maps"

// Standard claim names read by the gateway
const (
	Subject   = "sub"
	Issuer    = "iss"
	ExpiresAt = "exp"
	Scope     = "scope"
)

// Claims is a verified token payload
type Claims map[string]any

// Copy creates a shallow copy of the claims
func (c Claims) Copy() Claims {
	if c == nil {
		return nil
	}
	result := make(Claims, len(c))
	maps.Copy(result, c)
	return result
}

// GetString returns the value as a string, or empty string if not present or not a string
func (c Claims) GetString(key string) string {
	if s, ok := c[key].(string); ok {
		return s
	}
	return ""
}

// Subject returns the sub claim
func (c Claims) Subject() string {
	return c.GetString(Subject)
}

// Issuer returns the iss claim
func (c Claims) Issuer() string {
	return c.GetString(Issuer)
}

// Has returns true if the key exists in the claims
func (c Claims) Has(key string) bool {
	_, ok := c[key]
	return ok
}
