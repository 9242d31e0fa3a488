// Package permission checks whether a principal holds a permission on a resource.
package permission

import (
	"context"
	"errors"

	"github.com/alechenninger/gatehouse/internal/claims"
)

// Action is a permission verb
type Action string

// Read is the permission required to view a resource
const Read Action = "READ"

var (
	// ErrAccessDenied is returned when the principal lacks the permission
	ErrAccessDenied = errors.New("access denied")

	// ErrUnavailable is returned when the permission could not be checked
	ErrUnavailable = errors.New("permission service unavailable")
)

// Client authorizes a principal for an action on a resource.
// A nil error grants access; denial wraps ErrAccessDenied.
type Client interface {
	AuthorizeUser(ctx context.Context, principalID, resourceURI string, action Action) error
}

// Caller describes the authenticated request on whose behalf a check runs
type Caller struct {
	// Issuer is the normalized issuer the caller's token was validated against
	Issuer string

	// Token is the caller's access token
	Token string

	// Claims is the verified token payload
	Claims claims.Claims
}

type callerKey struct{}

// WithCaller attaches the caller to ctx
func WithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the caller attached to ctx, if any
func CallerFrom(ctx context.Context) (Caller, bool) {
	caller, ok := ctx.Value(callerKey{}).(Caller)
	return caller, ok
}
