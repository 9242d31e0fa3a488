package permission

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Check is one recorded AuthorizeUser call
type Check struct {
	PrincipalID string
	ResourceURI string
	Action      Action
}

// StaticClient answers every check the same way. It is used for local runs
// and tests, and records the checks it was asked to make.
type StaticClient struct {
	allow bool
	err   error

	mu     sync.Mutex
	checks []Check
}

// AllowAll grants every check
func AllowAll() *StaticClient {
	return &StaticClient{allow: true}
}

// DenyAll denies every check
func DenyAll() *StaticClient {
	return &StaticClient{}
}

// WithError makes every check fail with err instead
func (c *StaticClient) WithError(err error) *StaticClient {
	c.err = err
	return c
}

// Checks returns the checks made so far
func (c *StaticClient) Checks() []Check {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Check(nil), c.checks...)
}

// AuthorizeUser implements Client
func (c *StaticClient) AuthorizeUser(_ context.Context, principalID, resourceURI string, action Action) error {
	c.mu.Lock()
	c.checks = append(c.checks, Check{PrincipalID: principalID, ResourceURI: resourceURI, Action: action})
	c.mu.Unlock()

	if c.err != nil {
		return c.err
	}
	if !c.allow {
		return fmt.Errorf("%w: %s lacks %s on %s", ErrAccessDenied, principalID, action, resourceURI)
	}
	return nil
}

func isDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}
