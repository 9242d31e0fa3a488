package trust

import (
	"context"
	"fmt"

	"github.com/alechenninger/gatehouse/internal/claims"
)

// StubValidator is a TokenValidator for tests.
// It accepts any non-empty token and returns a fixed identity.
type StubValidator struct {
	identity *Identity
	err      error
	tokens   []string
}

// NewStubValidator creates a stub that authenticates "test-subject"
func NewStubValidator() *StubValidator {
	return &StubValidator{
		identity: &Identity{
			PrincipalID: "test-subject",
			Claims: claims.Claims{
				"sub": "test-subject",
				"iss": "https://test-issuer.example.com",
			},
		},
	}
}

// WithIdentity configures the stub to return a specific identity
func (v *StubValidator) WithIdentity(identity *Identity) *StubValidator {
	v.identity = identity
	return v
}

// WithError configures the stub to reject every token with err wrapped in ErrUnauthorized
func (v *StubValidator) WithError(err error) *StubValidator {
	v.err = err
	return v
}

// Tokens returns the tokens the stub was asked to validate
func (v *StubValidator) Tokens() []string {
	return v.tokens
}

// Validate implements TokenValidator
func (v *StubValidator) Validate(_ context.Context, token, _ string) (*Identity, error) {
	v.tokens = append(v.tokens, token)
	if token == "" {
		return nil, fmt.Errorf("%w: no token specified", ErrUnauthorized)
	}
	if v.err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, v.err)
	}
	return v.identity, nil
}
