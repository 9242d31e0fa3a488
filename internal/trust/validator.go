package trust

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/alechenninger/gatehouse/internal/claims"
	"github.com/alechenninger/gatehouse/internal/clock"
)

// ErrUnauthorized is returned for every token that cannot be trusted.
// The reason is logged, callers only see the sentinel.
var ErrUnauthorized = errors.New("unauthorized")

// Identity is the authenticated subject of one request evaluation
type Identity struct {
	// PrincipalID is the sub claim
	PrincipalID string

	// Claims is the verified token payload
	Claims claims.Claims
}

// TokenValidator validates a bearer token issued by expectedIssuer
type TokenValidator interface {
	Validate(ctx context.Context, token, expectedIssuer string) (*Identity, error)
}

// JWTValidator verifies EdDSA-signed JWTs against the issuer's JWKS
type JWTValidator struct {
	keys   KeyResolver
	clock  clock.Clock
	skew   time.Duration
	logger *slog.Logger
}

// JWTValidatorOption configures a JWTValidator
type JWTValidatorOption func(*JWTValidator)

// WithClock sets the clock used for exp/nbf validation
func WithClock(c clock.Clock) JWTValidatorOption {
	return func(v *JWTValidator) {
		v.clock = c
	}
}

// WithAcceptableSkew sets the tolerated clock skew for time-based claims
func WithAcceptableSkew(skew time.Duration) JWTValidatorOption {
	return func(v *JWTValidator) {
		v.skew = skew
	}
}

// WithValidatorLogger sets the logger for rejection reasons
func WithValidatorLogger(logger *slog.Logger) JWTValidatorOption {
	return func(v *JWTValidator) {
		v.logger = logger
	}
}

// NewJWTValidator creates a validator resolving keys through keys
func NewJWTValidator(keys KeyResolver, opts ...JWTValidatorOption) *JWTValidator {
	v := &JWTValidator{
		keys:   keys,
		clock:  clock.NewSystemClock(),
		skew:   30 * time.Second,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate decodes the token, checks kid and issuer, resolves the signing key
// and verifies the signature with the algorithm pinned to EdDSA.
func (v *JWTValidator) Validate(ctx context.Context, token, expectedIssuer string) (*Identity, error) {
	if token == "" {
		return nil, v.reject(ctx, "no token specified", nil)
	}

	msg, err := jws.Parse([]byte(token))
	if err != nil {
		return nil, v.reject(ctx, "token is not a signed JWT", err)
	}
	sigs := msg.Signatures()
	if len(sigs) == 0 {
		return nil, v.reject(ctx, "token carries no signature", nil)
	}
	kid := sigs[0].ProtectedHeaders().KeyID()
	if kid == "" {
		return nil, v.reject(ctx, "kid not in token", nil)
	}

	unverified, err := jwt.ParseInsecure([]byte(token))
	if err != nil {
		return nil, v.reject(ctx, "token payload is not decodable", err)
	}
	rawIssuer := unverified.Issuer()
	if rawIssuer == "" {
		return nil, v.reject(ctx, "issuer not in token", nil)
	}

	if NormalizeIssuer(rawIssuer) != NormalizeIssuer(expectedIssuer) {
		return nil, v.reject(ctx, "issuer mismatch", fmt.Errorf("token issuer %q, expected %q", rawIssuer, expectedIssuer))
	}

	key, err := v.keys.GetKey(ctx, JWKSURL(rawIssuer), kid)
	if err != nil {
		return nil, v.reject(ctx, "failed to get public key", err)
	}

	verified, err := jwt.Parse([]byte(token),
		jwt.WithKey(jwa.EdDSA, key),
		jwt.WithIssuer(rawIssuer),
		jwt.WithValidate(true),
		jwt.WithClock(jwt.ClockFunc(v.clock.Now)),
		jwt.WithAcceptableSkew(v.skew),
	)
	if err != nil {
		return nil, v.reject(ctx, "invalid token", err)
	}

	payload, err := verified.AsMap(ctx)
	if err != nil {
		return nil, v.reject(ctx, "failed to read token claims", err)
	}

	return &Identity{
		PrincipalID: verified.Subject(),
		Claims:      claims.Claims(payload),
	}, nil
}

func (v *JWTValidator) reject(ctx context.Context, reason string, cause error) error {
	attrs := []slog.Attr{slog.String("details", reason)}
	if cause != nil {
		attrs = append(attrs, slog.String("error", cause.Error()))
	}
	v.logger.LogAttrs(ctx, slog.LevelInfo, "Unauthorized", attrs...)
	return fmt.Errorf("%w: %s", ErrUnauthorized, reason)
}
