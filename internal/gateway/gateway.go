// Package gateway decides, for each request, whether to let it through,
// send the caller to the identity provider, or deny it.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/alechenninger/gatehouse/internal/clock"
	"github.com/alechenninger/gatehouse/internal/idp"
	"github.com/alechenninger/gatehouse/internal/permission"
	"github.com/alechenninger/gatehouse/internal/request"
	"github.com/alechenninger/gatehouse/internal/session"
	"github.com/alechenninger/gatehouse/internal/trust"
)

// LoginRedirectPath is where the identity provider sends the user back
const LoginRedirectPath = "/login/redirect"

// DefaultPlaceholderIssuer is the issuer value shipped in templates before deployment
const DefaultPlaceholderIssuer = "REPLACE_WITH_ISSUER"

var unsafeResourceChars = regexp.MustCompile(`[^A-Za-z0-9/_.~-]`)

// IdentityProvider starts logins and exchanges authorization codes
type IdentityProvider interface {
	StartAuthentication(ctx context.Context, issuer string, req idp.AuthenticationRequest) (*idp.AuthenticationResponse, error)
	ExchangeCode(ctx context.Context, issuer, nonce string, req idp.TokenRequest) (*idp.TokenResponse, error)
}

// Gateway evaluates requests against the origin's issuer and the permission service
type Gateway struct {
	validator    trust.TokenValidator
	permissions  permission.Client
	provider     IdentityProvider
	clock        clock.Clock
	placeholders []string
	observer     Observer
}

// Option configures a Gateway
type Option func(*Gateway)

// WithClock sets the clock used for cookie expiry
func WithClock(c clock.Clock) Option {
	return func(g *Gateway) {
		g.clock = c
	}
}

// WithPlaceholderIssuers replaces the issuer values treated as unconfigured
func WithPlaceholderIssuers(placeholders ...string) Option {
	return func(g *Gateway) {
		g.placeholders = placeholders
	}
}

// WithObserver sets the observer notified of each evaluation
func WithObserver(o Observer) Option {
	return func(g *Gateway) {
		g.observer = o
	}
}

// New creates a gateway
func New(validator trust.TokenValidator, permissions permission.Client, provider IdentityProvider, opts ...Option) *Gateway {
	g := &Gateway{
		validator:    validator,
		permissions:  permissions,
		provider:     provider,
		clock:        clock.NewSystemClock(),
		placeholders: []string{DefaultPlaceholderIssuer},
		observer:     NoOpObserver{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// originConfig is the per-origin configuration carried in CDN custom headers
type originConfig struct {
	issuer        string
	applicationID string
	serviceName   string
}

// AuthorizeRequest validates the session cookie and checks READ on the
// requested resource. Callers without a usable session are sent to log in.
func (g *Gateway) AuthorizeRequest(ctx context.Context, req *request.Request) (Decision, error) {
	if req == nil {
		return Decision{}, errors.New("nil request")
	}

	ctx, probe := g.observer.AuthorizationStarted(ctx, OperationAuthorize, req)
	defer probe.End()

	d := g.authorize(ctx, probe, req)
	probe.Decided(d)
	return d, nil
}

// HandleLoginRedirect completes a login when the identity provider returns
// the user with an authorization code.
func (g *Gateway) HandleLoginRedirect(ctx context.Context, req *request.Request) (Decision, error) {
	if req == nil {
		return Decision{}, errors.New("nil request")
	}

	ctx, probe := g.observer.AuthorizationStarted(ctx, OperationLoginRedirect, req)
	defer probe.End()

	d := g.loginRedirect(ctx, probe, req)
	probe.Decided(d)
	return d, nil
}

func (g *Gateway) loginRedirect(ctx context.Context, probe AuthorizationProbe, req *request.Request) Decision {
	cookies := session.Parse(req.Headers)
	host := req.Host()

	if code := req.Query("code"); code != "" {
		cfg, err := g.originConfig(req)
		if err != nil {
			probe.InvalidConfiguration(err.Error())
			return invalidConfiguration()
		}

		token, err := g.provider.ExchangeCode(ctx, cfg.issuer, req.Query("nonce"), idp.TokenRequest{
			GrantType:    "authorization_code",
			RedirectURI:  "https://" + host + LoginRedirectPath,
			ClientID:     cfg.applicationID,
			Code:         code,
			CodeVerifier: cookies.CodeVerifier(),
		})
		if err != nil {
			probe.CodeExchangeFailed(err)
			return g.authorize(ctx, probe, req)
		}
		probe.CodeExchanged()

		target := sameHostTarget(cookies.RedirectURL(), host)
		if target == "" {
			target = "https://" + host + "/"
		}
		return Redirect(target, session.AuthorizationCookie(host, token.AccessToken, g.clock.Now()))
	}

	if !cookies.Has(session.AuthorizationName) {
		return g.authorize(ctx, probe, req)
	}

	if target := sameHostTarget(cookies.RedirectURL(), host); target != "" && !isLoginRedirect(target) {
		return Redirect(target)
	}
	return PassThrough()
}

func (g *Gateway) authorize(ctx context.Context, probe AuthorizationProbe, req *request.Request) Decision {
	cfg, err := g.originConfig(req)
	if err != nil {
		probe.InvalidConfiguration(err.Error())
		return invalidConfiguration()
	}

	token := session.Parse(req.Headers).Authorization()
	identity, err := g.validator.Validate(ctx, token, cfg.issuer)
	if err != nil {
		probe.IdentityRejected(err)
		return g.startLogin(ctx, probe, req, cfg)
	}
	probe.IdentityValidated(identity)

	resource := Resource(cfg.serviceName, req.Path)
	ctx = permission.WithCaller(ctx, permission.Caller{
		Issuer: cfg.issuer,
		Token:  token,
		Claims: identity.Claims,
	})

	err = g.permissions.AuthorizeUser(ctx, identity.PrincipalID, resource, permission.Read)
	probe.PermissionChecked(identity.PrincipalID, resource, err)

	switch {
	case err == nil:
		return PassThrough()
	case errors.Is(err, permission.ErrAccessDenied):
		return Deny(http.StatusForbidden, ErrorCodeAccessDenied,
			fmt.Sprintf("User %s does not have the %s permission to resource %s", identity.PrincipalID, permission.Read, resource))
	default:
		return Deny(http.StatusServiceUnavailable, ErrorCodePermissionServiceUnavailable,
			"Unable to check permissions. Please try again")
	}
}

func (g *Gateway) startLogin(ctx context.Context, probe AuthorizationProbe, req *request.Request, cfg originConfig) Decision {
	host := req.Host()
	verifier := idp.NewVerifier()

	path := req.Path
	if path == "" {
		path = "/"
	}

	resp, err := g.provider.StartAuthentication(ctx, cfg.issuer, idp.AuthenticationRequest{
		RedirectURL:         "https://" + host + LoginRedirectPath,
		CodeChallengeMethod: idp.ChallengeMethodS256,
		CodeChallenge:       idp.Challenge(verifier),
		ApplicationID:       cfg.applicationID,
		ResponseLocation:    idp.ResponseLocationQuery,
	})
	if err != nil {
		probe.LoginFailed(err)
		return Deny(http.StatusInternalServerError, "", "Failed to redirect to the authentication url. Please try again")
	}
	probe.LoginStarted(resp.AuthenticationURL)

	return Redirect(resp.AuthenticationURL, session.PKCECookies(host, verifier, "https://"+host+path, g.clock.Now())...)
}

func (g *Gateway) originConfig(req *request.Request) (originConfig, error) {
	raw := req.CustomHeader(request.HeaderIssuer)
	if raw == "" {
		return originConfig{}, fmt.Errorf("origin has no %s header", request.HeaderIssuer)
	}
	for _, p := range g.placeholders {
		if strings.EqualFold(raw, p) {
			return originConfig{}, fmt.Errorf("origin issuer is the placeholder %q", raw)
		}
	}

	issuer := trust.NormalizeIssuer(raw)
	if u, err := url.Parse(issuer); err != nil || u.Host == "" {
		return originConfig{}, fmt.Errorf("origin issuer %q is not a valid URL", raw)
	}

	return originConfig{
		issuer:        issuer,
		applicationID: req.CustomHeader(request.HeaderApplicationID),
		serviceName:   req.CustomHeader(request.HeaderServiceName),
	}, nil
}

func invalidConfiguration() Decision {
	return Deny(http.StatusBadRequest, ErrorCodeInvalidConfiguration,
		"The origin is not configured with a valid issuer")
}

// Resource builds the permission resource URI {serviceName}:{path}, removing
// path characters outside [A-Za-z0-9/_.~-].
func Resource(serviceName, path string) string {
	return serviceName + ":" + unsafeResourceChars.ReplaceAllString(path, "")
}

// sameHostTarget returns target when it is an absolute URL on host, else ""
func sameHostTarget(target, host string) string {
	if target == "" {
		return ""
	}
	u, err := url.Parse(target)
	if err != nil || !u.IsAbs() || !strings.EqualFold(u.Host, host) {
		return ""
	}
	return target
}

func isLoginRedirect(target string) bool {
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	return strings.TrimRight(u.Path, "/") == LoginRedirectPath
}
