package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alechenninger/gatehouse/internal/clock"
	"github.com/alechenninger/gatehouse/internal/headers"
	"github.com/alechenninger/gatehouse/internal/idp"
	"github.com/alechenninger/gatehouse/internal/permission"
	"github.com/alechenninger/gatehouse/internal/request"
	"github.com/alechenninger/gatehouse/internal/session"
	"github.com/alechenninger/gatehouse/internal/trust"
)

// fakeProvider records identity provider calls
type fakeProvider struct {
	mu sync.Mutex

	authURL  string
	startErr error
	token    string
	tokenErr error

	starts    []idp.AuthenticationRequest
	exchanges []exchange
}

type exchange struct {
	issuer string
	nonce  string
	req    idp.TokenRequest
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		authURL: "https://login.example.com/authorize?state=xyz",
		token:   "tok",
	}
}

func (f *fakeProvider) StartAuthentication(_ context.Context, _ string, req idp.AuthenticationRequest) (*idp.AuthenticationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, req)
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &idp.AuthenticationResponse{AuthenticationURL: f.authURL}, nil
}

func (f *fakeProvider) ExchangeCode(_ context.Context, issuer, nonce string, req idp.TokenRequest) (*idp.TokenResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchanges = append(f.exchanges, exchange{issuer: issuer, nonce: nonce, req: req})
	if f.tokenErr != nil {
		return nil, f.tokenErr
	}
	return &idp.TokenResponse{AccessToken: f.token}, nil
}

// recordingObserver captures the events of every evaluation
type recordingObserver struct {
	probes []*recordingProbe
}

func (o *recordingObserver) AuthorizationStarted(ctx context.Context, op Operation, _ *request.Request) (context.Context, AuthorizationProbe) {
	p := &recordingProbe{op: op}
	o.probes = append(o.probes, p)
	return ctx, p
}

type recordingProbe struct {
	op       Operation
	events   []string
	decision Decision
}

func (p *recordingProbe) InvalidConfiguration(string) {
	p.events = append(p.events, "InvalidConfiguration")
}
func (p *recordingProbe) IdentityValidated(*trust.Identity) {
	p.events = append(p.events, "IdentityValidated")
}
func (p *recordingProbe) IdentityRejected(error) {
	p.events = append(p.events, "IdentityRejected")
}
func (p *recordingProbe) PermissionChecked(string, string, error) {
	p.events = append(p.events, "PermissionChecked")
}
func (p *recordingProbe) LoginStarted(string) {
	p.events = append(p.events, "LoginStarted")
}
func (p *recordingProbe) LoginFailed(error) {
	p.events = append(p.events, "LoginFailed")
}
func (p *recordingProbe) CodeExchanged() {
	p.events = append(p.events, "CodeExchanged")
}
func (p *recordingProbe) CodeExchangeFailed(error) {
	p.events = append(p.events, "CodeExchangeFailed")
}
func (p *recordingProbe) Decided(d Decision) {
	p.decision = d
	p.events = append(p.events, "Decided")
}
func (p *recordingProbe) End() {
	p.events = append(p.events, "End")
}

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newRequest(path string, cookies ...string) *request.Request {
	h := headers.New()
	h.Set("host", "app.example.com")
	if len(cookies) > 0 {
		h.Set("cookie", strings.Join(cookies, "; "))
	}

	custom := headers.New()
	custom.Set(request.HeaderIssuer, "login.example.com")
	custom.Set(request.HeaderApplicationID, "app_1")
	custom.Set(request.HeaderServiceName, "svc")

	return &request.Request{
		Path:    path,
		Method:  http.MethodGet,
		Headers: h,
		Context: request.Context{CustomHeaders: custom},
	}
}

type fixture struct {
	validator   *trust.StubValidator
	permissions *permission.StaticClient
	provider    *fakeProvider
	observer    *recordingObserver
	gateway     *Gateway
}

func newFixture(opts ...func(*fixture)) *fixture {
	f := &fixture{
		validator:   trust.NewStubValidator().WithIdentity(&trust.Identity{PrincipalID: "user-1"}),
		permissions: permission.AllowAll(),
		provider:    newFakeProvider(),
		observer:    &recordingObserver{},
	}
	for _, opt := range opts {
		opt(f)
	}
	f.gateway = New(f.validator, f.permissions, f.provider,
		WithClock(clock.NewFixtureClock(fixedNow)),
		WithObserver(f.observer),
	)
	return f
}

func cookiesByName(t *testing.T, d Decision) map[string]*http.Cookie {
	t.Helper()
	out := make(map[string]*http.Cookie)
	for _, c := range d.Cookies {
		out[c.Name] = c
	}
	return out
}

func TestAuthorizeRequest_NoCookieRedirectsToLogin(t *testing.T) {
	f := newFixture()

	d, err := f.gateway.AuthorizeRequest(context.Background(), newRequest("/foo"))
	require.NoError(t, err)

	assert.Equal(t, KindRedirect, d.Kind)
	assert.Equal(t, http.StatusFound, d.StatusCode)
	assert.Equal(t, "https://login.example.com/authorize?state=xyz", d.Location)

	cookies := cookiesByName(t, d)
	require.Len(t, cookies, 2)
	verifier := cookies[session.CodeVerifierName]
	require.NotNil(t, verifier)
	assert.Len(t, verifier.Value, 43)
	assert.Equal(t, "https%3A%2F%2Fapp.example.com%2Ffoo", cookies[session.RedirectURLName].Value)
	assert.Equal(t, http.SameSiteNoneMode, verifier.SameSite)
	assert.Equal(t, fixedNow.Add(5*time.Minute), verifier.Expires)

	require.Len(t, f.provider.starts, 1)
	start := f.provider.starts[0]
	assert.Equal(t, "https://app.example.com/login/redirect", start.RedirectURL)
	assert.Equal(t, "S256", start.CodeChallengeMethod)
	assert.Equal(t, idp.Challenge(verifier.Value), start.CodeChallenge)
	assert.Equal(t, "app_1", start.ApplicationID)
	assert.Equal(t, "query", start.ResponseLocation)

	resp := d.Response()
	require.NotNil(t, resp)
	assert.Equal(t, d.Location, resp.Headers["location"])
	assert.Len(t, resp.MultiValueHeaders["set-cookie"], 2)

	require.Len(t, f.observer.probes, 1)
	assert.Equal(t, []string{"IdentityRejected", "LoginStarted", "Decided", "End"}, f.observer.probes[0].events)
}

func TestAuthorizeRequest_InvalidConfiguration(t *testing.T) {
	for _, issuer := range []string{"", "  ", "REPLACE_WITH_ISSUER", "https://bad host"} {
		t.Run(issuer, func(t *testing.T) {
			f := newFixture()
			req := newRequest("/foo")
			req.Context.CustomHeaders.Set(request.HeaderIssuer, issuer)

			d, err := f.gateway.AuthorizeRequest(context.Background(), req)
			require.NoError(t, err)

			assert.Equal(t, KindDeny, d.Kind)
			assert.Equal(t, http.StatusBadRequest, d.StatusCode)
			assert.Equal(t, ErrorCodeInvalidConfiguration, d.ErrorCode)
			assert.Empty(t, f.provider.starts)
			assert.Empty(t, f.validator.Tokens())
		})
	}
}

func TestAuthorizeRequest_CustomPlaceholder(t *testing.T) {
	f := newFixture()
	g := New(f.validator, f.permissions, f.provider, WithPlaceholderIssuers("CHANGE_ME"))

	req := newRequest("/")
	req.Context.CustomHeaders.Set(request.HeaderIssuer, "change_me")

	d, err := g.AuthorizeRequest(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, d.StatusCode)
}

func TestAuthorizeRequest_PermissionGranted(t *testing.T) {
	f := newFixture()

	d, err := f.gateway.AuthorizeRequest(context.Background(), newRequest("/docs/<b>a b.txt", "authorization=tok"))
	require.NoError(t, err)

	assert.Equal(t, KindPassThrough, d.Kind)
	assert.Nil(t, d.Response())
	assert.Equal(t, []string{"tok"}, f.validator.Tokens())
	assert.Equal(t, []permission.Check{{PrincipalID: "user-1", ResourceURI: "svc:/docs/bab.txt", Action: permission.Read}}, f.permissions.Checks())
	assert.Equal(t, []string{"IdentityValidated", "PermissionChecked", "Decided", "End"}, f.observer.probes[0].events)
}

func TestAuthorizeRequest_PermissionDenied(t *testing.T) {
	f := newFixture(func(f *fixture) { f.permissions = permission.DenyAll() })

	d, err := f.gateway.AuthorizeRequest(context.Background(), newRequest("/path", "authorization=tok"))
	require.NoError(t, err)

	assert.Equal(t, KindDeny, d.Kind)
	assert.Equal(t, http.StatusForbidden, d.StatusCode)

	resp := d.Response()
	body := resp.Body.(map[string]any)
	assert.Equal(t, "AccessDenied", body["errorCode"])
	assert.Contains(t, body["title"], "user-1")
	assert.Contains(t, body["title"], "READ")
	assert.Contains(t, body["title"], "svc:/path")
}

func TestAuthorizeRequest_PermissionServiceUnavailable(t *testing.T) {
	f := newFixture(func(f *fixture) {
		f.permissions = permission.AllowAll().WithError(permission.ErrUnavailable)
	})

	d, err := f.gateway.AuthorizeRequest(context.Background(), newRequest("/path", "authorization=tok"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, d.StatusCode)
	assert.Equal(t, ErrorCodePermissionServiceUnavailable, d.ErrorCode)
}

func TestAuthorizeRequest_InvalidTokenRedirects(t *testing.T) {
	f := newFixture(func(f *fixture) {
		f.validator = trust.NewStubValidator().WithError(errors.New("bad signature"))
	})

	d, err := f.gateway.AuthorizeRequest(context.Background(), newRequest("/path", "authorization=forged"))
	require.NoError(t, err)
	assert.Equal(t, KindRedirect, d.Kind)
	assert.Empty(t, f.permissions.Checks())
}

func TestAuthorizeRequest_ProviderFailure(t *testing.T) {
	f := newFixture(func(f *fixture) { f.provider.startErr = idp.ErrUnavailable })

	d, err := f.gateway.AuthorizeRequest(context.Background(), newRequest("/path"))
	require.NoError(t, err)

	assert.Equal(t, KindDeny, d.Kind)
	assert.Equal(t, http.StatusInternalServerError, d.StatusCode)
	assert.Equal(t, map[string]any{"title": "Failed to redirect to the authentication url. Please try again"}, d.Response().Body)
	assert.Equal(t, []string{"IdentityRejected", "LoginFailed", "Decided", "End"}, f.observer.probes[0].events)
}

func TestHandleLoginRedirect_ExchangesCode(t *testing.T) {
	f := newFixture()

	req := newRequest(LoginRedirectPath, "iap-codeVerifier=verifier-1", "iap-redirectUrl=https%3A%2F%2Fapp.example.com%2Fdocs")
	req.QueryParameters = map[string]string{"code": "abc", "nonce": "123"}

	d, err := f.gateway.HandleLoginRedirect(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, KindRedirect, d.Kind)
	assert.Equal(t, "https://app.example.com/docs", d.Location)
	require.Len(t, d.Cookies, 1)
	auth := d.Cookies[0]
	assert.Equal(t, "authorization", auth.Name)
	assert.Equal(t, "tok", auth.Value)
	assert.Equal(t, http.SameSiteStrictMode, auth.SameSite)
	assert.Equal(t, fixedNow.Add(time.Hour), auth.Expires)

	require.Len(t, f.provider.exchanges, 1)
	ex := f.provider.exchanges[0]
	assert.Equal(t, "https://login.example.com", ex.issuer)
	assert.Equal(t, "123", ex.nonce)
	assert.Equal(t, idp.TokenRequest{
		GrantType:    "authorization_code",
		RedirectURI:  "https://app.example.com/login/redirect",
		ClientID:     "app_1",
		Code:         "abc",
		CodeVerifier: "verifier-1",
	}, ex.req)

	assert.Equal(t, OperationLoginRedirect, f.observer.probes[0].op)
	assert.Equal(t, []string{"CodeExchanged", "Decided", "End"}, f.observer.probes[0].events)
}

func TestHandleLoginRedirect_NoStoredTargetGoesHome(t *testing.T) {
	f := newFixture()
	req := newRequest(LoginRedirectPath, "iap-codeVerifier=v")
	req.QueryParameters = map[string]string{"code": "abc", "nonce": "1"}

	d, err := f.gateway.HandleLoginRedirect(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.com/", d.Location)
}

func TestHandleLoginRedirect_ForeignTargetIgnored(t *testing.T) {
	f := newFixture()
	req := newRequest(LoginRedirectPath, "iap-redirectUrl=https%3A%2F%2Fevil.example.com%2F")
	req.QueryParameters = map[string]string{"code": "abc", "nonce": "1"}

	d, err := f.gateway.HandleLoginRedirect(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.com/", d.Location)
}

func TestHandleLoginRedirect_ExchangeFailureRestartsLogin(t *testing.T) {
	f := newFixture(func(f *fixture) { f.provider.tokenErr = idp.ErrUnavailable })
	req := newRequest(LoginRedirectPath, "iap-codeVerifier=v")
	req.QueryParameters = map[string]string{"code": "abc", "nonce": "1"}

	d, err := f.gateway.HandleLoginRedirect(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, KindRedirect, d.Kind)
	assert.Equal(t, f.provider.authURL, d.Location)
	assert.Len(t, f.provider.starts, 1)
	assert.Equal(t, []string{"CodeExchangeFailed", "IdentityRejected", "LoginStarted", "Decided", "End"}, f.observer.probes[0].events)
}

func TestHandleLoginRedirect_WithoutCodeOrSession(t *testing.T) {
	f := newFixture()

	d, err := f.gateway.HandleLoginRedirect(context.Background(), newRequest(LoginRedirectPath))
	require.NoError(t, err)
	assert.Equal(t, KindRedirect, d.Kind)
	assert.Equal(t, f.provider.authURL, d.Location)
}

func TestHandleLoginRedirect_WithSession(t *testing.T) {
	tests := []struct {
		name     string
		cookies  []string
		expected Decision
	}{
		{
			name:     "redirects to stored target",
			cookies:  []string{"authorization=tok", "iap-redirectUrl=https%3A%2F%2Fapp.example.com%2Fdocs"},
			expected: Redirect("https://app.example.com/docs"),
		},
		{
			name:     "stored target is the callback",
			cookies:  []string{"authorization=tok", "iap-redirectUrl=https%3A%2F%2Fapp.example.com%2Flogin%2Fredirect"},
			expected: PassThrough(),
		},
		{
			name:     "no stored target",
			cookies:  []string{"authorization=tok"},
			expected: PassThrough(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			d, err := f.gateway.HandleLoginRedirect(context.Background(), newRequest(LoginRedirectPath, tt.cookies...))
			require.NoError(t, err)
			assert.Equal(t, tt.expected.Kind, d.Kind)
			assert.Equal(t, tt.expected.Location, d.Location)
			assert.Empty(t, f.provider.exchanges)
		})
	}
}

func TestNilRequest(t *testing.T) {
	f := newFixture()
	_, err := f.gateway.AuthorizeRequest(context.Background(), nil)
	assert.Error(t, err)
	_, err = f.gateway.HandleLoginRedirect(context.Background(), nil)
	assert.Error(t, err)
}

func TestResource(t *testing.T) {
	assert.Equal(t, "svc:/a/b_c.d~e-f", Resource("svc", "/a/b_c.d~e-f"))
	assert.Equal(t, "svc:/ab", Resource("svc", "/a?b"))
	assert.Equal(t, "svc:/a20b", Resource("svc", "/a%20b"))
	assert.Equal(t, ":", Resource("", ""))
}
