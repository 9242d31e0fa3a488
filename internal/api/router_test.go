package api

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alechenninger/gatehouse/internal/gateway"
	"github.com/alechenninger/gatehouse/internal/logging"
	"github.com/alechenninger/gatehouse/internal/request"
)

// fakeAuthorizer returns a fixed decision and records which operation ran
type fakeAuthorizer struct {
	decision gateway.Decision
	err      error
	calls    []string
}

func (f *fakeAuthorizer) AuthorizeRequest(context.Context, *request.Request) (gateway.Decision, error) {
	f.calls = append(f.calls, "AuthorizeRequest")
	return f.decision, f.err
}

func (f *fakeAuthorizer) HandleLoginRedirect(context.Context, *request.Request) (gateway.Decision, error) {
	f.calls = append(f.calls, "HandleLoginRedirect")
	return f.decision, f.err
}

func TestRouter_Dispatch(t *testing.T) {
	tests := []struct {
		method   string
		path     string
		expected []string
	}{
		{http.MethodGet, "/docs", []string{"AuthorizeRequest"}},
		{http.MethodHead, "/docs", []string{"AuthorizeRequest"}},
		{http.MethodGet, "/login/redirect", []string{"HandleLoginRedirect"}},
		{http.MethodGet, "/login/redirect/", []string{"HandleLoginRedirect"}},
		{http.MethodHead, "/login/redirect", []string{"AuthorizeRequest"}},
		{http.MethodOptions, "/docs", nil},
		{http.MethodPost, "/docs", nil},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			auth := &fakeAuthorizer{decision: gateway.PassThrough()}
			_, err := NewRouter(auth).Handle(context.Background(), &request.Request{Method: tt.method, Path: tt.path})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, auth.calls)
		})
	}
}

func TestRouter_PassThroughAndOptionsReturnNil(t *testing.T) {
	router := NewRouter(&fakeAuthorizer{decision: gateway.PassThrough()})

	resp, err := router.Handle(context.Background(), &request.Request{Method: http.MethodGet, Path: "/"})
	require.NoError(t, err)
	assert.Nil(t, resp)

	resp, err = router.Handle(context.Background(), &request.Request{Method: http.MethodOptions, Path: "/"})
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	router := NewRouter(&fakeAuthorizer{})

	resp, err := router.Handle(context.Background(), &request.Request{
		Method:  http.MethodDelete,
		Path:    "/",
		Context: request.Context{InvocationID: "inv-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "GET, HEAD, OPTIONS", resp.Headers["allow"])
	assert.Equal(t, "inv-1", resp.Body.(map[string]any)["errorId"])
}

func TestRouter_Middleware(t *testing.T) {
	router := NewRouter(&fakeAuthorizer{decision: gateway.Redirect("https://login.example.com")})

	resp, err := router.Handle(context.Background(), &request.Request{Method: http.MethodGet, Path: "/"})
	require.NoError(t, err)

	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Headers["cache-control"])
	assert.Equal(t, "max-age=31556926; includeSubDomains;", resp.Headers["strict-transport-security"])
	assert.Equal(t, "Origin, Host, Sec-Fetch-Dest, Sec-Fetch-Mode, Sec-Fetch-Site", resp.Headers["vary"])
	assert.Equal(t, "https://login.example.com", resp.Headers["location"])
	assert.NotContains(t, resp.Body.(map[string]any), "errorId")
}

func TestRouter_HandlerHeadersWin(t *testing.T) {
	router := NewRouter(&fakeAuthorizer{})

	resp := &request.Response{StatusCode: 200, Headers: map[string]any{"Cache-Control": "max-age=60"}}
	router.applyMiddleware(context.Background(), &request.Request{}, resp)

	assert.Equal(t, "max-age=60", resp.Headers["Cache-Control"])
	assert.NotContains(t, resp.Headers, "cache-control")
}

func TestRouter_ErrorIDOnDeny(t *testing.T) {
	router := NewRouter(&fakeAuthorizer{decision: gateway.Deny(403, gateway.ErrorCodeAccessDenied, "no")})
	ctx := logging.WithInvocationID(context.Background(), "inv-2")

	resp, err := router.Handle(ctx, &request.Request{Method: http.MethodGet, Path: "/"})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"title":     "no",
		"errorCode": "AccessDenied",
		"errorId":   "inv-2",
	}, resp.Body)
}

func TestRouter_HandlerError(t *testing.T) {
	router := NewRouter(&fakeAuthorizer{err: errors.New("boom")})

	resp, err := router.Handle(context.Background(), &request.Request{
		Method:  http.MethodGet,
		Path:    "/",
		Context: request.Context{InvocationID: "inv-3"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, map[string]any{"title": "Unexpected error", "errorId": "inv-3"}, resp.Body)
}
