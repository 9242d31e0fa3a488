package idp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alechenninger/gatehouse/internal/metrics"
)

func TestClient_StartAuthentication(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/authentication", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"authenticationUrl":"https://login.example.com/authorize?state=1"}`))
	}))
	defer server.Close()

	client := NewClient()
	resp, err := client.StartAuthentication(context.Background(), server.URL+"/", AuthenticationRequest{
		RedirectURL:         "https://app.example.com/login/redirect",
		CodeChallengeMethod: ChallengeMethodS256,
		CodeChallenge:       "challenge",
		ApplicationID:       "app_1",
		ResponseLocation:    ResponseLocationQuery,
	})
	require.NoError(t, err)
	assert.Equal(t, "https://login.example.com/authorize?state=1", resp.AuthenticationURL)

	assert.Equal(t, map[string]any{
		"redirectUrl":         "https://app.example.com/login/redirect",
		"codeChallengeMethod": "S256",
		"codeChallenge":       "challenge",
		"applicationId":       "app_1",
		"responseLocation":    "query",
	}, received)
}

func TestClient_ExchangeCode(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/authentication/nonce%2F1/tokens", r.URL.EscapedPath())
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"Bearer","expires_in":3600}`))
	}))
	defer server.Close()

	reg := prometheus.NewRegistry()
	client := NewClient(WithMetrics(metrics.New(reg)))

	resp, err := client.ExchangeCode(context.Background(), server.URL, "nonce/1", TokenRequest{
		RedirectURI:  "https://app.example.com/login/redirect",
		ClientID:     "app_1",
		Code:         "abc",
		CodeVerifier: "verifier",
	})
	require.NoError(t, err)
	assert.Equal(t, "tok", resp.AccessToken)
	assert.Equal(t, 3600, resp.ExpiresIn)

	assert.Equal(t, "authorization_code", received["grant_type"])
	assert.Equal(t, "abc", received["code"])
	assert.Equal(t, "verifier", received["code_verifier"])
	assert.Equal(t, "app_1", received["client_id"])

	expected := `
# HELP gatehouse_upstream_calls_total Calls to the identity provider and permission service by operation and result
# TYPE gatehouse_upstream_calls_total counter
gatehouse_upstream_calls_total{operation="exchange_code",result="ok"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "gatehouse_upstream_calls_total"))
}

func TestClient_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
		},
		{
			name: "not json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("<html>"))
			},
		},
		{
			name: "empty result",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{}`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			client := NewClient()
			_, err := client.StartAuthentication(context.Background(), server.URL, AuthenticationRequest{})
			assert.ErrorIs(t, err, ErrUnavailable)

			_, err = client.ExchangeCode(context.Background(), server.URL, "n", TokenRequest{})
			assert.ErrorIs(t, err, ErrUnavailable)
		})
	}
}

func TestClient_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := NewClient().ExchangeCode(context.Background(), server.URL, "n", TokenRequest{})

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
}

func TestClient_Unreachable(t *testing.T) {
	_, err := NewClient().StartAuthentication(context.Background(), "http://127.0.0.1:1", AuthenticationRequest{})
	assert.ErrorIs(t, err, ErrUnavailable)
}
