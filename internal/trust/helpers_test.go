package trust

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"
)

// testIssuer serves a JWKS for a set of Ed25519 signing keys
type testIssuer struct {
	t       *testing.T
	server  *httptest.Server
	fetches atomic.Int32
	status  atomic.Int32

	mu      sync.Mutex
	private map[string]ed25519.PrivateKey
	served  []string
	gate    chan struct{}
	started chan struct{}
}

func newTestIssuer(t *testing.T, kids ...string) *testIssuer {
	t.Helper()
	ti := &testIssuer{t: t, private: make(map[string]ed25519.PrivateKey)}
	ti.status.Store(http.StatusOK)
	for _, kid := range kids {
		ti.addKey(kid)
	}

	ti.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != jwksPath {
			http.NotFound(w, r)
			return
		}
		ti.fetches.Add(1)

		ti.mu.Lock()
		gate, started := ti.gate, ti.started
		ti.mu.Unlock()
		if started != nil {
			close(started)
		}
		if gate != nil {
			<-gate
		}

		if status := int(ti.status.Load()); status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(ti.publicSet()); err != nil {
			t.Errorf("failed to encode JWKS: %v", err)
		}
	}))
	t.Cleanup(ti.server.Close)
	return ti
}

func (ti *testIssuer) url() string {
	return ti.server.URL
}

func (ti *testIssuer) jwksURL() string {
	return ti.server.URL + jwksPath
}

// addKey generates a key and publishes it under kid
func (ti *testIssuer) addKey(kid string) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(ti.t, err)
	ti.mu.Lock()
	defer ti.mu.Unlock()
	ti.private[kid] = priv
	ti.served = append(ti.served, kid)
}

// unpublish keeps the private key but removes kid from the served set
func (ti *testIssuer) unpublish(kid string) {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	var served []string
	for _, k := range ti.served {
		if k != kid {
			served = append(served, k)
		}
	}
	ti.served = served
}

// block holds JWKS responses until the returned release func is called.
// The returned channel closes when the first blocked request arrives.
func (ti *testIssuer) block() (started <-chan struct{}, release func()) {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	ti.gate = make(chan struct{})
	ti.started = make(chan struct{})
	gate := ti.gate
	return ti.started, func() {
		ti.mu.Lock()
		ti.gate, ti.started = nil, nil
		ti.mu.Unlock()
		close(gate)
	}
}

func (ti *testIssuer) publicSet() jwk.Set {
	ti.mu.Lock()
	defer ti.mu.Unlock()

	set := jwk.NewSet()
	for _, kid := range ti.served {
		key, err := jwk.FromRaw(ti.private[kid].Public())
		require.NoError(ti.t, err)
		require.NoError(ti.t, key.Set(jwk.KeyIDKey, kid))
		require.NoError(ti.t, key.Set(jwk.AlgorithmKey, jwa.EdDSA))
		require.NoError(ti.t, set.AddKey(key))
	}
	return set
}

// sign issues a token signed by the key registered under kid.
// An empty kid signs with a fresh key and omits the kid header.
func (ti *testIssuer) sign(kid string, claims map[string]any) string {
	ti.t.Helper()

	token := jwt.New()
	now := time.Now()
	require.NoError(ti.t, token.Set(jwt.IssuedAtKey, now))
	require.NoError(ti.t, token.Set(jwt.ExpirationKey, now.Add(time.Hour)))
	for k, v := range claims {
		require.NoError(ti.t, token.Set(k, v))
	}

	var priv ed25519.PrivateKey
	if kid == "" {
		var err error
		_, priv, err = ed25519.GenerateKey(rand.Reader)
		require.NoError(ti.t, err)
	} else {
		ti.mu.Lock()
		priv = ti.private[kid]
		ti.mu.Unlock()
		require.NotNil(ti.t, priv, "unknown kid %s", kid)
	}

	key, err := jwk.FromRaw(priv)
	require.NoError(ti.t, err)
	if kid != "" {
		require.NoError(ti.t, key.Set(jwk.KeyIDKey, kid))
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.EdDSA, key))
	require.NoError(ti.t, err)
	return string(signed)
}
