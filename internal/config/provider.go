package config

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/alechenninger/gatehouse/internal/api"
	"github.com/alechenninger/gatehouse/internal/edge"
	"github.com/alechenninger/gatehouse/internal/gateway"
	"github.com/alechenninger/gatehouse/internal/httpfixture"
	"github.com/alechenninger/gatehouse/internal/idp"
	"github.com/alechenninger/gatehouse/internal/logging"
	"github.com/alechenninger/gatehouse/internal/metrics"
	"github.com/alechenninger/gatehouse/internal/permission"
	"github.com/alechenninger/gatehouse/internal/probe"
	"github.com/alechenninger/gatehouse/internal/request"
	"github.com/alechenninger/gatehouse/internal/server"
	"github.com/alechenninger/gatehouse/internal/trust"
)

// Provider constructs all application components from configuration.
// Components are built on first use and shared afterwards, so the key cache
// lives as long as the process.
type Provider struct {
	config *Config

	logger     *slog.Logger
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	httpClient *http.Client
	keyCache   *trust.KeyCache
	validator  trust.TokenValidator
	permission permission.Client
	idp        *idp.Client
	gateway    *gateway.Gateway
	router     *api.Router
	adapter    *edge.Adapter
}

// NewProvider creates a new provider from configuration
func NewProvider(config *Config) *Provider {
	return &Provider{
		config: config,
	}
}

// Logger returns the process logger
func (p *Provider) Logger() (*slog.Logger, error) {
	if p.logger != nil {
		return p.logger, nil
	}

	obs := p.observability()
	logger, err := logging.New(logging.Options{
		Level:  obs.LogLevel,
		Format: obs.LogFormat,
		Writer: os.Stderr,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	p.logger = logger
	return logger, nil
}

// Registry returns the Prometheus registry all collectors are registered with
func (p *Provider) Registry() *prometheus.Registry {
	if p.registry == nil {
		p.registry = prometheus.NewRegistry()
	}
	return p.registry
}

// Metrics returns the process metrics
func (p *Provider) Metrics() *metrics.Metrics {
	if p.metrics == nil {
		p.metrics = metrics.New(p.Registry())
	}
	return p.metrics
}

// HTTPClient returns the client used for upstream calls. When fixtures are
// configured it answers from them and fails requests no fixture matches.
func (p *Provider) HTTPClient() (*http.Client, error) {
	if p.httpClient != nil {
		return p.httpClient, nil
	}

	timeout, err := time.ParseDuration(p.config.HTTP.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid http.timeout %q: %w", p.config.HTTP.Timeout, err)
	}

	client := &http.Client{Timeout: timeout}

	fixtures, err := BuildHTTPFixtureProvider(p.config.Fixtures)
	if err != nil {
		return nil, fmt.Errorf("failed to load fixtures: %w", err)
	}
	if fixtures != nil {
		client.Transport = httpfixture.NewTransport(fixtures)
	}

	p.httpClient = client
	return client, nil
}

// KeyCache returns the process-wide key set cache
func (p *Provider) KeyCache() (*trust.KeyCache, error) {
	if p.keyCache != nil {
		return p.keyCache, nil
	}

	client, err := p.HTTPClient()
	if err != nil {
		return nil, err
	}
	logger, err := p.Logger()
	if err != nil {
		return nil, err
	}

	p.keyCache = trust.NewKeyCache(
		trust.WithHTTPClient(client),
		trust.WithCacheSize(p.config.JWKS.CacheSize),
		trust.WithKeyCacheLogger(logger),
		trust.WithKeyCacheMetrics(p.Metrics()),
	)
	return p.keyCache, nil
}

// Validator returns the token validator
func (p *Provider) Validator() (trust.TokenValidator, error) {
	if p.validator != nil {
		return p.validator, nil
	}

	skew, err := time.ParseDuration(p.config.JWKS.AcceptableSkew)
	if err != nil {
		return nil, fmt.Errorf("invalid jwks.acceptable_skew %q: %w", p.config.JWKS.AcceptableSkew, err)
	}
	keys, err := p.KeyCache()
	if err != nil {
		return nil, err
	}
	logger, err := p.Logger()
	if err != nil {
		return nil, err
	}

	p.validator = trust.NewJWTValidator(keys,
		trust.WithAcceptableSkew(skew),
		trust.WithValidatorLogger(logger),
	)
	return p.validator, nil
}

// PermissionClient returns the configured permission client
func (p *Provider) PermissionClient() (permission.Client, error) {
	if p.permission != nil {
		return p.permission, nil
	}

	client, err := NewPermissionClient(p.config.Permissions, p)
	if err != nil {
		return nil, fmt.Errorf("failed to create permission client: %w", err)
	}

	p.permission = client
	return client, nil
}

// NewPermissionClient creates the permission client selected by cfg.Type
func NewPermissionClient(cfg PermissionsConfig, p *Provider) (permission.Client, error) {
	switch cfg.Type {
	case "", "http":
		client, err := p.HTTPClient()
		if err != nil {
			return nil, err
		}
		return permission.NewHTTPClient(
			permission.WithBaseURL(cfg.BaseURL),
			permission.WithAccessKey(cfg.AccessKey),
			permission.WithHTTPClient(client),
			permission.WithMetrics(p.Metrics()),
		), nil

	case "cel":
		script := cfg.Script
		if cfg.ScriptFile != "" {
			data, err := os.ReadFile(cfg.ScriptFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read permission script: %w", err)
			}
			script = string(data)
		}
		if script == "" {
			return nil, fmt.Errorf("cel permission client requires script or script_file")
		}
		return permission.NewCELClient(script)

	case "allow_all":
		return permission.AllowAll(), nil

	case "deny_all":
		return permission.DenyAll(), nil

	default:
		return nil, fmt.Errorf("unknown permission client type %q", cfg.Type)
	}
}

// IdentityProvider returns the identity provider client
func (p *Provider) IdentityProvider() (*idp.Client, error) {
	if p.idp != nil {
		return p.idp, nil
	}

	client, err := p.HTTPClient()
	if err != nil {
		return nil, err
	}

	p.idp = idp.NewClient(idp.WithHTTPClient(client), idp.WithMetrics(p.Metrics()))
	return p.idp, nil
}

// Observer returns the gateway observer selected by the observability config
func (p *Provider) Observer() (gateway.Observer, error) {
	logger, err := p.Logger()
	if err != nil {
		return nil, err
	}
	return p.observer(*p.observability(), logger)
}

func (p *Provider) observer(cfg ObservabilityConfig, logger *slog.Logger) (gateway.Observer, error) {
	switch cfg.Type {
	case "logging":
		return probe.NewLoggingGatewayObserver(logger), nil
	case "metrics":
		return probe.NewMetricsGatewayObserver(p.Metrics()), nil
	case "noop":
		return gateway.NoOpObserver{}, nil
	case "", "composite":
		if len(cfg.Observers) == 0 {
			return gateway.NewCompositeObserver(
				probe.NewLoggingGatewayObserver(logger),
				probe.NewMetricsGatewayObserver(p.Metrics()),
			), nil
		}
		observers := make([]gateway.Observer, 0, len(cfg.Observers))
		for _, sub := range cfg.Observers {
			o, err := p.observer(sub, logger)
			if err != nil {
				return nil, err
			}
			observers = append(observers, o)
		}
		return gateway.NewCompositeObserver(observers...), nil
	default:
		return nil, fmt.Errorf("unknown observer type %q", cfg.Type)
	}
}

func (p *Provider) observability() *ObservabilityConfig {
	if p.config.Observability == nil {
		p.config.Observability = &ObservabilityConfig{}
	}
	return p.config.Observability
}

// Gateway returns the authorization gateway
func (p *Provider) Gateway() (*gateway.Gateway, error) {
	if p.gateway != nil {
		return p.gateway, nil
	}

	validator, err := p.Validator()
	if err != nil {
		return nil, err
	}
	permissions, err := p.PermissionClient()
	if err != nil {
		return nil, err
	}
	provider, err := p.IdentityProvider()
	if err != nil {
		return nil, err
	}
	observer, err := p.Observer()
	if err != nil {
		return nil, err
	}

	opts := []gateway.Option{gateway.WithObserver(observer)}
	if len(p.config.Edge.PlaceholderIssuers) > 0 {
		opts = append(opts, gateway.WithPlaceholderIssuers(p.config.Edge.PlaceholderIssuers...))
	}

	p.gateway = gateway.New(validator, permissions, provider, opts...)
	return p.gateway, nil
}

// Router returns the downstream router over the gateway
func (p *Provider) Router() (*api.Router, error) {
	if p.router != nil {
		return p.router, nil
	}

	gw, err := p.Gateway()
	if err != nil {
		return nil, err
	}
	logger, err := p.Logger()
	if err != nil {
		return nil, err
	}

	p.router = api.NewRouter(gw, api.WithLogger(logger))
	return p.router, nil
}

// EdgeAdapter returns the CloudFront adapter the Lambda@Edge function runs
func (p *Provider) EdgeAdapter() (*edge.Adapter, error) {
	if p.adapter != nil {
		return p.adapter, nil
	}

	router, err := p.Router()
	if err != nil {
		return nil, err
	}
	logger, err := p.Logger()
	if err != nil {
		return nil, err
	}

	p.adapter = edge.NewAdapter(router,
		edge.WithLogger(logger),
		edge.WithAPIPrefix(p.config.Edge.APIPrefix),
	)
	return p.adapter, nil
}

// DefaultCustomHeaders returns the origin custom headers configured for the
// emulator and for ext_authz routes without context extensions
func (p *Provider) DefaultCustomHeaders() map[string]string {
	h := make(map[string]string)
	if v := p.config.Edge.Issuer; v != "" {
		h[request.HeaderIssuer] = v
	}
	if v := p.config.Edge.ApplicationID; v != "" {
		h[request.HeaderApplicationID] = v
	}
	if v := p.config.Edge.ServiceName; v != "" {
		h[request.HeaderServiceName] = v
	}
	return h
}

// AuthzServer returns the Envoy ext_authz server
func (p *Provider) AuthzServer() (*server.AuthzServer, error) {
	router, err := p.Router()
	if err != nil {
		return nil, err
	}
	logger, err := p.Logger()
	if err != nil {
		return nil, err
	}

	return server.NewAuthzServer(router,
		server.WithAuthzLogger(logger),
		server.WithDefaultCustomHeaders(p.DefaultCustomHeaders()),
	), nil
}

// Emulator returns the local edge emulator
func (p *Provider) Emulator() (*server.Emulator, error) {
	adapter, err := p.EdgeAdapter()
	if err != nil {
		return nil, err
	}
	logger, err := p.Logger()
	if err != nil {
		return nil, err
	}

	opts := []server.EmulatorOption{
		server.WithCustomHeaders(p.DefaultCustomHeaders()),
		server.WithGatherer(p.Registry()),
		server.WithEmulatorLogger(logger),
	}
	if p.config.Server.OriginURL != "" {
		origin, err := url.Parse(p.config.Server.OriginURL)
		if err != nil || origin.Scheme == "" || origin.Host == "" {
			return nil, fmt.Errorf("invalid server.origin_url %q", p.config.Server.OriginURL)
		}
		opts = append(opts, server.WithOrigin(origin))
	}
	return server.NewEmulator(adapter, opts...), nil
}

// ServerConfig returns the server configuration with both services attached
func (p *Provider) ServerConfig() (server.Config, error) {
	authz, err := p.AuthzServer()
	if err != nil {
		return server.Config{}, err
	}
	emulator, err := p.Emulator()
	if err != nil {
		return server.Config{}, err
	}
	logger, err := p.Logger()
	if err != nil {
		return server.Config{}, err
	}

	return server.Config{
		GRPCPort:    p.config.Server.GRPCPort,
		HTTPPort:    p.config.Server.HTTPPort,
		AuthzServer: authz,
		Emulator:    emulator,
		Logger:      logger,
	}, nil
}
