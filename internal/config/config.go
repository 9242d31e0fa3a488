package config

// Config is the root configuration structure for gatehouse
type Config struct {
	// Server configuration (ports and the emulated origin)
	Server ServerConfig `koanf:"server"`

	// Edge configuration shared by the Lambda@Edge function, the emulator and ext_authz
	Edge EdgeConfig `koanf:"edge"`

	// HTTP configures the outbound client used for every upstream call
	HTTP HTTPConfig `koanf:"http"`

	// JWKS configures the key set cache
	JWKS JWKSConfig `koanf:"jwks"`

	// Permissions selects the permission service client
	Permissions PermissionsConfig `koanf:"permissions"`

	// Fixtures for hermetic runs (HTTP rules, fixture files)
	Fixtures []FixtureConfig `koanf:"fixtures"`

	// Observability configuration (logging, metrics)
	Observability *ObservabilityConfig `koanf:"observability"`
}

// ServerConfig contains network-level server settings
type ServerConfig struct {
	// GRPCPort is the port for the Envoy ext_authz service
	GRPCPort int `koanf:"grpc_port" usage:"gRPC server port (ext_authz)"`

	// HTTPPort is the port for the local edge emulator
	HTTPPort int `koanf:"http_port" usage:"HTTP server port (edge emulator)"`

	// OriginURL receives requests the emulator lets through. Empty answers 204.
	OriginURL string `koanf:"origin_url" usage:"origin the edge emulator proxies allowed requests to"`
}

// EdgeConfig configures request adaptation and the origin custom headers
// used when the CDN or Envoy route does not provide them
type EdgeConfig struct {
	// APIPrefix is removed from request URIs (default: /api)
	APIPrefix string `koanf:"api_prefix" usage:"path prefix removed from request URIs"`

	// Issuer is the default x-issuer custom header
	Issuer string `koanf:"issuer" usage:"default issuer (x-issuer origin header)"`

	// ApplicationID is the default x-authress-application-id custom header
	ApplicationID string `koanf:"application_id" usage:"default application id (x-authress-application-id origin header)"`

	// ServiceName is the default x-service-name custom header
	ServiceName string `koanf:"service_name" usage:"default service name (x-service-name origin header)"`

	// PlaceholderIssuers are issuer values treated as unconfigured
	PlaceholderIssuers []string `koanf:"placeholder_issuers"`
}

// HTTPConfig configures the outbound HTTP client
type HTTPConfig struct {
	// Timeout for each upstream request (default: 5s)
	Timeout string `koanf:"timeout" usage:"upstream request timeout, e.g. 5s"`
}

// JWKSConfig configures the key set cache
type JWKSConfig struct {
	// CacheSize bounds the number of key set URLs kept (default: 128)
	CacheSize int `koanf:"cache_size" usage:"number of key set URLs cached"`

	// AcceptableSkew tolerated for exp and nbf (default: 30s)
	AcceptableSkew string `koanf:"acceptable_skew" usage:"clock skew tolerated for token expiry, e.g. 30s"`
}

// PermissionsConfig configures the permission client
type PermissionsConfig struct {
	// Type selects the client implementation
	// Options: "http" (default), "cel", "allow_all", "deny_all"
	Type string `koanf:"type" usage:"permission client type: http, cel, allow_all, deny_all"`

	// HTTP client fields
	BaseURL   string `koanf:"base_url" usage:"permission API base URL (default: the caller's issuer)"`
	AccessKey string `koanf:"access_key" usage:"permission API access key (default: the caller's token)"`

	// CEL client fields
	Script     string `koanf:"script" usage:"CEL permission expression"`
	ScriptFile string `koanf:"script_file" usage:"file containing the CEL permission expression"`
}

// FixtureConfig configures a fixture for hermetic runs
type FixtureConfig struct {
	// Type selects the fixture type
	// Options: "http_rule", "file"
	Type string `koanf:"type"`

	// HTTP rule fields (when Type is "http_rule")
	Request  FixtureRequest  `koanf:"request"`
	Response FixtureResponse `koanf:"response"`

	// Path to a fixture file or directory (when Type is "file")
	Path string `koanf:"path"`
}

// FixtureRequest defines request matching criteria for HTTP fixtures
type FixtureRequest struct {
	// Method is the HTTP method to match (e.g., "GET", "POST", "*" for any)
	Method string `koanf:"method"`

	// URL is the URL to match (exact or pattern based on URLType)
	URL string `koanf:"url"`

	// URLType specifies how to match the URL
	// Options: "exact" (default), "pattern" (regex)
	URLType string `koanf:"url_type"`

	// Headers are optional headers to match
	Headers map[string]string `koanf:"headers"`
}

// FixtureResponse defines the HTTP response to return for a fixture
type FixtureResponse struct {
	StatusCode int               `koanf:"status"`
	Headers    map[string]string `koanf:"headers"`
	Body       string            `koanf:"body"`
}

// ObservabilityConfig configures application observability
type ObservabilityConfig struct {
	// Type selects the observer implementation
	// Options: "logging", "metrics", "noop", "composite"
	// Default: composite of logging and metrics
	Type string `koanf:"type" usage:"observer type: logging, metrics, noop, composite"`

	// LogLevel: debug, info, warn, error. Default: info
	LogLevel string `koanf:"log_level" usage:"log level: debug, info, warn, error"`

	// LogFormat: json, text. Default: json
	LogFormat string `koanf:"log_format" usage:"log format: json, text"`

	// Observers for the composite type
	Observers []ObservabilityConfig `koanf:"observers"`
}
