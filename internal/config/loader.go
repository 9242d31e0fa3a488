package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	koanfjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every environment variable read by the loader.
// Nested keys are separated by a double underscore:
// GATEHOUSE_SERVER__HTTP_PORT sets server.http_port.
const EnvPrefix = "GATEHOUSE_"

// Loader layers configuration sources, lowest precedence first:
// config file, environment, command-line flags.
type Loader struct {
	k *koanf.Koanf
}

// NewLoader loads path (optional) and the environment
func NewLoader(path string) (*Loader, error) {
	return NewLoaderWithFlags(path, nil)
}

// NewLoaderWithFlags loads path (optional), the environment and every
// flag in flags that was set explicitly
func NewLoaderWithFlags(path string, flags *pflag.FlagSet) (*Loader, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		parser, err := parserFor(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if flags != nil {
		mapping := FlagMapping()
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			path, ok := mapping[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return path, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	return &Loader{k: k}, nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return koanfjson.Parser(), nil
	case ".toml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", path)
	}
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Get unmarshals the layered configuration and applies defaults
func (l *Loader) Get() (*Config, error) {
	var cfg Config
	if err := l.k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default values applied by Get to unset fields
const (
	DefaultGRPCPort     = 9090
	DefaultHTTPPort     = 8080
	DefaultAPIPrefix    = "/api"
	DefaultHTTPTimeout  = "5s"
	DefaultJWKSCache    = 128
	DefaultSkew         = "30s"
	DefaultPermissions  = "http"
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "json"
	DefaultObserverType = "composite"
)

func (c *Config) applyDefaults() {
	setDefault(&c.Server.GRPCPort, DefaultGRPCPort)
	setDefault(&c.Server.HTTPPort, DefaultHTTPPort)
	setDefault(&c.Edge.APIPrefix, DefaultAPIPrefix)
	setDefault(&c.HTTP.Timeout, DefaultHTTPTimeout)
	setDefault(&c.JWKS.CacheSize, DefaultJWKSCache)
	setDefault(&c.JWKS.AcceptableSkew, DefaultSkew)
	setDefault(&c.Permissions.Type, DefaultPermissions)

	if c.Observability == nil {
		c.Observability = &ObservabilityConfig{}
	}
	setDefault(&c.Observability.Type, DefaultObserverType)
	setDefault(&c.Observability.LogLevel, DefaultLogLevel)
	setDefault(&c.Observability.LogFormat, DefaultLogFormat)
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}
