package config

import (
	"fmt"

	"github.com/alechenninger/gatehouse/internal/httpfixture"
)

// BuildHTTPFixtureProvider creates an HTTP fixture provider from fixture configurations.
// Returns nil if no fixtures are configured (normal production mode).
func BuildHTTPFixtureProvider(fixtures []FixtureConfig) (httpfixture.Provider, error) {
	var rules []httpfixture.Rule
	for _, f := range fixtures {
		switch f.Type {
		case "http_rule":
			rules = append(rules, httpfixture.Rule{
				Request: httpfixture.Match{
					Method:  f.Request.Method,
					URL:     f.Request.URL,
					URLType: f.Request.URLType,
					Headers: f.Request.Headers,
				},
				Response: httpfixture.Fixture{
					StatusCode: f.Response.StatusCode,
					Headers:    f.Response.Headers,
					Body:       f.Response.Body,
				},
			})
		case "file":
			loaded, err := httpfixture.LoadPaths(f.Path)
			if err != nil {
				return nil, err
			}
			rules = append(rules, loaded...)
		default:
			return nil, fmt.Errorf("unknown fixture type %q", f.Type)
		}
	}

	if len(rules) == 0 {
		return nil, nil
	}
	return httpfixture.NewRuleProvider(rules)
}
