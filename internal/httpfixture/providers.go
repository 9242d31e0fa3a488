package httpfixture

import (
	"fmt"
	"net/http"
	"regexp"
)

const (
	URLTypeExact   = "exact"
	URLTypePattern = "pattern"
)

type compiledRule struct {
	Rule
	pattern *regexp.Regexp
}

// RuleProvider matches requests against an ordered set of rules; the first
// matching rule wins.
type RuleProvider struct {
	rules []compiledRule
}

// NewRuleProvider compiles rules. An invalid pattern is an error.
func NewRuleProvider(rules []Rule) (*RuleProvider, error) {
	p := &RuleProvider{}
	for _, r := range rules {
		if err := p.Add(r); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Add appends a rule
func (p *RuleProvider) Add(r Rule) error {
	c := compiledRule{Rule: r}
	switch r.Request.URLType {
	case "", URLTypeExact:
	case URLTypePattern:
		re, err := regexp.Compile(r.Request.URL)
		if err != nil {
			return fmt.Errorf("invalid fixture url pattern %q: %w", r.Request.URL, err)
		}
		c.pattern = re
	default:
		return fmt.Errorf("unknown fixture url_type %q", r.Request.URLType)
	}
	p.rules = append(p.rules, c)
	return nil
}

// Len returns the number of rules
func (p *RuleProvider) Len() int {
	return len(p.rules)
}

// GetFixture returns the response of the first rule matching req
func (p *RuleProvider) GetFixture(req *http.Request) *Fixture {
	for i := range p.rules {
		if p.rules[i].matches(req) {
			f := p.rules[i].Response
			return &f
		}
	}
	return nil
}

func (r *compiledRule) matches(req *http.Request) bool {
	if m := r.Request.Method; m != "" && m != "*" && m != req.Method {
		return false
	}

	u := req.URL.String()
	if r.pattern != nil {
		if !r.pattern.MatchString(u) {
			return false
		}
	} else if u != r.Request.URL {
		return false
	}

	for name, value := range r.Request.Headers {
		if req.Header.Get(name) != value {
			return false
		}
	}
	return true
}
