// Package headers provides a case-insensitive, possibly multi-valued header
// container shared by the edge adapter, the router and the gateway.
package headers

import (
	"encoding/json"
	"slices"
	"sort"
	"strings"
)

// Header maps lower-cased header names to their values.
// The zero value is not usable; use New or FromMap.
type Header struct {
	values map[string][]string
}

// New creates an empty header container
func New() Header {
	return Header{values: make(map[string][]string)}
}

// FromMap builds a header container from a map of single values
func FromMap(m map[string]string) Header {
	h := New()
	for k, v := range m {
		h.Add(k, v)
	}
	return h
}

func canonical(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Get returns the first value for name, or "" if absent
func (h Header) Get(name string) string {
	vs := h.values[canonical(name)]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// Values returns all values for name
func (h Header) Values(name string) []string {
	return h.values[canonical(name)]
}

// Has reports whether name has at least one value
func (h Header) Has(name string) bool {
	return len(h.values[canonical(name)]) > 0
}

// Set replaces any values for name with value
func (h Header) Set(name, value string) {
	h.values[canonical(name)] = []string{value}
}

// Add appends value to the values for name
func (h Header) Add(name, value string) {
	key := canonical(name)
	h.values[key] = append(h.values[key], value)
}

// Del removes all values for name
func (h Header) Del(name string) {
	delete(h.values, canonical(name))
}

// Names returns the lower-cased header names in sorted order
func (h Header) Names() []string {
	names := make([]string, 0, len(h.values))
	for k := range h.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of distinct header names
func (h Header) Len() int {
	return len(h.values)
}

// Clone returns a deep copy of the header container
func (h Header) Clone() Header {
	c := New()
	for k, vs := range h.values {
		c.values[k] = slices.Clone(vs)
	}
	return c
}

// Flatten returns each header as a single string when it carries exactly one
// value, or as a []string otherwise.
func (h Header) Flatten() map[string]any {
	out := make(map[string]any, len(h.values))
	for k, vs := range h.values {
		if len(vs) == 1 {
			out[k] = vs[0]
		} else {
			out[k] = slices.Clone(vs)
		}
	}
	return out
}

// MarshalJSON renders the flattened form
func (h Header) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.Flatten())
}
