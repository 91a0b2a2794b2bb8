package config

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Parameter names with documented defaults.
const (
	ParamVUs      = "VUS"
	ParamRampUp   = "RAMPUP"
	ParamDuration = "DURATION"
)

// DefaultParams are the values used when a parameter is not supplied.
var DefaultParams = map[string]string{
	ParamVUs:      "450",
	ParamRampUp:   "5s",
	ParamDuration: "60s",
}

// Params are the immutable test parameters substituted into a definition
// at load time. They replace reads of the process environment.
type Params struct {
	values map[string]string
}

// NewParams returns the defaults overridden by values.
func NewParams(values map[string]string) Params {
	merged := make(map[string]string, len(DefaultParams)+len(values))
	for k, v := range DefaultParams {
		merged[k] = v
	}
	for k, v := range values {
		merged[k] = v
	}
	return Params{values: merged}
}

// ParseParams parses KEY=VALUE pairs as given to -e.
func ParseParams(pairs []string) (Params, error) {
	values := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return Params{}, fmt.Errorf("invalid parameter %q: expected KEY=VALUE", pair)
		}
		values[k] = v
	}
	return NewParams(values), nil
}

// Get returns the value of a parameter.
func (p Params) Get(name string) (string, bool) {
	v, ok := p.values[name]
	return v, ok
}

// With returns a copy of p with name set to value.
func (p Params) With(name, value string) Params {
	values := make(map[string]string, len(p.values)+1)
	for k, v := range p.values {
		values[k] = v
	}
	values[name] = value
	return Params{values: values}
}

// Names returns the parameter names in sorted order.
func (p Params) Names() []string {
	names := make([]string, 0, len(p.values))
	for k := range p.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// Expand replaces ${NAME} and ${NAME:-default} placeholders. Placeholders
// naming an unknown parameter without a default are left untouched so that
// VU variables such as ${authToken} survive until request time.
func (p Params) Expand(s string) string {
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		sub := placeholder.FindStringSubmatch(m)
		if v, ok := p.values[sub[1]]; ok {
			return v
		}
		if strings.Contains(m, ":-") {
			return sub[2]
		}
		return m
	})
}
