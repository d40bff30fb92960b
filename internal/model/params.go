package model

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Params maps hyperparameter names to values. Values are int, float64 or
// string.
type Params map[string]any

// Merge returns base overlaid with override: keys only in base are kept,
// keys in both take the override value and keys only in override are added.
// Neither input is modified.
func Merge(base, override Params) Params {
	out := make(Params, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// Keys returns the parameter names in sorted order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Int returns key as an int, or def when absent. Integral float64 values
// are accepted.
func (p Params) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n == math.Trunc(n) {
			return int(n), nil
		}
	}
	return 0, fmt.Errorf("param %q: want integer, got %T(%v)", key, v, v)
}

// Float returns key as a float64, or def when absent.
func (p Params) Float(key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return 0, fmt.Errorf("param %q: want number, got %T(%v)", key, v, v)
}

// String returns key as a string, or def when absent.
func (p Params) String(key, def string) (string, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("param %q: want string, got %T(%v)", key, v, v)
	}
	return s, nil
}

// EncodeValue renders a parameter value for a tracking backend. Floats
// always carry a decimal point so that a decoder can tell 1.0 from 1.
func EncodeValue(v any) string {
	switch n := v.(type) {
	case float64:
		if math.IsInf(n, 0) || math.IsNaN(n) {
			return strconv.FormatFloat(n, 'g', -1, 64)
		}
		s := strconv.FormatFloat(n, 'f', -1, 64)
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return s
	case int:
		return strconv.Itoa(n)
	case int64:
		return strconv.FormatInt(n, 10)
	case string:
		return n
	case []string:
		return strings.Join(n, ",")
	default:
		return fmt.Sprint(v)
	}
}

// Encode renders every value with EncodeValue, optionally prefixing keys.
func (p Params) Encode(prefix string) map[string]string {
	out := make(map[string]string, len(p))
	for k, v := range p {
		out[prefix+k] = EncodeValue(v)
	}
	return out
}

// Describe renders the params as "k=v" pairs in key order.
func (p Params) Describe() string {
	parts := make([]string, 0, len(p))
	for _, k := range p.Keys() {
		parts = append(parts, k+"="+EncodeValue(p[k]))
	}
	return strings.Join(parts, " ")
}
