package pipeline

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/banshee-data/modelpipe/internal/model"
)

// BestParamPrefix marks the tuned hyperparameters in a candidate run.
const BestParamPrefix = "best_"

// integerPattern also accepts a leading minus so negative ints round-trip.
var integerPattern = regexp.MustCompile(`^-?[0-9]+$`)

// DecodeValue recovers a typed hyperparameter from its logged string form:
// a value containing "." is a float64, an optionally signed run of digits is
// an int, anything else stays a string.
func DecodeValue(s string) (any, error) {
	switch {
	case strings.Contains(s, "."):
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("decode float %q: %w", s, err)
		}
		return f, nil
	case integerPattern.MatchString(s):
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("decode int %q: %w", s, err)
		}
		return n, nil
	default:
		return s, nil
	}
}

// RecoverParams extracts every best_-prefixed parameter, strips the prefix
// and decodes the value. Other keys are ignored.
func RecoverParams(logged map[string]string) (model.Params, error) {
	out := model.Params{}
	for k, v := range logged {
		name, ok := strings.CutPrefix(k, BestParamPrefix)
		if !ok || name == "" {
			continue
		}
		val, err := DecodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("param %s: %w", k, err)
		}
		out[name] = val
	}
	return out, nil
}
