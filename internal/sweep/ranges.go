// Package sweep runs grid searches over the disparity parameters and
// records every combination.
package sweep

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/disparity/internal/stereo"
)

// maxValues bounds a generated range to prevent excessive allocation.
const maxValues = 10000

// IntRangeSpec defines an integer parameter range for sweeping.
type IntRangeSpec struct {
	Min  int
	Max  int
	Step int
}

// ParseIntRangeSpec parses a "min:max:step" string into an IntRangeSpec.
func ParseIntRangeSpec(s string) (IntRangeSpec, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return IntRangeSpec{}, fmt.Errorf("invalid range format %q: expected min:max:step", s)
	}

	lo, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return IntRangeSpec{}, fmt.Errorf("invalid min value %q: %w", parts[0], err)
	}
	hi, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return IntRangeSpec{}, fmt.Errorf("invalid max value %q: %w", parts[1], err)
	}
	step, err := strconv.Atoi(strings.TrimSpace(parts[2]))
	if err != nil {
		return IntRangeSpec{}, fmt.Errorf("invalid step value %q: %w", parts[2], err)
	}
	if step <= 0 {
		return IntRangeSpec{}, fmt.Errorf("step must be positive, got %d", step)
	}
	return IntRangeSpec{Min: lo, Max: hi, Step: step}, nil
}

// Values expands the range, min and max inclusive. It returns nil when
// min > max or the range would exceed maxValues entries.
func (r IntRangeSpec) Values() []int {
	if r.Step <= 0 || r.Min > r.Max {
		return nil
	}
	if n := (r.Max-r.Min)/r.Step + 1; n > maxValues || n < 0 {
		return nil
	}
	var out []int
	for v := r.Min; v <= r.Max; v += r.Step {
		out = append(out, v)
	}
	return out
}

// ParseCSVInts parses a comma-separated list of int values.
// Returns nil, nil for empty input strings.
func ParseCSVInts(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid int '%s': %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// ParseIntParamList parses either "min:max:step" or a comma-separated list.
func ParseIntParamList(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	if strings.Contains(s, ":") {
		spec, err := ParseIntRangeSpec(s)
		if err != nil {
			return nil, err
		}
		v := spec.Values()
		if len(v) == 0 {
			return nil, fmt.Errorf("range %q is empty or too large", s)
		}
		return v, nil
	}
	return ParseCSVInts(s)
}

// ParseBackendList parses a comma-separated list of backend names. "all"
// selects every backend.
func ParseBackendList(s string) ([]stereo.BackendKind, error) {
	if strings.TrimSpace(strings.ToLower(s)) == "all" {
		return stereo.AllBackends(), nil
	}
	var out []stereo.BackendKind
	for _, p := range strings.Split(s, ",") {
		if strings.TrimSpace(p) == "" {
			continue
		}
		k, err := stereo.ParseBackendKind(p)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}
