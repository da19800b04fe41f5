// Package params validates conversion parameter overrides and converts
// them into worker command-line flags.
package params

import (
	"fmt"
	"strconv"
	"strings"
)

// boundedFloat describes a numeric parameter with inclusive bounds.
type boundedFloat struct {
	min float64
	max float64
}

// floatParams maps recognized numeric keys to their enforced bounds.
// The keys and bounds mirror the worker's own argument parser.
var floatParams = map[string]boundedFloat{
	"onset-threshold": {0.0, 1.0},
	"frame-threshold": {0.0, 1.0},
	"min-frequency":   {20.0, 8000.0},
	"max-frequency":   {20.0, 8000.0},
	"min-note-length": {0.01, 10.0},
	"tempo-bpm":       {60.0, 200.0},
}

// boolParams maps recognized boolean keys to the flag emitted when the
// caller turns the behavior off. Both are on by default in the worker,
// so a true value emits nothing.
var boolParams = map[string]string{
	"use-melodia-trick":   "--no-melodia-trick",
	"include-pitch-bends": "--no-pitch-bends",
}

// Validate converts a flat, alternating key/value sequence into an
// ordered list of worker launch flags. An empty sequence is legal and
// yields no flags.
func Validate(kv []string) ([]string, error) {
	if len(kv)%2 != 0 {
		return nil, fmt.Errorf("parameter list must have an even number of entries, got %d", len(kv))
	}

	flags := make([]string, 0, len(kv))
	for i := 0; i < len(kv); i += 2 {
		key := strings.TrimSpace(kv[i])
		value := strings.TrimSpace(kv[i+1])

		if bounds, ok := floatParams[key]; ok {
			parsed, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, fmt.Errorf("parameter %s: value %q is not a number", key, value)
			}
			if parsed < bounds.min || parsed > bounds.max {
				return nil, fmt.Errorf("parameter %s: value %v out of range [%v, %v]", key, parsed, bounds.min, bounds.max)
			}
			flags = append(flags, "--"+key, value)
			continue
		}

		if offFlag, ok := boolParams[key]; ok {
			enabled, err := parseBool(value)
			if err != nil {
				return nil, fmt.Errorf("parameter %s: value %q is not a boolean", key, value)
			}
			if !enabled {
				flags = append(flags, offFlag)
			}
			continue
		}

		return nil, fmt.Errorf("unknown parameter %q", key)
	}
	return flags, nil
}

// Recognized reports whether key names a supported parameter.
func Recognized(key string) bool {
	if _, ok := floatParams[key]; ok {
		return true
	}
	_, ok := boolParams[key]
	return ok
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("unrecognized boolean %q", value)
	}
}
