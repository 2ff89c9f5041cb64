// Package jsonutil decodes loosely typed values that language models emit.
package jsonutil

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FlexibleStringValue converts a raw value to a string, accepting numbers and
// booleans where a string was asked for. Null and empty give "".
func FlexibleStringValue(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b)
	}
	return string(raw)
}

// FlexibleFloat reads a number given as a JSON number, a numeric string or a
// percentage string ("85%" is 0.85). ok is false for null or absent values.
func FlexibleFloat(raw json.RawMessage) (value float64, ok bool, err error) {
	if isNull(raw) {
		return 0, false, nil
	}
	if err := json.Unmarshal(raw, &value); err == nil {
		return value, true, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false, fmt.Errorf("expected a number, got %s", string(raw))
	}
	s = strings.TrimSpace(s)
	percent := strings.HasSuffix(s, "%")
	s = strings.TrimSuffix(s, "%")
	value, err = strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false, fmt.Errorf("expected a number, got %q", s)
	}
	if percent {
		value /= 100
	}
	return value, true, nil
}

// FlexibleStringSlice reads either a JSON array of strings or a single
// comma-separated string.
func FlexibleStringSlice(raw json.RawMessage) []string {
	if isNull(raw) {
		return nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s := strings.TrimSpace(FlexibleStringValue(item)); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	var out []string
	for _, part := range strings.Split(FlexibleStringValue(raw), ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func isNull(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}
