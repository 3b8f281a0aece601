package pipeline

import (
	"fmt"
	"strings"
)

// Resolve evaluates a definition value to a string. Plain strings are
// returned as is; Get expressions are answered by lookup and Std:Join
// expressions are evaluated recursively.
func Resolve(value interface{}, lookup func(path string) (string, bool)) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case map[string]interface{}:
		if path, ok := v["Get"].(string); ok {
			resolved, found := lookup(path)
			if !found {
				return "", fmt.Errorf("unresolved reference %s", path)
			}
			return resolved, nil
		}
		if spec, ok := v["Std:Join"].(map[string]interface{}); ok {
			on, _ := spec["On"].(string)
			values, _ := spec["Values"].([]interface{})
			parts := make([]string, 0, len(values))
			for _, part := range values {
				s, err := Resolve(part, lookup)
				if err != nil {
					return "", err
				}
				parts = append(parts, s)
			}
			return strings.Join(parts, on), nil
		}
	}
	return "", fmt.Errorf("unsupported expression %v", value)
}

// Lookup walks a path of map keys and slice indexes through a step's
// arguments, e.g. "ModelMetrics", "ModelQuality", "Statistics", "S3Uri"
func Lookup(args map[string]interface{}, path ...interface{}) (interface{}, bool) {
	var current interface{} = args
	for _, key := range path {
		switch k := key.(type) {
		case string:
			m, ok := current.(map[string]interface{})
			if !ok {
				return nil, false
			}
			if current, ok = m[k]; !ok {
				return nil, false
			}
		case int:
			s, ok := current.([]interface{})
			if !ok || k < 0 || k >= len(s) {
				return nil, false
			}
			current = s[k]
		default:
			return nil, false
		}
	}
	return current, true
}
