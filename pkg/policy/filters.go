package policy

import (
	"reflect"
	"strings"
)

// Matches reports whether the update metadata passes every filter
// predicate. Filters are exclusionary only when the declared key actually
// exists in the metadata: a path missing at any nesting level passes.
func (f Filters) Matches(metadata map[string]any) bool {
	for key, expected := range f {
		actual, present := lookupPath(metadata, key)
		if !present {
			continue
		}
		if !valuesEqual(actual, expected) {
			return false
		}
	}
	return true
}

// lookupPath walks a dot-path through nested metadata maps.
func lookupPath(metadata map[string]any, path string) (any, bool) {
	var current any = metadata
	for _, segment := range strings.Split(path, ".") {
		asMap, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = asMap[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// valuesEqual compares a metadata value against a filter value. Both sides
// come from decoded JSON, so numbers normalize to float64 before the deep
// comparison.
func valuesEqual(actual, expected any) bool {
	return reflect.DeepEqual(normalize(actual), normalize(expected))
}

func normalize(value any) any {
	switch v := value.(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float32:
		return float64(v)
	default:
		return value
	}
}
