package filter

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// ErrNotFilterable is returned for results that are neither a list nor an
// object of objects.
var ErrNotFilterable = errors.New("result is not filterable")

// Record is one element of a call result. Key is the index in a list or the
// key in an object, e.g. an info hash.
type Record struct {
	Key   string
	Value any
}

// Select returns the value at path in result. Path elements are separated
// by dots and may be object keys or list indexes, e.g. "arguments.torrents".
func Select(result any, path string) (any, error) {
	if path == "" {
		return result, nil
	}

	current := result
	for _, elem := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]any:
			next, ok := v[elem]
			if !ok {
				return nil, fmt.Errorf("no such key: %s", elem)
			}
			current = next
		case []any:
			i, err := strconv.Atoi(elem)
			if err != nil || i < 0 || i >= len(v) {
				return nil, fmt.Errorf("no such index: %s", elem)
			}
			current = v[i]
		default:
			return nil, fmt.Errorf("cannot select %s from %T", elem, current)
		}
	}
	return current, nil
}

// Records splits a decoded call result into records. Objects are only
// accepted if every value is an object, like the torrents of Deluge keyed
// by info hash.
func Records(result any) ([]Record, error) {
	switch v := result.(type) {
	case []any:
		records := make([]Record, len(v))
		for i, item := range v {
			records[i] = Record{Key: strconv.Itoa(i), Value: item}
		}
		return records, nil
	case map[string]any:
		keys := make([]string, 0, len(v))
		for key, item := range v {
			if _, ok := item.(map[string]any); !ok {
				return nil, fmt.Errorf("%w: %s is not an object", ErrNotFilterable, key)
			}
			keys = append(keys, key)
		}
		slices.Sort(keys)
		records := make([]Record, len(keys))
		for i, key := range keys {
			records[i] = Record{Key: key, Value: v[key]}
		}
		return records, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrNotFilterable, result)
	}
}

// rebuild returns records in the shape of original
func rebuild(original any, records []Record) any {
	if _, ok := original.(map[string]any); ok {
		result := make(map[string]any, len(records))
		for _, r := range records {
			result[r.Key] = r.Value
		}
		return result
	}
	result := make([]any, len(records))
	for i, r := range records {
		result[i] = r.Value
	}
	return result
}
