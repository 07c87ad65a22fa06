package migration

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// mapField safely extracts a nested object, returning nil if absent.
func mapField(obj map[string]interface{}, field string) map[string]interface{} {
	if v, ok := obj[field].(map[string]interface{}); ok {
		return v
	}
	return nil
}

// stringField safely extracts a string field, returning "" if nil.
func stringField(obj map[string]interface{}, field string) string {
	if v, ok := obj[field].(string); ok {
		return v
	}
	return ""
}

// boolField safely extracts a bool field, returning false if nil.
func boolField(obj map[string]interface{}, field string) bool {
	if v, ok := obj[field].(bool); ok {
		return v
	}
	return false
}

// valueString renders a snapshot value as the string the API stores. Null
// means no value was set.
func valueString(v interface{}) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(x), true
	case json.Number:
		return x.String(), true
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v), true
	}
	return string(data), true
}

// sortedKeys returns the keys of obj in ascending order.
func sortedKeys(obj map[string]interface{}) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
