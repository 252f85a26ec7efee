// Package records holds the raw, schema-less representation of one decoded
// input element. Values are whatever encoding/json produced with UseNumber
// enabled: string, json.Number, bool, nil, []any or map[string]any.
package records

// Record is one decoded JSON object keyed by canonical field name.
type Record map[string]any

// Has reports whether key is present with a non-nil value.
func (r Record) Has(key string) bool {
	v, ok := r[key]
	return ok && v != nil
}
