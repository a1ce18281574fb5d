package vectorstore

import (
	"fmt"
	"strconv"
)

// Document is a record to be stored.
type Document struct {
	// ID is the unique record identifier.
	ID string

	// Content is the chunk text that gets embedded.
	Content string

	// Metadata holds filterable attributes. Values must be strings, ints,
	// floats or bools.
	Metadata map[string]interface{}
}

// SearchResult is one match returned by the index.
type SearchResult struct {
	ID      string
	Content string
	// Score is the backend similarity, higher is closer.
	Score    float32
	Metadata map[string]interface{}
}

// MetadataString returns the metadata value for key formatted as a string.
// Backends differ in how they round-trip numbers, so callers compare strings.
func (r SearchResult) MetadataString(key string) string {
	v, ok := r.Metadata[key]
	if !ok || v == nil {
		return ""
	}
	return stringify(v)
}

// Stats describes an index.
type Stats struct {
	Provider   string `json:"provider"`
	Collection string `json:"collection"`
	Documents  int    `json:"documents"`
	Dimension  int    `json:"dimension"`
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
