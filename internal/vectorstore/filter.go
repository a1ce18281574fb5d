package vectorstore

import (
	"fmt"
	"regexp"
)

// collectionNamePattern: lowercase letters, numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName validates a collection name.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match pattern ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// requireFilter fails closed when key is set and filters do not pin it to a
// non-empty value.
func requireFilter(key string, filters map[string]string) error {
	if key == "" {
		return nil
	}
	if filters[key] == "" {
		return fmt.Errorf("%w: %q", ErrMissingFilter, key)
	}
	return nil
}

func metadataToStrings(metadata map[string]interface{}) map[string]string {
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		if v == nil {
			continue
		}
		out[k] = stringify(v)
	}
	return out
}

func metadataFromStrings(metadata map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}

func checkDimension(vec []float32, want int) error {
	if want > 0 && len(vec) != want {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), want)
	}
	return nil
}
