package postgres

import "encoding/json"

// marshalVector JSON-encodes a float vector for the feature_vectors table's
// JSONB column, per spec.md §6.
func marshalVector(vec []float32) ([]byte, error) {
	return json.Marshal(vec)
}
