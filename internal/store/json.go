package store

import "encoding/json"

// MarshalMap serializes a content map for a JSON column. Nil maps become
// the empty object so NOT NULL json columns stay scannable.
func MarshalMap(m map[string]any) []byte {
	if len(m) == 0 {
		return []byte(`{}`)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return []byte(`{}`)
	}
	return data
}

// UnmarshalMap parses a JSON column back into a map. Empty or invalid
// payloads yield nil rather than an error: content blobs are opaque and a
// bad row must not make the whole entity unreadable.
func UnmarshalMap(data []byte) map[string]any {
	if len(data) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	if len(m) == 0 {
		return nil
	}
	return m
}
