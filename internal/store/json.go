package store

import (
	"context"
	"encoding/json"
)

// SaveJSON marshals v and saves it under key.
func SaveJSON(ctx context.Context, s Store, key string, v any) error {
	blob, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Save(ctx, key, blob)
}

// LoadJSON loads key and unmarshals it into v. It reports (false, nil) if
// the key is absent, leaving v untouched.
func LoadJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	blob, err := s.Load(ctx, key)
	if err != nil {
		return false, err
	}
	if blob == nil {
		return false, nil
	}
	if err := json.Unmarshal(blob, v); err != nil {
		return false, err
	}
	return true, nil
}
