// Copyright 2025 James Ross
package store

import (
	"encoding/json"
	"fmt"
	"os"
)

func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

func marshalMetadata(meta map[string]any) (string, error) {
	if meta == nil {
		return "{}", nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("marshal result metadata: %w", err)
	}
	return string(b), nil
}

func unmarshalMetadata(s string) (map[string]any, error) {
	if s == "" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("unmarshal result metadata: %w", err)
	}
	return m, nil
}
