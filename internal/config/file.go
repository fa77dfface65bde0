package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// loadOverlay reads the YAML configuration file at path into a flat key/value
// map. Keys are case-insensitive and use the same names as the corresponding
// environment variables (lower snake case is conventional in the file).
// An empty path means no overlay.
func loadOverlay(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	overlay := make(map[string]string, len(doc))
	for key, val := range doc {
		switch val.(type) {
		case map[string]any, []any:
			return nil, fmt.Errorf("config file key %q: nested values are not supported", key)
		case nil:
			continue
		}
		overlay[strings.ToUpper(key)] = fmt.Sprint(val)
	}
	return overlay, nil
}
