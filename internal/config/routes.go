package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Routes overrides the built-in registry alias and mirror tables. A nil
// map keeps the defaults; a non-nil map replaces the table entirely.
type Routes struct {
	// Registries maps path aliases to upstream registry hosts.
	Registries map[string]string `yaml:"registries"`
	// Mirrors maps path prefixes to upstream package mirror base URLs.
	Mirrors map[string]string `yaml:"mirrors"`
}

// LoadRoutes reads a route override file. An empty path returns an
// empty override set.
func LoadRoutes(path string) (*Routes, error) {
	if path == "" {
		return &Routes{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routes file %s: %w", path, err)
	}
	var routes Routes
	if err := yaml.Unmarshal(data, &routes); err != nil {
		return nil, fmt.Errorf("parse routes file %s: %w", path, err)
	}
	return &routes, nil
}
