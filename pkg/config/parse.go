package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ParseRunConfigYAML parses a RunConfig from YAML bytes on top of the defaults and validates it.
func ParseRunConfigYAML(data []byte) (*RunConfig, error) {
	cfg := DefaultRunConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config yaml: %w", err)
	}

	if err := validateRunConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ParseRunConfigYAMLString parses a RunConfig from a YAML string and validates it.
func ParseRunConfigYAMLString(yamlText string) (*RunConfig, error) {
	return ParseRunConfigYAML([]byte(yamlText))
}

// Validate checks a programmatically built config
func (c *RunConfig) Validate() error {
	if err := validateRunConfig(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
