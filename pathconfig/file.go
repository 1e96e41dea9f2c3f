package pathconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk layout of a path configuration. JSON documents are
// valid YAML, so both formats load through the same decoder.
type File struct {
	Rules []Rule `yaml:"rules"`
}

// Parse decodes a YAML or JSON document into a Config.
func Parse(data []byte) (*Config, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("pathconfig: decode: %w", err)
	}
	return New(f.Rules)
}

// LoadFile reads and compiles a configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pathconfig: read %s: %w", path, err)
	}
	return Parse(data)
}
