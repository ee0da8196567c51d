package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile reads a YAML policy document and validates it.
func LoadFile(path string) (*ModulePolicy, error) {
	// #nosec G304 -- path comes from operator configuration.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*ModulePolicy, error) {
	var p ModulePolicy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	if p.Module == "" {
		p.Module = ModulePTW
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
