package chains

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definitions models the structure of configs/chains.yaml.
type Definitions struct {
	DefaultChainID uint64   `yaml:"default_chain_id"`
	Chains         []Config `yaml:"chains"`
}

// LoadDefinitions parses the optional YAML overlay of chain metadata. An empty
// path yields no extra chains.
func LoadDefinitions(path string) (Definitions, error) {
	if strings.TrimSpace(path) == "" {
		return Definitions{}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Definitions{}, fmt.Errorf("read chain definitions: %w", err)
	}

	var defs Definitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return Definitions{}, fmt.Errorf("parse chain definitions: %w", err)
	}
	for i, c := range defs.Chains {
		if c.ID == 0 {
			return Definitions{}, fmt.Errorf("chain definition %d has no id", i)
		}
		if strings.TrimSpace(c.Name) == "" {
			return Definitions{}, fmt.Errorf("chain %d has no name", c.ID)
		}
	}
	return defs, nil
}

// Load builds a registry from the overlay file. The configured default chain
// wins over the one declared in the file.
func Load(path string, defaultID uint64) (*Registry, error) {
	defs, err := LoadDefinitions(path)
	if err != nil {
		return nil, err
	}
	if defaultID == 0 {
		defaultID = defs.DefaultChainID
	}
	return NewRegistry(defaultID, defs.Chains...)
}
