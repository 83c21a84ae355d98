package visibility

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// configFile is the on-disk shape of the visibility configuration.
//
//	clients:
//	  acme-logistics:
//	    assets: ["KAGU3331339"]
//	    patterns: ["SZLU*", "TRIU*"]
type configFile struct {
	Clients map[string]ClientRule `yaml:"clients"`
}

// LoadFile reads per-client visibility rules from a YAML file and
// compiles them into a filter.
func LoadFile(path string) (*Filter, error) {
	if path == "" {
		return nil, errors.New("visibility: empty config path")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("visibility: read config: %w", err)
	}
	return Parse(data)
}

// Parse compiles YAML visibility rules.
func Parse(data []byte) (*Filter, error) {
	var file configFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("visibility: parse config: %w", err)
	}
	return NewFilter(file.Clients), nil
}
