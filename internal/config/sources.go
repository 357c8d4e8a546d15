package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/openvirt/inventory-agent/internal/models"
)

// SourceDefinition is one entry in the sources YAML file. Everything
// besides name and type is connector-specific and passed through opaquely.
type SourceDefinition struct {
	Name     string            `yaml:"name"`
	Type     string            `yaml:"type"`
	Settings map[string]string `yaml:",inline"`
}

type sourcesFile struct {
	Sources []SourceDefinition `yaml:"sources"`
}

// LoadSources parses the sources file into source configs. Names must be
// unique; a file with no sources is an error since the agent would have
// nothing to do.
func LoadSources(path string) ([]*models.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sources file: %w", err)
	}

	var f sourcesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing sources file %q: %w", path, err)
	}
	if len(f.Sources) == 0 {
		return nil, fmt.Errorf("sources file %q defines no sources", path)
	}

	seen := make(map[string]struct{}, len(f.Sources))
	configs := make([]*models.Config, 0, len(f.Sources))
	for _, def := range f.Sources {
		if def.Name == "" {
			return nil, fmt.Errorf("source with type %q has no name", def.Type)
		}
		if def.Type == "" {
			return nil, fmt.Errorf("source %q has no type", def.Name)
		}
		if _, dup := seen[def.Name]; dup {
			return nil, fmt.Errorf("duplicate source name %q", def.Name)
		}
		seen[def.Name] = struct{}{}
		configs = append(configs, &models.Config{
			Name:     def.Name,
			Type:     def.Type,
			Settings: def.Settings,
		})
	}
	return configs, nil
}
