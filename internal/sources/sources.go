package sources

import (
	"context"
	"fmt"
	"sort"

	"github.com/openvirt/inventory-agent/internal/models"
)

// Source collects one inventory snapshot for a config.
type Source interface {
	Collect(ctx context.Context, cfg *models.Config) (models.Report, error)
}

// Factory builds a source from its config.
type Factory func(cfg *models.Config) (Source, error)

var registry = map[string]Factory{}

// Register makes a connector available under a config type tag. Called
// from connector init functions.
func Register(typ string, f Factory) {
	registry[typ] = f
}

// New builds the connector owning the given config.
func New(cfg *models.Config) (Source, error) {
	f, ok := registry[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("unsupported source type %q (supported: %v)", cfg.Type, Types())
	}
	return f(cfg)
}

// Types lists the registered config type tags.
func Types() []string {
	out := make([]string, 0, len(registry))
	for t := range registry {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
