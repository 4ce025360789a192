package generate

import (
	"fmt"

	"github.com/drewdunne/bicepmigrate/internal/config"
)

// Factory builds a Client from the generation settings.
type Factory func(cfg config.GenerationConfig) Client

// registry holds registered client factories by backend.
var registry = make(map[Backend]Factory)

// Register registers a client factory for a backend.
func Register(backend Backend, factory Factory) {
	registry[backend] = factory
}

// New creates a client for the configured backend.
func New(cfg config.GenerationConfig) (Client, error) {
	backend := Backend(cfg.Backend)
	factory, ok := registry[backend]
	if !ok {
		switch backend {
		case BackendAnthropic, BackendDuo:
			return nil, fmt.Errorf("%s backend not registered (import _ \"github.com/drewdunne/bicepmigrate/internal/generate/%s\")", backend, backend)
		default:
			return nil, fmt.Errorf("unknown generation backend: %s", cfg.Backend)
		}
	}
	return factory(cfg), nil
}
