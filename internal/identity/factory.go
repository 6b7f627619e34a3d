// factory.go implements the identity backend registry, mapping backend names
// (kratos, memory) to constructor functions.
package identity

import (
	"fmt"
	"sort"
	"strings"

	"github.com/learnhub/membership-service/internal/config"
)

// FactoryFunc builds a Provider from configuration
type FactoryFunc func(*config.Config) (Provider, error)

var factories = make(map[string]FactoryFunc)

// Register registers an identity backend factory
func Register(name string, factory FactoryFunc) {
	factories[name] = factory
}

// NewProvider creates the identity provider selected by identity.backend
func NewProvider(cfg *config.Config) (Provider, error) {
	factory, ok := factories[cfg.Identity.Backend]
	if !ok {
		return nil, fmt.Errorf("unsupported identity backend: %s (registered: %s)",
			cfg.Identity.Backend, strings.Join(registered(), ", "))
	}
	return factory(cfg)
}

func registered() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
