package llm

import (
	"fmt"
	"strings"
	"sync"

	"github.com/compozy/animagen/engine/core"
	"github.com/compozy/animagen/engine/pipeline"
)

// Registry routes a model id to the generator of its provider.
type Registry struct {
	mu        sync.RWMutex
	catalog   pipeline.Catalog
	providers map[string]ImageGenerator
}

func NewRegistry(catalog pipeline.Catalog) *Registry {
	if catalog == nil {
		catalog = pipeline.DefaultCatalog()
	}
	return &Registry{catalog: catalog, providers: make(map[string]ImageGenerator)}
}

// Register binds a provider name to a generator, replacing any previous one.
func (r *Registry) Register(provider string, g ImageGenerator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[strings.ToLower(provider)] = g
}

func (r *Registry) Catalog() pipeline.Catalog {
	return r.catalog
}

// ForModel returns the generator serving model. Unknown models and models of
// unregistered providers fail with UNSUPPORTED_MODEL.
func (r *Registry) ForModel(model string) (ImageGenerator, pipeline.ModelInfo, error) {
	info, ok := r.catalog.Lookup(model)
	if !ok {
		return nil, pipeline.ModelInfo{}, core.NewError(
			fmt.Errorf("model %q is not supported", model),
			core.ErrCodeUnsupportedModel,
			map[string]any{"model": model},
		)
	}
	r.mu.RLock()
	g, ok := r.providers[strings.ToLower(info.Provider)]
	r.mu.RUnlock()
	if !ok {
		return nil, info, core.NewError(
			fmt.Errorf("no generator registered for provider %q of model %q", info.Provider, model),
			core.ErrCodeUnsupportedModel,
			map[string]any{"model": model, "provider": info.Provider},
		)
	}
	return g, info, nil
}
