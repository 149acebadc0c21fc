package pipeline

import (
	"maps"
	"slices"
)

const ProviderOpenAI = "openai"

// ModelInfo declares the provider and usage modes of an image model.
type ModelInfo struct {
	ID       string
	Provider string
	Modes    []ImageUsageMode
}

func (m ModelInfo) Supports(mode ImageUsageMode) bool {
	return slices.Contains(m.Modes, mode)
}

// Catalog maps model ids to their capabilities.
type Catalog map[string]ModelInfo

// DefaultCatalog lists the image models known to the engine.
func DefaultCatalog() Catalog {
	return Catalog{
		"gpt-image-1": {
			ID:       "gpt-image-1",
			Provider: ProviderOpenAI,
			Modes:    []ImageUsageMode{ModeNone, ModeEdit, ModeReference},
		},
		"dall-e-3": {
			ID:       "dall-e-3",
			Provider: ProviderOpenAI,
			Modes:    []ImageUsageMode{ModeNone},
		},
		"dall-e-2": {
			ID:       "dall-e-2",
			Provider: ProviderOpenAI,
			Modes:    []ImageUsageMode{ModeNone, ModeEdit},
		},
	}
}

func (c Catalog) Lookup(id string) (ModelInfo, bool) {
	m, ok := c[id]
	return m, ok
}

// With returns a copy of c including m.
func (c Catalog) With(m ModelInfo) Catalog {
	out := maps.Clone(c)
	if out == nil {
		out = Catalog{}
	}
	out[m.ID] = m
	return out
}

// IDs returns the sorted model ids.
func (c Catalog) IDs() []string {
	return slices.Sorted(maps.Keys(c))
}
