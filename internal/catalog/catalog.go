// Package catalog is the static model capability table. Adapters consult it
// instead of branching on model name strings: whether a model accepts image
// input or server-side search tools is data here, not code at call sites.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Capabilities a request can demand beyond plain text completion.
const (
	CapabilitySearch = "search"
	CapabilityImage  = "image"
)

// ModelInfo describes one known model.
type ModelInfo struct {
	ID             string   `json:"id" yaml:"id"`
	Provider       string   `json:"provider" yaml:"provider"`
	DisplayName    string   `json:"display_name" yaml:"display_name"`
	ContextWindow  int      `json:"context_window" yaml:"context_window"`
	SupportsSearch bool     `json:"supports_search" yaml:"supports_search"`
	SupportsImage  bool     `json:"supports_image" yaml:"supports_image"`
	Aliases        []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
}

// builtin is the shipped catalog. Order matters: DefaultFor picks the first
// entry supporting a capability, so more capable general models come first
// within each provider block.
var builtin = []ModelInfo{
	// x.ai
	{
		ID: "grok-4", Provider: "xai", DisplayName: "Grok 4",
		ContextWindow: 256000, SupportsSearch: true, SupportsImage: true,
		Aliases: []string{"grok-4-latest"},
	},
	{
		ID: "grok-4-fast", Provider: "xai", DisplayName: "Grok 4 Fast",
		ContextWindow: 2000000, SupportsSearch: true, SupportsImage: true,
	},
	{
		ID: "grok-code-fast-1", Provider: "xai", DisplayName: "Grok Code Fast",
		ContextWindow: 256000,
		Aliases:       []string{"grok-code"},
	},
	{
		ID: "grok-3", Provider: "xai", DisplayName: "Grok 3",
		ContextWindow: 131072, SupportsSearch: true,
	},
	{
		ID: "grok-3-mini", Provider: "xai", DisplayName: "Grok 3 Mini",
		ContextWindow: 131072,
	},

	// OpenAI-compatible endpoints
	{
		ID: "gpt-4o", Provider: "openai", DisplayName: "GPT-4o",
		ContextWindow: 128000, SupportsImage: true,
		Aliases: []string{"4o"},
	},
	{
		ID: "gpt-4o-mini", Provider: "openai", DisplayName: "GPT-4o Mini",
		ContextWindow: 128000, SupportsImage: true,
	},
}

// Catalog is a resolved model table: builtins plus user overrides.
type Catalog struct {
	models []ModelInfo
}

func New() *Catalog {
	c := &Catalog{models: make([]ModelInfo, len(builtin))}
	copy(c.models, builtin)
	return c
}

// Lookup resolves a model id or alias to its catalog entry, or nil when the
// model is unknown. Unknown models are usable; they just carry no
// capabilities beyond plain completion.
func (c *Catalog) Lookup(model string) *ModelInfo {
	model = strings.TrimSpace(model)
	if model == "" {
		return nil
	}
	for i := range c.models {
		if c.models[i].ID == model {
			return &c.models[i]
		}
		for _, alias := range c.models[i].Aliases {
			if alias == model {
				return &c.models[i]
			}
		}
	}
	return nil
}

// Supports reports whether the model has the given capability. Unknown
// models support nothing.
func (c *Catalog) Supports(model, capability string) bool {
	info := c.Lookup(model)
	if info == nil {
		return false
	}
	switch capability {
	case CapabilitySearch:
		return info.SupportsSearch
	case CapabilityImage:
		return info.SupportsImage
	}
	return false
}

// DefaultFor returns the first catalog entry supporting the capability, or
// nil when none does.
func (c *Catalog) DefaultFor(capability string) *ModelInfo {
	for i := range c.models {
		switch capability {
		case CapabilitySearch:
			if c.models[i].SupportsSearch {
				return &c.models[i]
			}
		case CapabilityImage:
			if c.models[i].SupportsImage {
				return &c.models[i]
			}
		}
	}
	return nil
}

// List returns a copy of all entries.
func (c *Catalog) List() []ModelInfo {
	out := make([]ModelInfo, len(c.models))
	copy(out, c.models)
	return out
}

// Apply merges override rows into the catalog. A row whose id matches an
// existing entry replaces it wholesale; otherwise the row is appended.
func (c *Catalog) Apply(entries []ModelInfo) {
	for _, e := range entries {
		e.ID = strings.TrimSpace(e.ID)
		if e.ID == "" {
			continue
		}
		replaced := false
		for i := range c.models {
			if c.models[i].ID == e.ID {
				c.models[i] = e
				replaced = true
				break
			}
		}
		if !replaced {
			c.models = append(c.models, e)
		}
	}
}

type overrideFile struct {
	Models []ModelInfo `yaml:"models"`
}

// LoadOverrides merges rows from a models.yaml file. A missing file is not
// an error.
func (c *Catalog) LoadOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read model overrides %q: %w", path, err)
	}
	var f overrideFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse model overrides %q: %w", path, err)
	}
	c.Apply(f.Models)
	return nil
}
