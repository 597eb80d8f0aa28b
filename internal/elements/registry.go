package elements

import (
	"errors"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrUnknownElement is returned when an element id is not in the registry.
var ErrUnknownElement = errors.New("unknown element")

// ErrInvalidConfig is returned when an instance config fails its element's schema.
var ErrInvalidConfig = errors.New("invalid element config")

// Registry holds the element catalog with config schemas compiled once at
// startup. Read-only after construction, safe for concurrent use.
type Registry struct {
	defs    map[string]*ElementDefinition
	schemas map[string]*jsonschema.Schema
}

// NewRegistry builds a registry from the built-in catalog.
func NewRegistry() (*Registry, error) {
	return NewRegistryWith(Catalog())
}

// NewRegistryWith builds a registry from an explicit definition list.
func NewRegistryWith(defs []*ElementDefinition) (*Registry, error) {
	r := &Registry{
		defs:    make(map[string]*ElementDefinition, len(defs)),
		schemas: make(map[string]*jsonschema.Schema, len(defs)),
	}
	for _, def := range defs {
		if _, dup := r.defs[def.ElementID]; dup {
			return nil, fmt.Errorf("NewRegistryWith: duplicate element id %q", def.ElementID)
		}
		r.defs[def.ElementID] = def

		if def.ConfigSchema == nil {
			continue
		}
		c := jsonschema.NewCompiler()
		url := def.ElementID + "/config.json"
		if err := c.AddResource(url, def.ConfigSchema); err != nil {
			return nil, fmt.Errorf("NewRegistryWith: %s: %w", def.ElementID, err)
		}
		sch, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("NewRegistryWith: %s: %w", def.ElementID, err)
		}
		r.schemas[def.ElementID] = sch
	}
	return r, nil
}

// Get returns the definition for an element id, or ErrUnknownElement.
func (r *Registry) Get(elementID string) (*ElementDefinition, error) {
	def, ok := r.defs[elementID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownElement, elementID)
	}
	return def, nil
}

// All returns every definition, sorted by element id for stable palette output.
func (r *Registry) All() []*ElementDefinition {
	out := make([]*ElementDefinition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ElementID < out[j].ElementID })
	return out
}

// ByCategory returns definitions in one category, sorted by element id.
func (r *Registry) ByCategory(cat Category) []*ElementDefinition {
	var out []*ElementDefinition
	for _, def := range r.defs {
		if def.Category == cat {
			out = append(out, def)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ElementID < out[j].ElementID })
	return out
}

// ValidateConfig checks an instance config against the element's compiled
// schema. A nil schema accepts only an empty or nil config.
func (r *Registry) ValidateConfig(elementID string, config map[string]any) error {
	def, ok := r.defs[elementID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownElement, elementID)
	}
	sch, hasSchema := r.schemas[elementID]
	if !hasSchema {
		if len(config) > 0 {
			return fmt.Errorf("%w: %s takes no config", ErrInvalidConfig, def.ElementID)
		}
		return nil
	}

	// jsonschema validates generic JSON values; configs arrive as
	// map[string]any from decoded request bodies already.
	var doc any = map[string]any{}
	if config != nil {
		doc = normalize(config)
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, def.ElementID, err)
	}
	return nil
}

// normalize rewrites numeric config values into the json.Number-free form the
// validator expects. Decoded JSON already satisfies this; values built in
// tests may carry int instead of float64.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}
