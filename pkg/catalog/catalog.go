package catalog

import (
	"fmt"
	"sort"

	"github.com/cloudwarden/cloudwarden/pkg/entity"
)

// File is one YAML catalog document.
type File struct {
	// Version of the catalog format. Currently always 1.
	Version int `yaml:"version"`

	// Entities are the definitions declared in this file.
	Entities []entity.Definition `yaml:"entities"`
}

// Catalog is the merged set of definitions across all loaded files, keyed
// by kind and name. Duplicate kind/name pairs across files are a defect in
// the catalog, not a merge.
type Catalog struct {
	definitions map[string]*entity.Definition
}

func key(kind, name string) string {
	return kind + "/" + name
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{definitions: make(map[string]*entity.Definition)}
}

// Add inserts a definition, rejecting duplicates.
func (c *Catalog) Add(def *entity.Definition) error {
	k := key(def.Kind, def.Name)
	if _, exists := c.definitions[k]; exists {
		return fmt.Errorf("duplicate definition %s", k)
	}
	c.definitions[k] = def
	return nil
}

// Get returns the definition for a kind/name pair, if present.
func (c *Catalog) Get(kind, name string) (*entity.Definition, bool) {
	def, ok := c.definitions[key(kind, name)]
	return def, ok
}

// All returns every definition in the catalog, ordered by kind and name
// so reconcile runs are deterministic.
func (c *Catalog) All() []*entity.Definition {
	keys := make([]string, 0, len(c.definitions))
	for k := range c.definitions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	defs := make([]*entity.Definition, 0, len(keys))
	for _, k := range keys {
		defs = append(defs, c.definitions[k])
	}
	return defs
}

// Len returns the number of definitions.
func (c *Catalog) Len() int {
	return len(c.definitions)
}
