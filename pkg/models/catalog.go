package models

import (
	"fmt"
	"sort"
)

// Catalog is the full set of relations enumerated from one source. It is built once
// per run and not modified after assembly.
type Catalog struct {
	relations []*Relation
	index     map[RelationKey]*Relation
}

// NewCatalog builds a catalog sorted by identity. Duplicate identities are rejected.
func NewCatalog(relations []*Relation) (*Catalog, error) {
	c := &Catalog{
		relations: make([]*Relation, 0, len(relations)),
		index:     make(map[RelationKey]*Relation, len(relations)),
	}
	for _, rel := range relations {
		key := rel.Key()
		if _, exists := c.index[key]; exists {
			return nil, fmt.Errorf("duplicate relation %s in catalog", key)
		}
		c.index[key] = rel
		c.relations = append(c.relations, rel)
	}
	sort.Slice(c.relations, func(i, j int) bool {
		return c.relations[i].DotNotation() < c.relations[j].DotNotation()
	})
	return c, nil
}

// Lookup returns the relation with the given identity.
func (c *Catalog) Lookup(key RelationKey) (*Relation, bool) {
	rel, ok := c.index[key]
	return rel, ok
}

// Relations returns all relations sorted by dot notation. The slice is a copy; the
// relations themselves must be treated as read-only.
func (c *Catalog) Relations() []*Relation {
	return append([]*Relation(nil), c.relations...)
}

// Len returns the number of relations.
func (c *Catalog) Len() int {
	return len(c.relations)
}
