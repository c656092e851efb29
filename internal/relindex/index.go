// Package relindex indexes schema relationships by table for join-path search.
package relindex

import (
	"talk2data/internal/schemamodel"
)

// TableSet is a set of table names.
type TableSet map[string]struct{}

// NewTableSet returns a set holding names.
func NewTableSet(names ...string) TableSet {
	set := make(TableSet, len(names))
	for _, name := range names {
		set.Add(name)
	}
	return set
}

// Add inserts name into the set.
func (s TableSet) Add(name string) {
	s[name] = struct{}{}
}

// Has reports whether name is in the set.
func (s TableSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Index maps each table to the relationships touching it.
// An Index is read-only after New and safe for concurrent use.
type Index struct {
	relationships []schemamodel.Relationship
	// byTable holds relationship ordinals in document order.
	byTable map[string][]int
}

// New builds an index over the model's relationships.
func New(model *schemamodel.Model) *Index {
	idx := &Index{
		relationships: model.Relationships,
		byTable:       make(map[string][]int, len(model.Tables)),
	}
	for i, rel := range model.Relationships {
		idx.byTable[rel.FromTable] = append(idx.byTable[rel.FromTable], i)
		if rel.ToTable != rel.FromTable {
			idx.byTable[rel.ToTable] = append(idx.byTable[rel.ToTable], i)
		}
	}
	return idx
}

// Len returns the number of indexed relationships.
func (idx *Index) Len() int {
	return len(idx.relationships)
}

// FindRelationship returns a relationship attaching target to any table in from.
// A relationship declared from a connected table towards target wins over one that has
// to be traversed backwards; among equals the earliest declared wins. Backward matches
// are returned reversed so ToTable is always target.
func (idx *Index) FindRelationship(from TableSet, target string) (schemamodel.Relationship, bool) {
	reversed := -1
	for _, ordinal := range idx.byTable[target] {
		rel := idx.relationships[ordinal]
		if rel.ToTable == target && from.Has(rel.FromTable) {
			return rel, true
		}
		if reversed < 0 && rel.FromTable == target && from.Has(rel.ToTable) {
			reversed = ordinal
		}
	}
	if reversed >= 0 {
		return idx.relationships[reversed].Reverse(), true
	}
	return schemamodel.Relationship{}, false
}

// Neighbors returns the distinct tables directly related to table, in first-seen order.
func (idx *Index) Neighbors(table string) []string {
	var neighbors []string
	seen := make(map[string]struct{})
	for _, ordinal := range idx.byTable[table] {
		rel := idx.relationships[ordinal]
		other := rel.ToTable
		if other == table {
			other = rel.FromTable
		}
		if _, ok := seen[other]; ok {
			continue
		}
		seen[other] = struct{}{}
		neighbors = append(neighbors, other)
	}
	return neighbors
}
