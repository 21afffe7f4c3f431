// Package index builds primary and foreign key lookups over loaded raw rows.
package index

import (
	"github.com/Ramsey-B/clover/pkg/keys"
	"github.com/Ramsey-B/clover/pkg/loader"
)

// PkIndex maps an entity's canonical primary keys to the first row carrying each key
type PkIndex struct {
	Entity string

	rows  map[keys.KeyValue]*loader.RawRow
	order []*loader.RawRow
}

func newPkIndex(entity string, capacity int) *PkIndex {
	return &PkIndex{
		Entity: entity,
		rows:   make(map[keys.KeyValue]*loader.RawRow, capacity),
		order:  make([]*loader.RawRow, 0, capacity),
	}
}

// Get returns the row holding key
func (p *PkIndex) Get(key keys.KeyValue) (*loader.RawRow, bool) {
	row, ok := p.rows[key]
	return row, ok
}

// Rows returns the indexed rows in source order
func (p *PkIndex) Rows() []*loader.RawRow {
	return p.order
}

func (p *PkIndex) Len() int {
	return len(p.order)
}

// RelationshipKey identifies a foreign key index: the child rows of Child whose
// ForeignKey field references Parent
type RelationshipKey struct {
	Parent     string
	Child      string
	ForeignKey string
}

// FkIndex maps a parent key to the child rows referencing it, in child source order
type FkIndex struct {
	Relationship RelationshipKey

	children map[keys.KeyValue][]*loader.RawRow
}

func newFkIndex(rel RelationshipKey) *FkIndex {
	return &FkIndex{
		Relationship: rel,
		children:     make(map[keys.KeyValue][]*loader.RawRow),
	}
}

// Children returns the child rows referencing parent. The slice must not be modified.
func (f *FkIndex) Children(parent keys.KeyValue) []*loader.RawRow {
	return f.children[parent]
}

// Parents returns the number of distinct referenced parent keys
func (f *FkIndex) Parents() int {
	return len(f.children)
}

// Indexes holds every index of a run. It is read-only once built.
type Indexes struct {
	pk map[string]*PkIndex
	fk map[RelationshipKey]*FkIndex
}

// PrimaryKey returns the primary key index of entity
func (i *Indexes) PrimaryKey(entity string) (*PkIndex, bool) {
	idx, ok := i.pk[entity]
	return idx, ok
}

// Children returns the foreign key index of one relationship
func (i *Indexes) Children(parent, child, foreignKey string) (*FkIndex, bool) {
	idx, ok := i.fk[RelationshipKey{Parent: parent, Child: child, ForeignKey: foreignKey}]
	return idx, ok
}
