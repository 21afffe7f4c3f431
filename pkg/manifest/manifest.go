// Package manifest declares the entities, keys and relationships a compile run follows.
package manifest

import (
	"sort"

	"github.com/Ramsey-B/clover/pkg/fieldpath"
)

const DefaultBlobPath = "{{ entity }}/{{ pk }}.json"

// Direction is an ordering direction
type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// Ordering sorts child rows by one field
type Ordering struct {
	Field     string    `yaml:"field" validate:"required"`
	Direction Direction `yaml:"direction" validate:"omitempty,oneof=asc desc"`

	path fieldpath.Path
}

// Path returns the compiled ordering field path
func (o *Ordering) Path() fieldpath.Path {
	return o.path
}

// Descending reports whether the ordering is descending
func (o *Ordering) Descending() bool {
	return o.Direction == Descending
}

// Relationship declares a parent to child join along a foreign key on the child
type Relationship struct {
	// Entity is the child entity name
	Entity string `yaml:"entity" validate:"required"`
	// Alias is the name of the injected child array
	Alias string `yaml:"alias" validate:"required"`
	// ForeignKey is the child field holding the parent's primary key
	ForeignKey string    `yaml:"foreignKey" validate:"required"`
	OrderBy    *Ordering `yaml:"orderBy,omitempty"`
	MaxDepth   *int      `yaml:"maxDepth,omitempty" validate:"omitempty,min=0"`

	fkPath fieldpath.Path
}

// ForeignKeyPath returns the compiled foreign key path
func (r *Relationship) ForeignKeyPath() fieldpath.Path {
	return r.fkPath
}

// SecondaryIndex maps values of a field to the keys of the root documents holding them
type SecondaryIndex struct {
	Name  string `yaml:"name" validate:"required"`
	Field string `yaml:"field" validate:"required"`
	// Path is a blob path template rendered with entity and name
	Path string `yaml:"path" validate:"required"`

	fieldPath fieldpath.Path
}

// FieldPath returns the compiled indexed field path
func (s *SecondaryIndex) FieldPath() fieldpath.Path {
	return s.fieldPath
}

// Entity describes one raw data file and how it nests
type Entity struct {
	Name       string           `yaml:"-"`
	Source     string           `yaml:"source,omitempty"`
	PrimaryKey string           `yaml:"primaryKey,omitempty"`
	Root       bool             `yaml:"root,omitempty"`
	BlobPath   string           `yaml:"blobPath,omitempty"`
	MaxDepth   *int             `yaml:"maxDepth,omitempty" validate:"omitempty,min=0"`
	OrderBy    *Ordering        `yaml:"orderBy,omitempty"`
	Schema     string           `yaml:"schema,omitempty"`
	Children   []Relationship   `yaml:"children,omitempty" validate:"dive"`
	Indexes    []SecondaryIndex `yaml:"indexes,omitempty" validate:"dive"`

	pkPath fieldpath.Path
}

// PrimaryKeyPath returns the compiled primary key path. ok is false when the entity
// declares no primary key.
func (e *Entity) PrimaryKeyPath() (path fieldpath.Path, ok bool) {
	return e.pkPath, !e.pkPath.IsZero()
}

// BlobPathTemplate returns the entity's blob path template or the default one
func (e *Entity) BlobPathTemplate() string {
	if e.BlobPath == "" {
		return DefaultBlobPath
	}
	return e.BlobPath
}

// Manifest is a loaded and validated manifest
type Manifest struct {
	MaxDepth  *int               `yaml:"maxDepth,omitempty" validate:"omitempty,min=0"`
	BuildInfo string             `yaml:"buildInfo,omitempty"`
	Entities  map[string]*Entity `yaml:"entities" validate:"required,min=1,dive,required"`
}

// RelationshipRef is a relationship together with its parent entity
type RelationshipRef struct {
	Parent       string
	Relationship *Relationship
}

// Entity returns the named entity
func (m *Manifest) Entity(name string) (*Entity, bool) {
	e, ok := m.Entities[name]
	return e, ok
}

// EntityNames returns all entity names in sorted order
func (m *Manifest) EntityNames() []string {
	names := make([]string, 0, len(m.Entities))
	for name := range m.Entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Roots returns the compilation root entities sorted by name
func (m *Manifest) Roots() []*Entity {
	roots := make([]*Entity, 0)
	for _, name := range m.EntityNames() {
		if e := m.Entities[name]; e.Root {
			roots = append(roots, e)
		}
	}
	return roots
}

// Relationships returns every declared relationship, parents sorted by name and children
// in declaration order
func (m *Manifest) Relationships() []RelationshipRef {
	refs := make([]RelationshipRef, 0)
	for _, name := range m.EntityNames() {
		e := m.Entities[name]
		for i := range e.Children {
			refs = append(refs, RelationshipRef{Parent: name, Relationship: &e.Children[i]})
		}
	}
	return refs
}

// EffectiveMaxDepth resolves the depth bound for expanding rel below parent: the
// relationship override, then the parent entity, then the manifest, then fallback.
func (m *Manifest) EffectiveMaxDepth(parent *Entity, rel *Relationship, fallback int) int {
	switch {
	case rel != nil && rel.MaxDepth != nil:
		return *rel.MaxDepth
	case parent != nil && parent.MaxDepth != nil:
		return *parent.MaxDepth
	case m.MaxDepth != nil:
		return *m.MaxDepth
	default:
		return fallback
	}
}

// ChildOrdering returns the ordering for rel: its own, else the child entity's default
func (m *Manifest) ChildOrdering(rel *Relationship) *Ordering {
	if rel.OrderBy != nil {
		return rel.OrderBy
	}
	if child, ok := m.Entities[rel.Entity]; ok {
		return child.OrderBy
	}
	return nil
}
