package loader

import (
	"github.com/Gobusters/ectolinq"

	"github.com/Ramsey-B/clover/pkg/keys"
)

// RawRow is one source record. Payload is the object decoded from the entity's file and
// is shared with the owning RawEntitySet, never copied.
type RawRow struct {
	Entity      string
	SourceIndex int
	Payload     map[string]any
	// PrimaryKey is nil when the key is missing, invalid or undeclared
	PrimaryKey *keys.KeyValue
}

// Keyed reports whether the row carries a valid primary key
func (r *RawRow) Keyed() bool {
	return r.PrimaryKey != nil
}

// RawEntitySet owns an entity's parsed document and the rows referencing into it.
// It is read-only once loading completes.
type RawEntitySet struct {
	Entity string
	Source string
	Rows   []*RawRow

	document []any
}

func newEntitySet(entity, source string) *RawEntitySet {
	return &RawEntitySet{
		Entity: entity,
		Source: source,
		Rows:   make([]*RawRow, 0),
	}
}

// Len returns the number of object rows
func (s *RawEntitySet) Len() int {
	return len(s.Rows)
}

// DocumentLen returns the number of elements in the parsed source array, including
// elements that were skipped because they were not objects
func (s *RawEntitySet) DocumentLen() int {
	return len(s.document)
}

// KeyedRows returns the rows with a valid primary key in source order
func (s *RawEntitySet) KeyedRows() []*RawRow {
	return ectolinq.Filter(s.Rows, func(r *RawRow) bool {
		return r.Keyed()
	})
}
