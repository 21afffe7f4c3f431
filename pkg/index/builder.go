package index

import (
	"context"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectolinq/ectoparallel"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/diagnostics"
	"github.com/Ramsey-B/clover/pkg/fieldpath"
	"github.com/Ramsey-B/clover/pkg/keys"
	"github.com/Ramsey-B/clover/pkg/loader"
	"github.com/Ramsey-B/clover/pkg/manifest"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Builder builds the primary and foreign key indexes of a run
type Builder struct {
	logger ectologger.Logger
}

// NewBuilder creates an index builder
func NewBuilder(logger ectologger.Logger) *Builder {
	return &Builder{logger: logger}
}

// Build indexes every entity's primary keys, then every declared relationship's foreign
// keys. Entities and relationships are each indexed in parallel.
func (b *Builder) Build(ctx context.Context, m *manifest.Manifest, sets map[string]*loader.RawEntitySet, sink *diagnostics.Sink) (*Indexes, error) {
	ctx, span := tracing.StartSpan(ctx, "index.Builder.Build")
	defer span.End()

	indexes := &Indexes{
		pk: make(map[string]*PkIndex),
		fk: make(map[RelationshipKey]*FkIndex),
	}

	pks := ectoparallel.Map(m.EntityNames(), func(name string) *PkIndex {
		if ctx.Err() != nil {
			return nil
		}
		entity, _ := m.Entity(name)
		return b.buildPrimaryKey(ctx, entity, sets[name], sink)
	})
	for _, idx := range pks {
		if idx != nil {
			indexes.pk[idx.Entity] = idx
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// relationships sharing parent, child and foreign key share one index
	paths := make(map[RelationshipKey]fieldpath.Path)
	rels := ectolinq.Distinct(ectolinq.Map(m.Relationships(), func(ref manifest.RelationshipRef) RelationshipKey {
		rel := RelationshipKey{
			Parent:     ref.Parent,
			Child:      ref.Relationship.Entity,
			ForeignKey: ref.Relationship.ForeignKey,
		}
		paths[rel] = ref.Relationship.ForeignKeyPath()
		return rel
	}))
	fks := ectoparallel.Map(rels, func(rel RelationshipKey) *FkIndex {
		if ctx.Err() != nil {
			return nil
		}
		return b.buildForeignKey(ctx, rel, paths[rel], sets[rel.Child], sink)
	})
	for _, idx := range fks {
		if idx != nil {
			indexes.fk[idx.Relationship] = idx
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.logger.WithContext(ctx).WithFields(map[string]any{
		"primary_indexes": len(indexes.pk),
		"foreign_indexes": len(indexes.fk),
	}).Debug("Built indexes")

	return indexes, nil
}

// buildPrimaryKey indexes keyed rows in source order. The first row keeps a key; every
// later row with the same key is reported and left out of the index.
func (b *Builder) buildPrimaryKey(ctx context.Context, entity *manifest.Entity, set *loader.RawEntitySet, sink *diagnostics.Sink) *PkIndex {
	if set == nil {
		return nil
	}

	keyed := set.KeyedRows()
	if len(keyed) == 0 {
		return nil
	}

	pkPath, _ := entity.PrimaryKeyPath()
	idx := newPkIndex(entity.Name, len(keyed))
	for _, row := range keyed {
		key := *row.PrimaryKey
		if first, exists := idx.rows[key]; exists {
			sink.Addf(ctx, diagnostics.DuplicateKey, entity.Name, pkPath.Location(row.SourceIndex),
				"duplicate primary key %s at row %d, first seen at row %d", key, row.SourceIndex, first.SourceIndex)
			continue
		}
		idx.rows[key] = row
		idx.order = append(idx.order, row)
	}

	return idx
}

// buildForeignKey groups the child's rows by canonical foreign key. Rows whose foreign
// key is missing or not a valid key are reported and left out of this relationship only.
// Keys with no matching parent are kept silently.
func (b *Builder) buildForeignKey(ctx context.Context, rel RelationshipKey, fkPath fieldpath.Path, set *loader.RawEntitySet, sink *diagnostics.Sink) *FkIndex {
	idx := newFkIndex(rel)
	if set == nil {
		return idx
	}

	for _, row := range set.Rows {
		value, err := fkPath.Resolve(row.Payload)
		if err != nil {
			sink.Addf(ctx, diagnostics.MissingForeignKey, rel.Child, fkPath.Location(row.SourceIndex),
				"foreign key to %s cannot be read: %v", rel.Parent, err)
			continue
		}

		key, err := keys.Canonicalize(value)
		if err != nil {
			sink.Addf(ctx, diagnostics.MissingForeignKey, rel.Child, fkPath.Location(row.SourceIndex),
				"foreign key to %s: %v", rel.Parent, err)
			continue
		}

		idx.children[key] = append(idx.children[key], row)
	}

	return idx
}
