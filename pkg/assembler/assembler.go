// Package assembler nests child rows under their parents to build compiled documents.
package assembler

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectolinq/ectoparallel"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/diagnostics"
	"github.com/Ramsey-B/clover/pkg/index"
	"github.com/Ramsey-B/clover/pkg/keys"
	"github.com/Ramsey-B/clover/pkg/loader"
	"github.com/Ramsey-B/clover/pkg/manifest"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// CompiledDocument is one root row with its relationships expanded
type CompiledDocument struct {
	Entity      string
	PrimaryKey  keys.KeyValue
	SourceIndex int
	Payload     map[string]any
}

// Assembler builds compiled documents from indexed rows
type Assembler struct {
	logger   ectologger.Logger
	maxDepth int
}

// NewAssembler creates an assembler. maxDepth is the depth bound used when neither the
// manifest nor its entities or relationships declare one.
func NewAssembler(logger ectologger.Logger, maxDepth int) *Assembler {
	return &Assembler{
		logger:   logger,
		maxDepth: maxDepth,
	}
}

// rootTask is one root row to assemble
type rootTask struct {
	entity *manifest.Entity
	row    *loader.RawRow
}

// Assemble builds a document for every keyed row of every root entity. Documents are
// returned ordered by entity name, then by source order. Roots are assembled concurrently.
func (a *Assembler) Assemble(ctx context.Context, m *manifest.Manifest, sets map[string]*loader.RawEntitySet, idx *index.Indexes, sink *diagnostics.Sink) ([]CompiledDocument, error) {
	ctx, span := tracing.StartSpan(ctx, "assembler.Assembler.Assemble")
	defer span.End()

	tasks := make([]rootTask, 0)
	for _, root := range m.Roots() {
		if set, ok := sets[root.Name]; ok {
			for _, row := range set.Rows {
				if !row.Keyed() {
					sink.Addf(ctx, diagnostics.UnkeyedRootRow, root.Name, fmt.Sprintf("$[%d]", row.SourceIndex),
						"root row has no valid primary key and is not compiled")
				}
			}
		}

		pk, ok := idx.PrimaryKey(root.Name)
		if !ok {
			continue
		}
		for _, row := range pk.Rows() {
			tasks = append(tasks, rootTask{entity: root, row: row})
		}
	}

	results := ectoparallel.Map(tasks, func(task rootTask) *CompiledDocument {
		if ctx.Err() != nil {
			return nil
		}

		run := &assembly{
			ctx:      ctx,
			manifest: m,
			indexes:  idx,
			sink:     sink,
			fallback: a.maxDepth,
		}
		payload := run.expand(task.entity, task.row, 0, []frame{{entity: task.entity.Name, key: *task.row.PrimaryKey}})
		return &CompiledDocument{
			Entity:      task.entity.Name,
			PrimaryKey:  *task.row.PrimaryKey,
			SourceIndex: task.row.SourceIndex,
			Payload:     payload,
		}
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	docs := ectolinq.Map(ectolinq.Filter(results, func(doc *CompiledDocument) bool {
		return doc != nil
	}), func(doc *CompiledDocument) CompiledDocument {
		return *doc
	})

	a.logger.WithContext(ctx).WithField("documents", len(docs)).Debug("Assembled documents")

	return docs, nil
}

// frame is one (entity, key) pair on the active expansion path
type frame struct {
	entity string
	key    keys.KeyValue
}

func (f frame) String() string {
	return fmt.Sprintf("%s %s", f.entity, f.key)
}

// assembly carries the read-only state of one root document's expansion
type assembly struct {
	ctx      context.Context
	manifest *manifest.Manifest
	indexes  *index.Indexes
	sink     *diagnostics.Sink
	fallback int
}

// expand copies row's fields and attaches one array per relationship. depth is the depth
// of row in the document, roots are at depth 0. path holds the frames from the root to row.
func (r *assembly) expand(entity *manifest.Entity, row *loader.RawRow, depth int, path []frame) map[string]any {
	payload := maps.Clone(row.Payload)

	for i := range entity.Children {
		rel := &entity.Children[i]

		children, ok := r.children(entity, rel, row, depth, path)
		if !ok {
			continue
		}
		if _, exists := row.Payload[rel.Alias]; exists {
			r.sink.Addf(r.ctx, diagnostics.AliasShadowsField, entity.Name, fmt.Sprintf("$[%d].%s", row.SourceIndex, rel.Alias),
				"relationship alias %s replaces the row's own field", rel.Alias)
		}
		payload[rel.Alias] = children
	}

	return payload
}

// children builds the ordered child array of one relationship. ok is false when the
// depth bound stops the relationship from being expanded at all.
func (r *assembly) children(parent *manifest.Entity, rel *manifest.Relationship, row *loader.RawRow, depth int, path []frame) ([]any, bool) {
	var matches []*loader.RawRow
	if row.Keyed() {
		if fk, ok := r.indexes.Children(parent.Name, rel.Entity, rel.ForeignKey); ok {
			matches = fk.Children(*row.PrimaryKey)
		}
	}

	limit := r.manifest.EffectiveMaxDepth(parent, rel, r.fallback)
	if depth+1 > limit {
		if len(matches) > 0 {
			r.sink.Addf(r.ctx, diagnostics.MaxDepthExceeded, parent.Name, fmt.Sprintf("$[%d].%s", row.SourceIndex, rel.Alias),
				"relationship %s.%s at depth %d exceeds max depth %d, %d children not attached",
				parent.Name, rel.Alias, depth+1, limit, len(matches))
		}
		return nil, false
	}

	child, _ := r.manifest.Entity(rel.Entity)
	ordered := r.order(rel, child, matches)

	out := make([]any, 0, len(ordered))
	for _, c := range ordered {
		if !c.Keyed() {
			out = append(out, maps.Clone(c.Payload))
			continue
		}

		f := frame{entity: child.Name, key: *c.PrimaryKey}
		if onPath(path, f) {
			r.sink.Addf(r.ctx, diagnostics.CycleDetected, child.Name, fmt.Sprintf("$[%d]", c.SourceIndex),
				"%s is already on the path %s, attached without its relationships", f, renderPath(path))
			out = append(out, maps.Clone(c.Payload))
			continue
		}

		out = append(out, r.expand(child, c, depth+1, append(path[:len(path):len(path)], f)))
	}

	return out, true
}

func onPath(path []frame, f frame) bool {
	for _, p := range path {
		if p == f {
			return true
		}
	}
	return false
}

func renderPath(path []frame) string {
	parts := make([]string, 0, len(path))
	for _, f := range path {
		parts = append(parts, f.String())
	}
	return strings.Join(parts, " -> ")
}
