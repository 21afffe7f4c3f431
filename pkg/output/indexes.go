package output

import (
	"context"
	"fmt"

	"github.com/Ramsey-B/clover/pkg/assembler"
	"github.com/Ramsey-B/clover/pkg/diagnostics"
	"github.com/Ramsey-B/clover/pkg/keys"
	"github.com/Ramsey-B/clover/pkg/manifest"
)

// SecondaryIndex is the serialized form of a secondary index: each canonical field value
// mapped to the primary keys of the documents holding it, in document order
type SecondaryIndex struct {
	Entity  string                     `json:"entity"`
	Name    string                     `json:"name"`
	Field   string                     `json:"field"`
	Entries map[string][]keys.KeyValue `json:"entries"`
}

// BuildSecondaryIndex indexes docs of one root entity by the declared field. Array
// values index each scalar element once; missing and non-scalar values are skipped.
func BuildSecondaryIndex(entity string, decl *manifest.SecondaryIndex, docs []assembler.CompiledDocument) *SecondaryIndex {
	idx := &SecondaryIndex{
		Entity:  entity,
		Name:    decl.Name,
		Field:   decl.Field,
		Entries: make(map[string][]keys.KeyValue),
	}

	path := decl.FieldPath()
	for _, doc := range docs {
		if doc.Entity != entity {
			continue
		}

		value, ok := path.Lookup(doc.Payload)
		if !ok {
			continue
		}

		values := []any{value}
		if arr, isArray := value.([]any); isArray {
			values = arr
		}

		seen := make(map[string]bool, len(values))
		for _, v := range values {
			key, err := keys.Canonicalize(v)
			if err != nil {
				continue
			}
			canonical := key.Canonical()
			if seen[canonical] {
				continue
			}
			seen[canonical] = true
			idx.Entries[canonical] = append(idx.Entries[canonical], doc.PrimaryKey)
		}
	}

	return idx
}

// renderIndexes builds every declared secondary index and claims its path
func (w *Writer) renderIndexes(ctx context.Context, m *manifest.Manifest, docs []assembler.CompiledDocument, claimed pathSet, sink *diagnostics.Sink) ([]file, bool) {
	ok := true
	files := make([]file, 0)

	for _, root := range m.Roots() {
		for i := range root.Indexes {
			decl := &root.Indexes[i]
			location := fmt.Sprintf("indexes[%d]", i)
			owner := fmt.Sprintf("index %s of %s", decl.Name, root.Name)

			rendered, err := w.templates.Render(decl.Path, map[string]any{
				"entity": root.Name,
				"name":   decl.Name,
			})
			if err == nil {
				rendered, err = cleanBlobPath(rendered)
			}
			if err != nil {
				sink.Addf(ctx, diagnostics.BlobPathInvalid, root.Name, location, "path for %s: %v", owner, err)
				ok = false
				continue
			}

			if prev, free := claimed.claim(rendered, owner); !free {
				sink.Addf(ctx, diagnostics.BlobPathCollision, root.Name, location, "%s renders to %s, already used by %s", owner, rendered, prev)
				ok = false
				continue
			}

			files = append(files, file{
				path:    rendered,
				entity:  root.Name,
				payload: BuildSecondaryIndex(root.Name, decl, docs),
			})
		}
	}

	return files, ok
}
