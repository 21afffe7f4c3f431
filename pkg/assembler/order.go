package assembler

import (
	"sort"

	"github.com/Ramsey-B/clover/pkg/diagnostics"
	"github.com/Ramsey-B/clover/pkg/keys"
	"github.com/Ramsey-B/clover/pkg/loader"
	"github.com/Ramsey-B/clover/pkg/manifest"
)

// sortEntry is a child row with its resolved ordering value
type sortEntry struct {
	row     *loader.RawRow
	value   keys.KeyValue
	missing bool
}

// order returns matches sorted by the relationship's ordering, else the child entity's
// default ordering, else unchanged. Rows whose ordering field is missing or not a scalar
// are reported and sort last in both directions. The sort is stable.
func (r *assembly) order(rel *manifest.Relationship, child *manifest.Entity, matches []*loader.RawRow) []*loader.RawRow {
	ordering := r.manifest.ChildOrdering(rel)
	if ordering == nil || ordering.Path().IsZero() || len(matches) == 0 {
		return matches
	}

	path := ordering.Path()
	entries := make([]sortEntry, 0, len(matches))
	for _, row := range matches {
		entry := sortEntry{row: row}

		value, err := path.Resolve(row.Payload)
		if err == nil {
			entry.value, err = keys.Canonicalize(value)
		}
		if err != nil {
			entry.missing = true
			r.sink.Addf(r.ctx, diagnostics.OrderByFieldMissing, child.Name, path.Location(row.SourceIndex),
				"ordering field %s is not usable, row sorts last: %v", path, err)
		}

		entries = append(entries, entry)
	}

	descending := ordering.Descending()
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.missing || b.missing {
			return !a.missing && b.missing
		}
		if descending {
			return keys.Compare(a.value, b.value) > 0
		}
		return keys.Compare(a.value, b.value) < 0
	})

	out := make([]*loader.RawRow, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.row)
	}
	return out
}
