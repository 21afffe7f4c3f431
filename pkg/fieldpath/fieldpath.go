// Package fieldpath resolves dotted field paths against decoded JSON objects.
// Paths are split once when the manifest is loaded and then resolved per row.
package fieldpath

import (
	"errors"
	"fmt"
	"strings"
)

const SplitToken = "."

var (
	ErrEmptyPath    = errors.New("field path is empty")
	ErrEmptySegment = errors.New("field path contains an empty segment")
	ErrIndexSyntax  = errors.New("field path indexes are not supported")
	ErrFieldMissing = errors.New("field is missing")
	ErrArrayInPath  = errors.New("field path crosses an array")
	ErrNotAnObject  = errors.New("field path crosses a non-object value")
)

// Path is a parsed, immutable field path
type Path struct {
	raw      string
	segments []string
}

// Parse splits a dotted path into segments
func Parse(path string) (Path, error) {
	if strings.TrimSpace(path) == "" {
		return Path{}, ErrEmptyPath
	}
	if strings.ContainsAny(path, "[]") {
		return Path{}, fmt.Errorf("%q: %w", path, ErrIndexSyntax)
	}

	segments := strings.Split(path, SplitToken)
	for _, seg := range segments {
		if seg == "" {
			return Path{}, fmt.Errorf("%q: %w", path, ErrEmptySegment)
		}
	}

	return Path{raw: path, segments: segments}, nil
}

// MustParse is Parse for paths known to be valid
func MustParse(path string) Path {
	p, err := Parse(path)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the dotted form of the path
func (p Path) String() string {
	return p.raw
}

// IsZero reports whether the path was never parsed
func (p Path) IsZero() bool {
	return len(p.segments) == 0
}

// Segments returns a copy of the path segments
func (p Path) Segments() []string {
	return append([]string(nil), p.segments...)
}

// Location renders the diagnostic location of the path within a source row, e.g. $[3].meta.id
func (p Path) Location(row int) string {
	if p.IsZero() {
		return fmt.Sprintf("$[%d]", row)
	}
	return fmt.Sprintf("$[%d].%s", row, p.raw)
}

// Resolve walks the path through nested objects. The final value may be of any type,
// every intermediate value must be an object.
func (p Path) Resolve(obj map[string]any) (any, error) {
	if p.IsZero() {
		return nil, ErrEmptyPath
	}

	current := obj
	for i, seg := range p.segments {
		value, ok := current[seg]
		if !ok {
			return nil, fmt.Errorf("%s: %w", strings.Join(p.segments[:i+1], SplitToken), ErrFieldMissing)
		}

		if i == len(p.segments)-1 {
			return value, nil
		}

		switch next := value.(type) {
		case map[string]any:
			current = next
		case []any:
			return nil, fmt.Errorf("%s: %w", strings.Join(p.segments[:i+1], SplitToken), ErrArrayInPath)
		default:
			return nil, fmt.Errorf("%s: %w", strings.Join(p.segments[:i+1], SplitToken), ErrNotAnObject)
		}
	}

	return nil, ErrEmptyPath
}

// Lookup is Resolve that reports a missing field as (nil, false) instead of an error
func (p Path) Lookup(obj map[string]any) (any, bool) {
	value, err := p.Resolve(obj)
	if err != nil {
		return nil, false
	}
	return value, true
}
