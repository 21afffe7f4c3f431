// Package loader reads per-entity raw JSON files and extracts each row's primary key.
package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectolinq/ectoparallel"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/diagnostics"
	"github.com/Ramsey-B/clover/pkg/fieldpath"
	"github.com/Ramsey-B/clover/pkg/keys"
	"github.com/Ramsey-B/clover/pkg/manifest"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/schema"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Loader reads raw entity files
type Loader struct {
	logger ectologger.Logger
}

// NewLoader creates a loader
func NewLoader(logger ectologger.Logger) *Loader {
	return &Loader{logger: logger}
}

// Load reads every entity of m from rawRoot, one task per entity. Problems with files or
// rows are recorded in sink; every entity gets a set, empty when its file was unusable.
// The returned error is only set when ctx is cancelled.
func (l *Loader) Load(ctx context.Context, m *manifest.Manifest, rawRoot string, sink *diagnostics.Sink) (map[string]*RawEntitySet, error) {
	ctx, span := tracing.StartSpan(ctx, "loader.Loader.Load")
	defer span.End()

	sets := ectolinq.NewConcurrentDictionary[*RawEntitySet]()

	ectoparallel.ForEach(m.EntityNames(), func(name string) {
		if ctx.Err() != nil {
			return
		}
		entity, _ := m.Entity(name)
		sets.Set(name, l.loadEntity(ctx, entity, rawRoot, sink))
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return sets.ToMap(), nil
}

func (l *Loader) loadEntity(ctx context.Context, entity *manifest.Entity, rawRoot string, sink *diagnostics.Sink) *RawEntitySet {
	ctx, span := tracing.StartSpan(ctx, "loader.Loader.loadEntity")
	defer span.End()

	set := newEntitySet(entity.Name, entity.Source)
	if entity.Source == "" {
		return set
	}

	log := l.logger.WithContext(ctx).WithFields(map[string]any{
		"method": "loadEntity",
		"entity": entity.Name,
		"source": entity.Source,
	})

	path := filepath.Join(rawRoot, filepath.FromSlash(entity.Source))
	doc, kind, err := readDocument(path)
	if err != nil {
		sink.Add(ctx, kind, entity.Name, "$", err.Error())
		return set
	}

	arr, ok := doc.([]any)
	if !ok {
		sink.Addf(ctx, diagnostics.RootNotArray, entity.Name, "$", "%s: top-level value is %s, expected an array", entity.Source, jsonTypeName(doc))
		return set
	}
	set.document = arr

	validator := l.loadSchema(ctx, entity, rawRoot, sink)

	pkPath, hasPK := entity.PrimaryKeyPath()
	if !hasPK {
		sink.Addf(ctx, diagnostics.PrimaryKeyNotDeclared, entity.Name, "", "entity %s declares no primary key", entity.Name)
	}

	for i, element := range arr {
		payload, ok := element.(map[string]any)
		if !ok {
			sink.Addf(ctx, diagnostics.RowNotObject, entity.Name, fmt.Sprintf("$[%d]", i), "row is %s, expected an object", jsonTypeName(element))
			continue
		}

		row := &RawRow{
			Entity:      entity.Name,
			SourceIndex: i,
			Payload:     payload,
		}
		set.Rows = append(set.Rows, row)

		if validator != nil {
			for _, verr := range validator.Validate(payload).Errors {
				location := fmt.Sprintf("$[%d]", i)
				if verr.Field != "" {
					location += "." + verr.Field
				}
				sink.Add(ctx, diagnostics.RowSchemaViolation, entity.Name, location, verr.Message)
			}
		}

		if hasPK {
			row.PrimaryKey = extractKey(ctx, entity.Name, pkPath, i, payload, sink)
		}
	}

	metrics.RowsLoaded.WithLabelValues(entity.Name).Add(float64(len(set.Rows)))
	log.WithField("rows", len(set.Rows)).Debug("Loaded entity")

	return set
}

// loadSchema compiles the entity's row schema. A nil validator means rows are not validated.
func (l *Loader) loadSchema(ctx context.Context, entity *manifest.Entity, rawRoot string, sink *diagnostics.Sink) *schema.Validator {
	if entity.Schema == "" {
		return nil
	}

	validator, err := schema.NewValidatorFromFile(filepath.Join(rawRoot, filepath.FromSlash(entity.Schema)))
	if err != nil {
		sink.Addf(ctx, diagnostics.SchemaInvalid, entity.Name, "", "%s: %v", entity.Schema, err)
		return nil
	}
	return validator
}

func extractKey(ctx context.Context, entity string, path fieldpath.Path, row int, payload map[string]any, sink *diagnostics.Sink) *keys.KeyValue {
	value, err := path.Resolve(payload)
	if err != nil {
		if errors.Is(err, fieldpath.ErrFieldMissing) {
			sink.Addf(ctx, diagnostics.PrimaryKeyMissing, entity, path.Location(row), "primary key %s is missing", path)
		} else {
			sink.Addf(ctx, diagnostics.PrimaryKeyInvalid, entity, path.Location(row), "primary key %s cannot be read: %v", path, err)
		}
		return nil
	}

	key, err := keys.Canonicalize(value)
	if err != nil {
		sink.Addf(ctx, diagnostics.PrimaryKeyInvalid, entity, path.Location(row), "primary key %s: %v", path, err)
		return nil
	}
	return &key
}

// readDocument parses a whole JSON file with lossless numbers. On failure it returns
// the diagnostic kind describing the problem.
func readDocument(path string) (any, diagnostics.Kind, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, diagnostics.SourceUnreadable, fmt.Errorf("failed to open source: %w", err)
	}
	defer f.Close()

	decoder := json.NewDecoder(f)
	decoder.UseNumber()

	var doc any
	if err := decoder.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, diagnostics.SourceParseFailed, errors.New("failed to parse source: file is empty")
		}
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return nil, diagnostics.SourceParseFailed, fmt.Errorf("failed to parse source at offset %d: %w", syntaxErr.Offset, err)
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, diagnostics.SourceParseFailed, fmt.Errorf("failed to parse source: %w", err)
		}
		return nil, diagnostics.SourceUnreadable, fmt.Errorf("failed to read source: %w", err)
	}

	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return nil, diagnostics.SourceParseFailed, errors.New("failed to parse source: unexpected data after the top-level value")
	}

	return doc, diagnostics.Kind{}, nil
}

func jsonTypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "an object"
	case []any:
		return "an array"
	case string:
		return "a string"
	case json.Number:
		return "a number"
	case bool:
		return "a boolean"
	default:
		return fmt.Sprintf("%T", v)
	}
}
