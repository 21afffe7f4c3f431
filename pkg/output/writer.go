// Package output stages compiled documents on disk and atomically publishes them.
package output

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/assembler"
	"github.com/Ramsey-B/clover/pkg/diagnostics"
	"github.com/Ramsey-B/clover/pkg/expressions"
	"github.com/Ramsey-B/clover/pkg/fingerprint"
	"github.com/Ramsey-B/clover/pkg/manifest"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const DefaultStagingSuffix = ".staging"

// WriteError is a failed filesystem operation on a staged file
type WriteError struct {
	Op   string
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Locker serializes promotion of one output root across processes
type Locker interface {
	WithLock(ctx context.Context, key string, fn func() error) error
}

// Config configures a Writer for one run
type Config struct {
	OutputRoot    string
	RunID         string
	StagingSuffix string
	// Locker is optional
	Locker Locker
}

// Writer stages documents under a per-run staging root, then promotes it over the
// output root
type Writer struct {
	logger      ectologger.Logger
	templates   *expressions.Template
	locker      Locker
	outputRoot  string
	stagingRoot string
	runID       string
}

// NewWriter creates a writer for one run
func NewWriter(logger ectologger.Logger, cfg Config) (*Writer, error) {
	if cfg.OutputRoot == "" {
		return nil, fmt.Errorf("output root is required")
	}
	root, err := filepath.Abs(cfg.OutputRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve output root: %w", err)
	}
	if cfg.StagingSuffix == "" {
		cfg.StagingSuffix = DefaultStagingSuffix
	}

	return &Writer{
		logger:      logger,
		templates:   expressions.NewTemplate(expressions.NewEvaluator()),
		locker:      cfg.Locker,
		outputRoot:  root,
		stagingRoot: root + cfg.StagingSuffix + "-" + cfg.RunID,
		runID:       cfg.RunID,
	}, nil
}

// OutputRoot returns the absolute output root
func (w *Writer) OutputRoot() string {
	return w.outputRoot
}

// StagingRoot returns the absolute staging root of this run
func (w *Writer) StagingRoot() string {
	return w.stagingRoot
}

// Staged describes a fully written staging root awaiting promotion
type Staged struct {
	RunID       string            `json:"runId"`
	StagingRoot string            `json:"stagingRoot"`
	OutputRoot  string            `json:"outputRoot"`
	Documents   int               `json:"documents"`
	ByEntity    map[string]int    `json:"byEntity"`
	Indexes     []string          `json:"indexes,omitempty"`
	BuildInfo   string            `json:"buildInfo,omitempty"`
	Bytes       int64             `json:"bytes"`
	Fingerprint string            `json:"fingerprint"`
	Files       map[string]string `json:"-"`
}

// file is one rendered output file
type file struct {
	path     string
	entity   string
	payload  any
	document bool
}

// Write renders every output path, then writes every document, secondary index and the
// optional build info under the staging root. Path problems and write failures are
// recorded in sink and yield a nil Staged; the staging root is removed and the output
// root is never touched. The returned error is only set when ctx is cancelled.
func (w *Writer) Write(ctx context.Context, m *manifest.Manifest, docs []assembler.CompiledDocument, sink *diagnostics.Sink) (*Staged, error) {
	ctx, span := tracing.StartSpan(ctx, "output.Writer.Write")
	defer span.End()

	log := w.logger.WithContext(ctx).WithFields(map[string]any{
		"method":       "Write",
		"run_id":       w.runID,
		"staging_root": w.stagingRoot,
	})

	claimed := make(pathSet)
	files, ok := w.renderDocuments(ctx, m, docs, claimed, sink)

	indexFiles, indexOK := w.renderIndexes(ctx, m, docs, claimed, sink)
	ok = ok && indexOK
	files = append(files, indexFiles...)

	var buildInfoPath string
	if m.BuildInfo != "" {
		p, err := cleanBlobPath(m.BuildInfo)
		if err != nil {
			sink.Addf(ctx, diagnostics.BlobPathInvalid, "", "buildInfo", "build info path: %v", err)
			ok = false
		} else if prev, free := claimed.claim(p, "build info"); !free {
			sink.Addf(ctx, diagnostics.BlobPathCollision, "", "buildInfo", "build info path %s is already used by %s", p, prev)
			ok = false
		}
		buildInfoPath = p
	}

	if !ok {
		log.Warn("Output paths are invalid, nothing was staged")
		return nil, nil
	}

	if err := os.RemoveAll(w.stagingRoot); err != nil {
		sink.Add(ctx, diagnostics.OutputWriteFailed, "", w.stagingRoot, (&WriteError{Op: "clear", Path: w.stagingRoot, Err: err}).Error())
		return nil, nil
	}

	staged := &Staged{
		RunID:       w.runID,
		StagingRoot: w.stagingRoot,
		OutputRoot:  w.outputRoot,
		ByEntity:    make(map[string]int),
		Files:       make(map[string]string, len(files)),
	}

	for i, f := range files {
		if i%256 == 0 && ctx.Err() != nil {
			w.Discard(ctx)
			return nil, ctx.Err()
		}

		data, err := encode(f.payload)
		if err == nil {
			err = w.writeFile(f.path, data)
		}
		if err != nil {
			sink.Addf(ctx, diagnostics.OutputWriteFailed, f.entity, f.path, "%v", err)
			w.Discard(ctx)
			return nil, nil
		}

		staged.Bytes += int64(len(data))
		if f.document {
			staged.Documents++
			staged.ByEntity[f.entity]++
			staged.Files[f.path] = fingerprint.Generate(f.payload.(map[string]any))
			metrics.DocumentsWritten.WithLabelValues(f.entity).Inc()
		} else {
			staged.Indexes = append(staged.Indexes, f.path)
		}
	}
	staged.Fingerprint = fingerprint.Combine(staged.Files)

	if buildInfoPath != "" {
		data, err := encode(newBuildInfo(staged))
		if err == nil {
			err = w.writeFile(buildInfoPath, data)
		}
		if err != nil {
			sink.Addf(ctx, diagnostics.OutputWriteFailed, "", buildInfoPath, "%v", err)
			w.Discard(ctx)
			return nil, nil
		}
		staged.Bytes += int64(len(data))
		staged.BuildInfo = buildInfoPath
	}

	metrics.BytesWritten.Add(float64(staged.Bytes))
	log.WithFields(map[string]any{
		"documents": staged.Documents,
		"indexes":   len(staged.Indexes),
		"bytes":     staged.Bytes,
	}).Info("Staged output")

	return staged, nil
}

// renderDocuments renders and claims the blob path of every document
func (w *Writer) renderDocuments(ctx context.Context, m *manifest.Manifest, docs []assembler.CompiledDocument, claimed pathSet, sink *diagnostics.Sink) ([]file, bool) {
	ok := true
	files := make([]file, 0, len(docs))

	for _, doc := range docs {
		entity, _ := m.Entity(doc.Entity)
		location := fmt.Sprintf("$[%d]", doc.SourceIndex)
		owner := fmt.Sprintf("%s %s", doc.Entity, doc.PrimaryKey)

		rendered, err := w.templates.Render(entity.BlobPathTemplate(), map[string]any{
			"entity": doc.Entity,
			"pk":     doc.PrimaryKey.Canonical(),
			"row":    doc.Payload,
		})
		if err == nil {
			rendered, err = cleanBlobPath(rendered)
		}
		if err != nil {
			sink.Addf(ctx, diagnostics.BlobPathInvalid, doc.Entity, location, "blob path for %s: %v", owner, err)
			ok = false
			continue
		}

		if prev, free := claimed.claim(rendered, owner); !free {
			sink.Addf(ctx, diagnostics.BlobPathCollision, doc.Entity, location, "%s renders to %s, already used by %s", owner, rendered, prev)
			ok = false
			continue
		}

		files = append(files, file{path: rendered, entity: doc.Entity, payload: doc.Payload, document: true})
	}

	return files, ok
}

func (w *Writer) writeFile(rel string, data []byte) error {
	full := filepath.Join(w.stagingRoot, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return &WriteError{Op: "create directory for", Path: rel, Err: err}
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return &WriteError{Op: "write", Path: rel, Err: err}
	}
	return nil
}

// Discard removes the staging root of a run that will not be promoted
func (w *Writer) Discard(ctx context.Context) {
	if err := os.RemoveAll(w.stagingRoot); err != nil {
		w.logger.WithContext(ctx).WithError(err).Warnf("Failed to remove staging root %s", w.stagingRoot)
	}
}

// encode serializes v as indented JSON without HTML escaping
func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode: %w", err)
	}
	return buf.Bytes(), nil
}
