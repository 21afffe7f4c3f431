// Package compiler runs the compile pipeline: manifest, load, index, assemble, write,
// promote and notify.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/assembler"
	"github.com/Ramsey-B/clover/pkg/diagnostics"
	"github.com/Ramsey-B/clover/pkg/index"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/loader"
	"github.com/Ramsey-B/clover/pkg/manifest"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/output"
	"github.com/Ramsey-B/clover/pkg/runcontext"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// DefaultMaxDepth bounds nesting when nothing else does
const DefaultMaxDepth = 8

// notifyTimeout bounds the compile event publish after promotion
const notifyTimeout = 10 * time.Second

// Options selects the inputs and outputs of one run
type Options struct {
	ManifestPath string
	RawRoot      string
	OutputRoot   string
	// MaxDepth replaces the configured default max depth when set
	MaxDepth *int
	// DryRun stops after assembly
	DryRun bool
}

// Notifier announces published runs
type Notifier interface {
	Notify(ctx context.Context, event *kafka.CompileEvent) error
}

// Config holds the process wide settings of a Compiler
type Config struct {
	// DefaultMaxDepth is the run fallback depth, DefaultMaxDepth when nil. Zero keeps
	// documents to their root rows.
	DefaultMaxDepth *int
	StagingSuffix   string
	// Locker serializes promotion across processes, optional
	Locker output.Locker
	// Notifier receives compile.completed events, optional
	Notifier Notifier
}

// Compiler runs compile pipelines. It holds no per-run state and may be reused.
type Compiler struct {
	logger  ectologger.Logger
	config  Config
	loader  *loader.Loader
	builder *index.Builder
	newID   func() string
}

// NewCompiler creates a compiler
func NewCompiler(logger ectologger.Logger, cfg Config) *Compiler {
	if cfg.DefaultMaxDepth == nil || *cfg.DefaultMaxDepth < 0 {
		depth := DefaultMaxDepth
		cfg.DefaultMaxDepth = &depth
	}
	return &Compiler{
		logger:  logger,
		config:  cfg,
		loader:  loader.NewLoader(logger),
		builder: index.NewBuilder(logger),
		newID:   uuid.NewString,
	}
}

// run is the state of one Compile call
type run struct {
	opts     Options
	logger   ectologger.Logger
	sink     *diagnostics.Sink
	result   *Result
	manifest *manifest.Manifest
	sets     map[string]*loader.RawEntitySet
	indexes  *index.Indexes
	writer   *output.Writer
	staged   *output.Staged
	started  time.Time
}

// Compile runs the pipeline. Each stage runs only when every earlier stage finished
// without an Error diagnostic. Expected problems are diagnostics on the Result; the
// returned error is reserved for failures the pipeline cannot describe as diagnostics.
// When the pipeline itself fails the partial Result is returned with Aborted set, so
// callers can still report what was recorded.
func (c *Compiler) Compile(ctx context.Context, opts Options) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "compiler.Compiler.Compile")
	defer span.End()

	if !opts.DryRun && opts.OutputRoot == "" {
		return nil, fmt.Errorf("output root is required")
	}

	runID := c.newID()
	ctx = runcontext.SetRunID(ctx, runID)
	log := c.logger.WithContext(ctx).WithFields(map[string]any{
		"method":   "Compile",
		"run_id":   runID,
		"manifest": opts.ManifestPath,
		"dry_run":  opts.DryRun,
	})

	r := &run{
		opts:   opts,
		logger: c.logger,
		sink:   diagnostics.NewSink(c.logger),
		result: &Result{RunID: runID, DryRun: opts.DryRun, Timings: make([]StageTiming, 0)},
	}

	if !opts.DryRun {
		writer, err := output.NewWriter(c.logger, output.Config{
			OutputRoot:    opts.OutputRoot,
			RunID:         runID,
			StagingSuffix: c.config.StagingSuffix,
			Locker:        c.config.Locker,
		})
		if err != nil {
			return nil, err
		}
		r.writer = writer
		r.result.OutputRoot = writer.OutputRoot()
	}

	log.Info("Starting compile")
	r.started = time.Now()

	err := c.pipeline(ctx, r)

	r.result.Duration = time.Since(r.started)
	r.result.Summary = r.sink.Summary()
	r.result.Diagnostics = r.sink.Warnings()
	r.result.Aborted = err != nil
	metrics.RunsTotal.WithLabelValues(r.result.outcome()).Inc()

	if err != nil {
		log.WithError(err).Error("Compile failed unexpectedly")
		return r.result, err
	}

	log.WithFields(map[string]any{
		"documents": r.result.Compiled,
		"published": r.result.Published,
		"warnings":  r.result.Summary.Warnings,
		"errors":    r.result.Summary.Errors,
		"duration":  r.result.Duration.String(),
	}).Info("Compile finished")

	return r.result, nil
}

type stageFunc func(ctx context.Context, r *run) error

type stage struct {
	name string
	fn   stageFunc
}

func (c *Compiler) pipeline(ctx context.Context, r *run) error {
	stages := []stage{
		{StageManifest, c.loadManifest},
		{StageLoad, c.loadRows},
		{StageIndex, c.buildIndexes},
		{StageAssemble, c.assemble},
	}
	if !r.opts.DryRun {
		stages = append(stages, stage{StageWrite, c.write}, stage{StagePromote, c.promote})
	}

	for _, st := range stages {
		ok, err := c.runStage(ctx, r, st.name, st.fn)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}

	if r.result.Published {
		c.notify(ctx, r)
	}
	return nil
}

// runStage runs one stage under its own span and reports whether the pipeline may
// continue. Cancellation before or during the stage is recorded as a Cancelled diagnostic.
func (c *Compiler) runStage(ctx context.Context, r *run, name string, fn stageFunc) (bool, error) {
	if err := ctx.Err(); err != nil {
		r.sink.Addf(ctx, diagnostics.Cancelled, "", "", "run cancelled before %s: %v", name, err)
		r.discard(ctx)
		return false, nil
	}

	stageCtx, span := tracing.StartSpan(ctx, "compiler.stage."+name)
	defer span.End()

	started := time.Now()
	err := fn(stageCtx, r)
	elapsed := time.Since(started)

	metrics.StageDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	r.result.Timings = append(r.result.Timings, StageTiming{Stage: name, Duration: elapsed})

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			r.sink.Addf(ctx, diagnostics.Cancelled, "", "", "run cancelled during %s: %v", name, err)
			r.discard(ctx)
			return false, nil
		}
		r.discard(ctx)
		return false, fmt.Errorf("%s stage failed: %w", name, err)
	}

	if r.sink.HasErrors() {
		r.logger.WithContext(ctx).WithFields(map[string]any{
			"stage":  name,
			"errors": r.sink.Count(diagnostics.SeverityError),
		}).Warn("Stopping after stage with errors")
		r.discard(ctx)
		return false, nil
	}
	return true, nil
}

func (c *Compiler) loadManifest(ctx context.Context, r *run) error {
	m, err := manifest.Load(r.opts.ManifestPath)
	if err != nil {
		var invalid *manifest.ValidationError
		if errors.As(err, &invalid) {
			for _, problem := range invalid.Problems {
				r.sink.Add(ctx, diagnostics.ManifestInvalid, "", r.opts.ManifestPath, problem)
			}
			return nil
		}
		r.sink.Add(ctx, diagnostics.ManifestInvalid, "", r.opts.ManifestPath, err.Error())
		return nil
	}
	r.manifest = m
	return nil
}

func (c *Compiler) loadRows(ctx context.Context, r *run) error {
	sets, err := c.loader.Load(ctx, r.manifest, r.opts.RawRoot, r.sink)
	if err != nil {
		return err
	}
	r.sets = sets
	return nil
}

func (c *Compiler) buildIndexes(ctx context.Context, r *run) error {
	idx, err := c.builder.Build(ctx, r.manifest, r.sets, r.sink)
	if err != nil {
		return err
	}
	r.indexes = idx
	return nil
}

func (c *Compiler) assemble(ctx context.Context, r *run) error {
	maxDepth := *c.config.DefaultMaxDepth
	if r.opts.MaxDepth != nil {
		maxDepth = *r.opts.MaxDepth
	}

	docs, err := assembler.NewAssembler(c.logger, maxDepth).Assemble(ctx, r.manifest, r.sets, r.indexes, r.sink)
	if err != nil {
		return err
	}
	r.result.Documents = docs
	r.result.Compiled = len(docs)
	return nil
}

func (c *Compiler) write(ctx context.Context, r *run) error {
	staged, err := r.writer.Write(ctx, r.manifest, r.result.Documents, r.sink)
	if err != nil {
		return err
	}
	r.staged = staged
	if staged != nil {
		r.result.Fingerprint = staged.Fingerprint
	}
	return nil
}

func (c *Compiler) promote(ctx context.Context, r *run) error {
	err := r.writer.Promote(ctx, r.staged)
	switch {
	case err == nil:
		r.staged = nil
		r.result.Published = true
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		r.sink.Add(ctx, diagnostics.PublishFailed, "", r.writer.OutputRoot(), err.Error())
		return nil
	}
}

// notify publishes the compile.completed event. It runs after promotion, so it ignores
// cancellation of the run and failures are only warnings.
func (c *Compiler) notify(ctx context.Context, r *run) {
	if c.config.Notifier == nil {
		return
	}

	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	notifyCtx, span := tracing.StartSpan(notifyCtx, "compiler.stage."+StageNotify)
	defer span.End()

	started := time.Now()
	byEntity := make(map[string]int)
	for _, doc := range r.result.Documents {
		byEntity[doc.Entity]++
	}

	err := c.config.Notifier.Notify(notifyCtx, &kafka.CompileEvent{
		Type:        kafka.EventCompileCompleted,
		RunID:       r.result.RunID,
		OutputRoot:  r.result.OutputRoot,
		Documents:   r.result.Compiled,
		Entities:    byEntity,
		Fingerprint: r.result.Fingerprint,
		Warnings:    r.sink.Count(diagnostics.SeverityWarning),
		DurationMs:  time.Since(r.started).Milliseconds(),
	})
	if err != nil {
		r.sink.Add(ctx, diagnostics.NotificationFailed, "", "", err.Error())
	}

	elapsed := time.Since(started)
	metrics.StageDuration.WithLabelValues(StageNotify).Observe(elapsed.Seconds())
	r.result.Timings = append(r.result.Timings, StageTiming{Stage: StageNotify, Duration: elapsed})
}

// discard removes anything staged by a run that will not be promoted
func (r *run) discard(ctx context.Context) {
	if r.writer != nil && r.staged != nil {
		r.writer.Discard(ctx)
		r.staged = nil
	}
}
