package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Gobusters/ectoinject"
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/clover/config"
	"github.com/Ramsey-B/clover/pkg/compiler"
	"github.com/Ramsey-B/clover/pkg/logging"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/report"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const (
	exitOK       = 0
	exitFailed   = 1
	exitUsage    = 2
	envFileUsage = "dotenv file with configuration overrides"
)

// exitError carries an exit code out of a command
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit code %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

type flags struct {
	manifest string
	raw      string
	out      string
	maxDepth int
	verbose  bool
	format   string
	envFile  string
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCommand(stdout, stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}

	var exit *exitError
	if errors.As(err, &exit) {
		if exit.err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", exit.err)
		}
		return exit.code
	}

	fmt.Fprintf(stderr, "Error: %v\n", err)
	return exitUsage
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "clover",
		Short:         "Compile flat entity exports into nested documents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.AddCommand(
		newCompileCommand(false),
		newCompileCommand(true),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "clover %s\n", version)
			},
		},
	)
	return root
}

func newCompileCommand(dryRun bool) *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile and atomically publish documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(cmd, f, dryRun)
		},
	}
	if dryRun {
		cmd.Use = "check"
		cmd.Short = "Run every stage except writing and publishing"
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.manifest, "manifest", "m", "", "manifest file (YAML or JSON)")
	fl.StringVarP(&f.raw, "raw", "r", "", "directory holding the raw entity files")
	fl.IntVar(&f.maxDepth, "max-depth", -1, "max nesting depth when the manifest sets none")
	fl.BoolVarP(&f.verbose, "verbose", "v", false, "list warnings and stage timings, log at debug level")
	fl.StringVar(&f.format, "format", report.FormatText, "summary format: text or json")
	fl.StringVar(&f.envFile, "env-file", ".env", envFileUsage)
	_ = cmd.MarkFlagRequired("manifest")
	_ = cmd.MarkFlagRequired("raw")
	if !dryRun {
		fl.StringVarP(&f.out, "out", "o", "", "output root replaced on success")
		_ = cmd.MarkFlagRequired("out")
	}
	return cmd
}

// abort reports whatever a failed run recorded, an empty summary when it recorded
// nothing, and returns the usage exit error for cause
func abort(w io.Writer, result *compiler.Result, dryRun bool, opts report.Options, cause error) error {
	if result == nil {
		result = &compiler.Result{DryRun: dryRun}
	}
	result.Aborted = true
	_ = report.Write(w, result, opts)
	return &exitError{code: exitUsage, err: cause}
}

func runCompile(cmd *cobra.Command, f *flags, dryRun bool) error {
	ctx := cmd.Context()

	if f.format != report.FormatText && f.format != report.FormatJSON {
		return &exitError{code: exitUsage, err: fmt.Errorf("invalid format %q (use text or json)", f.format)}
	}

	cfg, err := config.Load(f.envFile)
	if err != nil {
		return &exitError{code: exitUsage, err: err}
	}
	if f.verbose {
		cfg.LogLevel = "debug"
	}

	logger, sync, err := logging.New(logging.Options{AppName: cfg.AppName, Level: cfg.LogLevel, Pretty: cfg.PrettyLogs})
	if err != nil {
		return &exitError{code: exitUsage, err: err}
	}
	defer sync()

	infra, err := newInfrastructure(ctx, cfg, logger, dryRun)
	if err != nil {
		return &exitError{code: exitUsage, err: err}
	}
	defer infra.stop(context.WithoutCancel(ctx))

	opts := compiler.Options{
		ManifestPath: f.manifest,
		RawRoot:      f.raw,
		OutputRoot:   f.out,
		DryRun:       dryRun,
	}
	if f.maxDepth >= 0 {
		opts.MaxDepth = &f.maxDepth
	}

	ctx, err = infra.withContainer(ctx)
	if err != nil {
		return &exitError{code: exitUsage, err: err}
	}
	ctx, c, err := ectoinject.GetContext[*compiler.Compiler](ctx)
	if err != nil {
		return &exitError{code: exitUsage, err: fmt.Errorf("failed to resolve compiler: %w", err)}
	}

	result, err := c.Compile(ctx, opts)
	if err != nil {
		return abort(cmd.OutOrStdout(), result, dryRun, report.Options{Format: f.format, Verbose: f.verbose}, err)
	}

	if cfg.MetricsTextfile != "" {
		if err := metrics.WriteTextfile(cfg.MetricsTextfile); err != nil {
			logger.WithError(err).Warn("Failed to write metrics textfile")
		}
	}

	if err := report.Write(cmd.OutOrStdout(), result, report.Options{Format: f.format, Verbose: f.verbose}); err != nil {
		return &exitError{code: exitUsage, err: err}
	}

	if code := result.ExitCode(); code != exitOK {
		return &exitError{code: code}
	}
	return nil
}
