// Package report renders compile results for the terminal or as JSON.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/Ramsey-B/clover/pkg/compiler"
	"github.com/Ramsey-B/clover/pkg/diagnostics"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

// Colors paints the parts of a text report
type Colors struct {
	Error   func(string, ...any) string
	Warning func(string, ...any) string
	Success func(string, ...any) string
	Faint   func(string, ...any) string
}

// NewColors returns the terminal palette
func NewColors() *Colors {
	return &Colors{
		Error:   color.New(color.FgRed, color.Bold).SprintfFunc(),
		Warning: color.YellowString,
		Success: color.GreenString,
		Faint:   color.New(color.Faint).SprintfFunc(),
	}
}

// NoColors returns a palette that leaves text unchanged
func NoColors() *Colors {
	return &Colors{
		Error:   fmt.Sprintf,
		Warning: fmt.Sprintf,
		Success: fmt.Sprintf,
		Faint:   fmt.Sprintf,
	}
}

// ColorsFor returns the terminal palette when w is a terminal and plain text otherwise
func ColorsFor(w io.Writer) *Colors {
	f, ok := w.(*os.File)
	if !ok {
		return NoColors()
	}
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return NewColors()
	}
	return NoColors()
}

// Options controls what a report includes
type Options struct {
	Format string
	// Verbose lists every diagnostic and stage timing in text reports
	Verbose bool
	// Colors defaults to ColorsFor the destination
	Colors *Colors
}

// Write renders result to w
func Write(w io.Writer, result *compiler.Result, opts Options) error {
	switch opts.Format {
	case "", FormatText:
		if opts.Colors == nil {
			opts.Colors = ColorsFor(w)
		}
		return writeText(w, result, opts)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown report format %q", opts.Format)
	}
}

func writeText(w io.Writer, result *compiler.Result, opts Options) error {
	c := opts.Colors
	var b strings.Builder

	// Errors are always listed, warnings only when verbose
	for _, d := range result.Diagnostics {
		if d.Severity != diagnostics.SeverityError && !opts.Verbose {
			continue
		}
		b.WriteString(formatDiagnostic(c, d))
		b.WriteByte('\n')
	}

	if opts.Verbose && len(result.Timings) > 0 {
		for _, t := range result.Timings {
			b.WriteString(c.Faint("  %-9s %s", t.Stage, t.Duration))
			b.WriteByte('\n')
		}
	}

	if kinds := byKind(result.Summary); kinds != "" {
		b.WriteString(c.Faint("  %s", kinds))
		b.WriteByte('\n')
	}

	b.WriteString(summaryLine(c, result))
	b.WriteByte('\n')

	_, err := io.WriteString(w, b.String())
	return err
}

func formatDiagnostic(c *Colors, d diagnostics.Warning) string {
	label := c.Warning("warning")
	if d.Severity == diagnostics.SeverityError {
		label = c.Error("error")
	}

	where := d.Entity
	if d.Location != "" {
		if where != "" {
			where += " "
		}
		where += d.Location
	}
	if where != "" {
		return fmt.Sprintf("%s %s: %s (%s)", label, d.Kind, d.Message, where)
	}
	return fmt.Sprintf("%s %s: %s", label, d.Kind, d.Message)
}

func byKind(summary diagnostics.Summary) string {
	names := make([]string, 0, len(summary.ByKind))
	for name := range summary.ByKind {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%d", name, summary.ByKind[name]))
	}
	return strings.Join(parts, " ")
}

func summaryLine(c *Colors, result *compiler.Result) string {
	counts := fmt.Sprintf("%d errors, %d warnings", result.Summary.Errors, result.Summary.Warnings)

	var status string
	switch {
	case result.Aborted:
		status = c.Error("ABORTED")
	case result.Summary.Errors > 0:
		status = c.Error("FAILED")
	case result.DryRun:
		status = c.Success("OK")
	case result.Published:
		status = c.Success("PUBLISHED")
	default:
		status = c.Warning("NOT PUBLISHED")
	}

	line := fmt.Sprintf("%s %d documents, %s in %s", status, result.Compiled, counts, result.Duration.Round(time.Millisecond))
	if result.Published {
		line += fmt.Sprintf(" -> %s", result.OutputRoot)
	}
	return line
}
