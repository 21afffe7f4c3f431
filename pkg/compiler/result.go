package compiler

import (
	"time"

	"github.com/Ramsey-B/clover/pkg/assembler"
	"github.com/Ramsey-B/clover/pkg/diagnostics"
)

const (
	StageManifest = "manifest"
	StageLoad     = "load"
	StageIndex    = "index"
	StageAssemble = "assemble"
	StageWrite    = "write"
	StagePromote  = "promote"
	StageNotify   = "notify"
)

// StageTiming is the wall time one pipeline stage took
type StageTiming struct {
	Stage    string        `json:"stage"`
	Duration time.Duration `json:"duration"`
}

// Result describes one compile run. It is returned for every run that reached the
// pipeline, including runs that stopped on an Error diagnostic.
type Result struct {
	RunID      string `json:"runId"`
	DryRun     bool   `json:"dryRun"`
	OutputRoot string `json:"outputRoot,omitempty"`
	// Documents holds the assembled documents, nil when assembly did not complete
	Documents   []assembler.CompiledDocument `json:"-"`
	Compiled    int                          `json:"documents"`
	Published   bool                         `json:"published"`
	Fingerprint string                       `json:"fingerprint,omitempty"`
	Timings     []StageTiming                `json:"timings"`
	Duration    time.Duration                `json:"duration"`
	Summary     diagnostics.Summary          `json:"summary"`
	Diagnostics []diagnostics.Warning        `json:"diagnostics"`
	// Aborted is set when an unexpected failure ended the run early
	Aborted bool `json:"aborted,omitempty"`
}

// ExitCode is 0 when the run produced no Error diagnostics and 1 otherwise.
// Warnings never change it.
func (r *Result) ExitCode() int {
	if r.Summary.Errors > 0 {
		return 1
	}
	return 0
}

// Timing returns the duration of a stage, false when the stage did not run
func (r *Result) Timing(stage string) (time.Duration, bool) {
	for _, t := range r.Timings {
		if t.Stage == stage {
			return t.Duration, true
		}
	}
	return 0, false
}

// outcome labels the run for metrics
func (r *Result) outcome() string {
	switch {
	case r.Aborted:
		return "aborted"
	case r.Summary.Errors > 0:
		return "failed"
	case r.DryRun:
		return "checked"
	default:
		return "published"
	}
}
