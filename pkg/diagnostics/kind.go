// Package diagnostics models compile warnings and errors and the sink that collects them.
package diagnostics

import (
	"fmt"
)

// Severity indicates whether a diagnostic blocks the next pipeline stage
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

// String returns "warning" or "error"
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler so JSON output uses the string form
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Stage is the pipeline stage a diagnostic kind belongs to
type Stage string

const (
	StageManifest Stage = "manifest"
	StageLoad     Stage = "load"
	StageIndex    Stage = "index"
	StageAssemble Stage = "assemble"
	StageOutput   Stage = "output"
	StageNotify   Stage = "notify"
	StageRun      Stage = "run"
)

// Kind identifies a diagnostic. A Kind can only be declared through newKind, which requires a
// severity, so every kind carries its severity from the moment it exists.
type Kind struct {
	name     string
	severity Severity
	stage    Stage
}

var registry []Kind

func newKind(name string, severity Severity, stage Stage) Kind {
	k := Kind{name: name, severity: severity, stage: stage}
	registry = append(registry, k)
	return k
}

var (
	ManifestInvalid = newKind("ManifestInvalid", SeverityError, StageManifest)

	SourceUnreadable      = newKind("SourceUnreadable", SeverityError, StageLoad)
	SourceParseFailed     = newKind("SourceParseFailed", SeverityError, StageLoad)
	RootNotArray          = newKind("RootNotArray", SeverityError, StageLoad)
	RowNotObject          = newKind("RowNotObject", SeverityError, StageLoad)
	PrimaryKeyNotDeclared = newKind("PrimaryKeyNotDeclared", SeverityError, StageLoad)
	PrimaryKeyMissing     = newKind("PrimaryKeyMissing", SeverityError, StageLoad)
	PrimaryKeyInvalid     = newKind("PrimaryKeyInvalid", SeverityError, StageLoad)
	SchemaInvalid         = newKind("SchemaInvalid", SeverityError, StageLoad)
	RowSchemaViolation    = newKind("RowSchemaViolation", SeverityWarning, StageLoad)

	DuplicateKey      = newKind("DuplicateKey", SeverityError, StageIndex)
	MissingForeignKey = newKind("MissingForeignKey", SeverityWarning, StageIndex)

	UnkeyedRootRow      = newKind("UnkeyedRootRow", SeverityWarning, StageAssemble)
	AliasShadowsField   = newKind("AliasShadowsField", SeverityWarning, StageAssemble)
	OrderByFieldMissing = newKind("OrderByFieldMissing", SeverityWarning, StageAssemble)
	MaxDepthExceeded    = newKind("MaxDepthExceeded", SeverityWarning, StageAssemble)
	CycleDetected       = newKind("CycleDetected", SeverityWarning, StageAssemble)

	BlobPathInvalid   = newKind("BlobPathInvalid", SeverityError, StageOutput)
	BlobPathCollision = newKind("BlobPathCollision", SeverityError, StageOutput)
	OutputWriteFailed = newKind("OutputWriteFailed", SeverityError, StageOutput)
	PublishFailed     = newKind("PublishFailed", SeverityError, StageOutput)

	NotificationFailed = newKind("NotificationFailed", SeverityWarning, StageNotify)

	Cancelled = newKind("Cancelled", SeverityError, StageRun)
)

// Kinds returns every declared kind in declaration order
func Kinds() []Kind {
	return append([]Kind(nil), registry...)
}

// String returns the kind's name
func (k Kind) String() string {
	return k.name
}

// Severity returns the severity bound to the kind
func (k Kind) Severity() Severity {
	return k.severity
}

// Stage returns the pipeline stage the kind is reported from
func (k Kind) Stage() Stage {
	return k.stage
}

// MarshalText implements encoding.TextMarshaler
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.name), nil
}
