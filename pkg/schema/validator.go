// Package schema validates raw rows against per-entity JSON Schemas.
package schema

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// ValidationError represents a single validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult represents the result of validating a row
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Validator validates rows against a compiled schema. It is safe for concurrent use.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles a JSON Schema document. location names the schema in errors
// and resolves relative $refs.
func NewValidator(location string, schemaJSON []byte) (*Validator, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(location, doc); err != nil {
		return nil, fmt.Errorf("failed to add schema %s: %w", location, err)
	}

	sch, err := c.Compile(location)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", location, err)
	}
	return &Validator{schema: sch}, nil
}

// NewValidatorFromFile reads and compiles the schema at path
func NewValidatorFromFile(path string) (*Validator, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}
	return NewValidator(abs, data)
}

// Validate validates one decoded row. Numbers are expected as json.Number.
func (v *Validator) Validate(row map[string]any) ValidationResult {
	result := ValidationResult{Valid: true, Errors: []ValidationError{}}

	err := v.schema.Validate(row)
	if err == nil {
		return result
	}

	result.Valid = false

	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		result.Errors = append(result.Errors, ValidationError{Message: err.Error()})
		return result
	}

	result.Errors = leafErrors(verr, result.Errors)
	sort.SliceStable(result.Errors, func(i, j int) bool {
		return result.Errors[i].Field < result.Errors[j].Field
	})
	return result
}

// leafErrors flattens the error tree to the causes that carry no further detail
func leafErrors(verr *jsonschema.ValidationError, out []ValidationError) []ValidationError {
	if len(verr.Causes) == 0 {
		return append(out, ValidationError{
			Field:   strings.Join(verr.InstanceLocation, "."),
			Message: verr.ErrorKind.LocalizedString(printer),
		})
	}
	for _, cause := range verr.Causes {
		out = leafErrors(cause, out)
	}
	return out
}
