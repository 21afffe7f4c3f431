package expressions

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

const (
	openDelim  = "{{"
	closeDelim = "}}"
)

// segment is either literal text or a placeholder expression
type segment struct {
	literal    string
	expression string
}

// Parsed is a template split into literal text and compiled placeholders
type Parsed struct {
	source   string
	segments []segment
}

// Expressions lists the placeholder expressions in template order
func (p *Parsed) Expressions() []string {
	out := make([]string, 0, len(p.segments))
	for _, s := range p.segments {
		if s.expression != "" {
			out = append(out, s.expression)
		}
	}
	return out
}

// Template renders strings containing {{ expression }} placeholders. Parsed templates
// are cached, so rendering one blob path per document parses it once.
type Template struct {
	evaluator *Evaluator
	parsed    sync.Map // string -> *Parsed
}

func NewTemplate(evaluator *Evaluator) *Template {
	return &Template{evaluator: evaluator}
}

// Parse splits template into segments and compiles every placeholder
func (t *Template) Parse(template string) (*Parsed, error) {
	if cached, ok := t.parsed.Load(template); ok {
		return cached.(*Parsed), nil
	}

	p := &Parsed{source: template}
	rest := template
	for rest != "" {
		start := strings.Index(rest, openDelim)
		if start < 0 {
			p.segments = append(p.segments, segment{literal: rest})
			break
		}
		if start > 0 {
			p.segments = append(p.segments, segment{literal: rest[:start]})
		}

		body := rest[start+len(openDelim):]
		end := strings.Index(body, closeDelim)
		if end < 0 {
			return nil, fmt.Errorf("template %q has an unterminated placeholder", template)
		}
		expression := strings.TrimSpace(body[:end])
		if expression == "" {
			return nil, fmt.Errorf("template %q has an empty placeholder", template)
		}
		if err := t.evaluator.Validate(expression); err != nil {
			return nil, fmt.Errorf("template %q: invalid expression %q: %w", template, expression, err)
		}
		p.segments = append(p.segments, segment{expression: expression})
		rest = body[end+len(closeDelim):]
	}

	t.parsed.Store(template, p)
	return p, nil
}

// Render replaces every placeholder with the scalar it evaluates to against data.
// Every failing placeholder is reported.
func (t *Template) Render(template string, data any) (string, error) {
	p, err := t.Parse(template)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	var errs []error
	for _, s := range p.segments {
		if s.expression == "" {
			b.WriteString(s.literal)
			continue
		}
		value, err := t.evaluator.EvaluateScalar(s.expression, data)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		b.WriteString(value)
	}

	if len(errs) > 0 {
		return "", errors.Join(errs...)
	}
	return b.String(), nil
}

// Validate parses template without evaluating it
func (t *Template) Validate(template string) error {
	_, err := t.Parse(template)
	return err
}
