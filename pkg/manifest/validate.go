package manifest

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Ramsey-B/clover/pkg/expressions"
	"github.com/Ramsey-B/clover/pkg/fieldpath"
)

var structValidator = validator.New(validator.WithRequiredStructEnabled())

var templates = expressions.NewTemplate(expressions.NewEvaluator())

// validate runs struct validation, then referential checks, then compiles every field
// path. Every problem is collected before returning.
func (m *Manifest) validate() error {
	problems := make([]string, 0)

	if err := structValidator.Struct(m); err != nil {
		problems = append(problems, validationProblems(err)...)
	}

	for _, name := range m.EntityNames() {
		e := m.Entities[name]
		if e == nil {
			continue
		}
		e.Name = name
		problems = append(problems, m.checkEntity(e)...)
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func (m *Manifest) checkEntity(e *Entity) []string {
	problems := make([]string, 0)
	addf := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf("entity %q: ", e.Name)+fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(e.Name) == "" {
		addf("entity name is empty")
	}

	if e.Source != "" {
		if err := checkRelativeFile(e.Source); err != nil {
			addf("source: %v", err)
		}
	}
	if e.Schema != "" {
		if err := checkRelativeFile(e.Schema); err != nil {
			addf("schema: %v", err)
		}
	}

	if e.PrimaryKey != "" {
		p, err := fieldpath.Parse(e.PrimaryKey)
		if err != nil {
			addf("primaryKey: %v", err)
		}
		e.pkPath = p
	}

	if e.OrderBy != nil {
		if err := compileOrdering(e.OrderBy); err != nil {
			addf("orderBy: %v", err)
		}
	}

	if err := templates.Validate(e.BlobPathTemplate()); err != nil {
		addf("blobPath: %v", err)
	}

	aliases := make(map[string]bool, len(e.Children))
	for i := range e.Children {
		rel := &e.Children[i]
		prefix := fmt.Sprintf("children[%d]", i)

		if rel.Entity != "" {
			if _, ok := m.Entities[rel.Entity]; !ok {
				addf("%s: child entity %q is not declared", prefix, rel.Entity)
			}
		}
		if rel.Alias != "" {
			if aliases[rel.Alias] {
				addf("%s: alias %q is declared more than once", prefix, rel.Alias)
			}
			aliases[rel.Alias] = true
		}
		if rel.ForeignKey != "" {
			p, err := fieldpath.Parse(rel.ForeignKey)
			if err != nil {
				addf("%s: foreignKey: %v", prefix, err)
			}
			rel.fkPath = p
		}
		if rel.OrderBy != nil {
			if err := compileOrdering(rel.OrderBy); err != nil {
				addf("%s: orderBy: %v", prefix, err)
			}
		}
	}

	if len(e.Indexes) > 0 && !e.Root {
		addf("indexes are only supported on root entities")
	}
	names := make(map[string]bool, len(e.Indexes))
	for i := range e.Indexes {
		idx := &e.Indexes[i]
		prefix := fmt.Sprintf("indexes[%d]", i)

		if idx.Name != "" {
			if names[idx.Name] {
				addf("%s: index %q is declared more than once", prefix, idx.Name)
			}
			names[idx.Name] = true
		}
		if idx.Field != "" {
			p, err := fieldpath.Parse(idx.Field)
			if err != nil {
				addf("%s: field: %v", prefix, err)
			}
			idx.fieldPath = p
		}
		if idx.Path != "" {
			if err := templates.Validate(idx.Path); err != nil {
				addf("%s: path: %v", prefix, err)
			}
		}
	}

	return problems
}

func compileOrdering(o *Ordering) error {
	if o.Direction == "" {
		o.Direction = Ascending
	}
	if o.Field == "" {
		return nil
	}
	p, err := fieldpath.Parse(o.Field)
	if err != nil {
		return err
	}
	o.path = p
	return nil
}

// checkRelativeFile rejects paths that are absolute or escape their base directory
func checkRelativeFile(p string) error {
	if filepath.IsAbs(p) || path.IsAbs(filepath.ToSlash(p)) {
		return fmt.Errorf("%q must be relative", p)
	}
	clean := path.Clean(filepath.ToSlash(p))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("%q must stay inside the raw data root", p)
	}
	return nil
}

func validationProblems(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}

	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Manifest.")
		if fe.Param() != "" {
			problems = append(problems, fmt.Sprintf("%s: rule '%s' expected '%s', got '%v'", field, fe.Tag(), fe.Param(), fe.Value()))
		} else {
			problems = append(problems, fmt.Sprintf("%s: rule '%s' failed, got '%v'", field, fe.Tag(), fe.Value()))
		}
	}
	return problems
}
