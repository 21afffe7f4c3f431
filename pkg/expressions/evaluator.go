// Package expressions evaluates JMESPath expressions against rows and renders
// {{ expression }} templates such as blob paths and index paths.
package expressions

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/Gobusters/ectolinq"
	"github.com/jmespath/go-jmespath"
)

// Evaluator evaluates JMESPath expressions, compiling each distinct expression once.
// It is safe for concurrent use.
type Evaluator struct {
	cache *ectolinq.ConcurrentDictionary[*jmespath.JMESPath]
}

func NewEvaluator() *Evaluator {
	return &Evaluator{cache: ectolinq.NewConcurrentDictionary[*jmespath.JMESPath]()}
}

// Evaluate returns whatever expression selects from data, nil when nothing matches
func (e *Evaluator) Evaluate(expression string, data any) (any, error) {
	compiled, err := e.compile(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", expression, err)
	}

	result, err := compiled.Search(data)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression %q: %w", expression, err)
	}
	return result, nil
}

// EvaluateScalar evaluates an expression that must produce a string, number or boolean
// and returns its textual form. Null, arrays and objects are errors.
func (e *Evaluator) EvaluateScalar(expression string, data any) (string, error) {
	result, err := e.Evaluate(expression, data)
	if err != nil {
		return "", err
	}

	switch v := result.(type) {
	case nil:
		return "", fmt.Errorf("expression %q resolved to no value", expression)
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case bool:
		return strconv.FormatBool(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	default:
		return "", fmt.Errorf("expression %q resolved to %T, expected a scalar", expression, result)
	}
}

// Validate compiles expression without evaluating it
func (e *Evaluator) Validate(expression string) error {
	_, err := e.compile(expression)
	return err
}

// compile returns the cached program for expression. Two goroutines may compile the
// same expression at once; both results are equivalent and the last one is kept.
func (e *Evaluator) compile(expression string) (*jmespath.JMESPath, error) {
	if compiled, ok := e.cache.Get(expression); ok {
		return compiled, nil
	}

	compiled, err := jmespath.Compile(expression)
	if err != nil {
		return nil, err
	}
	e.cache.Set(expression, compiled)
	return compiled, nil
}
