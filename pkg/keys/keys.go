// Package keys canonicalizes raw scalar values into comparable, kind-tagged keys.
package keys

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Kind is the logical type of a canonical key
type Kind string

const (
	KindString      Kind = "string"
	KindInteger     Kind = "integer"
	KindDecimal     Kind = "decimal"
	KindBoolean     Kind = "boolean"
	KindGUID        Kind = "guid"
	KindUnsupported Kind = "unsupported"
)

// KeyValue is an immutable canonical key. Two keys are equal iff kind and canonical form are equal,
// so a KeyValue can be used directly as a map key.
type KeyValue struct {
	kind      Kind
	canonical string
}

// Kind returns the key's kind
func (k KeyValue) Kind() Kind {
	return k.kind
}

// Canonical returns the normalized textual form of the key
func (k KeyValue) Canonical() string {
	return k.canonical
}

// String returns the canonical form
func (k KeyValue) String() string {
	return k.canonical
}

// IsNumeric reports whether the key is an integer or decimal
func (k KeyValue) IsNumeric() bool {
	return k.kind == KindInteger || k.kind == KindDecimal
}

// MarshalJSON writes numbers and booleans as JSON literals and everything else as strings
func (k KeyValue) MarshalJSON() ([]byte, error) {
	switch k.kind {
	case KindInteger, KindDecimal, KindBoolean:
		return []byte(k.canonical), nil
	default:
		return json.Marshal(k.canonical)
	}
}

// CanonicalizeError is returned when a value cannot become a key
type CanonicalizeError struct {
	// Got names the offending source type: null, object, array, number or a Go type name
	Got    string
	Reason string
}

func (e *CanonicalizeError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("unsupported key value of type %s: %s", e.Got, e.Reason)
	}
	return fmt.Sprintf("unsupported key value of type %s", e.Got)
}

// Kind always reports KindUnsupported
func (e *CanonicalizeError) Kind() Kind {
	return KindUnsupported
}

// Canonicalize converts a decoded JSON scalar into a KeyValue.
// Numbers are normalized losslessly, numeric and GUID shaped strings unify with their typed
// counterparts, and null, arrays and objects always fail.
func Canonicalize(value any) (KeyValue, error) {
	switch v := value.(type) {
	case nil:
		return KeyValue{}, &CanonicalizeError{Got: "null"}
	case map[string]any:
		return KeyValue{}, &CanonicalizeError{Got: "object"}
	case []any:
		return KeyValue{}, &CanonicalizeError{Got: "array"}
	case string:
		return canonicalizeString(v), nil
	case bool:
		return KeyValue{kind: KindBoolean, canonical: strconv.FormatBool(v)}, nil
	case json.Number:
		return canonicalizeNumber(string(v))
	case int:
		return integer(strconv.FormatInt(int64(v), 10)), nil
	case int8:
		return integer(strconv.FormatInt(int64(v), 10)), nil
	case int16:
		return integer(strconv.FormatInt(int64(v), 10)), nil
	case int32:
		return integer(strconv.FormatInt(int64(v), 10)), nil
	case int64:
		return integer(strconv.FormatInt(v, 10)), nil
	case uint:
		return integer(strconv.FormatUint(uint64(v), 10)), nil
	case uint8:
		return integer(strconv.FormatUint(uint64(v), 10)), nil
	case uint16:
		return integer(strconv.FormatUint(uint64(v), 10)), nil
	case uint32:
		return integer(strconv.FormatUint(uint64(v), 10)), nil
	case uint64:
		return integer(strconv.FormatUint(v, 10)), nil
	case float32:
		return canonicalizeFloat(float64(v), 32)
	case float64:
		return canonicalizeFloat(v, 64)
	default:
		return KeyValue{}, &CanonicalizeError{Got: fmt.Sprintf("%T", value)}
	}
}

// MustCanonicalize is Canonicalize for values known to be valid keys. It panics on failure.
func MustCanonicalize(value any) KeyValue {
	k, err := Canonicalize(value)
	if err != nil {
		panic(err)
	}
	return k
}

func integer(s string) KeyValue {
	return KeyValue{kind: KindInteger, canonical: s}
}

func canonicalizeString(s string) KeyValue {
	if isNumberLiteral(s) {
		if k, err := canonicalizeNumber(s); err == nil {
			return k
		}
	}

	if len(s) == 36 && s[8] == '-' && s[13] == '-' && s[18] == '-' && s[23] == '-' {
		if id, err := uuid.Parse(s); err == nil {
			return KeyValue{kind: KindGUID, canonical: id.String()}
		}
	}

	return KeyValue{kind: KindString, canonical: s}
}

func canonicalizeFloat(f float64, bits int) (KeyValue, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return KeyValue{}, &CanonicalizeError{Got: "number", Reason: "not a finite value"}
	}
	return canonicalizeNumber(strings.ToLower(strconv.FormatFloat(f, 'g', -1, bits)))
}
