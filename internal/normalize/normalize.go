// Package normalize converts the remote repository's polymorphic fields
// (absent, scalar, or array) into the strict shapes of the cached and
// exported records.
//
// Conversion is driven by a fixed table of named, pure rules. The rule for
// a field is declared in the schema, not inferred from the value at hand,
// so behavior is deterministic across heterogeneous inputs. Every rule is
// idempotent: normalizing an already-normalized value returns it unchanged.
package normalize

import (
	"fmt"
	"strconv"
	"strings"
)

// Rule names a conversion from a polymorphic value to a strict shape.
type Rule string

const (
	// RuleScalar maps null/absent to "", passes a scalar through, and
	// rejects arrays.
	RuleScalar Rule = "scalar"
	// RuleJoin maps null/absent to "", passes a scalar through, and joins
	// an array's non-empty elements with newlines.
	RuleJoin Rule = "join"
	// RuleList maps null/absent to an empty list, wraps a scalar, and
	// drops null/empty array elements.
	RuleList Rule = "list"
	// RuleNumber maps null/absent to zero, parses numeric strings
	// (invalid parse becomes zero), and passes numbers through.
	RuleNumber Rule = "number"
)

// Schema assigns a rule to each raw field.
type Schema map[string]Rule

// ItemSchema is the rule assignment for remote item records. It is shared
// by the import and export paths, so a cached item is already in final
// form when exported.
var ItemSchema = Schema{
	"title":       RuleJoin,
	"creator":     RuleJoin,
	"description": RuleJoin,
	"date":        RuleScalar,
	"year":        RuleNumber,
	"language":    RuleScalar,
	"subject":     RuleList,
	"files":       RuleList,
	"cover":       RuleScalar,
}

// CollectionSchema is the rule assignment for remote collection records.
var CollectionSchema = Schema{
	"title":       RuleJoin,
	"description": RuleJoin,
	"subject":     RuleList,
}

// FieldError reports a value a rule cannot convert, naming the offending field.
type FieldError struct {
	Field string
	Rule  Rule
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("normalize: field %q (rule %s): %v", e.Field, e.Rule, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// Apply runs the named rule on a polymorphic value.
func Apply(r Rule, v any) (any, error) {
	switch r {
	case RuleScalar:
		return Scalar(v)
	case RuleJoin:
		return Join(v), nil
	case RuleList:
		return List(v), nil
	case RuleNumber:
		return Number(v), nil
	default:
		return nil, fmt.Errorf("unknown rule %q", r)
	}
}

// Scalar converts scalar-or-null to a string. An array is an error.
func Scalar(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case []any:
		return "", fmt.Errorf("array where scalar expected")
	default:
		return stringify(t), nil
	}
}

// Join converts scalar-or-array-or-null to a string, arrays joined with
// newlines after dropping null and empty elements.
func Join(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, el := range t {
			if s := scalarString(el); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	default:
		return stringify(t)
	}
}

// List converts scalar-or-array-or-null to a string list with null and
// empty elements removed.
func List(v any) []string {
	switch t := v.(type) {
	case nil:
		return []string{}
	case []any:
		out := make([]string, 0, len(t))
		for _, el := range t {
			if s := scalarString(el); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		// Already normalized.
		out := make([]string, 0, len(t))
		for _, s := range t {
			if s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		if s := scalarString(t); s != "" {
			return []string{s}
		}
		return []string{}
	}
}

// Number converts numeric-ish to an int. Invalid parses become zero.
func Number(v any) int {
	switch t := v.(type) {
	case nil:
		return 0
	case int:
		return t
	case float64:
		return int(t)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// Record applies schema to every known field of raw and returns the strict
// record. Fields absent from the schema are ignored; a FieldError stops
// the conversion so the caller can record the offending field.
func Record(raw map[string]any, schema Schema) (map[string]any, error) {
	out := make(map[string]any, len(schema))
	for field, rule := range schema {
		v, err := Apply(rule, raw[field])
		if err != nil {
			return nil, &FieldError{Field: field, Rule: rule, Err: err}
		}
		out[field] = v
	}
	return out, nil
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return stringify(t)
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case float64:
		// JSON numbers arrive as float64; render integers without a decimal.
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
