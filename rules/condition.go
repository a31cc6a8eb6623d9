package rules

import (
	"fmt"
	"strings"
)

// EvalResult is the outcome of evaluating one condition tree against one
// payload. Diagnostics records fail-closed branches (missing fields, type
// mismatches, expression errors); callers log them instead of failing.
type EvalResult struct {
	Matched     bool
	Diagnostics []string
}

// Evaluate walks a condition tree against an event payload. It is pure: no
// I/O, no clock, no randomness, so the same (condition, payload) pair always
// yields the same result. Any node that cannot be evaluated (missing field,
// non-scalar value, non-numeric operand for an ordering operator) evaluates
// to false and contributes a diagnostic.
//
// The condition is assumed to have passed Validate at authoring time; a
// malformed node still fails closed rather than panicking.
func Evaluate(c *Condition, payload map[string]any) EvalResult {
	var res EvalResult
	res.Matched = evalNode(c, payload, &res.Diagnostics)
	return res
}

func evalNode(c *Condition, payload map[string]any, diags *[]string) bool {
	if c == nil {
		*diags = append(*diags, "nil condition node")
		return false
	}

	switch c.Kind {
	case NodeGroup:
		return evalGroup(c, payload, diags)
	case NodeCmp:
		return evalCmp(c, payload, diags)
	case NodeExpr:
		return evalExpr(c.Expression, payload, diags)
	default:
		*diags = append(*diags, fmt.Sprintf("unknown node kind %q", c.Kind))
		return false
	}
}

func evalGroup(c *Condition, payload map[string]any, diags *[]string) bool {
	switch c.Op {
	case GroupAnd:
		for _, child := range c.Children {
			if !evalNode(child, payload, diags) {
				return false
			}
		}
		return len(c.Children) > 0
	case GroupOr:
		for _, child := range c.Children {
			if evalNode(child, payload, diags) {
				return true
			}
		}
		return false
	default:
		*diags = append(*diags, fmt.Sprintf("unknown group op %q", c.Op))
		return false
	}
}

func evalCmp(c *Condition, payload map[string]any, diags *[]string) bool {
	got, ok := lookupPath(payload, c.Field)
	if !ok {
		*diags = append(*diags, fmt.Sprintf("field %q not present in payload", c.Field))
		return false
	}

	switch c.Operator {
	case OpEq:
		return scalarEqual(got, c.Value)
	case OpNeq:
		// A field that resolved but holds an incomparable type still
		// fails closed, so neq is the strict negation of eq only over
		// comparable scalars.
		if !isScalar(got) {
			*diags = append(*diags, fmt.Sprintf("field %q is not a scalar", c.Field))
			return false
		}
		return !scalarEqual(got, c.Value)
	case OpGt, OpGte, OpLt, OpLte:
		l, lok := asNumber(got)
		r, rok := asNumber(c.Value)
		if !lok || !rok {
			*diags = append(*diags, fmt.Sprintf("operator %s on field %q requires numeric operands", c.Operator, c.Field))
			return false
		}
		switch c.Operator {
		case OpGt:
			return l > r
		case OpGte:
			return l >= r
		case OpLt:
			return l < r
		default:
			return l <= r
		}
	case OpContains:
		return evalContains(got, c.Value, c.Field, diags)
	case OpIn:
		list, ok := c.Value.([]any)
		if !ok {
			*diags = append(*diags, fmt.Sprintf("operator in on field %q requires a list value", c.Field))
			return false
		}
		for _, candidate := range list {
			if scalarEqual(got, candidate) {
				return true
			}
		}
		return false
	default:
		*diags = append(*diags, fmt.Sprintf("unknown operator %q", c.Operator))
		return false
	}
}

func evalContains(got, want any, field string, diags *[]string) bool {
	switch v := got.(type) {
	case string:
		sub, ok := want.(string)
		if !ok {
			*diags = append(*diags, fmt.Sprintf("contains on string field %q requires a string value", field))
			return false
		}
		return strings.Contains(v, sub)
	case []any:
		for _, elem := range v {
			if scalarEqual(elem, want) {
				return true
			}
		}
		return false
	default:
		*diags = append(*diags, fmt.Sprintf("contains on field %q requires a string or list", field))
		return false
	}
}

// lookupPath resolves a dotted path ("user.profile.age") through nested
// string-keyed maps. The resolved value must be usable by the caller; missing
// segments or non-map intermediates report not-found.
func lookupPath(payload map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	current := any(payload)
	for _, seg := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// scalarEqual is type-aware equality. Numbers compare numerically across Go
// numeric types (an int64 payload field equals a float64 value decoded from
// rule JSON), but numeric strings are never coerced: "5" does not equal 5.
func scalarEqual(a, b any) bool {
	if an, ok := asNumber(a); ok {
		bn, bok := asNumber(b)
		return bok && an == bn
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	default:
		return false
	}
}

func isScalar(v any) bool {
	if _, ok := asNumber(v); ok {
		return true
	}
	switch v.(type) {
	case string, bool:
		return true
	}
	return false
}

// asNumber widens any Go numeric type to float64. Strings are deliberately
// excluded; see scalarEqual.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
