package scenario

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Op is the operator of a parsed condition.
type Op int

const (
	OpInvalid Op = iota
	OpEq
	OpNe
	OpGt
	OpLt
	OpContains
	OpExists
)

func (o Op) String() string {
	switch o {
	case OpEq:
		return "=="
	case OpNe:
		return "!="
	case OpGt:
		return ">"
	case OpLt:
		return "<"
	case OpContains:
		return "contains"
	case OpExists:
		return "exists"
	default:
		return "invalid"
	}
}

// Condition is a single guard over collected data: `<var> <op> <value>`
// or `<var> exists`. Raw keeps the source text for round-tripping.
type Condition struct {
	Op    Op
	Var   string
	Value string
	Raw   string
}

// ErrBadCondition reports an expression the grammar cannot parse.
var ErrBadCondition = errors.New("scenario: unparsable condition")

const containsKeyword = "contains"

// ParseCondition parses a guard expression. The operator is the first one
// found scanning left to right, so `a == b == c` compares a with "b == c".
func ParseCondition(expr string) (Condition, error) {
	raw := expr
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Condition{Raw: raw}, fmt.Errorf("%w: empty expression", ErrBadCondition)
	}

	fields := strings.Fields(expr)
	if len(fields) == 2 {
		switch {
		case fields[1] == "exists":
			return Condition{Op: OpExists, Var: fields[0], Raw: raw}, nil
		case fields[0] == "exists":
			return Condition{Op: OpExists, Var: fields[1], Raw: raw}, nil
		}
	}

	for i := 0; i < len(expr); i++ {
		rest := expr[i:]
		switch {
		case strings.HasPrefix(rest, "=="):
			return binary(OpEq, expr[:i], rest[2:], raw)
		case strings.HasPrefix(rest, "!="):
			return binary(OpNe, expr[:i], rest[2:], raw)
		case strings.HasPrefix(rest, ">=") || strings.HasPrefix(rest, "<="):
			return Condition{Raw: raw}, fmt.Errorf("%w: operator %q is not supported in %q", ErrBadCondition, rest[:2], expr)
		case rest[0] == '>':
			return binary(OpGt, expr[:i], rest[1:], raw)
		case rest[0] == '<':
			return binary(OpLt, expr[:i], rest[1:], raw)
		case i > 0 && isSpace(expr[i-1]) && strings.HasPrefix(rest, containsKeyword) &&
			len(rest) > len(containsKeyword) && isSpace(rest[len(containsKeyword)]):
			return binary(OpContains, expr[:i], rest[len(containsKeyword):], raw)
		}
	}
	return Condition{Raw: raw}, fmt.Errorf("%w: no operator in %q", ErrBadCondition, expr)
}

func binary(op Op, left, right, raw string) (Condition, error) {
	name := strings.TrimSpace(left)
	if name == "" {
		return Condition{Raw: raw}, fmt.Errorf("%w: missing variable before %s", ErrBadCondition, op)
	}
	return Condition{Op: op, Var: name, Value: unquote(strings.TrimSpace(right)), Raw: raw}, nil
}

func unquote(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' || first == '\'') && first == last {
			return s[1 : len(s)-1]
		}
	}
	return s
}

func isSpace(b byte) bool { return b == ' ' || b == '\t' }

// Eval evaluates the guard against collected data. Invalid conditions and
// numeric comparisons on non-numeric operands yield false.
func (c Condition) Eval(data map[string]any) bool {
	v, present := data[c.Var]
	if present && v == nil {
		present = false
	}
	switch c.Op {
	case OpExists:
		return present
	case OpEq:
		return present && Stringify(v) == c.Value
	case OpNe:
		return !present || Stringify(v) != c.Value
	case OpGt, OpLt:
		if !present {
			return false
		}
		left, err := strconv.ParseFloat(strings.TrimSpace(Stringify(v)), 64)
		if err != nil {
			return false
		}
		right, err := strconv.ParseFloat(c.Value, 64)
		if err != nil {
			return false
		}
		if c.Op == OpGt {
			return left > right
		}
		return left < right
	case OpContains:
		if !present {
			return false
		}
		if list, ok := v.([]any); ok {
			for _, item := range list {
				if Stringify(item) == c.Value {
					return true
				}
			}
			return false
		}
		return strings.Contains(Stringify(v), c.Value)
	default:
		return false
	}
}

// Stringify renders a collected value the way it appears in text and comparisons.
// Whole floats print without a fraction so JSON numbers compare naturally.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
