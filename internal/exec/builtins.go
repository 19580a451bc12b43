package exec

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
)

// callBuiltin dispatches one of the named safe builtins (spec §4 "Variable
// store": len, min, max, sum, abs, round, str, int, float, bool). Any other
// name is rejected: function definitions and arbitrary calls are never
// permitted by the sandbox.
func callBuiltin(p *exprParser, name string, args []any) (any, error) {
	switch name {
	case "len":
		if len(args) != 1 {
			return nil, p.errf("len() takes exactly one argument")
		}
		return float64(length(args[0])), nil
	case "min":
		return reduceNumeric(p, args, func(a, b float64) float64 { return math.Min(a, b) })
	case "max":
		return reduceNumeric(p, args, func(a, b float64) float64 { return math.Max(a, b) })
	case "sum":
		vals, err := numericArgs(p, args)
		if err != nil {
			return nil, err
		}
		var total float64
		for _, v := range vals {
			total += v
		}
		return total, nil
	case "abs":
		if len(args) != 1 {
			return nil, p.errf("abs() takes exactly one argument")
		}
		n, err := toFloat(args[0])
		if err != nil {
			return nil, p.errf("abs() requires a number")
		}
		return math.Abs(n), nil
	case "round":
		if len(args) < 1 || len(args) > 2 {
			return nil, p.errf("round() takes one or two arguments")
		}
		n, err := toFloat(args[0])
		if err != nil {
			return nil, p.errf("round() requires a number")
		}
		digits := 0
		if len(args) == 2 {
			d, err := toInt(args[1])
			if err != nil {
				return nil, p.errf("round() digits must be an integer")
			}
			digits = d
		}
		mult := math.Pow(10, float64(digits))
		return math.Round(n*mult) / mult, nil
	case "str":
		if len(args) != 1 {
			return nil, p.errf("str() takes exactly one argument")
		}
		return stringify(args[0]), nil
	case "int":
		if len(args) != 1 {
			return nil, p.errf("int() takes exactly one argument")
		}
		n, err := toFloat(args[0])
		if err != nil {
			return nil, p.errf("int() requires a number-like value")
		}
		return float64(int64(n)), nil
	case "float":
		if len(args) != 1 {
			return nil, p.errf("float() takes exactly one argument")
		}
		n, err := toFloat(args[0])
		if err != nil {
			return nil, p.errf("float() requires a number-like value")
		}
		return n, nil
	case "bool":
		if len(args) != 1 {
			return nil, p.errf("bool() takes exactly one argument")
		}
		return Truthy(args[0]), nil
	default:
		return nil, p.errf(fmt.Sprintf("unknown function %q", name))
	}
}

func length(v any) int {
	switch t := v.(type) {
	case string:
		return len(t)
	case []any:
		return len(t)
	case map[string]any:
		return len(t)
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
			return rv.Len()
		}
		return 0
	}
}

func numericArgs(p *exprParser, args []any) ([]float64, error) {
	var items []any
	if len(args) == 1 {
		if list, ok := args[0].([]any); ok {
			items = list
		} else {
			items = args
		}
	} else {
		items = args
	}
	out := make([]float64, 0, len(items))
	for _, a := range items {
		n, err := toFloat(a)
		if err != nil {
			return nil, p.errf("expected numeric values")
		}
		out = append(out, n)
	}
	return out, nil
}

func reduceNumeric(p *exprParser, args []any, pick func(a, b float64) float64) (any, error) {
	vals, err := numericArgs(p, args)
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, p.errf("expected at least one value")
	}
	out := vals[0]
	for _, v := range vals[1:] {
		out = pick(out, v)
	}
	return out, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(n, 64)
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("not a number")
	}
}

// Truthy implements the sandbox's truthiness rule, used both by "bool()" and
// by IfStep's Truthy condition variant.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
			return rv.Len() > 0
		}
		return true
	}
}
