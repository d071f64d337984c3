package mapping

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/expr-lang/expr"
)

// functions returns the helpers available to mapping expressions.
// All of them accept nil so optional form fields need no guards.
func functions() []expr.Option {
	return []expr.Option{
		expr.Function("first_name", func(params ...any) (any, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("first_name requires 1 argument")
			}
			first, _ := splitName(toString(params[0]))
			return first, nil
		}),
		expr.Function("last_name", func(params ...any) (any, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("last_name requires 1 argument")
			}
			_, last := splitName(toString(params[0]))
			return last, nil
		}),
		expr.Function("default", func(params ...any) (any, error) {
			if len(params) != 2 {
				return nil, fmt.Errorf("default requires 2 arguments (value, fallback)")
			}
			if isEmpty(params[0]) {
				return params[1], nil
			}
			return params[0], nil
		}),
		expr.Function("truncate", func(params ...any) (any, error) {
			if len(params) != 2 {
				return nil, fmt.Errorf("truncate requires 2 arguments (text, length)")
			}
			n, ok := toInt(params[1])
			if !ok || n < 0 {
				return nil, fmt.Errorf("truncate length must be a non-negative integer")
			}
			if params[0] == nil {
				return nil, nil
			}
			return truncate(toString(params[0]), n), nil
		}),
		expr.Function("join_nonempty", func(params ...any) (any, error) {
			if len(params) != 2 {
				return nil, fmt.Errorf("join_nonempty requires 2 arguments (list, separator)")
			}
			sep, ok := params[1].(string)
			if !ok {
				return nil, fmt.Errorf("join_nonempty separator must be string")
			}
			var parts []string
			switch list := params[0].(type) {
			case nil:
			case []any:
				for _, item := range list {
					if !isEmpty(item) {
						parts = append(parts, toString(item))
					}
				}
			case []string:
				for _, item := range list {
					if !isEmpty(item) {
						parts = append(parts, item)
					}
				}
			default:
				return nil, fmt.Errorf("join_nonempty argument must be a list")
			}
			return strings.Join(parts, sep), nil
		}),
	}
}

// splitName treats the last word as the family name. A single word is
// returned as the last name because CRMs require one.
func splitName(full string) (first, last string) {
	words := strings.Fields(full)
	switch len(words) {
	case 0:
		return "", ""
	case 1:
		return "", words[0]
	}
	return strings.Join(words[:len(words)-1], " "), words[len(words)-1]
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

func toString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, toString(item))
		}
		return strings.Join(parts, ", ")
	}
	return fmt.Sprint(v)
}

func toInt(v any) (int, bool) {
	switch val := v.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	case float64:
		return int(val), true
	}
	return 0, false
}
