package rules

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Render substitutes every {name} placeholder in tmpl with the binding's value.
// Doubled braces produce a literal brace. A placeholder whose name is not in the
// binding yields ErrMissingVariable.
func Render(tmpl string, b Binding) (string, error) {
	if !strings.ContainsAny(tmpl, "{}") {
		return tmpl, nil
	}

	var sb strings.Builder
	sb.Grow(len(tmpl))

	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		switch c {
		case '{':
			if i+1 < len(tmpl) && tmpl[i+1] == '{' {
				sb.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(tmpl[i+1:], '}')
			if end < 0 {
				return "", fmt.Errorf("unclosed placeholder at offset %d in %q", i, tmpl)
			}
			name := tmpl[i+1 : i+1+end]
			value, ok := b[name]
			if !ok {
				return "", fmt.Errorf("%w: %s", ErrMissingVariable, name)
			}
			sb.WriteString(FormatValue(value))
			i += end + 1
		case '}':
			if i+1 < len(tmpl) && tmpl[i+1] == '}' {
				i++
			}
			sb.WriteByte('}')
		default:
			sb.WriteByte(c)
		}
	}

	return sb.String(), nil
}

// FormatValue renders a binding value the way it appears inside a template.
// Whole floats (as produced by JSON decoding) render without a fraction.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1e15 {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}

func isEmpty(v any) bool {
	return FormatValue(v) == ""
}
