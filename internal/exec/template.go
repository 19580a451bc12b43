package exec

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/clinicflow/workflow-engine/internal/toolerrors"
)

// forbiddenTokens mirrors spec §7's fixed rejection list. Checked against the
// raw expression text before any parsing happens, so a malicious token never
// reaches the evaluator even if it would otherwise fail to parse.
var forbiddenTokens = []string{
	"import", "eval", "exec", "open", "subprocess", "rm", "drop", "pop", "inplace",
}

var dunderPattern = regexp.MustCompile(`__[A-Za-z0-9_]*__`)

func containsForbiddenToken(expr string) string {
	if dunderPattern.MatchString(expr) {
		return "__*__"
	}
	lower := strings.ToLower(expr)
	for _, tok := range forbiddenTokens {
		if matchWord(lower, tok) {
			return tok
		}
	}
	return ""
}

func matchWord(haystack, word string) bool {
	idx := 0
	for {
		pos := strings.Index(haystack[idx:], word)
		if pos < 0 {
			return false
		}
		start := idx + pos
		end := start + len(word)
		before := byte(0)
		if start > 0 {
			before = haystack[start-1]
		}
		after := byte(0)
		if end < len(haystack) {
			after = haystack[end]
		}
		if !isIdentByte(before) && !isIdentByte(after) {
			return true
		}
		idx = start + 1
	}
}

func isIdentByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

var templateExprPattern = regexp.MustCompile(`\{\{(.*?)\}\}`)

// bareSlicePattern and safeBuiltinNames are the compatibility triggers
// isBareTemplate checks: a bare string with no {{ }} is still treated as a
// template if it contains a call to a safe builtin or a slice expression.
var bareSlicePattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_.]*\[[^\]]*:[^\]]*\]`)

func isBareTemplate(raw string) bool {
	for _, fn := range safeBuiltinNames {
		if regexp.MustCompile(`\b` + fn + `\s*\(`).MatchString(raw) {
			return true
		}
	}
	return bareSlicePattern.MatchString(raw)
}

var safeBuiltinNames = []string{"len", "min", "max", "sum", "abs", "round", "str", "int", "float", "bool"}

// Render renders a single step-input value against scope (spec §4.2.1). Only
// strings are templated; any other JSON value passes through unchanged.
// stepID tags any TemplateError produced.
func Render(stepID string, value any, scope *Scope) (any, error) {
	raw, ok := value.(string)
	if !ok {
		return value, nil
	}
	matches := templateExprPattern.FindAllStringSubmatchIndex(raw, -1)
	bare := len(matches) == 0 && isBareTemplate(raw)
	if len(matches) == 0 && !bare {
		return raw, nil
	}

	// Whole-string single expression: return the expression's native type.
	if bare {
		if tok := containsForbiddenToken(raw); tok != "" {
			return nil, &toolerrors.TemplateError{StepID: stepID, Expr: raw, Reason: "forbidden token: " + tok}
		}
		return evalExpr(stepID, raw, scope)
	}
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(raw) {
		expr := raw[matches[0][2]:matches[0][3]]
		if tok := containsForbiddenToken(expr); tok != "" {
			return nil, &toolerrors.TemplateError{StepID: stepID, Expr: expr, Reason: "forbidden token: " + tok}
		}
		return evalExpr(stepID, strings.TrimSpace(expr), scope)
	}

	// Mixed literal text and interpolations: render to a string.
	var sb strings.Builder
	last := 0
	for _, m := range matches {
		sb.WriteString(raw[last:m[0]])
		expr := raw[m[2]:m[3]]
		if tok := containsForbiddenToken(expr); tok != "" {
			return nil, &toolerrors.TemplateError{StepID: stepID, Expr: expr, Reason: "forbidden token: " + tok}
		}
		v, err := evalExpr(stepID, strings.TrimSpace(expr), scope)
		if err != nil {
			return nil, err
		}
		sb.WriteString(stringify(v))
		last = m[1]
	}
	sb.WriteString(raw[last:])
	rendered := sb.String()
	if looksLikeListLiteral(rendered) {
		if list, ok := parseListLiteral(rendered); ok {
			return list, nil
		}
	}
	return rendered, nil
}

func looksLikeListLiteral(s string) bool {
	t := strings.TrimSpace(s)
	return strings.HasPrefix(t, "[") && strings.HasSuffix(t, "]")
}

// parseListLiteral is the "safe literal evaluator" for rendered strings that
// look like a list: a restricted, comma-separated run of quoted strings,
// numbers, or bare words, never arbitrary code.
func parseListLiteral(s string) ([]any, bool) {
	t := strings.TrimSpace(s)
	inner := strings.TrimSuffix(strings.TrimPrefix(t, "["), "]")
	inner = strings.TrimSpace(inner)
	if inner == "" {
		return []any{}, true
	}
	parts := splitTopLevel(inner, ',')
	out := make([]any, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		out = append(out, parseLiteralScalar(p))
	}
	return out, true
}

func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth := 0
	start := 0
	inQuote := byte(0)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inQuote != 0:
			if c == inQuote {
				inQuote = 0
			}
		case c == '\'' || c == '"':
			inQuote = c
		case c == '[' || c == '(':
			depth++
		case c == ']' || c == ')':
			depth--
		case c == sep && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	return parts
}

func parseLiteralScalar(s string) any {
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	if s == "true" {
		return true
	}
	if s == "false" {
		return false
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	return s
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == math.Trunc(t) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		if t {
			return "True"
		}
		return "False"
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}
