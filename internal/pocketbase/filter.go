package pocketbase

import (
	"strings"
	"time"
)

// Quote renders a filter string literal.
func Quote(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return `"` + v + `"`
}

func Eq(field, value string) string {
	return field + " = " + Quote(value)
}

// Like is the PocketBase "contains" operator.
func Like(field, value string) string {
	return field + " ~ " + Quote(value)
}

func Gte(field string, t time.Time) string {
	return field + " >= " + Quote(FormatTime(t))
}

func Lte(field string, t time.Time) string {
	return field + " <= " + Quote(FormatTime(t))
}

func Lt(field string, t time.Time) string {
	return field + " < " + Quote(FormatTime(t))
}

// And joins non-empty expressions with &&.
func And(exprs ...string) string {
	return join(" && ", exprs)
}

// Or joins non-empty expressions with || inside parentheses.
func Or(exprs ...string) string {
	joined := join(" || ", exprs)
	if joined == "" {
		return ""
	}
	return "(" + joined + ")"
}

func join(sep string, exprs []string) string {
	parts := make([]string, 0, len(exprs))
	for _, e := range exprs {
		if e != "" {
			parts = append(parts, e)
		}
	}
	return strings.Join(parts, sep)
}
