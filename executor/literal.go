package executor

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Python and Ruby trampolines receive their event as a source literal baked
// into generated code, so no live host reference ever crosses the boundary.
// Only data shapes survive: nil, strings, numbers, booleans, string-keyed
// maps, and lists. Anything else degrades to its string form.

// PythonLiteral renders a host value as Python source.
func PythonLiteral(v any) string {
	var sb strings.Builder
	writeLiteral(&sb, v, pythonStyle)
	return sb.String()
}

// RubyLiteral renders a host value as Ruby source.
func RubyLiteral(v any) string {
	var sb strings.Builder
	writeLiteral(&sb, v, rubyStyle)
	return sb.String()
}

type literalStyle struct {
	null      string
	trueWord  string
	falseWord string
	pair      string // separator between hash key and value
}

var (
	pythonStyle = literalStyle{null: "None", trueWord: "True", falseWord: "False", pair: ": "}
	rubyStyle   = literalStyle{null: "nil", trueWord: "true", falseWord: "false", pair: " => "}
)

func writeLiteral(sb *strings.Builder, v any, style literalStyle) {
	switch val := v.(type) {
	case nil:
		sb.WriteString(style.null)
	case string:
		writeQuoted(sb, val)
	case bool:
		if val {
			sb.WriteString(style.trueWord)
		} else {
			sb.WriteString(style.falseWord)
		}
	case int:
		sb.WriteString(strconv.Itoa(val))
	case int32:
		sb.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		sb.WriteString(strconv.FormatInt(val, 10))
	case float32:
		writeFloat(sb, float64(val))
	case float64:
		writeFloat(sb, val)
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeQuoted(sb, k)
			sb.WriteString(style.pair)
			writeLiteral(sb, val[k], style)
		}
		sb.WriteByte('}')
	case []any:
		sb.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeLiteral(sb, item, style)
		}
		sb.WriteByte(']')
	default:
		writeQuoted(sb, fmt.Sprint(val))
	}
}

func writeFloat(sb *strings.Builder, f float64) {
	if f == float64(int64(f)) {
		sb.WriteString(strconv.FormatInt(int64(f), 10))
		return
	}
	sb.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
}

func writeQuoted(sb *strings.Builder, s string) {
	sb.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\\':
			sb.WriteString(`\\`)
		case '\'':
			sb.WriteString(`\'`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('\'')
}
