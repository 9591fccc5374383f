package debugger

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// maxRenderDepth caps container recursion per spec.md §4.3 ("recursion is
// capped at ≈4 levels").
const maxRenderDepth = 4

// Handle is the opaque-handle case of what render understands: the debugger's [p]rint and
// [e]val commands hand it whatever the back-end's runtime exports (Go
// primitives, []interface{}, map[string]interface{}, or an opaque handle
// implementing fmt.Stringer under a "<kind>@<address>" convention).
type Handle struct {
	Kind    string
	Address string
}

func (h Handle) String() string { return fmt.Sprintf("<%s@%s>", h.Kind, h.Address) }

// Render formats v per spec.md §4.3's value-rendering rules.
func Render(v interface{}) string {
	return renderDepth(v, 0)
}

func renderDepth(v interface{}, depth int) string {
	if depth >= maxRenderDepth {
		return "..."
	}
	switch t := v.(type) {
	case nil:
		return "nil"
	case bool:
		if t {
			return "true"
		}
		return "false"
	case string:
		return quoteEscape(t)
	case Handle:
		return t.String()
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return shortestDecimal(t)
	case []interface{}:
		return renderSequence(t, depth)
	case map[string]interface{}:
		return renderAssoc(t, depth)
	case map[interface{}]interface{}:
		return renderGenericAssoc(t, depth)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func quoteEscape(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// shortestDecimal renders a float using Go's shortest round-trippable form,
// collapsing whole numbers to their integer text (e.g. 2 not 2.0).
func shortestDecimal(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func renderSequence(vals []interface{}, depth int) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = renderDepth(v, depth+1)
	}
	return "{" + strings.Join(parts, "; ") + "}"
}

// renderAssoc renders a map. If its keys form the consecutive run "1","2",…
// it is treated as array-like per spec.md §4.3; otherwise it prints as a
// key=value association.
func renderAssoc(m map[string]interface{}, depth int) string {
	if seq, ok := consecutiveSequence(m); ok {
		return renderSequence(seq, depth)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("[%s]=%s", k, renderDepth(m[k], depth+1)))
	}
	return "{" + strings.Join(parts, "; ") + "}"
}

func renderGenericAssoc(m map[interface{}]interface{}, depth int) string {
	conv := make(map[string]interface{}, len(m))
	for k, v := range m {
		conv[fmt.Sprintf("%v", k)] = v
	}
	return renderAssoc(conv, depth)
}

// consecutiveSequence reports whether m's keys are exactly "1".."N" for some
// N >= 1, and if so returns the values in that order.
func consecutiveSequence(m map[string]interface{}) ([]interface{}, bool) {
	if len(m) == 0 {
		return nil, false
	}
	out := make([]interface{}, len(m))
	for i := 1; i <= len(m); i++ {
		v, ok := m[strconv.Itoa(i)]
		if !ok {
			return nil, false
		}
		out[i-1] = v
	}
	return out, true
}
