package recurrence

import (
	"fmt"
	"strings"
)

// contentLine is one unfolded RFC 5545 content line:
//
//	name *(";" param) ":" value
type contentLine struct {
	name   string
	params []param
	value  string
}

type param struct {
	key   string
	value string
}

func (c contentLine) param(key string) (string, bool) {
	for _, p := range c.params {
		if p.key == key {
			return p.value, true
		}
	}
	return "", false
}

// unfold joins the caller's lines, normalizes line endings and undoes
// RFC 5545 §3.1 folding (a line starting with a space or tab continues the
// previous one). Blank lines are dropped.
func unfold(lines []string) []string {
	joined := strings.Join(lines, "\n")
	joined = strings.ReplaceAll(joined, "\r\n", "\n")
	joined = strings.ReplaceAll(joined, "\r", "\n")

	out := make([]string, 0, len(lines))
	for _, raw := range strings.Split(joined, "\n") {
		if raw == "" {
			continue
		}
		if (raw[0] == ' ' || raw[0] == '\t') && len(out) > 0 {
			out[len(out)-1] += raw[1:]
			continue
		}
		if strings.TrimSpace(raw) == "" {
			continue
		}
		out = append(out, strings.TrimSpace(raw))
	}
	return out
}

// parseContentLine splits a line into name, parameters and value. Parameter
// values may be double-quoted; a colon inside quotes does not end the
// parameter section.
func parseContentLine(line string) (contentLine, error) {
	var c contentLine

	colon := -1
	inQuote := false
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '"':
			inQuote = !inQuote
		case ':':
			if !inQuote {
				colon = i
			}
		}
		if colon >= 0 {
			break
		}
	}
	if colon < 0 {
		return c, fmt.Errorf("%w: %q: missing ':' between property and value", ErrGrammar, line)
	}

	head := line[:colon]
	c.value = strings.TrimSpace(line[colon+1:])
	if c.value == "" {
		return c, fmt.Errorf("%w: %q: empty value", ErrGrammar, line)
	}

	parts := splitUnquoted(head, ';')
	c.name = strings.ToUpper(strings.TrimSpace(parts[0]))
	if c.name == "" {
		return c, fmt.Errorf("%w: %q: missing property name", ErrGrammar, line)
	}

	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 || strings.TrimSpace(kv[0]) == "" {
			return c, fmt.Errorf("%w: %q: malformed parameter %q", ErrGrammar, line, p)
		}
		key := strings.ToUpper(strings.TrimSpace(kv[0]))
		val := strings.Trim(strings.TrimSpace(kv[1]), `"`)
		if val == "" {
			return c, fmt.Errorf("%w: %q: parameter %s has no value", ErrGrammar, line, key)
		}
		c.params = append(c.params, param{key: key, value: val})
	}

	return c, nil
}

func splitUnquoted(s string, sep byte) []string {
	var (
		out     []string
		start   int
		inQuote bool
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inQuote = !inQuote
		case sep:
			if !inQuote {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	return append(out, s[start:])
}

func renderParams(params []param) string {
	var b strings.Builder
	for _, p := range params {
		b.WriteByte(';')
		b.WriteString(p.key)
		b.WriteByte('=')
		if strings.ContainsAny(p.value, ":;,") {
			b.WriteString(`"` + p.value + `"`)
		} else {
			b.WriteString(p.value)
		}
	}
	return b.String()
}
