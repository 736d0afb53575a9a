package backend

import (
	"fmt"
	"strconv"
	"strings"
)

// Format expands a printf-style template whose arguments are all strings.
// Directives may select an argument by position with either "%2$s" or
// "%[2]s"; unindexed directives consume arguments in order. Flags, width and
// precision are honored, %d/%i/%u format integer-valued arguments, and a
// directive without a matching argument expands to nothing.
func Format(tmpl string, args ...string) string {
	var b strings.Builder
	next := 0
	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		if i+1 < len(tmpl) && tmpl[i+1] == '%' {
			b.WriteByte('%')
			i++
			continue
		}
		d, end, ok := parseDirective(tmpl, i+1)
		if !ok {
			b.WriteByte(c)
			continue
		}
		i = end

		idx := d.index - 1
		if d.index == 0 {
			idx = next
			next++
		}
		if idx < 0 || idx >= len(args) {
			continue
		}
		b.WriteString(d.render(args[idx]))
	}
	return b.String()
}

type directive struct {
	index int // 1-based, 0 when sequential
	spec  string
	verb  byte
}

// parseDirective reads a directive starting right after '%'. It returns the
// position of the verb.
func parseDirective(s string, pos int) (directive, int, bool) {
	var d directive
	i := pos

	// %[N]
	if i < len(s) && s[i] == '[' {
		j := strings.IndexByte(s[i:], ']')
		if j < 0 {
			return d, 0, false
		}
		n, err := strconv.Atoi(s[i+1 : i+j])
		if err != nil || n < 1 {
			return d, 0, false
		}
		d.index = n
		i += j + 1
	} else {
		// %N$
		j := i
		for j < len(s) && s[j] >= '0' && s[j] <= '9' {
			j++
		}
		if j > i && j < len(s) && s[j] == '$' {
			n, _ := strconv.Atoi(s[i:j])
			if n < 1 {
				return d, 0, false
			}
			d.index = n
			i = j + 1
		}
	}

	start := i
	for i < len(s) && strings.IndexByte("-+ 0#.0123456789", s[i]) >= 0 {
		i++
	}
	if i >= len(s) {
		return d, 0, false
	}
	d.spec = s[start:i]
	switch s[i] {
	case 's', 'd', 'i', 'u':
		d.verb = s[i]
	default:
		return d, 0, false
	}
	return d, i, true
}

func (d directive) render(arg string) string {
	if d.verb == 'd' || d.verb == 'i' || d.verb == 'u' {
		if n, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64); err == nil {
			return fmt.Sprintf("%"+d.spec+"d", n)
		}
	}
	if d.spec == "" {
		return arg
	}
	return fmt.Sprintf("%"+d.spec+"s", arg)
}
