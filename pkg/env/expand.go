package env

import (
	"sort"
	"strings"
)

// ExpandDollar replaces $NAME references with values from m. Longer names
// are substituted first so $USER_ID is not eaten by $USER, and a reference
// followed by an identifier character is left alone.
func ExpandDollar(text string, m *Mapping) string {
	if m == nil || !strings.Contains(text, "$") {
		return text
	}
	names := m.Keys()
	sort.SliceStable(names, func(i, j int) bool {
		return len(names[i]) > len(names[j])
	})
	for _, name := range names {
		value, _ := m.Get(name)
		text = expandDollarVar(text, name, value)
	}
	return text
}

func expandDollarVar(text, name, value string) string {
	pattern := "$" + name
	idx := 0
	for {
		pos := strings.Index(text[idx:], pattern)
		if pos == -1 {
			return text
		}
		pos += idx

		end := pos + len(pattern)
		if end < len(text) && isIdentChar(text[end]) {
			idx = end
			continue
		}
		text = text[:pos] + value + text[end:]
		idx = pos + len(value)
	}
}

func isIdentChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') || c == '_'
}
