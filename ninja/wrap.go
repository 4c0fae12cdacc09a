package ninja

import "strings"

const indentWidth = 2

// indentPrefix returns the leading whitespace for an indent level.
func indentPrefix(level int) string {
	if level <= 0 {
		return ""
	}
	return strings.Repeat(" ", level*indentWidth)
}

// wrapLine breaks text (already prefixed with its level-indent) into one
// or more physical lines no wider than width, the way the spec's single
// word-wrap routine does: continuation lines are indented two levels
// deeper than the original and every non-final line ends in " $". A break
// may only land on an "eligible" space in the text (never in the indent
// prefix) — one preceded by an even number of '$' characters, i.e. not
// itself escaped by a trailing "$ ". The routine first looks for the
// rightmost eligible space that leaves room for the trailing " $" within
// width; failing that, it looks for the first eligible space past that
// limit; failing that, the line is emitted unwrapped.
func wrapLine(level int, text string, width int) []string {
	cont := indentPrefix(level + 2)
	cur := indentPrefix(level) + text
	prefixLen := len(indentPrefix(level))
	var lines []string
	for {
		if len(cur) <= width {
			lines = append(lines, cur)
			return lines
		}
		breakAt := -1
		limit := width - len(" $")
		if limit > len(cur) {
			limit = len(cur)
		}
		for i := limit; i > prefixLen; i-- {
			if i < len(cur) && cur[i] == ' ' && evenDollarsBefore(cur, i) {
				breakAt = i
				break
			}
		}
		if breakAt == -1 {
			start := limit + 1
			if start <= prefixLen {
				start = prefixLen + 1
			}
			for i := start; i < len(cur); i++ {
				if cur[i] == ' ' && evenDollarsBefore(cur, i) {
					breakAt = i
					break
				}
			}
		}
		if breakAt == -1 {
			lines = append(lines, cur)
			return lines
		}
		lines = append(lines, cur[:breakAt]+" $")
		rest := strings.TrimLeft(cur[breakAt+1:], " ")
		if rest == "" {
			return lines
		}
		cur = cont + rest
		prefixLen = len(cont)
	}
}

// evenDollarsBefore reports whether the run of '$' characters immediately
// preceding index i has even length (zero counts as even), which means
// the character at i is not escaped by a preceding "$".
func evenDollarsBefore(s string, i int) bool {
	n := 0
	for j := i - 1; j >= 0 && s[j] == '$'; j-- {
		n++
	}
	return n%2 == 0
}
