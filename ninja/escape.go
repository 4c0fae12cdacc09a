package ninja

import "strings"

// escapePath normalizes a path per the Ninja escaping rules. Every '$'
// already present in the path is doubled first (so it survives as a
// literal dollar rather than being mistaken for the start of an escape
// sequence once spaces and colons are escaped next); a bare space then
// becomes "$ " and a colon becomes "$:". A pre-existing "$ " sequence
// therefore comes out as "$$$ ": the embedded '$' doubles to "$$" and
// the space that follows is then independently escaped to "$ ".
func escapePath(s string) string {
	if !strings.ContainsAny(s, "$ :") {
		return s
	}
	s = strings.ReplaceAll(s, "$", "$$")
	s = strings.ReplaceAll(s, " ", "$ ")
	s = strings.ReplaceAll(s, ":", "$:")
	return s
}

// escapeString normalizes a non-path value: only '$' needs doubling.
// Newlines are a programming error, not something to escape away.
func escapeString(s string) string {
	return strings.ReplaceAll(s, "$", "$$")
}

func escapePaths(paths []string) []string {
	if len(paths) == 0 {
		return nil
	}
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = escapePath(p)
	}
	return out
}
