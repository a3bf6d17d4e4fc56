// Package jsscan cuts balanced JavaScript expressions out of larger sources
// without executing or fully parsing them.
package jsscan

import "strings"

// CutAfter returns the prefix of s holding the balanced {...}, [...] or
// (...) group that starts at s[0]. Strings, template literals, comments and
// regexp literals are skipped while counting. ok is false when s does not
// start with an opener or the group never closes.
func CutAfter(s string) (string, bool) {
	if s == "" || !isOpen(s[0]) {
		return "", false
	}
	end, ok := scan(s, func(c byte, depth int) bool {
		return depth == 0 && isClose(c)
	})
	if !ok {
		return "", false
	}
	return s[:end+1], true
}

// CutExpression returns the prefix of s up to the first ';' or ',' outside
// any group, or up to a closer that ends the enclosing group. The whole of s
// is returned when neither occurs.
func CutExpression(s string) string {
	end, ok := scan(s, func(c byte, depth int) bool {
		return depth == 0 && (c == ';' || c == ',') || depth < 0
	})
	if !ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(s[:end])
}

// scan walks s tracking group depth and calls stop after every significant
// byte; it returns the index where stop first reported true.
func scan(s string, stop func(c byte, depth int) bool) (int, bool) {
	depth := 0
	var last byte // last significant byte, for regexp detection
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case isOpen(c):
			depth++
		case isClose(c):
			depth--
		case c == '"' || c == '\'' || c == '`':
			end, ok := skipQuoted(s, i, c)
			if !ok {
				return 0, false
			}
			i = end
		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			end := strings.Index(s[i+2:], "*/")
			if end < 0 {
				return 0, false
			}
			i += end + 3
			continue
		case c == '/' && i+1 < len(s) && s[i+1] == '/':
			end := strings.IndexByte(s[i+2:], '\n')
			if end < 0 {
				return 0, false
			}
			i += end + 2
			continue
		case c == '/' && startsRegexp(last):
			end, ok := skipRegexp(s, i)
			if !ok {
				return 0, false
			}
			i = end
		}
		if stop(c, depth) {
			return i, true
		}
		if !isSpace(c) {
			last = c
		}
	}
	return 0, false
}

func isOpen(c byte) bool  { return c == '{' || c == '[' || c == '(' }
func isClose(c byte) bool { return c == '}' || c == ']' || c == ')' }

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\r' }

func isIdent(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '$'
}

// startsRegexp reports whether a '/' following last opens a regexp literal
// rather than a division.
func startsRegexp(last byte) bool {
	return last != 0 && !isIdent(last) && last != ')' && last != ']'
}

func skipQuoted(s string, start int, quote byte) (int, bool) {
	for i := start + 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case quote:
			return i, true
		}
	}
	return 0, false
}

func skipRegexp(s string, start int) (int, bool) {
	inClass := false
	for i := start + 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '[':
			inClass = true
		case ']':
			inClass = false
		case '/':
			if !inClass {
				return i, true
			}
		case '\n':
			return 0, false
		}
	}
	return 0, false
}
