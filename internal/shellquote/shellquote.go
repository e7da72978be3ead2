// Package shellquote converts between argument lists and POSIX shell text.
//
// Quote and QuoteArg produce literals that /bin/sh re-parses to the original bytes.
// Split tokenizes shell words with the quoting and escaping rules of the POSIX
// shell command language, but performs no globbing, parameter expansion, command
// substitution, or operator recognition: `|`, `;`, `$x` and friends are plain text.
package shellquote

import (
	"fmt"
	"strings"
)

// ParseError reports malformed shell text.
type ParseError struct {
	Input  string
	Offset int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s at offset %d", e.Reason, e.Offset)
}

// Quote wraps s in single quotes. Each embedded single quote becomes the
// sequence close quote, backslash-escaped quote, reopen quote.
func Quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('\'')
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			b.WriteString(`'\''`)
			continue
		}
		b.WriteByte(s[i])
	}
	b.WriteByte('\'')
	return b.String()
}

// QuoteArg returns s unchanged when every byte is shell-inert, otherwise Quote(s).
// The empty string becomes a pair of single quotes.
func QuoteArg(s string) string {
	if s == "" {
		return "''"
	}
	for i := 0; i < len(s); i++ {
		if !isSafe(s[i]) {
			return Quote(s)
		}
	}
	return s
}

// EscapeSingle escapes s for use between single quotes that are already open.
func EscapeSingle(s string) string {
	return strings.ReplaceAll(s, "'", `'\''`)
}

// EscapeDouble escapes s for use between double quotes that are already open.
// Only $, backquote, double quote and backslash are special there.
func EscapeDouble(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '$', '`', '"', '\\':
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// Join renders argv as a single shell command line.
func Join(argv []string) string {
	parts := make([]string, len(argv))
	for i, arg := range argv {
		parts[i] = QuoteArg(arg)
	}
	return strings.Join(parts, " ")
}

func isSafe(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	switch c {
	case '_', '-', '.', '/', ',', ':', '@', '%', '+', '=':
		return true
	}
	return false
}

func isBlank(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// Split breaks s into words. It fails on an unterminated quote or a trailing
// backslash instead of guessing.
func Split(s string) ([]string, error) {
	var (
		words  []string
		cur    strings.Builder
		inWord bool
		i      int
		n      = len(s)
	)

	flush := func() {
		if inWord {
			words = append(words, cur.String())
			cur.Reset()
			inWord = false
		}
	}

	for i < n {
		c := s[i]
		switch {
		case isBlank(c):
			flush()
			i++

		case c == '\\':
			if i+1 >= n {
				return nil, &ParseError{Input: s, Offset: i, Reason: "trailing backslash"}
			}
			if s[i+1] == '\n' {
				i += 2 // line continuation
				continue
			}
			cur.WriteByte(s[i+1])
			inWord = true
			i += 2

		case c == '\'':
			end := strings.IndexByte(s[i+1:], '\'')
			if end < 0 {
				return nil, &ParseError{Input: s, Offset: i, Reason: "unterminated single quote"}
			}
			cur.WriteString(s[i+1 : i+1+end])
			inWord = true
			i += end + 2

		case c == '"':
			start := i
			i++
			closed := false
			for i < n {
				d := s[i]
				if d == '"' {
					closed = true
					i++
					break
				}
				if d == '\\' && i+1 < n {
					switch s[i+1] {
					case '$', '`', '"', '\\':
						cur.WriteByte(s[i+1])
						i += 2
						continue
					case '\n':
						i += 2
						continue
					}
				}
				cur.WriteByte(d)
				i++
			}
			if !closed {
				return nil, &ParseError{Input: s, Offset: start, Reason: "unterminated double quote"}
			}
			inWord = true

		default:
			cur.WriteByte(c)
			inWord = true
			i++
		}
	}
	flush()

	if words == nil {
		words = []string{}
	}
	return words, nil
}
