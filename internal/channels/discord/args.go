package discord

import (
	"fmt"
	"strings"
	"unicode"
)

// parseError is a quoting error found while reading arguments.
type parseError struct {
	kind ErrorKind
	pos  int
}

func (e *parseError) Error() string {
	return fmt.Sprintf("%s at position %d", e.kind, e.pos)
}

// argReader reads whitespace-separated arguments. Double quotes group words;
// a backslash escapes a quote inside a quoted argument.
type argReader struct {
	buf []rune
	pos int
}

func newArgReader(s string) *argReader {
	return &argReader{buf: []rune(s)}
}

func (r *argReader) skipSpace() {
	for r.pos < len(r.buf) && unicode.IsSpace(r.buf[r.pos]) {
		r.pos++
	}
}

func (r *argReader) eof() bool {
	r.skipSpace()
	return r.pos >= len(r.buf)
}

// word reads one bare word without quote handling. Used for the command name.
func (r *argReader) word() string {
	r.skipSpace()
	start := r.pos
	for r.pos < len(r.buf) && !unicode.IsSpace(r.buf[r.pos]) {
		r.pos++
	}
	return string(r.buf[start:r.pos])
}

// next reads one argument. ok is false when the input is exhausted.
func (r *argReader) next() (string, bool, error) {
	if r.eof() {
		return "", false, nil
	}

	if r.buf[r.pos] != '"' {
		start := r.pos
		for r.pos < len(r.buf) && !unicode.IsSpace(r.buf[r.pos]) {
			if r.buf[r.pos] == '"' {
				return "", false, &parseError{kind: ErrUnexpectedQuote, pos: r.pos}
			}
			r.pos++
		}
		return string(r.buf[start:r.pos]), true, nil
	}

	open := r.pos
	r.pos++
	var b strings.Builder
	for {
		if r.pos >= len(r.buf) {
			return "", false, &parseError{kind: ErrExpectedClosingQuote, pos: open}
		}
		c := r.buf[r.pos]
		switch {
		case c == '\\' && r.pos+1 < len(r.buf) && r.buf[r.pos+1] == '"':
			b.WriteRune('"')
			r.pos += 2
		case c == '"':
			r.pos++
			if r.pos < len(r.buf) && !unicode.IsSpace(r.buf[r.pos]) {
				return "", false, &parseError{kind: ErrInvalidEndOfQuotedString, pos: r.pos}
			}
			return b.String(), true, nil
		default:
			b.WriteRune(c)
			r.pos++
		}
	}
}

// rest returns the remaining raw input with surrounding whitespace removed.
func (r *argReader) rest() string {
	r.skipSpace()
	s := strings.TrimSpace(string(r.buf[r.pos:]))
	r.pos = len(r.buf)
	return s
}

// tokenize splits s into arguments.
func tokenize(s string) ([]string, error) {
	r := newArgReader(s)
	var out []string
	for {
		arg, ok, err := r.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, arg)
	}
}
