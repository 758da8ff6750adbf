package rule

import (
	"fmt"
	"strconv"
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokPattern // $name, $name*, or $ alone
	tokCount   // #name
	tokString
	tokHex
	tokRegex
	tokNumber
	tokPunct
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of input"
	case tokIdent:
		return "identifier"
	case tokPattern:
		return "pattern identifier"
	case tokCount:
		return "pattern count"
	case tokString:
		return "string"
	case tokHex:
		return "hex string"
	case tokRegex:
		return "regular expression"
	case tokNumber:
		return "number"
	default:
		return "symbol"
	}
}

type token struct {
	kind  tokenKind
	text  string // identifier name, decoded string, hex digits, regex body, or symbol
	flags string // regex flags
	num   int64
	line  int
}

func (t token) describe() string {
	switch t.kind {
	case tokEOF:
		return "end of input"
	case tokString:
		return fmt.Sprintf("string %q", t.text)
	case tokRegex:
		return "/" + t.text + "/"
	default:
		return fmt.Sprintf("%q", t.text)
	}
}

// syntaxError is a lexing or parsing failure at a line.
type syntaxError struct {
	line int
	msg  string
}

func (e *syntaxError) Error() string {
	return fmt.Sprintf("line %d: %s", e.line, e.msg)
}

// lex tokenizes a rule source. It stops at the first lexical error.
func lex(src string) ([]token, error) {
	l := &lexer{src: src, line: 1}
	for {
		tok, err := l.next()
		if err != nil {
			return l.toks, err
		}
		l.toks = append(l.toks, tok)
		if tok.kind == tokEOF {
			return l.toks, nil
		}
	}
}

type lexer struct {
	src  string
	pos  int
	line int
	toks []token
}

func (l *lexer) errorf(format string, args ...any) error {
	return &syntaxError{line: l.line, msg: fmt.Sprintf(format, args...)}
}

func (l *lexer) peekByte(off int) byte {
	if l.pos+off < len(l.src) {
		return l.src[l.pos+off]
	}
	return 0
}

func (l *lexer) lastIs(text string) bool {
	n := len(l.toks)
	return n > 0 && l.toks[n-1].kind == tokPunct && l.toks[n-1].text == text
}

func (l *lexer) skipSpaceAndComments() error {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == '\n':
			l.line++
			l.pos++
		case c == ' ' || c == '\t' || c == '\r':
			l.pos++
		case c == '/' && l.peekByte(1) == '/':
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
		case c == '/' && l.peekByte(1) == '*':
			end := strings.Index(l.src[l.pos+2:], "*/")
			if end < 0 {
				return l.errorf("unterminated comment")
			}
			l.line += strings.Count(l.src[l.pos:l.pos+2+end], "\n")
			l.pos += end + 4
		default:
			return nil
		}
	}
	return nil
}

func (l *lexer) next() (token, error) {
	if err := l.skipSpaceAndComments(); err != nil {
		return token{}, err
	}
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, line: l.line}, nil
	}

	c := l.src[l.pos]
	switch {
	case isIdentStart(c):
		start := l.pos
		for l.pos < len(l.src) && isIdentChar(l.src[l.pos]) {
			l.pos++
		}
		return token{kind: tokIdent, text: l.src[start:l.pos], line: l.line}, nil

	case c == '$' || c == '#':
		kind := tokPattern
		if c == '#' {
			kind = tokCount
		}
		l.pos++
		start := l.pos
		for l.pos < len(l.src) && isIdentChar(l.src[l.pos]) {
			l.pos++
		}
		if kind == tokPattern && l.peekByte(0) == '*' {
			l.pos++
		}
		name := l.src[start:l.pos]
		if kind == tokCount && name == "" {
			return token{}, l.errorf("expected pattern name after '#'")
		}
		return token{kind: kind, text: name, line: l.line}, nil

	case isDigit(c):
		return l.number()

	case c == '"':
		return l.quoted()

	case c == '{' && l.lastIs("="):
		return l.hexString()

	case c == '/':
		return l.regex()
	}

	for _, op := range []string{"<=", ">=", "==", "!="} {
		if strings.HasPrefix(l.src[l.pos:], op) {
			l.pos += 2
			return token{kind: tokPunct, text: op, line: l.line}, nil
		}
	}
	if strings.ContainsRune("{}():,=%+<>-", rune(c)) {
		l.pos++
		return token{kind: tokPunct, text: string(c), line: l.line}, nil
	}
	return token{}, l.errorf("unexpected character %q", c)
}

func (l *lexer) number() (token, error) {
	start := l.pos
	base := 10
	if l.src[l.pos] == '0' && (l.peekByte(1) == 'x' || l.peekByte(1) == 'X') {
		base = 16
		l.pos += 2
	}
	for l.pos < len(l.src) && isHexDigit(l.src[l.pos]) && (base == 16 || isDigit(l.src[l.pos])) {
		l.pos++
	}
	text := l.src[start:l.pos]
	digits := text
	if base == 16 {
		digits = text[2:]
	}
	n, err := strconv.ParseInt(digits, base, 64)
	if err != nil {
		return token{}, l.errorf("invalid number %q", text)
	}
	switch {
	case strings.HasPrefix(l.src[l.pos:], "KB"):
		n *= 1024
		l.pos += 2
	case strings.HasPrefix(l.src[l.pos:], "MB"):
		n *= 1024 * 1024
		l.pos += 2
	}
	if l.pos < len(l.src) && isIdentChar(l.src[l.pos]) {
		return token{}, l.errorf("invalid number %q", l.src[start:l.pos+1])
	}
	return token{kind: tokNumber, text: l.src[start:l.pos], num: n, line: l.line}, nil
}

func (l *lexer) quoted() (token, error) {
	line := l.line
	l.pos++ // opening quote
	var b strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch c {
		case '"':
			l.pos++
			return token{kind: tokString, text: b.String(), line: line}, nil
		case '\n':
			return token{}, l.errorf("unterminated string")
		case '\\':
			l.pos++
			if l.pos >= len(l.src) {
				return token{}, l.errorf("unterminated string")
			}
			esc := l.src[l.pos]
			switch esc {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case '\\', '"':
				b.WriteByte(esc)
			case 'x':
				if l.pos+2 >= len(l.src) || !isHexDigit(l.src[l.pos+1]) || !isHexDigit(l.src[l.pos+2]) {
					return token{}, l.errorf("invalid \\x escape")
				}
				b.WriteByte(unhex(l.src[l.pos+1])<<4 | unhex(l.src[l.pos+2]))
				l.pos += 2
			default:
				return token{}, l.errorf("unknown escape \\%c", esc)
			}
			l.pos++
		default:
			b.WriteByte(c)
			l.pos++
		}
	}
	return token{}, l.errorf("unterminated string")
}

func (l *lexer) hexString() (token, error) {
	line := l.line
	end := strings.IndexByte(l.src[l.pos:], '}')
	if end < 0 {
		return token{}, l.errorf("unterminated hex string")
	}
	body := l.src[l.pos+1 : l.pos+end]
	l.line += strings.Count(body, "\n")
	l.pos += end + 1
	return token{kind: tokHex, text: body, line: line}, nil
}

func (l *lexer) regex() (token, error) {
	line := l.line
	l.pos++ // opening slash
	var b strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == '\n':
			return token{}, l.errorf("unterminated regular expression")
		case c == '\\' && l.peekByte(1) == '/':
			b.WriteByte('/')
			l.pos += 2
		case c == '\\' && l.pos+1 < len(l.src):
			b.WriteString(l.src[l.pos : l.pos+2])
			l.pos += 2
		case c == '/':
			l.pos++
			start := l.pos
			for l.pos < len(l.src) && strings.IndexByte("ism", l.src[l.pos]) >= 0 {
				l.pos++
			}
			return token{kind: tokRegex, text: b.String(), flags: l.src[start:l.pos], line: line}, nil
		default:
			b.WriteByte(c)
			l.pos++
		}
	}
	return token{}, l.errorf("unterminated regular expression")
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || isDigit(c) || c == '.'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isHexDigit(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case isDigit(c):
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
