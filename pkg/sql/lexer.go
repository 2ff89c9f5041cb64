// Package sql provides lexical SQL analysis used to gate generated queries:
// statement parsing, classification, limit rewriting and injection heuristics.
package sql

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnterminatedString     = errors.New("unterminated string literal")
	ErrUnterminatedComment    = errors.New("unterminated block comment")
	ErrUnterminatedIdentifier = errors.New("unterminated quoted identifier")
	ErrUnbalancedParens       = errors.New("unbalanced parentheses")
)

// TokenKind classifies a lexical token.
type TokenKind int

const (
	TokenWord         TokenKind = iota // keyword or bare identifier
	TokenQuotedIdent                   // "x", `x`, [x]
	TokenString                        // 'x', N'x', E'x', $$x$$
	TokenNumber                        // 42, 3.14, 1e9
	TokenParam                         // $1, ?, :name, @name
	TokenLineComment                   // -- ...
	TokenBlockComment                  // /* ... */
	TokenPunct                         // ( ) , ; .
	TokenOperator                      // = <> + - ...
)

// Token is a lexical unit with byte offsets into the source text.
type Token struct {
	Kind  TokenKind
	Text  string
	Start int
	End   int
	// Depth is the parenthesis nesting level the token sits at. An opening
	// parenthesis carries the depth outside it.
	Depth int
}

// IsKeyword reports whether the token is the given bare word, case-insensitively.
func (t Token) IsKeyword(kw string) bool {
	return t.Kind == TokenWord && strings.EqualFold(t.Text, kw)
}

// IsComment reports whether the token is a comment.
func (t Token) IsComment() bool {
	return t.Kind == TokenLineComment || t.Kind == TokenBlockComment
}

// IsPunct reports whether the token is the given punctuation.
func (t Token) IsPunct(p string) bool {
	return t.Kind == TokenPunct && t.Text == p
}

// Upper returns the token text in upper case.
func (t Token) Upper() string {
	return strings.ToUpper(t.Text)
}

// Value returns the unquoted content of string literals and quoted
// identifiers. Doubled quote characters collapse to one.
func (t Token) Value() string {
	switch t.Kind {
	case TokenString:
		s := t.Text
		if strings.HasPrefix(s, "$") {
			tagEnd := strings.Index(s[1:], "$") + 2
			return s[tagEnd : len(s)-tagEnd]
		}
		if i := strings.IndexByte(s, '\''); i > 0 {
			s = s[i:]
		}
		return strings.ReplaceAll(s[1:len(s)-1], "''", "'")
	case TokenQuotedIdent:
		s := t.Text
		inner := s[1 : len(s)-1]
		switch s[0] {
		case '"':
			return strings.ReplaceAll(inner, `""`, `"`)
		case '`':
			return strings.ReplaceAll(inner, "``", "`")
		case '[':
			return strings.ReplaceAll(inner, "]]", "]")
		}
		return inner
	default:
		return t.Text
	}
}

// LexError reports where tokenizing failed.
type LexError struct {
	Pos int
	Err error
}

func (e *LexError) Error() string {
	return fmt.Sprintf("%s at offset %d", e.Err, e.Pos)
}

func (e *LexError) Unwrap() error {
	return e.Err
}

// Tokenize splits SQL text into tokens. It understands the quoting rules of
// the dialects we execute against (PostgreSQL, DuckDB, SQL Server) well
// enough to never mistake literal or comment content for code.
func Tokenize(text string) ([]Token, error) {
	l := &lexer{src: text}
	for {
		tok, ok, err := l.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		l.tokens = append(l.tokens, tok)
	}
	if l.depth != 0 {
		return nil, &LexError{Pos: len(text), Err: ErrUnbalancedParens}
	}
	return l.tokens, nil
}

type lexer struct {
	src    string
	pos    int
	depth  int
	tokens []Token
}

func (l *lexer) peek(offset int) byte {
	if l.pos+offset < len(l.src) {
		return l.src[l.pos+offset]
	}
	return 0
}

func (l *lexer) next() (Token, bool, error) {
	for l.pos < len(l.src) && isSpace(l.src[l.pos]) {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return Token{}, false, nil
	}

	start := l.pos
	c := l.src[l.pos]
	emit := func(kind TokenKind) (Token, bool, error) {
		return Token{Kind: kind, Text: l.src[start:l.pos], Start: start, End: l.pos, Depth: l.depth}, true, nil
	}

	switch {
	case c == '-' && l.peek(1) == '-':
		for l.pos < len(l.src) && l.src[l.pos] != '\n' {
			l.pos++
		}
		return emit(TokenLineComment)

	case c == '/' && l.peek(1) == '*':
		if err := l.blockComment(); err != nil {
			return Token{}, false, err
		}
		return emit(TokenBlockComment)

	case c == '\'':
		if err := l.quoted('\'', false); err != nil {
			return Token{}, false, err
		}
		return emit(TokenString)

	case c == '"' || c == '`':
		if err := l.quoted(c, false); err != nil {
			return Token{}, false, &LexError{Pos: start, Err: ErrUnterminatedIdentifier}
		}
		return emit(TokenQuotedIdent)

	case c == '[':
		l.pos++
		for {
			if l.pos >= len(l.src) {
				return Token{}, false, &LexError{Pos: start, Err: ErrUnterminatedIdentifier}
			}
			if l.src[l.pos] == ']' {
				if l.peek(1) == ']' {
					l.pos += 2
					continue
				}
				l.pos++
				break
			}
			l.pos++
		}
		return emit(TokenQuotedIdent)

	case c == '$':
		if isDigit(l.peek(1)) {
			l.pos++
			for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
				l.pos++
			}
			return emit(TokenParam)
		}
		if ok, err := l.dollarQuoted(); ok || err != nil {
			if err != nil {
				return Token{}, false, err
			}
			return emit(TokenString)
		}
		l.pos++
		return emit(TokenOperator)

	case isDigit(c) || (c == '.' && isDigit(l.peek(1))):
		l.number()
		return emit(TokenNumber)

	case isWordStart(c):
		for l.pos < len(l.src) && isWordPart(l.src[l.pos]) {
			l.pos++
		}
		// N'..', E'..', B'..', X'..' literal prefixes
		if l.pos-start == 1 && l.peek(0) == '\'' && strings.IndexByte("NnEeBbXx", c) >= 0 {
			if err := l.quoted('\'', c == 'E' || c == 'e'); err != nil {
				return Token{}, false, err
			}
			return emit(TokenString)
		}
		return emit(TokenWord)

	case c == '?':
		l.pos++
		return emit(TokenParam)

	case (c == ':' || c == '@') && isWordStart(l.peek(1)):
		l.pos++
		for l.pos < len(l.src) && isWordPart(l.src[l.pos]) {
			l.pos++
		}
		return emit(TokenParam)

	case c == '@' && l.peek(1) == '@':
		l.pos += 2
		for l.pos < len(l.src) && isWordPart(l.src[l.pos]) {
			l.pos++
		}
		return emit(TokenParam)

	case c == '(':
		l.pos++
		tok := Token{Kind: TokenPunct, Text: "(", Start: start, End: l.pos, Depth: l.depth}
		l.depth++
		return tok, true, nil

	case c == ')':
		l.pos++
		l.depth--
		if l.depth < 0 {
			return Token{}, false, &LexError{Pos: start, Err: ErrUnbalancedParens}
		}
		return emit(TokenPunct)

	case c == ',' || c == ';' || c == '.':
		l.pos++
		return emit(TokenPunct)

	default:
		l.pos++
		for l.pos < len(l.src) && isOperator(l.src[l.pos]) {
			if (l.src[l.pos] == '-' && l.peek(1) == '-') || (l.src[l.pos] == '/' && l.peek(1) == '*') {
				break
			}
			l.pos++
		}
		return emit(TokenOperator)
	}
}

// quoted consumes a literal delimited by q where a doubled q is an escaped q.
// backslash enables C-style escapes (PostgreSQL E'' strings).
func (l *lexer) quoted(q byte, backslash bool) error {
	start := l.pos
	l.pos++ // opening quote
	for l.pos < len(l.src) {
		ch := l.src[l.pos]
		switch {
		case backslash && ch == '\\':
			l.pos += 2
			continue
		case ch == q:
			if l.peek(1) == q {
				l.pos += 2
				continue
			}
			l.pos++
			return nil
		}
		l.pos++
	}
	return &LexError{Pos: start, Err: ErrUnterminatedString}
}

func (l *lexer) blockComment() error {
	start := l.pos
	l.pos += 2
	nesting := 1
	for l.pos < len(l.src) {
		switch {
		case l.src[l.pos] == '/' && l.peek(1) == '*':
			nesting++
			l.pos += 2
		case l.src[l.pos] == '*' && l.peek(1) == '/':
			nesting--
			l.pos += 2
			if nesting == 0 {
				return nil
			}
		default:
			l.pos++
		}
	}
	return &LexError{Pos: start, Err: ErrUnterminatedComment}
}

// dollarQuoted consumes $tag$...$tag$. It reports false without consuming
// anything when the text at pos is not an opening tag.
func (l *lexer) dollarQuoted() (bool, error) {
	start := l.pos
	i := l.pos + 1
	for i < len(l.src) && (isWordPart(l.src[i]) && l.src[i] != '$') {
		i++
	}
	if i >= len(l.src) || l.src[i] != '$' {
		return false, nil
	}
	tag := l.src[start : i+1]
	body := i + 1
	end := strings.Index(l.src[body:], tag)
	if end < 0 {
		return false, &LexError{Pos: start, Err: ErrUnterminatedString}
	}
	l.pos = body + end + len(tag)
	return true, nil
}

func (l *lexer) number() {
	if l.src[l.pos] == '0' && (l.peek(1) == 'x' || l.peek(1) == 'X') {
		l.pos += 2
		for l.pos < len(l.src) && isHex(l.src[l.pos]) {
			l.pos++
		}
		return
	}
	for l.pos < len(l.src) && (isDigit(l.src[l.pos]) || l.src[l.pos] == '.' || l.src[l.pos] == '_') {
		l.pos++
	}
	if c := l.peek(0); c == 'e' || c == 'E' {
		next := l.peek(1)
		if isDigit(next) || ((next == '+' || next == '-') && isDigit(l.peek(2))) {
			l.pos += 2
			for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
				l.pos++
			}
		}
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isHex(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func isWordStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_' || c >= 0x80
}

func isWordPart(c byte) bool {
	return isWordStart(c) || isDigit(c) || c == '$'
}

func isOperator(c byte) bool {
	return strings.IndexByte("=<>!+-*/%|&~^:#", c) >= 0
}
