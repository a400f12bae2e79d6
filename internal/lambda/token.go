// Package lambda tokenizes and analyzes user lambda bodies.
//
// Bodies are treated as a token stream, not a syntax tree: the compiler
// only needs to find identifiers, member chains, assignments and return
// statements. Joining the tokens of any input reproduces it exactly.
package lambda

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Kind classifies a token.
type Kind int

const (
	Ident Kind = iota
	Number
	String
	Char
	Punct
	Space
	Comment
)

// Token is one lexical unit of a lambda body.
type Token struct {
	Kind Kind
	Text string
}

// Is reports whether the token is the given punctuation or identifier.
func (t Token) Is(text string) bool {
	return (t.Kind == Punct || t.Kind == Ident) && t.Text == text
}

// puncts lists multi-character operators, longest first.
var puncts = []string{
	">>>=",
	"<<=", ">>=", ">>>", "...",
	"==", "!=", "<=", ">=", "&&", "||", "++", "--",
	"+=", "-=", "*=", "/=", "%=", "&=", "|=", "^=",
	"<<", ">>", "->", "::",
}

// Tokenize splits src into tokens. It never fails: unknown characters
// become single-character punctuation.
func Tokenize(src string) []Token {
	var toks []Token
	for i := 0; i < len(src); {
		r, size := utf8.DecodeRuneInString(src[i:])
		start := i
		switch {
		case unicode.IsSpace(r):
			for i < len(src) {
				r, size = utf8.DecodeRuneInString(src[i:])
				if !unicode.IsSpace(r) {
					break
				}
				i += size
			}
			toks = append(toks, Token{Space, src[start:i]})
		case strings.HasPrefix(src[i:], "//"):
			end := strings.IndexByte(src[i:], '\n')
			if end < 0 {
				i = len(src)
			} else {
				i += end
			}
			toks = append(toks, Token{Comment, src[start:i]})
		case strings.HasPrefix(src[i:], "/*"):
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				i = len(src)
			} else {
				i += end + 4
			}
			toks = append(toks, Token{Comment, src[start:i]})
		case r == '_' || r == '$' || unicode.IsLetter(r):
			for i < len(src) {
				r, size = utf8.DecodeRuneInString(src[i:])
				if r != '_' && r != '$' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
					break
				}
				i += size
			}
			toks = append(toks, Token{Ident, src[start:i]})
		case unicode.IsDigit(r) || (r == '.' && i+1 < len(src) && isDigit(src[i+1])):
			i = scanNumber(src, i)
			toks = append(toks, Token{Number, src[start:i]})
		case r == '"' || r == '\'':
			i = scanQuoted(src, i, byte(r))
			kind := String
			if r == '\'' {
				kind = Char
			}
			toks = append(toks, Token{kind, src[start:i]})
		default:
			text := src[i : i+size]
			for _, p := range puncts {
				if strings.HasPrefix(src[i:], p) {
					text = p
					break
				}
			}
			i += len(text)
			toks = append(toks, Token{Punct, text})
		}
	}
	return toks
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// scanNumber consumes a Java numeric literal including hex, exponents and
// type suffixes such as 1.5f or 10L.
func scanNumber(src string, i int) int {
	if strings.HasPrefix(src[i:], "0x") || strings.HasPrefix(src[i:], "0X") {
		i += 2
		for i < len(src) && (isDigit(src[i]) || strings.IndexByte("abcdefABCDEF_", src[i]) >= 0) {
			i++
		}
	} else {
		for i < len(src) && (isDigit(src[i]) || src[i] == '.' || src[i] == '_') {
			i++
		}
		if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
			i++
			if i < len(src) && (src[i] == '+' || src[i] == '-') {
				i++
			}
			for i < len(src) && isDigit(src[i]) {
				i++
			}
		}
	}
	if i < len(src) && strings.IndexByte("fFdDlL", src[i]) >= 0 {
		i++
	}
	return i
}

func scanQuoted(src string, i int, quote byte) int {
	i++
	for i < len(src) {
		switch src[i] {
		case '\\':
			i += 2
			continue
		case quote:
			return i + 1
		}
		i++
	}
	return len(src)
}

// Join concatenates token texts.
func Join(toks []Token) string {
	var b strings.Builder
	for _, t := range toks {
		b.WriteString(t.Text)
	}
	return b.String()
}

// significant reports whether a token carries meaning.
func significant(t Token) bool {
	return t.Kind != Space && t.Kind != Comment
}

// Next returns the index of the next significant token after i, or -1.
func Next(toks []Token, i int) int {
	for j := i + 1; j < len(toks); j++ {
		if significant(toks[j]) {
			return j
		}
	}
	return -1
}

// Prev returns the index of the previous significant token before i, or -1.
func Prev(toks []Token, i int) int {
	for j := i - 1; j >= 0; j-- {
		if significant(toks[j]) {
			return j
		}
	}
	return -1
}

// At returns the token at i, or the zero Token when i is out of range.
func At(toks []Token, i int) Token {
	if i < 0 || i >= len(toks) {
		return Token{Kind: Space}
	}
	return toks[i]
}

// Match returns the index of the token closing the bracket opened at i,
// or -1 if it is unbalanced.
func Match(toks []Token, i int) int {
	open := toks[i].Text
	closing := map[string]string{"(": ")", "[": "]", "{": "}"}[open]
	if closing == "" {
		return -1
	}
	depth := 0
	for j := i; j < len(toks); j++ {
		if toks[j].Kind != Punct {
			continue
		}
		switch toks[j].Text {
		case open:
			depth++
		case closing:
			depth--
			if depth == 0 {
				return j
			}
		}
	}
	return -1
}

// SplitArgs splits toks on top-level commas.
func SplitArgs(toks []Token) [][]Token {
	var parts [][]Token
	depth, start := 0, 0
	for i, t := range toks {
		if t.Kind != Punct {
			continue
		}
		switch t.Text {
		case "(", "[", "{":
			depth++
		case ")", "]", "}":
			depth--
		case ",":
			if depth == 0 {
				parts = append(parts, toks[start:i])
				start = i + 1
			}
		}
	}
	if start < len(toks) || len(parts) > 0 {
		parts = append(parts, toks[start:])
	}
	return parts
}
