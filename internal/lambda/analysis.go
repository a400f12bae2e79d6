package lambda

import (
	"fmt"
	"strings"

	"github.com/roach88/pmc/internal/ir"
)

var keywords = map[string]bool{
	"abstract": true, "assert": true, "break": true, "case": true, "catch": true,
	"class": true, "const": true, "continue": true, "default": true, "do": true,
	"else": true, "enum": true, "extends": true, "final": true, "finally": true,
	"for": true, "goto": true, "if": true, "implements": true, "import": true,
	"instanceof": true, "interface": true, "native": true, "new": true,
	"package": true, "private": true, "protected": true, "public": true,
	"return": true, "static": true, "strictfp": true, "super": true,
	"switch": true, "synchronized": true, "this": true, "throw": true,
	"throws": true, "transient": true, "try": true, "volatile": true,
	"while": true, "true": true, "false": true, "null": true, "var": true,
}

var primitives = map[string]bool{
	"byte": true, "short": true, "int": true, "long": true, "float": true,
	"double": true, "boolean": true, "char": true, "void": true,
}

var assignOps = map[string]bool{
	"=": true, "+=": true, "-=": true, "*=": true, "/=": true, "%=": true,
	"&=": true, "|=": true, "^=": true, "<<=": true, ">>=": true, ">>>=": true,
}

// IsKeyword reports whether s is a reserved word or a primitive type name.
func IsKeyword(s string) bool {
	return keywords[s] || primitives[s]
}

// IsPrimitive reports whether s names a primitive type.
func IsPrimitive(s string) bool {
	return primitives[s]
}

// IsAssignOp reports whether s is an assignment operator.
func IsAssignOp(s string) bool {
	return assignOps[s]
}

// Normalize turns a lambda body into a statement list. Outer braces are
// stripped. An expression body becomes a return statement when valued is
// set and an expression statement otherwise.
func Normalize(code string, valued bool) string {
	body := strings.TrimSpace(code)
	toks := Tokenize(body)
	first := Next(toks, -1)
	if first >= 0 && toks[first].Is("{") && Match(toks, first) == Prev(toks, len(toks)) {
		last := Prev(toks, len(toks))
		return strings.TrimSpace(Join(toks[first+1 : last]))
	}
	for _, t := range toks {
		if t.Is(";") || t.Is("{") || t.Is("return") {
			return body
		}
	}
	if body == "" {
		return body
	}
	if valued {
		return "return " + body + ";"
	}
	return body + ";"
}

// Balanced reports an error if brackets in toks do not nest properly.
func Balanced(toks []Token) error {
	var stack []string
	pairs := map[string]string{")": "(", "]": "[", "}": "{"}
	for _, t := range toks {
		if t.Kind != Punct {
			continue
		}
		switch t.Text {
		case "(", "[", "{":
			stack = append(stack, t.Text)
		case ")", "]", "}":
			if len(stack) == 0 || stack[len(stack)-1] != pairs[t.Text] {
				return fmt.Errorf("unbalanced %q", t.Text)
			}
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) > 0 {
		return fmt.Errorf("unclosed %q", stack[len(stack)-1])
	}
	return nil
}

// IsDeclaration reports whether the identifier at i is being declared, as
// in "int x = 0", "Pixel p;" or "(Int32 e)".
func IsDeclaration(toks []Token, i int) bool {
	if toks[i].Kind != Ident || IsKeyword(toks[i].Text) {
		return false
	}
	p := At(toks, Prev(toks, i))
	switch {
	case p.Kind == Ident && (IsPrimitive(p.Text) || !IsKeyword(p.Text)):
	case p.Is("]") || p.Is(">"):
		if p.Is(">") && !IsTypePosition(toks, Prev(toks, i)) {
			return false
		}
	default:
		return false
	}
	n := At(toks, Next(toks, i))
	return n.Is("=") || n.Is(";") || n.Is(",") || n.Is(":") || n.Is(")")
}

// IsTypePosition reports whether the token at i is part of a type in a
// declaration: a type name followed by a declared identifier, array
// brackets or a generic argument list.
func IsTypePosition(toks []Token, i int) bool {
	t := At(toks, i)
	switch {
	case t.Kind == Ident:
		if keywords[t.Text] {
			return false
		}
		n := Next(toks, i)
		nt := At(toks, n)
		if nt.Kind == Ident && !keywords[nt.Text] {
			return true
		}
		if nt.Is("[") && At(toks, Next(toks, n)).Is("]") {
			return true
		}
		return nt.Is("<") && startsUpper(t.Text)
	case t.Is(">"):
		// Closing a generic argument list: scan back to its opener.
		depth := 0
		for j := i; j >= 0; j-- {
			switch {
			case toks[j].Is(">"):
				depth++
			case toks[j].Is("<"):
				depth--
				if depth == 0 {
					return startsUpper(At(toks, Prev(toks, j)).Text)
				}
			case toks[j].Is(";") || toks[j].Is("{") || toks[j].Is("}"):
				return false
			}
		}
	}
	return false
}

func startsUpper(s string) bool {
	return s != "" && s[0] >= 'A' && s[0] <= 'Z'
}

// Locals returns the identifiers declared inside the body.
func Locals(toks []Token) map[string]bool {
	locals := make(map[string]bool)
	for i := range toks {
		if IsDeclaration(toks, i) {
			locals[toks[i].Text] = true
		}
	}
	return locals
}

// IsValueReference reports whether the identifier at i names a value rather
// than a type, member, method, label or keyword.
func IsValueReference(toks []Token, i int) bool {
	t := toks[i]
	if t.Kind != Ident || IsKeyword(t.Text) {
		return false
	}
	if _, ok := ir.ParseDomainType(t.Text); ok && startsUpper(t.Text) {
		return false
	}
	p := At(toks, Prev(toks, i))
	if p.Is(".") || p.Is("new") || p.Is("::") {
		return false
	}
	n := At(toks, Next(toks, i))
	if n.Is("(") || (n.Is(".") && startsUpper(t.Text)) {
		return false
	}
	if n.Is(":") && (p.Is(";") || p.Is("{") || p.Is("}") || p.Kind == Space) {
		// label
		return false
	}
	return !IsTypePosition(toks, i)
}

// References returns value identifiers in order of first use.
func References(toks []Token) []string {
	seen := make(map[string]bool)
	var refs []string
	for i := range toks {
		if !IsValueReference(toks, i) || seen[toks[i].Text] {
			continue
		}
		seen[toks[i].Text] = true
		refs = append(refs, toks[i].Text)
	}
	return refs
}

// FreeIdentifiers returns identifiers referenced in code that are neither
// declared in the body nor listed in bound, in order of first use.
func FreeIdentifiers(code string, bound []string) []string {
	toks := Tokenize(code)
	exclude := Locals(toks)
	for _, b := range bound {
		exclude[b] = true
	}
	var free []string
	for _, ref := range References(toks) {
		if !exclude[ref] {
			free = append(free, ref)
		}
	}
	return free
}

// Assigns reports whether code writes to name: plain or compound
// assignment, increment or decrement, including writes through member
// chains such as "count.value += 1".
func Assigns(code, name string) bool {
	toks := Tokenize(code)
	locals := Locals(toks)
	if locals[name] {
		// A local of the same name shadows the capture.
		return false
	}
	for i, t := range toks {
		if t.Kind != Ident || t.Text != name {
			continue
		}
		p := At(toks, Prev(toks, i))
		if p.Is(".") {
			continue
		}
		if p.Is("++") || p.Is("--") {
			return true
		}
		j := Next(toks, i)
		for j >= 0 {
			switch {
			case toks[j].Is(".") && At(toks, Next(toks, j)).Kind == Ident:
				j = Next(toks, Next(toks, j))
				continue
			case toks[j].Is("["):
				end := Match(toks, j)
				if end < 0 {
					return false
				}
				j = Next(toks, end)
				continue
			}
			break
		}
		n := At(toks, j)
		if n.Kind == Punct && (IsAssignOp(n.Text) || n.Text == "++" || n.Text == "--") {
			return true
		}
	}
	return false
}
