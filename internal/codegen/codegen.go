// Package codegen builds target source text from a small node tree.
//
// Generators assemble Lines, Blocks and Groups instead of concatenating
// strings. Block is the only node that opens and closes braces, so every
// rendered file is balanced by construction, and indentation is applied
// in one place by Render.
package codegen

import (
	"fmt"
	"strings"
)

// Node is an element of generated source.
type Node interface {
	render(w *writer)
}

// Line is a single line of code.
type Line string

// Linef formats a Line.
func Linef(format string, args ...any) Line {
	return Line(fmt.Sprintf(format, args...))
}

func (l Line) render(w *writer) { w.line(string(l)) }

// Raw is multi-line text, such as a rewritten lambda body. Each line is
// re-indented at the current level after common indentation is removed.
type Raw string

func (r Raw) render(w *writer) {
	lines := strings.Split(strings.Trim(string(r), "\n"), "\n")
	common := -1
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		n := len(l) - len(strings.TrimLeft(l, " \t"))
		if common < 0 || n < common {
			common = n
		}
	}
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			w.blank()
			continue
		}
		w.line(strings.TrimRight(l[common:], " \t"))
	}
}

// Blank is an empty line.
type Blank struct{}

func (Blank) render(w *writer) { w.blank() }

// Comment is a line comment in C-family syntax.
type Comment string

func (c Comment) render(w *writer) { w.line("// " + string(c)) }

// Block renders Head followed by " {", the indented Body, and "}" plus
// Tail, e.g. Tail ";" after a struct.
type Block struct {
	Head string
	Body []Node
	Tail string
}

func (b Block) render(w *writer) {
	if b.Head == "" {
		w.line("{")
	} else {
		w.line(b.Head + " {")
	}
	w.depth++
	for _, n := range b.Body {
		n.render(w)
	}
	w.depth--
	w.line("}" + b.Tail)
}

// Indent indents its body one level without adding braces.
type Indent struct {
	Body []Node
}

func (in Indent) render(w *writer) {
	w.depth++
	for _, n := range in.Body {
		n.render(w)
	}
	w.depth--
}

// Group renders its nodes in order at the current level.
type Group []Node

func (g Group) render(w *writer) {
	for _, n := range g {
		n.render(w)
	}
}

// Lines converts strings to Line nodes.
func Lines(ss ...string) []Node {
	out := make([]Node, len(ss))
	for i, s := range ss {
		out[i] = Line(s)
	}
	return out
}

// Separate returns groups joined by Blank lines, skipping empty groups.
func Separate(groups ...[]Node) []Node {
	var out []Node
	for _, g := range groups {
		if len(g) == 0 {
			continue
		}
		if len(out) > 0 {
			out = append(out, Blank{})
		}
		out = append(out, g...)
	}
	return out
}

type writer struct {
	b      strings.Builder
	indent string
	depth  int
	blanks int
}

func (w *writer) line(s string) {
	w.blanks = 0
	w.b.WriteString(strings.Repeat(w.indent, w.depth))
	w.b.WriteString(s)
	w.b.WriteByte('\n')
}

// blank writes at most one consecutive empty line.
func (w *writer) blank() {
	if w.blanks > 0 || w.b.Len() == 0 {
		return
	}
	w.blanks++
	w.b.WriteByte('\n')
}

// Render renders nodes with the given indent unit. The result always ends
// with exactly one newline.
func Render(nodes []Node, indent string) string {
	w := &writer{indent: indent}
	for _, n := range nodes {
		n.render(w)
	}
	out := strings.TrimRight(w.b.String(), "\n")
	return out + "\n"
}
