// Package emitter turns the lowered fragments of a translation unit into
// generated files.
package emitter

import (
	"fmt"

	"github.com/roach88/pmc/internal/codegen"
	"github.com/roach88/pmc/internal/ir"
	"github.com/roach88/pmc/internal/lower"
	"github.com/roach88/pmc/internal/registry"
)

// Indent is the indent unit of every generated file.
const Indent = "    "

// Artifact is one generated file.
type Artifact struct {
	Path    string
	Kind    lower.FileKind
	Backend registry.Backend // empty for files shared by every backend
	Content []byte
}

// Hash returns the content hash of the artifact.
func (a Artifact) Hash() string {
	return ir.ArtifactHash(a.Path, a.Content)
}

// Emit merges frags in program order and renders the backend files plus the
// shared wrapper interface. The fragments must come from ctx.
func Emit(ctx *lower.Context, b lower.Backend, frags []*lower.Fragment) []Artifact {
	parts := lower.Merge(frags)

	var arts []Artifact
	for _, f := range b.Files(ctx, parts) {
		arts = append(arts, Artifact{
			Path:    f.Path,
			Kind:    f.Kind,
			Backend: b.Name(),
			Content: []byte(codegen.Render(f.Nodes, Indent)),
		})
	}
	iface := Interface(ctx, frags)
	arts = append(arts, Artifact{
		Path:    iface.Path,
		Kind:    iface.Kind,
		Content: []byte(codegen.Render(iface.Nodes, Indent)),
	})
	return arts
}

// InterfaceClass returns the name of the shared wrapper interface.
func InterfaceClass(u *ir.TranslationUnit) string {
	return u.Class + "Wrapper"
}

// Interface lays out the shared wrapper interface. Its content depends only
// on the host surface of each record, so both backends produce the same
// file.
func Interface(ctx *lower.Context, frags []*lower.Fragment) lower.File {
	u := ctx.Unit
	var file []codegen.Node
	if u.Package != "" {
		file = append(file, codegen.Linef("package %s;", u.Package), codegen.Blank{})
	}
	file = append(file, codegen.Lines(
		"import android.graphics.Bitmap;",
		"import "+ctx.Options.UserLibrary+".datatypes.*;",
	)...)
	file = append(file, codegen.Blank{})

	members := []codegen.Node{codegen.Line("boolean isValid();")}
	for _, f := range frags {
		if f.Interface == "" {
			continue
		}
		members = append(members, codegen.Blank{}, codegen.Line(f.Interface+";"))
	}
	file = append(file, codegen.Block{
		Head: fmt.Sprintf("public interface %s", InterfaceClass(u)),
		Body: members,
	})
	return lower.File{Path: ctx.JavaPath(InterfaceClass(u)), Kind: lower.KindInterface, Nodes: file}
}
