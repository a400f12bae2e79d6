package lower

import (
	"github.com/roach88/pmc/internal/codegen"
	"github.com/roach88/pmc/internal/diag"
	"github.com/roach88/pmc/internal/ir"
)

// PlainCall lowers a plain method call into a wrapper accessor. The
// accessor reads a field the producing record maintains, so both backends
// share this lowering.
func PlainCall(ctx *Context, call ir.MethodCall) (*Fragment, error) {
	m, site, err := PlainCallSurface(ctx, call)
	if err != nil {
		return nil, err
	}
	col, err := ctx.Collection(call.Collection, diag.ForMethodCall(call))
	if err != nil {
		return nil, err
	}
	body := []codegen.Node{codegen.Linef("return %s;", PlainCallField(col, call.Method))}
	return &Fragment{
		Methods:   append([]codegen.Node{codegen.Blank{}}, m.Override(body)...),
		Interface: m.Signature(),
		CallSite:  site,
	}, nil
}
