package lower

import (
	"strings"

	"github.com/roach88/pmc/internal/diag"
	"github.com/roach88/pmc/internal/ir"
	"github.com/roach88/pmc/internal/lambda"
	"github.com/roach88/pmc/internal/naming"
	"github.com/roach88/pmc/internal/registry"
)

// Binding maps a name used in a lambda body to its kernel expression.
type Binding struct {
	Domain ir.DomainType
	Expr   string
}

type bodyRewriter struct {
	ctx      *Context
	rec      diag.Record
	bindings map[string]Binding
	coords   *registry.Coords
}

// LowerBody rewrites the body of op into kernel code.
//
// Bound names (lambda arguments and captured variables) are replaced by
// their binding expression and their member chains are rewritten through
// the registry. Domain constructors and Math intrinsics are mapped, local
// declarations get kernel types, and "final" is dropped. User identifiers
// from the generated namespace are rejected.
func LowerBody(ctx *Context, op ir.Operation, bindings map[string]Binding, coords *registry.Coords) (string, error) {
	rec := diag.ForOperation(op)
	code := lambda.Normalize(op.Function.Code, op.Type != ir.Foreach)
	toks := lambda.Tokenize(code)

	if err := lambda.Balanced(toks); err != nil {
		return "", diag.Errorf(diag.MalformedOperation, rec, "lambda body: %v", err)
	}
	for i, t := range toks {
		if t.Kind != lambda.Ident || lambda.At(toks, lambda.Prev(toks, i)).Is(".") {
			continue
		}
		if naming.Reserved(t.Text) {
			return "", diag.Errorf(diag.NamingCollision, rec,
				"identifier %q is reserved for generated code", t.Text)
		}
	}

	all := make(map[string]Binding, len(bindings))
	for k, v := range bindings {
		all[k] = v
	}
	for i := range toks {
		if !lambda.IsDeclaration(toks, i) {
			continue
		}
		typ := lambda.At(toks, lambda.Prev(toks, i)).Text
		if d, ok := ir.ParseDomainType(typ); ok {
			all[toks[i].Text] = Binding{Domain: d, Expr: toks[i].Text}
		} else {
			delete(all, toks[i].Text)
		}
	}

	r := &bodyRewriter{ctx: ctx, rec: rec, bindings: all, coords: coords}
	out, err := r.rewrite(toks)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (r *bodyRewriter) rewrite(toks []lambda.Token) (string, error) {
	var b strings.Builder
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if t.Kind != lambda.Ident {
			b.WriteString(t.Text)
			continue
		}
		afterDot := lambda.At(toks, lambda.Prev(toks, i)).Is(".")

		switch {
		case t.Text == "final":
			if i+1 < len(toks) && toks[i+1].Kind == lambda.Space {
				i++
			}

		case t.Text == "new":
			end, expr, err := r.construct(toks, i)
			if err != nil {
				return "", err
			}
			b.WriteString(expr)
			i = end

		case t.Text == "Math" && !afterDot:
			end, name, err := r.intrinsic(toks, i)
			if err != nil {
				return "", err
			}
			b.WriteString(name)
			i = end

		case r.declaresType(toks, i):
			typ, err := r.ctx.Registry.LocalType(t.Text, r.ctx.Backend)
			if err != nil {
				return "", diag.Wrap(diag.UnsupportedBackendType, r.rec, err)
			}
			b.WriteString(typ)

		case !afterDot && lambda.IsValueReference(toks, i):
			bind, ok := r.bindings[t.Text]
			if !ok {
				b.WriteString(t.Text)
				continue
			}
			end, expr, err := r.chain(toks, i, bind)
			if err != nil {
				return "", err
			}
			b.WriteString(expr)
			i = end

		default:
			b.WriteString(t.Text)
		}
	}
	return b.String(), nil
}

// declaresType reports whether the identifier at i is the type of a local
// declaration.
func (r *bodyRewriter) declaresType(toks []lambda.Token, i int) bool {
	j := lambda.Next(toks, i)
	if j < 0 || !lambda.IsDeclaration(toks, j) {
		return false
	}
	if toks[i].Text == "boolean" {
		return true
	}
	_, ok := ir.ParseDomainType(toks[i].Text)
	return ok
}

// chain rewrites a bound name and the field accesses following it.
func (r *bodyRewriter) chain(toks []lambda.Token, i int, bind Binding) (int, string, error) {
	var fields []string
	var ends []int
	j := i
	for {
		dot := lambda.Next(toks, j)
		if dot < 0 || !toks[dot].Is(".") {
			break
		}
		f := lambda.Next(toks, dot)
		if f < 0 || toks[f].Kind != lambda.Ident {
			break
		}
		if call := lambda.Next(toks, f); call >= 0 && toks[call].Is("(") {
			break
		}
		fields = append(fields, toks[f].Text)
		ends = append(ends, f)
		j = f
	}

	expr, used, err := r.ctx.Registry.RewriteMember(bind.Domain, bind.Expr, fields, r.ctx.Backend, r.coords)
	if err != nil {
		return 0, "", diag.Wrap(diag.MalformedOperation, r.rec, err)
	}
	if used == 0 {
		return i, expr, nil
	}
	return ends[used-1], expr, nil
}

// construct lowers "new T(args)" starting at the "new" token.
func (r *bodyRewriter) construct(toks []lambda.Token, i int) (int, string, error) {
	typ := lambda.Next(toks, i)
	open := lambda.Next(toks, typ)
	if typ < 0 || open < 0 || toks[typ].Kind != lambda.Ident || !toks[open].Is("(") {
		return 0, "", diag.Errorf(diag.MalformedOperation, r.rec, "malformed constructor call")
	}
	d, ok := ir.ParseDomainType(toks[typ].Text)
	if !ok {
		return 0, "", diag.Errorf(diag.UnsupportedBackendType, r.rec,
			"%s cannot be constructed inside a kernel", toks[typ].Text)
	}
	end := lambda.Match(toks, open)
	if end < 0 {
		return 0, "", diag.Errorf(diag.MalformedOperation, r.rec, "unclosed constructor call")
	}

	var args []string
	for _, part := range lambda.SplitArgs(toks[open+1 : end]) {
		arg, err := r.rewrite(part)
		if err != nil {
			return 0, "", err
		}
		if arg = strings.TrimSpace(arg); arg != "" {
			args = append(args, arg)
		}
	}
	expr, err := r.ctx.Registry.Construct(d, args, r.ctx.Backend)
	if err != nil {
		return 0, "", diag.Wrap(diag.MalformedOperation, r.rec, err)
	}
	return end, expr, nil
}

// intrinsic maps "Math.fn" starting at the "Math" token. The argument
// list is left for the caller to rewrite.
func (r *bodyRewriter) intrinsic(toks []lambda.Token, i int) (int, string, error) {
	dot := lambda.Next(toks, i)
	fn := lambda.Next(toks, dot)
	if dot < 0 || fn < 0 || !toks[dot].Is(".") || toks[fn].Kind != lambda.Ident {
		return 0, "", diag.Errorf(diag.MalformedOperation, r.rec, "malformed Math call")
	}
	name, err := r.ctx.Registry.Intrinsic("Math."+toks[fn].Text, r.ctx.Backend)
	if err != nil {
		return 0, "", diag.Wrap(diag.UnsupportedBackendType, r.rec, err)
	}
	return fn, name, nil
}
