package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/pmc/internal/ir"
)

// CompileUnit parses a CUE value into a TranslationUnit.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the unit struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`unit: Sample: { ... }`)
//	unit, err := CompileUnit(v.LookupPath(cue.ParsePath("unit.Sample")))
//
// Records without an explicit seq are numbered after the highest explicit
// seq, in document order.
func CompileUnit(v cue.Value) (*ir.TranslationUnit, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	u := &ir.TranslationUnit{}

	// Class name comes from the struct label
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		u.Class = labels[len(labels)-1].String()
	}
	if u.Class == "" {
		return nil, &CompileError{Field: "unit", Message: "unit class name is required", Pos: v.Pos()}
	}

	var err error
	if u.Package, err = optionalString(v, "java_package"); err != nil {
		return nil, err
	}
	if u.Parallel, err = optionalBool(v, "parallel", true); err != nil {
		return nil, err
	}

	if u.InputBinds, err = parseInputBinds(v); err != nil {
		return nil, err
	}
	if u.Operations, err = parseOperations(v); err != nil {
		return nil, err
	}
	if u.OutputBinds, err = parseOutputBinds(v); err != nil {
		return nil, err
	}
	if u.MethodCalls, err = parseMethodCalls(v); err != nil {
		return nil, err
	}
	AssignSequence(u)

	return u, nil
}

// CompileString compiles CUE source holding a single `unit: <Class>: {}`.
func CompileString(src, filename string) (*ir.TranslationUnit, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	units, err := CompileUnits(v)
	if err != nil {
		return nil, err
	}
	if len(units) != 1 {
		return nil, &CompileError{Field: "unit", Message: fmt.Sprintf("expected exactly one unit, found %d", len(units)), Pos: v.Pos()}
	}
	return units[0], nil
}

// CompileUnits compiles every unit declared under the top-level "unit"
// field of v, in declaration order.
func CompileUnits(v cue.Value) ([]*ir.TranslationUnit, error) {
	unitsVal := v.LookupPath(cue.ParsePath("unit"))
	if !unitsVal.Exists() {
		return nil, nil
	}
	iter, err := unitsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var units []*ir.TranslationUnit
	for iter.Next() {
		u, err := CompileUnit(iter.Value())
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, nil
}

func parseInputBinds(v cue.Value) ([]ir.InputBind, error) {
	var binds []ir.InputBind
	err := eachListItem(v, "input_binds", func(i int, item cue.Value) error {
		field := fmt.Sprintf("input_binds[%d]", i)
		in := ir.InputBind{}
		coll, err := parseVariable(item, "collection", field)
		if err != nil {
			return err
		}
		in.Collection = coll

		err = eachListItem(item, "parameters", func(j int, p cue.Value) error {
			param, err := parseParameter(p, fmt.Sprintf("%s.parameters[%d]", field, j))
			if err != nil {
				return err
			}
			in.Parameters = append(in.Parameters, param)
			return nil
		})
		if err != nil {
			return err
		}
		if in.Seq, err = parseSeq(item, field); err != nil {
			return err
		}
		binds = append(binds, in)
		return nil
	})
	return binds, err
}

func parseOperations(v cue.Value) ([]ir.Operation, error) {
	var ops []ir.Operation
	err := eachListItem(v, "operations", func(i int, item cue.Value) error {
		field := fmt.Sprintf("operations[%d]", i)
		op := ir.Operation{}

		coll, err := parseVariable(item, "collection", field)
		if err != nil {
			return err
		}
		op.Collection = coll

		typeName, err := requiredString(item, "type", field)
		if err != nil {
			return err
		}
		t, ok := ir.ParseOperationType(typeName)
		if !ok {
			return &CompileError{Field: field + ".type", Message: fmt.Sprintf("unknown operation type %q", typeName), Pos: item.Pos()}
		}
		op.Type = t

		execName, err := optionalString(item, "execution")
		if err != nil {
			return err
		}
		if execName != "" {
			e, ok := ir.ParseExecutionType(execName)
			if !ok {
				return &CompileError{Field: field + ".execution", Message: fmt.Sprintf("unknown execution type %q", execName), Pos: item.Pos()}
			}
			op.Execution = e
		}

		if item.LookupPath(cue.ParsePath("destination")).Exists() {
			dest, err := parseVariable(item, "destination", field)
			if err != nil {
				return err
			}
			op.Destination = &dest
		}

		bindName, err := optionalString(item, "destination_bind")
		if err != nil {
			return err
		}
		if bindName != "" {
			k, ok := ir.ParseBindKind(bindName)
			if !ok {
				return &CompileError{Field: field + ".destination_bind", Message: fmt.Sprintf("unknown bind kind %q", bindName), Pos: item.Pos()}
			}
			op.DestinationBind = k
		}

		err = eachListItem(item, "externals", func(j int, ext cue.Value) error {
			vr, err := parseVariableValue(ext, fmt.Sprintf("%s.externals[%d]", field, j))
			if err != nil {
				return err
			}
			op.Externals = append(op.Externals, vr)
			return nil
		})
		if err != nil {
			return err
		}

		fnVal := item.LookupPath(cue.ParsePath("function"))
		if !fnVal.Exists() {
			return &CompileError{Field: field + ".function", Message: "function is required", Pos: item.Pos()}
		}
		code, err := requiredString(fnVal, "code", field+".function")
		if err != nil {
			return err
		}
		op.Function.Code = code
		err = eachListItem(fnVal, "arguments", func(j int, arg cue.Value) error {
			vr, err := parseVariableValue(arg, fmt.Sprintf("%s.function.arguments[%d]", field, j))
			if err != nil {
				return err
			}
			op.Function.Arguments = append(op.Function.Arguments, vr)
			return nil
		})
		if err != nil {
			return err
		}

		if op.Seq, err = parseSeq(item, field); err != nil {
			return err
		}
		ops = append(ops, op)
		return nil
	})
	return ops, err
}

func parseOutputBinds(v cue.Value) ([]ir.OutputBind, error) {
	var binds []ir.OutputBind
	err := eachListItem(v, "output_binds", func(i int, item cue.Value) error {
		field := fmt.Sprintf("output_binds[%d]", i)
		out := ir.OutputBind{}
		coll, err := parseVariable(item, "collection", field)
		if err != nil {
			return err
		}
		out.Collection = coll
		dest, err := parseVariable(item, "destination", field)
		if err != nil {
			return err
		}
		out.Destination = dest

		kindName, err := optionalString(item, "kind")
		if err != nil {
			return err
		}
		if kindName != "" {
			k, ok := ir.ParseBindKind(kindName)
			if !ok {
				return &CompileError{Field: field + ".kind", Message: fmt.Sprintf("unknown bind kind %q", kindName), Pos: item.Pos()}
			}
			out.Kind = k
		}
		if out.Seq, err = parseSeq(item, field); err != nil {
			return err
		}
		binds = append(binds, out)
		return nil
	})
	return binds, err
}

func parseMethodCalls(v cue.Value) ([]ir.MethodCall, error) {
	var calls []ir.MethodCall
	err := eachListItem(v, "method_calls", func(i int, item cue.Value) error {
		field := fmt.Sprintf("method_calls[%d]", i)
		call := ir.MethodCall{}
		coll, err := parseVariable(item, "collection", field)
		if err != nil {
			return err
		}
		call.Collection = coll
		if call.Method, err = requiredString(item, "method", field); err != nil {
			return err
		}
		if call.Seq, err = parseSeq(item, field); err != nil {
			return err
		}
		calls = append(calls, call)
		return nil
	})
	return calls, err
}

// parseSeq reads the optional record seq. Zero means "not given".
func parseSeq(v cue.Value, field string) (int64, error) {
	val := v.LookupPath(cue.ParsePath("seq"))
	if !val.Exists() {
		return 0, nil
	}
	seq, err := val.Int64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	if seq <= 0 {
		return 0, &CompileError{Field: field + ".seq", Message: "seq must be positive", Pos: val.Pos()}
	}
	return seq, nil
}

func parseParameter(v cue.Value, field string) (ir.Parameter, error) {
	p := ir.Parameter{}
	kindName, err := optionalString(v, "kind")
	if err != nil {
		return p, err
	}
	if kindName != "" {
		k, ok := ir.ParseParameterKind(kindName)
		if !ok {
			return p, &CompileError{Field: field + ".kind", Message: fmt.Sprintf("unknown parameter kind %q", kindName), Pos: v.Pos()}
		}
		p.Kind = k
	}
	if p.Text, err = requiredString(v, "text", field); err != nil {
		return p, err
	}
	if p.TypeName, err = optionalString(v, "type"); err != nil {
		return p, err
	}
	return p, nil
}

// parseVariable parses the variable stored in v.<name>.
func parseVariable(v cue.Value, name, field string) (ir.Variable, error) {
	val := v.LookupPath(cue.ParsePath(name))
	if !val.Exists() {
		return ir.Variable{}, &CompileError{Field: field + "." + name, Message: name + " is required", Pos: v.Pos()}
	}
	return parseVariableValue(val, field+"."+name)
}

// parseVariableValue parses {name, type, param?, mutable?, seq?}.
// A variable without "mutable: true" is final.
func parseVariableValue(v cue.Value, field string) (ir.Variable, error) {
	vr := ir.Variable{}
	var err error
	if vr.Name, err = requiredString(v, "name", field); err != nil {
		return vr, err
	}
	if vr.TypeName, err = requiredString(v, "type", field); err != nil {
		return vr, err
	}
	if vr.TypeParameter, err = optionalString(v, "param"); err != nil {
		return vr, err
	}
	mutable, err := optionalBool(v, "mutable", false)
	if err != nil {
		return vr, err
	}
	if mutable {
		vr.Mutability = ir.Mutable
	}
	seqVal := v.LookupPath(cue.ParsePath("seq"))
	if seqVal.Exists() {
		if vr.Seq, err = seqVal.Int64(); err != nil {
			return vr, formatCUEError(err)
		}
	}
	return vr, nil
}

// eachListItem calls fn for each element of the optional list v.<name>.
func eachListItem(v cue.Value, name string, fn func(i int, item cue.Value) error) error {
	listVal := v.LookupPath(cue.ParsePath(name))
	if !listVal.Exists() {
		return nil
	}
	iter, err := listVal.List()
	if err != nil {
		return formatCUEError(err)
	}
	for i := 0; iter.Next(); i++ {
		if err := fn(i, iter.Value()); err != nil {
			return err
		}
	}
	return nil
}

func requiredString(v cue.Value, name, field string) (string, error) {
	val := v.LookupPath(cue.ParsePath(name))
	if !val.Exists() {
		return "", &CompileError{Field: field + "." + name, Message: name + " is required", Pos: v.Pos()}
	}
	s, err := val.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalString(v cue.Value, name string) (string, error) {
	val := v.LookupPath(cue.ParsePath(name))
	if !val.Exists() {
		return "", nil
	}
	s, err := val.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalBool(v cue.Value, name string, def bool) (bool, error) {
	val := v.LookupPath(cue.ParsePath(name))
	if !val.Exists() {
		return def, nil
	}
	b, err := val.Bool()
	if err != nil {
		return false, formatCUEError(err)
	}
	return b, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
