package ir

// Canonical converts the unit into a hashable Object.
// Optional fields are omitted when empty so that adding a new optional field
// does not change existing hashes.
func (u TranslationUnit) Canonical() Object {
	obj := Object{
		"package":  Str(u.Package),
		"class":    Str(u.Class),
		"parallel": Bool(u.Parallel),
	}

	inputs := make(List, len(u.InputBinds))
	for i, in := range u.InputBinds {
		params := make(List, len(in.Parameters))
		for j, p := range in.Parameters {
			po := Object{"kind": Str(p.Kind.String()), "text": Str(p.Text)}
			if p.TypeName != "" {
				po["type_name"] = Str(p.TypeName)
			}
			params[j] = po
		}
		inputs[i] = Object{
			"seq":        Int(in.Seq),
			"collection": canonicalVariable(in.Collection),
			"parameters": params,
		}
	}
	obj["input_binds"] = inputs

	ops := make(List, len(u.Operations))
	for i, op := range u.Operations {
		oo := Object{
			"seq":        Int(op.Seq),
			"collection": canonicalVariable(op.Collection),
			"type":       Str(op.Type.String()),
			"execution":  Str(op.Execution.String()),
			"externals":  canonicalVariables(op.Externals),
			"function": Object{
				"code":      Str(op.Function.Code),
				"arguments": canonicalVariables(op.Function.Arguments),
			},
		}
		if op.Destination != nil {
			oo["destination"] = canonicalVariable(*op.Destination)
			oo["destination_bind"] = Str(op.DestinationBind.String())
		}
		ops[i] = oo
	}
	obj["operations"] = ops

	outputs := make(List, len(u.OutputBinds))
	for i, out := range u.OutputBinds {
		outputs[i] = Object{
			"seq":         Int(out.Seq),
			"collection":  canonicalVariable(out.Collection),
			"destination": canonicalVariable(out.Destination),
			"kind":        Str(out.Kind.String()),
		}
	}
	obj["output_binds"] = outputs

	calls := make(List, len(u.MethodCalls))
	for i, c := range u.MethodCalls {
		calls[i] = Object{
			"seq":        Int(c.Seq),
			"collection": canonicalVariable(c.Collection),
			"method":     Str(c.Method),
		}
	}
	obj["method_calls"] = calls

	return obj
}

func canonicalVariables(vars []Variable) List {
	list := make(List, len(vars))
	for i, v := range vars {
		list[i] = canonicalVariable(v)
	}
	return list
}

func canonicalVariable(v Variable) Object {
	obj := Object{
		"name":       Str(v.Name),
		"type_name":  Str(v.TypeName),
		"mutability": Str(v.Mutability.String()),
	}
	if v.TypeParameter != "" {
		obj["type_parameter"] = Str(v.TypeParameter)
	}
	if v.Seq != 0 {
		obj["seq"] = Int(v.Seq)
	}
	return obj
}
